package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

type stubDirectory struct {
	byID map[int64]*users.Principal
}

func (d stubDirectory) FindByEmail(_ context.Context, email string) (*users.Principal, error) {
	for _, p := range d.byID {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (d stubDirectory) FindByID(_ context.Context, id int64) (*users.Principal, error) {
	if p, ok := d.byID[id]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

type stubUsers struct{}

func (stubUsers) ListUsers(context.Context) ([]users.User, error) {
	return []users.User{{ID: 1, Email: "admin@example.com", IsActive: true}}, nil
}

type stubCatalogue struct{}

func (stubCatalogue) ListRoles(context.Context) ([]rbac.Role, error) {
	return []rbac.Role{{ID: 1, Name: shared.RoleAdmin, IsActive: true}}, nil
}

func (stubCatalogue) ListPermissions(context.Context) ([]rbac.Permission, error) {
	return nil, errors.New("catalogue offline")
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 3}, nil
}

type routerFixture struct {
	handler http.Handler
	issuer  *auth.Issuer
	dir     stubDirectory
}

func newRouterFixture(t *testing.T, cfg *Config, readiness map[string]ReadinessCheck) routerFixture {
	t.Helper()

	adminRole := &users.Role{ID: 1, Name: shared.RoleAdmin, IsActive: true, Permissions: []users.Permission{
		{ID: 1, Name: shared.PermUsersView, IsActive: true},
		{ID: 2, Name: shared.PermRolesView, IsActive: true},
		{ID: 3, Name: shared.PermPermissionsView, IsActive: true},
	}}
	userRole := &users.Role{ID: 2, Name: shared.RoleUser, IsActive: true}
	dir := stubDirectory{byID: map[int64]*users.Principal{
		1: {ID: 1, Email: "admin@example.com", IsActive: true, Role: adminRole},
		2: {ID: 2, Email: "user@example.com", IsActive: true, Role: userRole},
	}}

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		AccessSecret:  "router-access",
		RefreshSecret: "router-refresh",
		Issuer:        "odyssey-iam-test",
	})
	require.NoError(t, err)

	metrics := observability.NewMetrics()
	service := auth.NewService(dir, issuer, nil, auth.WithRecorder(metrics))
	handler, err := NewRouter(RouterParams{
		Config:             cfg,
		AuthHandler:        auth.NewHandler(nil, service),
		UsersHandler:       users.NewHandler(nil, users.NewService(stubUsers{})),
		PermissionsHandler: rbac.NewPermissionsHandler(nil, stubCatalogue{}),
		JobHandler:         jobs.NewHandler(stubInspector{}, nil),
		Pipeline:           rbac.NewPipeline(issuer, dir, LoginPath, rbac.WithPipelineRecorder(metrics)),
		Metrics:            metrics,
		Readiness:          readiness,
	})
	require.NoError(t, err)
	return routerFixture{handler: handler, issuer: issuer, dir: dir}
}

func (f routerFixture) token(t *testing.T, id int64) string {
	t.Helper()
	access, err := f.issuer.IssueAccess(f.dir.byID[id])
	require.NoError(t, err)
	return access.Token
}

func (f routerFixture) do(method, path, body, token string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func TestRouteTablePolicies(t *testing.T) {
	table, err := RouteTable(RouterParams{
		Config:             &Config{},
		AuthHandler:        &auth.Handler{},
		UsersHandler:       &users.Handler{},
		PermissionsHandler: &rbac.PermissionsHandler{},
		JobHandler:         &jobs.Handler{},
	})
	require.NoError(t, err)

	cases := []struct {
		method, path string
		public       bool
		roles        []string
		perms        []string
	}{
		{http.MethodGet, "/healthz", true, nil, nil},
		{http.MethodGet, "/readyz", true, nil, nil},
		{http.MethodGet, "/metrics", true, nil, nil},
		{http.MethodPost, "/auth/login", false, nil, nil},
		{http.MethodPost, "/auth/refresh", true, nil, nil},
		{http.MethodPost, "/auth/logout", false, nil, nil},
		{http.MethodGet, "/auth/me", false, nil, nil},
		{http.MethodGet, "/users", false, nil, []string{shared.PermUsersView}},
		{http.MethodGet, "/roles", false, nil, []string{shared.PermRolesView}},
		{http.MethodGet, "/permissions", false, nil, []string{shared.PermPermissionsView}},
		{http.MethodGet, "/jobs/health", false, []string{shared.RoleAdmin}, nil},
	}
	for _, tc := range cases {
		entry, ok := table.Lookup(tc.method, tc.path)
		require.True(t, ok, "%s %s", tc.method, tc.path)
		assert.Equal(t, tc.public, entry.Policy.Public, tc.path)
		assert.Equal(t, tc.roles, entry.Policy.Roles, tc.path)
		assert.Equal(t, tc.perms, entry.Policy.Permissions, tc.path)
	}
	assert.Len(t, table.Entries(), len(cases))
}

func TestCheckLoginRoute(t *testing.T) {
	noop := func(http.ResponseWriter, *http.Request) {}

	missing, err := rbac.NewTable(rbac.Controller{Routes: []rbac.Route{rbac.Get("/healthz", noop)}})
	require.NoError(t, err)
	require.ErrorContains(t, checkLoginRoute(missing), "no POST /auth/login")

	shadowed, err := rbac.NewTable(rbac.Controller{Prefix: "/auth", Routes: []rbac.Route{
		rbac.Post("/login", noop),
		rbac.Get("/login", noop),
	}})
	require.NoError(t, err)
	require.ErrorContains(t, checkLoginRoute(shadowed), "GET /auth/login")

	ok, err := rbac.NewTable(rbac.Controller{Prefix: "/auth", Routes: []rbac.Route{rbac.Post("/login", noop)}})
	require.NoError(t, err)
	require.NoError(t, checkLoginRoute(ok))
}

func TestRouterPublicEndpoints(t *testing.T) {
	f := newRouterFixture(t, &Config{}, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
	})

	rr := f.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = f.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"postgres":"up"`)

	rr = f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "odyssey_http_requests_total")
}

func TestRouterReadinessFailure(t *testing.T) {
	f := newRouterFixture(t, &Config{}, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})

	rr := f.do(http.MethodGet, "/readyz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"down"`)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestRouterUnknownRoute(t *testing.T) {
	f := newRouterFixture(t, &Config{}, nil)

	rr := f.do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestRouterLoginWrongCredentials(t *testing.T) {
	f := newRouterFixture(t, &Config{}, nil)

	rr := f.do(http.MethodPost, "/auth/login", `{"email":"admin@example.com","password":"wrong"}`, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Invalid credentials", problem["detail"])

	rr = f.do(http.MethodPost, "/auth/login", `{"email":"ghost@example.com","password":"wrong"}`, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Invalid credentials", problem["detail"])

	rr = f.do(http.MethodPost, "/auth/login", `{"email":"not-an-email"}`, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouterLoginRateLimit(t *testing.T) {
	f := newRouterFixture(t, &Config{LoginRateLimit: 2}, nil)

	body := `{"email":"admin@example.com","password":"wrong"}`
	for i := 0; i < 2; i++ {
		rr := f.do(http.MethodPost, "/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := f.do(http.MethodPost, "/auth/login", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRouterRefreshBlankTokenIsUnauthenticated(t *testing.T) {
	f := newRouterFixture(t, &Config{}, nil)

	rr := f.do(http.MethodPost, "/auth/refresh", `{"refreshToken":""}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
}

func TestRouterProtectedRoutes(t *testing.T) {
	f := newRouterFixture(t, &Config{}, nil)
	admin := f.token(t, 1)
	user := f.token(t, 2)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"users without token", http.MethodGet, "/users", "", http.StatusUnauthorized},
		{"users with garbage token", http.MethodGet, "/users", "garbage", http.StatusUnauthorized},
		{"users without permission", http.MethodGet, "/users", user, http.StatusForbidden},
		{"users with permission", http.MethodGet, "/users", admin, http.StatusOK},
		{"roles with permission", http.MethodGet, "/roles", admin, http.StatusOK},
		{"permissions catalogue failure", http.MethodGet, "/permissions", admin, http.StatusInternalServerError},
		{"jobs health as admin", http.MethodGet, "/jobs/health", admin, http.StatusOK},
		{"jobs health as user", http.MethodGet, "/jobs/health", user, http.StatusForbidden},
		{"me as user", http.MethodGet, "/auth/me", user, http.StatusOK},
		{"me without token", http.MethodGet, "/auth/me", "", http.StatusUnauthorized},
		{"logout without token", http.MethodPost, "/auth/logout", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(tc.method, tc.path, "", tc.token)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
		})
	}
}

func TestRouterProtectedPayloads(t *testing.T) {
	f := newRouterFixture(t, &Config{}, nil)
	admin := f.token(t, 1)

	rr := f.do(http.MethodGet, "/users", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"admin@example.com"`)
	assert.NotContains(t, rr.Body.String(), "password")

	rr = f.do(http.MethodGet, "/jobs/health", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"pending":3`)

	rr = f.do(http.MethodGet, "/auth/me", "", f.token(t, 2))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"user@example.com"`)
}
