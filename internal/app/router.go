package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

// LoginPath is always reachable without credentials.
const LoginPath = "/auth/login"

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Pipeline           *rbac.Pipeline
	Metrics            *observability.Metrics
	Readiness          map[string]ReadinessCheck
}

// RouteTable declares every endpoint with its access policy.
func RouteTable(params RouterParams) (*rbac.Table, error) {
	loginLimit := LoginLimiter(params.Config.LoginRateLimit)
	limited := func(h http.HandlerFunc) http.HandlerFunc {
		return loginLimit(h).ServeHTTP
	}

	return rbac.NewTable(
		rbac.Controller{
			Options: []rbac.Option{rbac.Public()},
			Routes: []rbac.Route{
				rbac.Get("/healthz", healthz),
				rbac.Get("/readyz", readyz(params.Readiness, params.Logger)),
				rbac.Get("/metrics", params.Metrics.Handler().ServeHTTP),
			},
		},
		rbac.Controller{
			Prefix: "/auth",
			Routes: []rbac.Route{
				rbac.Post("/login", limited(params.AuthHandler.Login)),
				rbac.Post("/refresh", limited(params.AuthHandler.Refresh), rbac.Public()),
				rbac.Post("/logout", params.AuthHandler.Logout),
				rbac.Get("/me", params.AuthHandler.Me),
			},
		},
		rbac.Controller{
			Prefix:  "/users",
			Options: []rbac.Option{rbac.Permissions(shared.PermUsersView)},
			Routes: []rbac.Route{
				rbac.Get("", params.UsersHandler.List),
			},
		},
		rbac.Controller{
			Routes: []rbac.Route{
				rbac.Get("/roles", params.PermissionsHandler.ListRoles, rbac.Permissions(shared.PermRolesView)),
				rbac.Get("/permissions", params.PermissionsHandler.ListPermissions, rbac.Permissions(shared.PermPermissionsView)),
			},
		},
		rbac.Controller{
			Prefix:  "/jobs",
			Options: []rbac.Option{rbac.Roles(shared.RoleAdmin)},
			Routes: []rbac.Route{
				rbac.Get("/health", params.JobHandler.Health),
			},
		},
	)
}

// NewRouter constructs the chi.Router with Odyssey defaults.
func NewRouter(params RouterParams) (http.Handler, error) {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Config == nil {
		params.Config = &Config{}
	}
	table, err := RouteTable(params)
	if err != nil {
		return nil, err
	}
	if err := checkLoginRoute(table); err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !InTestMode() {
		r.Use(chimw.Logger)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.RespondError(w, shared.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	table.Mount(r, params.Pipeline)
	params.Logger.Info("routes mounted", slog.Int("count", len(table.Entries())))
	return r, nil
}

// checkLoginRoute requires LoginPath to be registered for POST and nothing
// else, since the pipeline exempts every entry on that path.
func checkLoginRoute(table *rbac.Table) error {
	if _, ok := table.Lookup(http.MethodPost, LoginPath); !ok {
		return fmt.Errorf("app: route table has no POST %s", LoginPath)
	}
	for _, e := range table.Entries() {
		if e.Path == LoginPath && e.Method != http.MethodPost {
			return fmt.Errorf("app: %s %s shares the login path", e.Method, e.Path)
		}
	}
	return nil
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyz(checks map[string]ReadinessCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				result[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "up"
		}
		httpx.JSON(w, status, map[string]any{"status": http.StatusText(status), "checks": result})
	}
}
