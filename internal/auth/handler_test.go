package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

func newTestHandler(t *testing.T) (*Handler, *memStore) {
	t.Helper()
	dir := newMemDirectory(testPrincipals(t)...)
	store := newMemStore(dir)
	return NewHandler(nil, NewService(dir, testIssuer(t), store)), store
}

func postJSON(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) httpx.ProblemDetail {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestLoginHandlerSuccess(t *testing.T) {
	h, store := newTestHandler(t)

	rec := postJSON(h.Login, "/auth/login", `{"email":"admin@example.com","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "password")

	var session Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.NotEmpty(t, session.AccessToken)
	assert.Equal(t, []string{session.RefreshToken}, store.tokensOf(1))
	assert.Equal(t, shared.RoleAdmin, session.Principal.Role)
}

func TestLoginHandlerWrongPassword(t *testing.T) {
	h, store := newTestHandler(t)

	rec := postJSON(h.Login, "/auth/login", `{"email":"admin@example.com","password":"nope"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decodeProblem(t, rec).Detail)
	assert.Empty(t, store.tokensOf(1))
}

func TestLoginHandlerValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := postJSON(h.Login, "/auth/login", `{"email":"not-an-email","password":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.Login, "/auth/login", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshHandler(t *testing.T) {
	h, _ := newTestHandler(t)

	login := postJSON(h.Login, "/auth/login", `{"email":"user@example.com","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, login.Code)
	var session Session
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &session))

	rec := postJSON(h.Refresh, "/auth/refresh", `{"refreshToken":"`+session.RefreshToken+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(h.Refresh, "/auth/refresh", `{"refreshToken":"`+session.RefreshToken+`"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", decodeProblem(t, rec).Detail)

	rec = postJSON(h.Refresh, "/auth/refresh", `{}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutHandlerAlwaysSucceeds(t *testing.T) {
	h, store := newTestHandler(t)

	login := postJSON(h.Login, "/auth/login", `{"email":"user@example.com","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, login.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{ID: 2, Role: shared.RoleUser}))
	rec := httptest.NewRecorder()
	h.Logout(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Empty(t, store.tokensOf(2))

	rec = httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestMeHandler(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req = req.WithContext(shared.ContextWithPrincipal(context.Background(), shared.Principal{ID: 1}))
	rec := httptest.NewRecorder()
	h.Me(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var me PublicPrincipal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "admin@example.com", me.Email)

	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
