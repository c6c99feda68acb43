package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t59688/btx/internal/auth"
	"github.com/t59688/btx/internal/repository"
)

func testServer() *Server {
	return &Server{
		tokens: auth.NewManager("test-secret", time.Hour),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	s := testServer()
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsBadToken(t *testing.T) {
	s := testServer()
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewarePassesUserID(t *testing.T) {
	s := testServer()
	token, err := s.tokens.Generate(99)
	require.NoError(t, err)

	var seen int64
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = currentUserID(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(99), seen)
}

func TestBasicAuthMiddleware(t *testing.T) {
	s := testServer()
	s.adminUsername = "admin"
	s.adminPassword = "secret"

	handler := s.basicAuthMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServiceErrorMapsLedgerUserNotFound(t *testing.T) {
	s := testServer()
	rec := httptest.NewRecorder()
	s.serviceError(rec, fmt.Errorf("adjust credits: %w", repository.ErrUserNotFound))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=30&offset=abc", nil)
	assert.Equal(t, 30, queryInt(req, "limit", 20))
	assert.Equal(t, 0, queryInt(req, "offset", 0))
	assert.Equal(t, 5, queryInt(req, "missing", 5))
}
