package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/model"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubAuthenticator map[string]Identity

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "store-down" {
		return Identity{}, errors.New("mongo: server selection timeout")
	}
	id, ok := s[token]
	if !ok {
		return Identity{}, apperror.Unauthorized("Not authorized, token failed")
	}
	return id, nil
}

var stubUsers = stubAuthenticator{
	"user-token":  {UserID: "u1", Role: model.RoleUser},
	"admin-token": {UserID: "a1", Role: model.RoleAdmin},
}

func echoIdentity(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(id.UserID))
	})
}

func TestRequireAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"no header", "", http.StatusUnauthorized, "no token"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "no token"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "no token"},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, "token failed"},
		{"user store unavailable", "Bearer store-down", http.StatusInternalServerError, "An internal error occurred"},
		{"valid token", "Bearer user-token", http.StatusOK, "u1"},
		{"scheme is case-insensitive", "bearer admin-token", http.StatusOK, "a1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireAuth(stubUsers, discard)(echoIdentity(t))
			req := httptest.NewRequest(http.MethodGet, "/reports", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			if tt.status != http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"success":false`)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireAuth(stubUsers, discard)(RequireRole(model.RoleAdmin)(echoIdentity(t)))

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/reports/stats", nil)
		req.Header.Set("Authorization", "Bearer admin-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("user is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/reports/stats", nil)
		req.Header.Set("Authorization", "Bearer user-token")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "Insufficient permissions")
	})

	t.Run("without RequireAuth", func(t *testing.T) {
		rec := httptest.NewRecorder()
		RequireRole(model.RoleAdmin)(echoIdentity(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestIdentityCaller(t *testing.T) {
	c := Identity{UserID: "a1", Role: model.RoleAdmin}.Caller()
	assert.Equal(t, "a1", c.ID)
	assert.True(t, c.IsAdmin())
}
