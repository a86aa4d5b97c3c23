package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/policy"
)

// contextKey is unexported so only this package can read or write identities
// in a request context.
type contextKey string

const identityKey contextKey = "identity"

// Identity is the caller resolved from a bearer token. Role comes from the
// user record at request time, not from the token.
type Identity struct {
	UserID string
	Role   model.Role
}

// Caller converts the identity into the form the policy package works with.
func (i Identity) Caller() policy.Caller {
	return policy.Caller{ID: i.UserID, Role: i.Role}
}

// Authenticator turns a raw bearer token into an Identity. The auth service
// implements it by validating the JWT and loading the user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer <token>"
// header with 401, and stores the resolved Identity in the request context.
//
// A token for a user that no longer exists is treated the same as an invalid
// token: the Authenticator returns an error and the request never reaches the
// handler.
//
// Only Unauthorized errors become 401. Anything else, such as the user store
// being down, is logged and answered with 500.
func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeDenied(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}

			id, err := authn.Authenticate(r.Context(), token)
			switch {
			case errors.Is(err, apperror.ErrUnauthorized):
				writeDenied(w, http.StatusUnauthorized, "Not authorized, token failed")
				return
			case err != nil:
				logger.Error("authenticating request", slog.String("error", err.Error()))
				writeDenied(w, http.StatusInternalServerError, "An internal error occurred")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole must run after RequireAuth. It answers 403 unless the caller has
// one of the given roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				writeDenied(w, http.StatusUnauthorized, "Not authorized, no token")
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeDenied(w, http.StatusForbidden, "Access denied. Insufficient permissions.")
		})
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated caller, or false if the
// request did not pass through RequireAuth.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// bearerToken extracts the token from the Authorization header. The scheme is
// matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeDenied renders the same {success,message} envelope the handlers use.
// It lives here because handler imports auth, not the other way round.
func writeDenied(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"message": message,
	})
}
