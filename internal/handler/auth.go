package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/auth"
	"github.com/sakif/civic-reports/internal/service"
)

const stateCookie = "oauth_state"

// AuthHandler serves registration, password login, the current-user lookup
// and the optional GitHub sign-in flow.
//
// github is nil when GitHub credentials are not configured; the server then
// does not mount the /auth/github routes at all.
type AuthHandler struct {
	auth    *service.AuthService
	github  *auth.GitHubProvider
	maxBody int64
	logger  *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, github *auth.GitHubProvider, maxBody int64, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:    svc,
		github:  github,
		maxBody: maxBody,
		logger:  logger,
	}
}

// HandleRegister creates an account.
//
// HTTP: POST /auth/register
// Body: JSON, or multipart/form-data with an optional "profilePhoto" file.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	b, err := bind(w, r, h.maxBody, &in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	photo, err := b.file("profilePhoto")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if photo != nil {
		defer photo.Close()
	}

	res, err := h.auth.Register(r.Context(), in, photo)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin exchanges an email/password pair for a token.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	b, err := bind(w, r, h.maxBody, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	res, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// HandleMe returns the caller's public profile.
//
// HTTP: GET /auth/me (RequireAuth)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Not authorized, no token"))
		return
	}

	user, err := h.auth.Me(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

// HandleGitHubLogin redirects the browser to GitHub's consent page.
//
// HTTP: GET /auth/github/login
//
// A random state value is stored in a short-lived HttpOnly cookie and checked
// again on callback, so only flows started here can complete.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes sign-in and answers with the same payload as
// password login.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || q.Get("state") != cookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, h.logger, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/auth/github", MaxAge: -1})

	if denied := q.Get("error"); denied != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", denied))
		writeError(w, h.logger, apperror.Unauthorized("GitHub authorization was denied"))
		return
	}

	code := q.Get("code")
	if code == "" {
		writeError(w, h.logger, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Warn("github callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, h.logger, apperror.Unauthorized("GitHub sign-in failed"))
		return
	}

	res, err := h.auth.LoginOrRegisterGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
