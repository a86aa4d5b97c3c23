// Package service holds the business rules of the application.
//
//	Handler (HTTP)  →  Service (rules, authorization)  →  Repository (store)
//	                          ↘ asset.Gateway (image host)
//
// Services accept plain Go values and io.Readers, never *http.Request, and
// return apperror values that the handler layer maps onto status codes.
// Every dependency arrives through a constructor; nothing reads globals.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/asset"
	"github.com/sakif/civic-reports/internal/auth"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

// invalidCredentials is shared by both login failure paths so a caller cannot
// tell an unknown email from a wrong password.
const invalidCredentials = "Invalid email or password"

// RegisterInput is the identity submitted at sign-up.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"omitempty,min=7,max=20"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// AuthResult bundles the public user view with a freshly signed token.
type AuthResult struct {
	Token string           `json:"token"`
	User  model.PublicUser `json:"user"`
}

// AuthService registers users, checks credentials and resolves bearer tokens.
// It implements auth.Authenticator for the HTTP middleware.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	assets    asset.Gateway
	validate  *Validator
	logger    *slog.Logger
}

var _ auth.Authenticator = (*AuthService)(nil)

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	assets asset.Gateway,
	validate *Validator,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		assets:    assets,
		validate:  validate,
		logger:    logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with role "user" and signs them in.
//
// Order matters: the duplicate check and password hash run before the profile
// photo is uploaded, so a rejected sign-up never leaves an orphaned image.
// If the insert itself loses a race on the unique index, the photo that was
// just uploaded is removed again.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, photo io.Reader) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmailOrPhone(ctx, in.Email, in.Phone)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking existing user: %w", err)
	}
	if existing != nil {
		return nil, apperror.Conflict("user", "this email or phone")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", "password could not be hashed")
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		Role:         model.RoleUser,
		PasswordHash: hash,
	}

	if photo != nil {
		a, err := s.assets.Upload(ctx, photo, asset.ProfilePhoto)
		if err != nil {
			return nil, err
		}
		user.ProfilePhotoURL = a.URL
	}

	if err := s.users.Create(ctx, user); err != nil {
		asset.RemoveBestEffort(ctx, s.assets, user.ProfilePhotoURL).Acknowledge(s.logger)
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)

	return s.issue(user)
}

// Login checks an email/password pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.logger.Info("user logged in", slog.String("userID", user.ID))
	return s.issue(user)
}

// Authenticate resolves a bearer token to the current identity. The role is
// read from the store on every call; a token for a deleted user is rejected.
func (s *AuthService) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, apperror.Unauthorized("Not authorized, no token")
	}

	userID, err := s.tokens.Validate(token)
	if err != nil {
		return auth.Identity{}, apperror.Unauthorized("Not authorized, token failed")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return auth.Identity{}, apperror.Unauthorized("Not authorized, user no longer exists")
		}
		return auth.Identity{}, fmt.Errorf("service/auth: loading user %s: %w", userID, err)
	}

	return auth.Identity{UserID: user.ID, Role: user.Role}, nil
}

// Authorize fails with Forbidden unless id holds role.
func (s *AuthService) Authorize(id auth.Identity, role model.Role) error {
	if id.Role != role {
		return apperror.Forbidden("Access denied. Insufficient permissions.")
	}
	return nil
}

// Me returns the public view of the caller.
func (s *AuthService) Me(ctx context.Context, userID string) (model.PublicUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user.Public(), nil
}

// LoginOrRegisterGitHub signs in the account owning the GitHub user's email,
// creating it on first use. Accounts created this way have no password.
func (s *AuthService) LoginOrRegisterGitHub(ctx context.Context, gh *auth.GitHubUser) (*AuthResult, error) {
	if gh == nil || gh.Email == "" {
		return nil, apperror.ValidationFailed("email", "GitHub account has no usable email")
	}
	email := normalizeEmail(gh.Email)

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			Username:        gh.Login,
			Email:           email,
			Role:            model.RoleUser,
			ProfilePhotoURL: gh.AvatarURL,
		}
		if err := s.users.Create(ctx, user); err != nil {
			if !errors.Is(err, apperror.ErrConflict) {
				return nil, fmt.Errorf("service/auth: creating GitHub user: %w", err)
			}
			// Lost a race with a concurrent first login for the same email.
			if user, err = s.users.GetByEmail(ctx, email); err != nil {
				return nil, fmt.Errorf("service/auth: reloading GitHub user: %w", err)
			}
		} else {
			s.logger.Info("user registered via GitHub",
				slog.String("userID", user.ID),
				slog.String("login", gh.Login),
			)
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	return s.issue(user)
}

// PromoteToAdmin grants the admin role to the account with the given email.
func (s *AuthService) PromoteToAdmin(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	if err := s.users.SetRole(ctx, email, model.RoleAdmin); err != nil {
		return fmt.Errorf("service/auth: promoting %s: %w", email, err)
	}
	s.logger.Info("user promoted to admin", slog.String("email", email))
	return nil
}

func (s *AuthService) issue(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, apperror.Internal("could not sign token", err)
	}
	return &AuthResult{Token: token, User: user.Public()}, nil
}
