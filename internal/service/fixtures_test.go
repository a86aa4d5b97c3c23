package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/asset"
	"github.com/sakif/civic-reports/internal/auth"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/policy"
	"github.com/sakif/civic-reports/internal/repository/memory"
)

// =========================================================================
// FAKE ASSET GATEWAY
// =========================================================================

// fakeGateway records every call. uploadErr fails all uploads; deleteErr
// fails deletes for the listed URLs only.
type fakeGateway struct {
	mu        sync.Mutex
	n         int
	uploads   []asset.Options
	deleted   []string
	uploadErr error
	deleteErr map[string]error
}

func (g *fakeGateway) Upload(_ context.Context, r io.Reader, opts asset.Options) (*asset.Asset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.uploadErr != nil {
		return nil, apperror.UploadFailed(g.uploadErr)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, apperror.UploadFailed(err)
	}
	g.n++
	g.uploads = append(g.uploads, opts)
	return &asset.Asset{
		URL:      fmt.Sprintf("https://res.cloudinary.com/demo/image/upload/v1/%s/img%d.jpg", opts.Folder, g.n),
		PublicID: fmt.Sprintf("%s/img%d", opts.Folder, g.n),
		Bytes:    len(body),
	}, nil
}

func (g *fakeGateway) Delete(_ context.Context, url string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.deleted = append(g.deleted, url)
	return g.deleteErr[url]
}

func (g *fakeGateway) deletedURLs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.deleted...)
}

func photo() io.Reader { return strings.NewReader("\xff\xd8\xff\xe0 fake jpeg") }

// =========================================================================
// FIXTURE
// =========================================================================

type fixture struct {
	store   *memory.Store
	assets  *fakeGateway
	tokens  *auth.TokenService
	auth    *AuthService
	reports *ReportService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	require.NoError(t, err)

	store := memory.New()
	assets := &fakeGateway{deleteErr: map[string]error{}}
	v := NewValidator()

	return &fixture{
		store:   store,
		assets:  assets,
		tokens:  tokens,
		auth:    NewAuthService(store.Users(), tokens, auth.NewPasswordServiceForTest(4), assets, v, logger),
		reports: NewReportService(store.Reports(), store.Users(), assets, v, logger),
	}
}

// user registers an account and returns it as a policy caller.
func (f *fixture) user(t *testing.T, email string) policy.Caller {
	t.Helper()
	res, err := f.auth.Register(context.Background(), RegisterInput{
		Username: strings.Split(email, "@")[0],
		Email:    email,
		Password: "secret123",
	}, nil)
	require.NoError(t, err)
	return policy.Caller{ID: res.User.ID, Role: res.User.Role}
}

func (f *fixture) admin(t *testing.T, email string) policy.Caller {
	t.Helper()
	c := f.user(t, email)
	require.NoError(t, f.auth.PromoteToAdmin(context.Background(), email))
	c.Role = model.RoleAdmin
	return c
}

func (f *fixture) report(t *testing.T, owner policy.Caller, withPhoto bool) *model.Report {
	t.Helper()
	lat, lng := 12.9716, 77.5946
	in := CreateReportInput{
		Category:    "Roads & Potholes",
		Description: "Large pothole",
		Address:     "Main St",
		Latitude:    &lat,
		Longitude:   &lng,
	}
	var p io.Reader
	if withPhoto {
		p = photo()
	}
	r, err := f.reports.Create(context.Background(), owner.ID, in, p)
	require.NoError(t, err)
	return r
}

func requireAppError(t *testing.T, err error, sentinel error, field string) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
	if field != "" {
		var ae *apperror.AppError
		require.True(t, errors.As(err, &ae))
		require.Equal(t, field, ae.Field)
	}
}

func ptr[T any](v T) *T { return &v }
