package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civic-reports/internal/asset"
	"github.com/sakif/civic-reports/internal/auth"
	"github.com/sakif/civic-reports/internal/config"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository/memory"
)

// =========================================================================
// TEST HARNESS
// =========================================================================

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Upload(ctx context.Context, r io.Reader, opts asset.Options) (*asset.Asset, error) {
	args := m.Called(ctx, r, opts)
	a, _ := args.Get(0).(*asset.Asset)
	return a, args.Error(1)
}

func (m *mockGateway) Delete(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

type harness struct {
	t       *testing.T
	handler http.Handler
	store   *memory.Store
	assets  *mockGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	gw := &mockGateway{}
	t.Cleanup(func() { gw.AssertExpectations(t) })

	cfg := config.Config{
		Port:        8080,
		StoreDriver: config.DriverMemory,
		JWTSecret:   "test-secret-0123456789",
		JWTTTL:      time.Hour,
		CORSOrigins: []string{"https://city.example"},
		MaxUploadMB: 1,
		LogFormat:   "text",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := NewWithDeps(cfg, Deps{
		Users:     store.Users(),
		Reports:   store.Reports(),
		Store:     store,
		Assets:    gw,
		Passwords: auth.NewPasswordServiceForTest(4),
	}, logger)
	require.NoError(t, err)

	return &harness{t: t, handler: srv.Handler(), store: store, assets: gw}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Field   string          `json:"field"`
}

func (h *harness) do(method, path, token string, body io.Reader, contentType string) (int, envelope) {
	h.t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr.Code, env
}

func (h *harness) json(method, path, token string, payload any) (int, envelope) {
	h.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(h.t, err)
		body = bytes.NewReader(raw)
	}
	return h.do(method, path, token, body, "application/json")
}

// register signs up a user and returns its token and id.
func (h *harness) register(email string) (token, id string) {
	h.t.Helper()
	code, env := h.json(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "tester",
		"email":    email,
		"password": "secret123",
	})
	require.Equal(h.t, http.StatusCreated, code, env.Message)

	var res struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &res))
	return res.Token, res.User.ID
}

// admin registers a user and promotes it directly in the store.
func (h *harness) admin(email string) string {
	h.t.Helper()
	token, _ := h.register(email)
	require.NoError(h.t, h.store.Users().SetRole(context.Background(), email, model.RoleAdmin))
	return token
}

func (h *harness) createReport(token string) model.Report {
	h.t.Helper()
	code, env := h.json(http.MethodPost, "/reports", token, map[string]any{
		"category":    "Roads & Potholes",
		"description": "Large pothole",
		"address":     "Main St",
		"latitude":    12.9,
		"longitude":   77.6,
	})
	require.Equal(h.t, http.StatusCreated, code, env.Message)

	var r model.Report
	require.NoError(h.t, json.Unmarshal(env.Data, &r))
	return r
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// =========================================================================
// AUTH
// =========================================================================

func TestAuthFlow(t *testing.T) {
	h := newHarness(t)
	token, id := h.register("asha@example.com")

	code, env := h.json(http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	me := decode[model.PublicUser](t, env.Data)
	assert.Equal(t, id, me.ID)
	assert.Equal(t, model.RoleUser, me.Role)

	code, env = h.json(http.MethodPost, "/auth/login", "", map[string]string{"email": "asha@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, env.Success)

	code, env = h.json(http.MethodPost, "/auth/login", "", map[string]string{"email": "asha@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid email or password", env.Message)

	code, _ = h.json(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "again", "email": "asha@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestRegister_ValidationNamesTheField(t *testing.T) {
	h := newHarness(t)

	code, env := h.json(http.MethodPost, "/auth/register", "", map[string]string{
		"username": "asha", "email": "not-an-email", "password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
	assert.Equal(t, "email", env.Field)
}

func TestRegister_MultipartWithProfilePhoto(t *testing.T) {
	h := newHarness(t)
	h.assets.On("Upload", mock.Anything, mock.Anything, asset.ProfilePhoto).
		Return(&asset.Asset{URL: "https://res.cloudinary.com/demo/image/upload/v1/civic-reports/profiles/p.jpg"}, nil).
		Once()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("username", "asha")
	mw.WriteField("email", "asha@example.com")
	mw.WriteField("password", "secret123")
	fw, _ := mw.CreateFormFile("profilePhoto", "me.jpg")
	fw.Write([]byte("jpeg bytes"))
	mw.Close()

	code, env := h.do(http.MethodPost, "/auth/register", "", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, code, env.Message)

	var res struct {
		User model.PublicUser `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Contains(t, res.User.ProfilePhotoURL, "profiles/p.jpg")
}

func TestProtectedRoutes_RejectMissingAndBadTokens(t *testing.T) {
	h := newHarness(t)

	code, env := h.json(http.MethodGet, "/reports", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Not authorized, no token", env.Message)

	code, env = h.json(http.MethodGet, "/reports", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Not authorized, token failed", env.Message)
}

func TestGitHubRoutes_AbsentWhenNotConfigured(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/auth/github/login", nil)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =========================================================================
// REPORTS
// =========================================================================

func TestCreateReport_Scenario(t *testing.T) {
	h := newHarness(t)
	token, id := h.register("asha@example.com")

	r := h.createReport(token)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, model.PriorityMedium, r.Priority)
	assert.Equal(t, []float64{77.6, 12.9}, r.Location.Coordinates)
	assert.Equal(t, id, r.OwnerID)

	code, env := h.json(http.MethodGet, "/reports/my-reports", token, nil)
	require.Equal(t, http.StatusOK, code)
	mine := decode[[]model.Report](t, env.Data)
	require.Len(t, mine, 1)
	assert.Equal(t, r.ID, mine[0].ID)

	code, env = h.json(http.MethodGet, "/reports/"+r.ID, token, nil)
	require.Equal(t, http.StatusOK, code)
	got := decode[model.Report](t, env.Data)
	require.NotNil(t, got.Owner)
	assert.Equal(t, "asha@example.com", got.Owner.Email)
}

func TestCreateReport_MultipartWithPhoto(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")
	h.assets.On("Upload", mock.Anything, mock.Anything, asset.ReportPhoto).
		Return(&asset.Asset{URL: "https://res.cloudinary.com/demo/image/upload/v1/civic-reports/reports/a.jpg"}, nil).
		Once()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("category", "Garbage & Sanitation")
	mw.WriteField("description", "Overflowing bin")
	mw.WriteField("address", "2nd Cross")
	mw.WriteField("latitude", "12.97")
	mw.WriteField("longitude", "77.59")
	mw.WriteField("severity", "5")
	fw, _ := mw.CreateFormFile("photo", "bin.jpg")
	fw.Write([]byte("jpeg bytes"))
	mw.Close()

	code, env := h.do(http.MethodPost, "/reports", token, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, code, env.Message)

	r := decode[model.Report](t, env.Data)
	assert.Equal(t, model.PriorityHigh, r.Priority)
	assert.Contains(t, r.ImageURL, "reports/a.jpg")
	assert.Equal(t, []float64{77.59, 12.97}, r.Location.Coordinates)
}

func TestCreateReport_BadNumberInForm(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("category", "Other")
	mw.WriteField("description", "x")
	mw.WriteField("address", "y")
	mw.WriteField("latitude", "north-ish")
	mw.Close()

	code, env := h.do(http.MethodPost, "/reports", token, &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "latitude", env.Field)
}

func TestAdminRoutes_ForbiddenForCitizens(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")
	r := h.createReport(token)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/reports/stats"},
		{http.MethodPatch, "/reports/bulk"},
		{http.MethodPut, "/reports/" + r.ID},
		{http.MethodPut, "/reports/" + r.ID + "/assign"},
	} {
		code, env := h.json(tc.method, tc.path, token, map[string]any{})
		assert.Equal(t, http.StatusForbidden, code, tc.path)
		assert.Equal(t, "Access denied. Insufficient permissions.", env.Message, tc.path)
	}
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")
	admin := h.admin("ops@example.com")
	h.createReport(token)
	h.createReport(token)

	code, env := h.json(http.MethodGet, "/reports/stats", admin, nil)
	require.Equal(t, http.StatusOK, code)
	stats := decode[model.Stats](t, env.Data)
	assert.Equal(t, model.Stats{Total: 2, Pending: 2}, stats)
}

func TestResolveWithoutAfterImage_Rejected(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")
	admin := h.admin("ops@example.com")
	r := h.createReport(token)

	code, env := h.json(http.MethodPut, "/reports/"+r.ID, admin, map[string]string{"status": "resolved"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "afterImage", env.Field)

	code, env = h.json(http.MethodPut, "/reports/"+r.ID, admin, map[string]string{"status": "in-progress"})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, model.StatusInProgress, decode[model.Report](t, env.Data).Status)
}

func TestResolveWithAfterImageUpload(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")
	admin := h.admin("ops@example.com")
	r := h.createReport(token)
	h.assets.On("Upload", mock.Anything, mock.Anything, asset.ReportPhoto).
		Return(&asset.Asset{URL: "https://res.cloudinary.com/demo/image/upload/v1/civic-reports/reports/after.jpg"}, nil).
		Once()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("status", "resolved")
	fw, _ := mw.CreateFormFile("afterImage", "fixed.jpg")
	fw.Write([]byte("jpeg bytes"))
	mw.Close()

	code, env := h.do(http.MethodPut, "/reports/"+r.ID, admin, &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, code, env.Message)
	got := decode[model.Report](t, env.Data)
	assert.Equal(t, model.StatusResolved, got.Status)
	assert.Contains(t, got.AfterImageURL, "after.jpg")
}

func TestUpvoteToggle(t *testing.T) {
	h := newHarness(t)
	owner, _ := h.register("asha@example.com")
	voter, voterID := h.register("ravi@example.com")
	r := h.createReport(owner)

	code, env := h.json(http.MethodPut, "/reports/"+r.ID+"/upvote", voter, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{voterID}, decode[model.Report](t, env.Data).Upvotes)

	code, env = h.json(http.MethodPut, "/reports/"+r.ID+"/upvote", voter, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[model.Report](t, env.Data).Upvotes)
}

func TestDeleteReport_OwnerAndStranger(t *testing.T) {
	h := newHarness(t)
	owner, _ := h.register("asha@example.com")
	stranger, _ := h.register("ravi@example.com")
	r := h.createReport(owner)

	code, _ := h.json(http.MethodDelete, "/reports/"+r.ID, stranger, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env := h.json(http.MethodDelete, "/reports/"+r.ID, owner, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Report deleted successfully", env.Message)

	code, _ = h.json(http.MethodGet, "/reports/"+r.ID, owner, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNearbyAndBulk(t *testing.T) {
	h := newHarness(t)
	token, _ := h.register("asha@example.com")
	admin := h.admin("ops@example.com")
	a := h.createReport(token)
	b := h.createReport(token)

	code, env := h.json(http.MethodGet, "/reports/nearby?lng=77.6&lat=12.9&radiusKm=1", token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Len(t, decode[[]model.Report](t, env.Data), 2)

	code, env = h.json(http.MethodGet, "/reports/nearby?lat=12.9", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "lng", env.Field)

	code, env = h.json(http.MethodPatch, "/reports/bulk", admin, map[string]any{
		"ids":   []string{a.ID, b.ID, a.ID},
		"patch": map[string]string{"priority": "high"},
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Equal(t, model.BulkResult{MatchedCount: 2, ModifiedCount: 2}, decode[model.BulkResult](t, env.Data))
}

// =========================================================================
// PLUMBING
// =========================================================================

func TestHealth(t *testing.T) {
	h := newHarness(t)
	code, env := h.json(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","store":"memory"}`, string(env.Data))
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/reports", nil)
	req.Header.Set("Origin", "https://city.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	rr := httptest.NewRecorder()

	h.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://city.example", rr.Header().Get("Access-Control-Allow-Origin"))
}
