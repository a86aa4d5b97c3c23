package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/auth"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/policy"
	"github.com/sakif/civic-reports/internal/repository"
	"github.com/sakif/civic-reports/internal/service"
)

// ReportHandler exposes the report lifecycle over HTTP. Every route sits
// behind RequireAuth; admin-only routes are additionally wrapped in
// RequireRole by the router, and the service re-checks through the policy.
type ReportHandler struct {
	reports *service.ReportService
	maxBody int64
	logger  *slog.Logger
}

func NewReportHandler(svc *service.ReportService, maxBody int64, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		reports: svc,
		maxBody: maxBody,
		logger:  logger,
	}
}

// caller pulls the authenticated identity out of the request. ok is false
// (and a 401 already written) when the route was mounted without RequireAuth.
func (h *ReportHandler) caller(w http.ResponseWriter, r *http.Request) (policy.Caller, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("Not authorized, no token"))
		return policy.Caller{}, false
	}
	return id.Caller(), true
}

// HandleCreate files a new report.
//
// HTTP: POST /reports
// Body: JSON, or multipart/form-data with an optional "photo" file.
func (h *ReportHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var in service.CreateReportInput
	b, err := bind(w, r, h.maxBody, &in, "latitude", "longitude", "severity")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	photo, err := b.file("photo")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if photo != nil {
		defer photo.Close()
	}

	report, err := h.reports.Create(r.Context(), c.ID, in, photo)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, report)
}

// HandleList returns every report, newest first.
//
// HTTP: GET /reports?status=&category=
func (h *ReportHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reports, err := h.reports.ListAll(r.Context(), repository.ReportFilter{
		Status:   model.Status(strings.TrimSpace(q.Get("status"))),
		Category: strings.TrimSpace(q.Get("category")),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, reports)
}

// HandleMine returns the caller's own reports.
//
// HTTP: GET /reports/my-reports
func (h *ReportHandler) HandleMine(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	reports, err := h.reports.ListOwn(r.Context(), c.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, reports)
}

// HandleStats returns per-status counts.
//
// HTTP: GET /reports/stats (admin)
func (h *ReportHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	stats, err := h.reports.Stats(r.Context(), c)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

// HandleNearby lists unresolved reports around a point.
//
// HTTP: GET /reports/nearby?lng=&lat=&radiusKm=
func (h *ReportHandler) HandleNearby(w http.ResponseWriter, r *http.Request) {
	lng, hasLng, err := queryFloat(r, "lng")
	if err == nil && !hasLng {
		err = apperror.ValidationFailed("lng", "lng is required")
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	lat, hasLat, err := queryFloat(r, "lat")
	if err == nil && !hasLat {
		err = apperror.ValidationFailed("lat", "lat is required")
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	radius, _, err := queryFloat(r, "radiusKm")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	reports, err := h.reports.Nearby(r.Context(), lng, lat, radius)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, reports)
}

// HandleGet fetches one report.
//
// HTTP: GET /reports/{id}
func (h *ReportHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GetOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// HandleUpdateStatus applies an admin patch (status, priority, department...).
//
// HTTP: PUT /reports/{id} (admin)
// Body: JSON patch, or multipart/form-data with an optional "afterImage" file.
func (h *ReportHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var patch repository.ReportPatch
	b, err := bind(w, r, h.maxBody, &patch, "severity")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	after, err := b.file("afterImage")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if after != nil {
		defer after.Close()
	}

	report, err := h.reports.UpdateStatus(r.Context(), c, chi.URLParam(r, "id"), patch, after)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

type assignRequest struct {
	Department string `json:"department"`
}

// HandleAssign routes a report to a department.
//
// HTTP: PUT /reports/{id}/assign (admin)
func (h *ReportHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req assignRequest
	b, err := bind(w, r, h.maxBody, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	report, err := h.reports.AssignDepartment(r.Context(), c, chi.URLParam(r, "id"), req.Department)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// HandleUpvote toggles the caller's upvote.
//
// HTTP: PUT /reports/{id}/upvote
func (h *ReportHandler) HandleUpvote(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	report, err := h.reports.ToggleUpvote(r.Context(), c.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// HandleReplaceImage swaps the owner's "before" photo.
//
// HTTP: PUT /reports/{id}/image (multipart "photo")
func (h *ReportHandler) HandleReplaceImage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var ignored struct{}
	b, err := bind(w, r, h.maxBody, &ignored)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	photo, err := b.file("photo")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if photo != nil {
		defer photo.Close()
	}

	report, err := h.reports.ReplaceOwnerImage(r.Context(), c, chi.URLParam(r, "id"), photo)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

type deleteImageRequest struct {
	ImageType string `json:"imageType"`
}

// HandleDeleteImage clears one of the report's images.
//
// HTTP: DELETE /reports/{id}/image
// Body (optional): {"imageType": "before" | "after"}; ?imageType= also works.
func (h *ReportHandler) HandleDeleteImage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req deleteImageRequest
	b, err := bind(w, r, h.maxBody, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()
	if req.ImageType == "" {
		req.ImageType = r.URL.Query().Get("imageType")
	}

	report, err := h.reports.DeleteImage(r.Context(), c, chi.URLParam(r, "id"), req.ImageType)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// HandleDelete removes a report and, best effort, its hosted images.
//
// HTTP: DELETE /reports/{id}
func (h *ReportHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}
	if _, err := h.reports.Delete(r.Context(), c, chi.URLParam(r, "id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeMessage(w, http.StatusOK, "Report deleted successfully")
}

// HandleBulkUpdate applies one patch to many reports.
//
// HTTP: PATCH /reports/bulk (admin)
// Body: {"ids": [...], "patch": {...}}
func (h *ReportHandler) HandleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := h.caller(w, r)
	if !ok {
		return
	}

	var in service.BulkUpdateInput
	b, err := bind(w, r, h.maxBody, &in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	defer b.close()

	res, err := h.reports.BulkUpdate(r.Context(), c, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
