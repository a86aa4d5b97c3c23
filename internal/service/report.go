package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/asset"
	"github.com/sakif/civic-reports/internal/geo"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/policy"
	"github.com/sakif/civic-reports/internal/repository"
)

const (
	DefaultNearbyRadiusKm = 5.0
	MaxNearbyRadiusKm     = 50.0
	MaxBulkIDs            = 500
)

// Image slots accepted by DeleteImage on the admin path.
const (
	ImageBefore = "before"
	ImageAfter  = "after"
)

// CreateReportInput is what a citizen submits. Latitude and Longitude are
// pointers so "absent" can be told apart from 0.
type CreateReportInput struct {
	Category    string   `json:"category" validate:"required,report_category"`
	Title       string   `json:"title" validate:"max=120"`
	Description string   `json:"description" validate:"required,max=500"`
	Address     string   `json:"address" validate:"required"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Severity    *int     `json:"severity" validate:"omitempty,min=1,max=5"`
}

// BulkUpdateInput applies one patch to many reports.
type BulkUpdateInput struct {
	IDs   []string               `json:"ids" validate:"required,min=1,max=500,dive,required"`
	Patch repository.ReportPatch `json:"patch"`
}

// DeleteResult carries the outcome of the two best-effort image removals
// that accompany a report deletion. The record is gone either way.
type DeleteResult struct {
	Image      asset.Cleanup
	AfterImage asset.Cleanup
}

// ReportService implements the report lifecycle.
//
// Authorization that depends on the report (owner vs admin, status gates) is
// decided by policy.Can; route-level role checks in the HTTP layer are a
// first line only. Image uploads always complete before the store is touched,
// and remote image deletions never fail the operation they belong to.
type ReportService struct {
	reports  repository.ReportRepository
	users    repository.UserRepository
	assets   asset.Gateway
	validate *Validator
	logger   *slog.Logger
}

func NewReportService(
	reports repository.ReportRepository,
	users repository.UserRepository,
	assets asset.Gateway,
	validate *Validator,
	logger *slog.Logger,
) *ReportService {
	return &ReportService{
		reports:  reports,
		users:    users,
		assets:   assets,
		validate: validate,
		logger:   logger,
	}
}

// Create files a new pending report for ownerID. A photo, when given, is
// uploaded first; if that fails nothing is written.
func (s *ReportService) Create(ctx context.Context, ownerID string, in CreateReportInput, photo io.Reader) (*model.Report, error) {
	in.Category = strings.TrimSpace(in.Category)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Address = strings.TrimSpace(in.Address)

	if err := s.validate.Struct(in); err != nil {
		return nil, err
	}

	report := &model.Report{
		OwnerID:            ownerID,
		Category:           in.Category,
		Title:              in.Title,
		Description:        in.Description,
		Address:            in.Address,
		Status:             model.StatusPending,
		Priority:           model.PriorityFromSeverity(in.Severity),
		Severity:           in.Severity,
		AssignedDepartment: model.DefaultDepartment,
		Upvotes:            []string{},
	}

	// A lone latitude or longitude is dropped rather than rejected.
	if in.Latitude != nil && in.Longitude != nil {
		if !geo.ValidCoordinates(*in.Longitude, *in.Latitude) {
			return nil, apperror.ValidationFailed("latitude", "latitude/longitude out of range")
		}
		report.Location = model.NewGeoPoint(*in.Longitude, *in.Latitude)
	}

	if photo != nil {
		a, err := s.assets.Upload(ctx, photo, asset.ReportPhoto)
		if err != nil {
			return nil, err
		}
		report.ImageURL = a.URL
	}

	if err := s.reports.Create(ctx, report); err != nil {
		asset.RemoveBestEffort(ctx, s.assets, report.ImageURL).Acknowledge(s.logger)
		return nil, fmt.Errorf("service/report: creating report: %w", err)
	}

	s.logger.Info("report created",
		slog.String("reportID", report.ID),
		slog.String("ownerID", ownerID),
		slog.String("category", report.Category),
	)
	return report, nil
}

// ListAll returns every report matching filter, newest first, with owner
// contact details attached.
func (s *ReportService) ListAll(ctx context.Context, filter repository.ReportFilter) ([]model.Report, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperror.ValidationFailed("status", "status must be one of pending, in-progress, resolved")
	}
	if filter.Category != "" && !model.ValidCategory(filter.Category) {
		return nil, apperror.ValidationFailed("category", "unknown category")
	}

	reports, err := s.reports.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/report: listing reports: %w", err)
	}
	if err := s.attachOwners(ctx, reports, true); err != nil {
		return nil, err
	}
	return reports, nil
}

// ListOwn returns the caller's reports, newest first.
func (s *ReportService) ListOwn(ctx context.Context, ownerID string) ([]model.Report, error) {
	return s.ListAll(ctx, repository.ReportFilter{OwnerID: ownerID})
}

// GetOne fetches a single report with its owner attached.
func (s *ReportService) GetOne(ctx context.Context, id string) (*model.Report, error) {
	report, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/report: fetching %s: %w", id, err)
	}
	return s.withOwner(ctx, report)
}

// UpdateStatus applies an admin patch as-is. A report that is resolved once
// the patch applies must keep an after image: one uploaded with this call,
// one set in the patch, or the stored one when the patch leaves it alone. Moving a resolved report back to an earlier status is
// allowed.
func (s *ReportService) UpdateStatus(ctx context.Context, caller policy.Caller, id string, patch repository.ReportPatch, afterImage io.Reader) (*model.Report, error) {
	if d := policy.Can(caller, nil, policy.UpdateStatus); !d.Allowed {
		return nil, denied(d)
	}
	if err := s.validate.Struct(patch); err != nil {
		return nil, err
	}

	current, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/report: fetching %s: %w", id, err)
	}

	if resolvedWithoutAfterImage(current, patch, afterImage != nil) {
		return nil, apperror.ValidationFailed("afterImage", "An after image is required to resolve a report")
	}

	if afterImage != nil {
		a, err := s.assets.Upload(ctx, afterImage, asset.ReportPhoto)
		if err != nil {
			return nil, err
		}
		patch.AfterImageURL = &a.URL
	}

	if patch.IsEmpty() {
		return nil, apperror.ValidationFailed("status", "nothing to update")
	}

	updated, err := s.reports.Update(ctx, id, patch)
	if err != nil {
		if patch.AfterImageURL != nil && afterImage != nil {
			asset.RemoveBestEffort(ctx, s.assets, *patch.AfterImageURL).Acknowledge(s.logger)
		}
		return nil, fmt.Errorf("service/report: updating %s: %w", id, err)
	}

	s.dropReplaced(ctx, current.ImageURL, updated.ImageURL)
	s.dropReplaced(ctx, current.AfterImageURL, updated.AfterImageURL)

	s.logger.Info("report updated",
		slog.String("reportID", id),
		slog.String("by", caller.ID),
		slog.String("status", string(updated.Status)),
	)
	return s.withOwner(ctx, updated)
}

// AssignDepartment routes a report to a department (admin only).
func (s *ReportService) AssignDepartment(ctx context.Context, caller policy.Caller, id, department string) (*model.Report, error) {
	if d := policy.Can(caller, nil, policy.Assign); !d.Allowed {
		return nil, denied(d)
	}

	department = strings.TrimSpace(department)
	if department == "" {
		return nil, apperror.ValidationFailed("department", "department is required")
	}
	if len(department) > 120 {
		return nil, apperror.ValidationFailed("department", "department must be at most 120 characters")
	}

	updated, err := s.reports.Update(ctx, id, repository.ReportPatch{AssignedDepartment: &department})
	if err != nil {
		return nil, fmt.Errorf("service/report: assigning %s: %w", id, err)
	}

	s.logger.Info("report assigned",
		slog.String("reportID", id),
		slog.String("department", department),
	)
	return s.withOwner(ctx, updated)
}

// ToggleUpvote adds the caller's upvote if absent, removes it if present.
//
// The membership read and the write are two store calls, so two concurrent
// toggles by the same user can both observe the same state. The store's
// set-semantics keep the upvoter list free of duplicates regardless.
func (s *ReportService) ToggleUpvote(ctx context.Context, callerID, id string) (*model.Report, error) {
	current, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/report: fetching %s: %w", id, err)
	}

	var updated *model.Report
	if current.HasUpvoted(callerID) {
		updated, err = s.reports.RemoveUpvoter(ctx, id, callerID)
	} else {
		updated, err = s.reports.AddUpvoter(ctx, id, callerID)
	}
	if err != nil {
		return nil, fmt.Errorf("service/report: toggling upvote on %s: %w", id, err)
	}

	s.logger.Debug("upvote toggled",
		slog.String("reportID", id),
		slog.String("userID", callerID),
		slog.Int("upvotes", len(updated.Upvotes)),
	)
	return s.withOwner(ctx, updated)
}

// ReplaceOwnerImage swaps the "before" photo of a pending report for its
// owner. The new image is uploaded and stored before the old one is removed.
func (s *ReportService) ReplaceOwnerImage(ctx context.Context, caller policy.Caller, id string, photo io.Reader) (*model.Report, error) {
	if photo == nil {
		return nil, apperror.ValidationFailed("photo", "Please upload an image")
	}

	current, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/report: fetching %s: %w", id, err)
	}
	if d := policy.Can(caller, current, policy.ReplaceImage); !d.Allowed {
		return nil, denied(d)
	}

	a, err := s.assets.Upload(ctx, photo, asset.ReportPhoto)
	if err != nil {
		return nil, err
	}

	updated, err := s.reports.Update(ctx, id, repository.ReportPatch{ImageURL: &a.URL})
	if err != nil {
		asset.RemoveBestEffort(ctx, s.assets, a.URL).Acknowledge(s.logger)
		return nil, fmt.Errorf("service/report: replacing image on %s: %w", id, err)
	}

	s.dropReplaced(ctx, current.ImageURL, updated.ImageURL)
	s.logger.Info("report image replaced", slog.String("reportID", id))
	return s.withOwner(ctx, updated)
}

// DeleteImage clears one image slot.
//
// Admins name the slot with imageType ("before" or "after") and may do so at
// any status. Owners always clear the "before" image, only while the report
// is pending; imageType is ignored for them.
func (s *ReportService) DeleteImage(ctx context.Context, caller policy.Caller, id, imageType string) (*model.Report, error) {
	current, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/report: fetching %s: %w", id, err)
	}

	d := policy.Can(caller, current, policy.DeleteImage)
	if !d.Allowed {
		return nil, denied(d)
	}

	var (
		target string
		patch  repository.ReportPatch
		empty  = ""
	)
	if d.AsAdmin {
		switch strings.ToLower(strings.TrimSpace(imageType)) {
		case ImageBefore:
			target, patch.ImageURL = current.ImageURL, &empty
		case ImageAfter:
			target, patch.AfterImageURL = current.AfterImageURL, &empty
		default:
			return nil, apperror.ValidationFailed("imageType", "imageType must be 'before' or 'after'")
		}
	} else {
		target, patch.ImageURL = current.ImageURL, &empty
	}
	if target == "" {
		return nil, apperror.ValidationFailed("imageType", "No image to delete")
	}

	asset.RemoveBestEffort(ctx, s.assets, target).Acknowledge(s.logger)

	updated, err := s.reports.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("service/report: clearing image on %s: %w", id, err)
	}

	s.logger.Info("report image deleted",
		slog.String("reportID", id),
		slog.Bool("asAdmin", d.AsAdmin),
	)
	return s.withOwner(ctx, updated)
}

// Delete removes a report. Both images are removed from the asset host
// independently and on a best-effort basis before the record goes.
func (s *ReportService) Delete(ctx context.Context, caller policy.Caller, id string) (DeleteResult, error) {
	current, err := s.reports.GetByID(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("service/report: fetching %s: %w", id, err)
	}
	if d := policy.Can(caller, current, policy.DeleteReport); !d.Allowed {
		return DeleteResult{}, denied(d)
	}

	res := DeleteResult{
		Image:      asset.RemoveBestEffort(ctx, s.assets, current.ImageURL).Acknowledge(s.logger),
		AfterImage: asset.RemoveBestEffort(ctx, s.assets, current.AfterImageURL).Acknowledge(s.logger),
	}

	if err := s.reports.Delete(ctx, id); err != nil {
		return res, fmt.Errorf("service/report: deleting %s: %w", id, err)
	}

	s.logger.Info("report deleted",
		slog.String("reportID", id),
		slog.String("by", caller.ID),
	)
	return res, nil
}

// Stats counts reports per status. The four counts run concurrently and are
// not a consistent snapshot of each other under concurrent writes.
func (s *ReportService) Stats(ctx context.Context, caller policy.Caller) (model.Stats, error) {
	if d := policy.Can(caller, nil, policy.ViewStats); !d.Allowed {
		return model.Stats{}, denied(d)
	}

	var stats model.Stats
	g, gctx := errgroup.WithContext(ctx)

	count := func(dst *int64, status model.Status) {
		g.Go(func() error {
			n, err := s.reports.Count(gctx, status)
			if err != nil {
				return fmt.Errorf("service/report: counting %q: %w", status, err)
			}
			*dst = n
			return nil
		})
	}
	count(&stats.Total, "")
	count(&stats.Pending, model.StatusPending)
	count(&stats.InProgress, model.StatusInProgress)
	count(&stats.Resolved, model.StatusResolved)

	if err := g.Wait(); err != nil {
		return model.Stats{}, err
	}
	return stats, nil
}

// Nearby lists unresolved reports within radiusKm of a point, nearest first.
// A non-positive radius means DefaultNearbyRadiusKm. Only the owner's email
// is attached.
func (s *ReportService) Nearby(ctx context.Context, lng, lat, radiusKm float64) ([]model.Report, error) {
	if !geo.ValidCoordinates(lng, lat) {
		return nil, apperror.ValidationFailed("lat", "latitude/longitude out of range")
	}
	if math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return nil, apperror.ValidationFailed("radiusKm", "radiusKm must be a finite number")
	}
	if radiusKm <= 0 {
		radiusKm = DefaultNearbyRadiusKm
	}
	if radiusKm > MaxNearbyRadiusKm {
		return nil, apperror.ValidationFailed("radiusKm", fmt.Sprintf("radiusKm must be at most %g", MaxNearbyRadiusKm))
	}

	reports, err := s.reports.Nearby(ctx, repository.NearbyQuery{
		Longitude:    lng,
		Latitude:     lat,
		RadiusMeters: radiusKm * 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("service/report: nearby query: %w", err)
	}
	if err := s.attachOwners(ctx, reports, false); err != nil {
		return nil, err
	}
	return reports, nil
}

// BulkUpdate applies one patch to many reports in a single store call.
//
// The patch is validated once; the after-image gate on "resolved" is checked
// per report, and the whole batch is refused if any target lacks one.
func (s *ReportService) BulkUpdate(ctx context.Context, caller policy.Caller, in BulkUpdateInput) (model.BulkResult, error) {
	if d := policy.Can(caller, nil, policy.BulkUpdate); !d.Allowed {
		return model.BulkResult{}, denied(d)
	}
	if err := s.validate.Struct(in); err != nil {
		return model.BulkResult{}, err
	}
	if in.Patch.IsEmpty() {
		return model.BulkResult{}, apperror.ValidationFailed("patch", "patch must set at least one field")
	}

	ids := slices.Compact(slices.Sorted(slices.Values(in.IDs)))

	if in.Patch.Status != nil || in.Patch.AfterImageURL != nil {
		for _, id := range ids {
			r, err := s.reports.GetByID(ctx, id)
			if err != nil {
				continue // unmatched ids only lower matchedCount
			}
			if resolvedWithoutAfterImage(r, in.Patch, false) {
				return model.BulkResult{}, apperror.ValidationFailed("patch.status",
					fmt.Sprintf("report %s would be resolved without an after image", id))
			}
		}
	}

	res, err := s.reports.UpdateMany(ctx, ids, in.Patch)
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("service/report: bulk update: %w", err)
	}

	s.logger.Info("reports bulk updated",
		slog.Int("requested", len(ids)),
		slog.Int64("matched", res.MatchedCount),
		slog.Int64("modified", res.ModifiedCount),
	)
	return res, nil
}

// resolvedWithoutAfterImage reports whether applying patch to current leaves
// a resolved report with no after image. uploading means an after image is
// being uploaded alongside the patch.
func resolvedWithoutAfterImage(current *model.Report, patch repository.ReportPatch, uploading bool) bool {
	status := current.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	if status != model.StatusResolved || uploading {
		return false
	}
	after := current.AfterImageURL
	if patch.AfterImageURL != nil {
		after = *patch.AfterImageURL
	}
	return strings.TrimSpace(after) == ""
}

// dropReplaced removes oldURL from the asset host when an update swapped it
// for something else.
func (s *ReportService) dropReplaced(ctx context.Context, oldURL, newURL string) {
	if oldURL != "" && oldURL != newURL {
		asset.RemoveBestEffort(ctx, s.assets, oldURL).Acknowledge(s.logger)
	}
}

func (s *ReportService) withOwner(ctx context.Context, report *model.Report) (*model.Report, error) {
	one := []model.Report{*report}
	if err := s.attachOwners(ctx, one, true); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// attachOwners fills Report.Owner from one batched user lookup. Reports whose
// owner no longer exists are returned without one.
func (s *ReportService) attachOwners(ctx context.Context, reports []model.Report, withPhone bool) error {
	if len(reports) == 0 {
		return nil
	}

	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		if !slices.Contains(ids, r.OwnerID) {
			ids = append(ids, r.OwnerID)
		}
	}

	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("service/report: loading owners: %w", err)
	}

	byID := make(map[string]model.Owner, len(users))
	for _, u := range users {
		o := model.Owner{ID: u.ID, Email: u.Email}
		if withPhone {
			o.Phone = u.Phone
		}
		byID[u.ID] = o
	}

	for i := range reports {
		if o, ok := byID[reports[i].OwnerID]; ok {
			reports[i].Owner = &o
		}
	}
	return nil
}

// denied maps a policy refusal onto the error taxonomy: not entitled is
// Forbidden, blocked by the report's state is a Validation failure.
func denied(d policy.Decision) error {
	if d.Denial == policy.DeniedState {
		return apperror.ValidationFailed("status", d.Reason)
	}
	return apperror.Forbidden(d.Reason)
}
