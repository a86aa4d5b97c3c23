// Package repository declares the storage contracts the services depend on.
//
// Three backends implement them: mongo (primary), sqlite (embedded) and
// memory (tests and local demos). Services only ever see these interfaces.
package repository

import (
	"context"

	"github.com/sakif/civic-reports/internal/model"
)

// UserRepository is the credential store.
type UserRepository interface {
	// Create assigns ID and timestamps. Returns apperror.ErrConflict when the
	// email or phone is already registered.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// FindByEmailOrPhone returns the first user matching either key, or
	// (nil, nil) when there is none. An empty phone only matches on email.
	FindByEmailOrPhone(ctx context.Context, email, phone string) (*model.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.User, error)
	SetRole(ctx context.Context, email string, role model.Role) error
}

// ReportFilter narrows List. Zero values mean "no constraint".
type ReportFilter struct {
	OwnerID  string
	Status   model.Status
	Category string
}

// NearbyQuery is a proximity search around a point.
type NearbyQuery struct {
	Longitude    float64
	Latitude     float64
	RadiusMeters float64
}

// ReportRepository is the report store. Every single-record write is atomic
// per document; nothing here spans documents transactionally except UpdateMany.
type ReportRepository interface {
	Create(ctx context.Context, report *model.Report) error
	GetByID(ctx context.Context, id string) (*model.Report, error)
	// List returns matching reports newest first.
	List(ctx context.Context, filter ReportFilter) ([]model.Report, error)
	// Update applies the patch and returns the refreshed record.
	Update(ctx context.Context, id string, patch ReportPatch) (*model.Report, error)
	AddUpvoter(ctx context.Context, id, userID string) (*model.Report, error)
	RemoveUpvoter(ctx context.Context, id, userID string) (*model.Report, error)
	Delete(ctx context.Context, id string) error
	// Count counts reports in the given status; an empty status counts all.
	Count(ctx context.Context, status model.Status) (int64, error)
	// Nearby returns unresolved reports within the radius, nearest first.
	Nearby(ctx context.Context, q NearbyQuery) ([]model.Report, error)
	UpdateMany(ctx context.Context, ids []string, patch ReportPatch) (model.BulkResult, error)
}
