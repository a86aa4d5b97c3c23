// Package memory implements the repository interfaces with in-process maps.
//
// It backs the service and handler tests and the STORE_DRIVER=memory mode
// for local demos. Records are copied on the way in and out so callers can
// never mutate stored state through a returned pointer.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/geo"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

var (
	_ repository.UserRepository   = (*UserStore)(nil)
	_ repository.ReportRepository = (*ReportStore)(nil)
)

// Store holds both collections behind a single lock.
type Store struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	reports map[string]*model.Report
	now     func() time.Time
}

func New() *Store {
	return &Store{
		users:   make(map[string]*model.User),
		reports: make(map[string]*model.Report),
		now:     time.Now,
	}
}

// Users returns the UserRepository view of the store.
func (s *Store) Users() *UserStore { return (*UserStore)(s) }

// Reports returns the ReportRepository view of the store.
func (s *Store) Reports() *ReportStore { return (*ReportStore)(s) }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// UserStore implements repository.UserRepository.
type UserStore Store

func (u *UserStore) Create(_ context.Context, user *model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, existing := range u.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return apperror.Conflict("user", "email "+user.Email)
		}
		if user.Phone != "" && existing.Phone == user.Phone {
			return apperror.Conflict("user", "phone "+user.Phone)
		}
	}

	now := u.now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	stored := *user
	u.users[user.ID] = &stored
	return nil
}

func (u *UserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	user, ok := u.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	out := *user
	return &out, nil
}

func (u *UserStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	for _, user := range u.users {
		if strings.EqualFold(user.Email, email) {
			out := *user
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (u *UserStore) FindByEmailOrPhone(_ context.Context, email, phone string) (*model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	for _, user := range u.users {
		if strings.EqualFold(user.Email, email) || (phone != "" && user.Phone == phone) {
			out := *user
			return &out, nil
		}
	}
	return nil, nil
}

func (u *UserStore) ListByIDs(_ context.Context, ids []string) ([]model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := u.users[id]; ok {
			out = append(out, *user)
		}
	}
	return out, nil
}

func (u *UserStore) SetRole(_ context.Context, email string, role model.Role) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, user := range u.users {
		if strings.EqualFold(user.Email, email) {
			user.Role = role
			user.UpdatedAt = u.now()
			return nil
		}
	}
	return apperror.NotFound("user", email)
}

// ReportStore implements repository.ReportRepository.
type ReportStore Store

func cloneReport(r *model.Report) *model.Report {
	out := *r
	out.Upvotes = slices.Clone(r.Upvotes)
	if r.Location != nil {
		loc := *r.Location
		loc.Coordinates = slices.Clone(r.Location.Coordinates)
		out.Location = &loc
	}
	if r.Severity != nil {
		sev := *r.Severity
		out.Severity = &sev
	}
	out.Owner = nil
	return &out
}

func (s *ReportStore) Create(_ context.Context, report *model.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	report.ID = xid.New().String()
	report.CreatedAt = now
	report.UpdatedAt = now
	if report.Upvotes == nil {
		report.Upvotes = []string{}
	}
	s.reports[report.ID] = cloneReport(report)
	return nil
}

func (s *ReportStore) GetByID(_ context.Context, id string) (*model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperror.NotFound("report", id)
	}
	return cloneReport(r), nil
}

func (s *ReportStore) List(_ context.Context, filter repository.ReportFilter) ([]model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if filter.OwnerID != "" && r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		out = append(out, *cloneReport(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ReportStore) Update(_ context.Context, id string, patch repository.ReportPatch) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperror.NotFound("report", id)
	}
	patch.ApplyTo(r)
	r.UpdatedAt = s.now()
	return cloneReport(r), nil
}

func (s *ReportStore) AddUpvoter(_ context.Context, id, userID string) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperror.NotFound("report", id)
	}
	if !slices.Contains(r.Upvotes, userID) {
		r.Upvotes = append(r.Upvotes, userID)
	}
	return cloneReport(r), nil
}

func (s *ReportStore) RemoveUpvoter(_ context.Context, id, userID string) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return nil, apperror.NotFound("report", id)
	}
	r.Upvotes = slices.DeleteFunc(r.Upvotes, func(v string) bool { return v == userID })
	return cloneReport(r), nil
}

func (s *ReportStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[id]; !ok {
		return apperror.NotFound("report", id)
	}
	delete(s.reports, id)
	return nil
}

func (s *ReportStore) Count(_ context.Context, status model.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.reports {
		if status == "" || r.Status == status {
			n++
		}
	}
	return n, nil
}

func (s *ReportStore) Nearby(_ context.Context, q repository.NearbyQuery) ([]model.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		report   model.Report
		distance float64
	}
	var hits []hit
	for _, r := range s.reports {
		if r.Location == nil || r.Status == model.StatusResolved {
			continue
		}
		d := geo.DistanceMeters(q.Latitude, q.Longitude, r.Location.Latitude(), r.Location.Longitude())
		if d <= q.RadiusMeters && !math.IsNaN(d) {
			hits = append(hits, hit{report: *cloneReport(r), distance: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	out := make([]model.Report, len(hits))
	for i, h := range hits {
		out[i] = h.report
	}
	return out, nil
}

func (s *ReportStore) UpdateMany(_ context.Context, ids []string, patch repository.ReportPatch) (model.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res model.BulkResult
	now := s.now()
	for _, id := range ids {
		r, ok := s.reports[id]
		if !ok {
			continue
		}
		res.MatchedCount++
		before := *cloneReport(r)
		patch.ApplyTo(r)
		if !sameContent(&before, r) {
			r.UpdatedAt = now
			res.ModifiedCount++
		}
	}
	return res, nil
}

// sameContent compares the fields a patch can touch.
func sameContent(a, b *model.Report) bool {
	sevEq := (a.Severity == nil && b.Severity == nil) ||
		(a.Severity != nil && b.Severity != nil && *a.Severity == *b.Severity)
	return sevEq &&
		a.Status == b.Status && a.Priority == b.Priority && a.Category == b.Category &&
		a.Title == b.Title && a.Description == b.Description && a.Address == b.Address &&
		a.AssignedDepartment == b.AssignedDepartment &&
		a.ImageURL == b.ImageURL && a.AfterImageURL == b.AfterImageURL
}

// String is handy in test failure output.
func (s *Store) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("memory.Store{users:%d reports:%d}", len(s.users), len(s.reports))
}
