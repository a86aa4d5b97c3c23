package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/rs/xid"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/geo"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

var _ repository.ReportRepository = (*ReportStore)(nil)

// ReportStore implements repository.ReportRepository over the reports table.
//
// Upvotes live in a JSON array column and are edited in place with SQLite's
// json functions, so a toggle is one UPDATE statement.
type ReportStore struct {
	db *DB
}

type reportRow struct {
	ID                 string          `db:"id"`
	OwnerID            string          `db:"owner_id"`
	Category           string          `db:"category"`
	Title              string          `db:"title"`
	Description        string          `db:"description"`
	ImageURL           string          `db:"image_url"`
	AfterImageURL      string          `db:"after_image_url"`
	Longitude          sql.NullFloat64 `db:"longitude"`
	Latitude           sql.NullFloat64 `db:"latitude"`
	Address            string          `db:"address"`
	Status             string          `db:"status"`
	Priority           string          `db:"priority"`
	Severity           sql.NullInt64   `db:"severity"`
	AssignedDepartment string          `db:"assigned_department"`
	Upvotes            string          `db:"upvotes"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r *reportRow) toModel() (model.Report, error) {
	out := model.Report{
		ID:                 r.ID,
		OwnerID:            r.OwnerID,
		Category:           r.Category,
		Title:              r.Title,
		Description:        r.Description,
		ImageURL:           r.ImageURL,
		AfterImageURL:      r.AfterImageURL,
		Address:            r.Address,
		Status:             model.Status(r.Status),
		Priority:           model.Priority(r.Priority),
		AssignedDepartment: r.AssignedDepartment,
		Upvotes:            []string{},
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.Longitude.Valid && r.Latitude.Valid {
		out.Location = model.NewGeoPoint(r.Longitude.Float64, r.Latitude.Float64)
	}
	if r.Severity.Valid {
		sev := int(r.Severity.Int64)
		out.Severity = &sev
	}
	if r.Upvotes != "" {
		if err := json.Unmarshal([]byte(r.Upvotes), &out.Upvotes); err != nil {
			return model.Report{}, fmt.Errorf("sqlite: decoding upvotes of report %s: %w", r.ID, err)
		}
	}
	return out, nil
}

var reportColumns = []string{
	"id", "owner_id", "category", "title", "description", "image_url",
	"after_image_url", "longitude", "latitude", "address", "status",
	"priority", "severity", "assigned_department", "upvotes",
	"created_at", "updated_at",
}

// patchColumns maps ReportPatch field names onto table columns.
var patchColumns = map[string]string{
	"status":             "status",
	"priority":           "priority",
	"severity":           "severity",
	"category":           "category",
	"title":              "title",
	"description":        "description",
	"address":            "address",
	"assignedDepartment": "assigned_department",
	"imageUrl":           "image_url",
	"afterImageUrl":      "after_image_url",
}

func selectReports() sq.SelectBuilder {
	return sq.Select(reportColumns...).From("reports")
}

func (s *ReportStore) Create(ctx context.Context, report *model.Report) error {
	now := s.db.now()
	id := xid.New().String()
	if report.Upvotes == nil {
		report.Upvotes = []string{}
	}

	upvotes, err := json.Marshal(report.Upvotes)
	if err != nil {
		return fmt.Errorf("sqlite: encoding upvotes: %w", err)
	}

	values := map[string]any{
		"id":                  id,
		"owner_id":            report.OwnerID,
		"category":            report.Category,
		"title":               report.Title,
		"description":         report.Description,
		"image_url":           report.ImageURL,
		"after_image_url":     report.AfterImageURL,
		"longitude":           nil,
		"latitude":            nil,
		"address":             report.Address,
		"status":              string(report.Status),
		"priority":            string(report.Priority),
		"severity":            nil,
		"assigned_department": report.AssignedDepartment,
		"upvotes":             string(upvotes),
		"created_at":          now,
		"updated_at":          now,
	}
	if report.Location != nil {
		values["longitude"] = report.Location.Longitude()
		values["latitude"] = report.Location.Latitude()
	}
	if report.Severity != nil {
		values["severity"] = *report.Severity
	}

	query, args, err := sq.Insert("reports").SetMap(values).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: building report insert: %w", err)
	}
	if _, err := s.db.conn.ExecContext(ctx, query, args...); err != nil {
		if constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return apperror.ValidationFailed("ownerId", "owner does not exist")
		}
		return fmt.Errorf("sqlite: inserting report: %w", err)
	}

	report.ID = id
	report.CreatedAt, report.UpdatedAt = now, now
	return nil
}

func (s *ReportStore) GetByID(ctx context.Context, id string) (*model.Report, error) {
	query, args, err := selectReports().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building report query: %w", err)
	}

	var row reportRow
	if err := sqlscan.Get(ctx, s.db.conn, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, apperror.NotFound("report", id)
		}
		return nil, fmt.Errorf("sqlite: getting report %s: %w", id, err)
	}

	r, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *ReportStore) List(ctx context.Context, f repository.ReportFilter) ([]model.Report, error) {
	where := sq.Eq{}
	if f.OwnerID != "" {
		where["owner_id"] = f.OwnerID
	}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}
	if f.Category != "" {
		where["category"] = f.Category
	}

	return s.selectMany(ctx, selectReports().Where(where).OrderBy("created_at DESC", "id DESC"))
}

func (s *ReportStore) Update(ctx context.Context, id string, patch repository.ReportPatch) (*model.Report, error) {
	q := sq.Update("reports").Set("updated_at", s.db.now()).Where(sq.Eq{"id": id})
	for field, v := range patch.Fields() {
		q = q.Set(patchColumns[field], v)
	}

	if err := s.execOne(ctx, q, id); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// AddUpvoter appends userID unless it is already present. Running the
// membership check and the append in one statement keeps the set free of
// duplicates under concurrent toggles.
func (s *ReportStore) AddUpvoter(ctx context.Context, id, userID string) (*model.Report, error) {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE reports
		SET upvotes = json_insert(upvotes, '$[#]', ?)
		WHERE id = ?
		  AND NOT EXISTS (SELECT 1 FROM json_each(reports.upvotes) WHERE value = ?)`,
		userID, id, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: adding upvote to report %s: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

func (s *ReportStore) RemoveUpvoter(ctx context.Context, id, userID string) (*model.Report, error) {
	_, err := s.db.conn.ExecContext(ctx, `
		UPDATE reports
		SET upvotes = (
			SELECT json_group_array(value) FROM json_each(reports.upvotes) WHERE value <> ?
		)
		WHERE id = ?`,
		userID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: removing upvote from report %s: %w", id, err)
	}
	return s.GetByID(ctx, id)
}

func (s *ReportStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting report %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("report", id)
	}
	return nil
}

func (s *ReportStore) Count(ctx context.Context, status model.Status) (int64, error) {
	q := sq.Select("COUNT(*)").From("reports")
	if status != "" {
		q = q.Where(sq.Eq{"status": string(status)})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("sqlite: building count: %w", err)
	}

	var n int64
	if err := s.db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting reports: %w", err)
	}
	return n, nil
}

// Nearby narrows candidates to a bounding box in SQL, then keeps only those
// within the exact great-circle radius, nearest first.
func (s *ReportStore) Nearby(ctx context.Context, q repository.NearbyQuery) ([]model.Report, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(q.Latitude, q.Longitude, q.RadiusMeters)

	candidates, err := s.selectMany(ctx, selectReports().Where(sq.And{
		sq.NotEq{"status": string(model.StatusResolved)},
		sq.GtOrEq{"latitude": minLat},
		sq.LtOrEq{"latitude": maxLat},
		sq.GtOrEq{"longitude": minLng},
		sq.LtOrEq{"longitude": maxLng},
	}))
	if err != nil {
		return nil, err
	}

	type hit struct {
		report   model.Report
		distance float64
	}
	hits := make([]hit, 0, len(candidates))
	for _, r := range candidates {
		if r.Location == nil {
			continue
		}
		d := geo.DistanceMeters(q.Latitude, q.Longitude, r.Location.Latitude(), r.Location.Longitude())
		if d <= q.RadiusMeters {
			hits = append(hits, hit{report: r, distance: d})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	out := make([]model.Report, len(hits))
	for i, h := range hits {
		out[i] = h.report
	}
	return out, nil
}

// UpdateMany counts every existing id, then updates only the rows whose
// content the patch would change. Both run in one transaction.
func (s *ReportStore) UpdateMany(ctx context.Context, ids []string, patch repository.ReportPatch) (model.BulkResult, error) {
	if len(ids) == 0 || patch.IsEmpty() {
		return model.BulkResult{}, nil
	}
	inIDs := sq.Eq{"id": ids}

	countSQL, countArgs, err := sq.Select("COUNT(*)").From("reports").Where(inIDs).ToSql()
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: building bulk count: %w", err)
	}

	update := sq.Update("reports").Set("updated_at", s.db.now())
	differs := sq.Or{}
	for field, v := range patch.Fields() {
		col := patchColumns[field]
		update = update.Set(col, v)
		// IS NOT is SQLite's null-safe inequality.
		differs = append(differs, sq.Expr(col+" IS NOT ?", v))
	}
	updateSQL, updateArgs, err := update.Where(sq.And{inIDs, differs}).ToSql()
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: building bulk update: %w", err)
	}

	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: beginning bulk update: %w", err)
	}
	defer tx.Rollback()

	var res model.BulkResult
	if err := tx.QueryRowContext(ctx, countSQL, countArgs...).Scan(&res.MatchedCount); err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: counting bulk targets: %w", err)
	}
	execRes, err := tx.ExecContext(ctx, updateSQL, updateArgs...)
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: bulk update: %w", err)
	}
	if res.ModifiedCount, err = execRes.RowsAffected(); err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: bulk update rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.BulkResult{}, fmt.Errorf("sqlite: committing bulk update: %w", err)
	}
	return res, nil
}

func (s *ReportStore) selectMany(ctx context.Context, q sq.SelectBuilder) ([]model.Report, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building report query: %w", err)
	}

	var rows []reportRow
	if err := sqlscan.Select(ctx, s.db.conn, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: querying reports: %w", err)
	}

	out := make([]model.Report, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// execOne runs an UPDATE that must hit exactly the row with the given id.
func (s *ReportStore) execOne(ctx context.Context, q sq.UpdateBuilder, id string) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: building report update: %w", err)
	}
	res, err := s.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating report %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("report", id)
	}
	return nil
}
