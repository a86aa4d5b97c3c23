package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/rs/xid"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

// UserStore implements repository.UserRepository over the users table.
type UserStore struct {
	db *DB
}

// userRow mirrors the users table. Phone is nullable so that the UNIQUE
// constraint ignores users who never gave one.
type userRow struct {
	ID              string         `db:"id"`
	Username        string         `db:"username"`
	Email           string         `db:"email"`
	Phone           sql.NullString `db:"phone"`
	Role            string         `db:"role"`
	PasswordHash    string         `db:"password_hash"`
	ProfilePhotoURL string         `db:"profile_photo_url"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *userRow) toModel() model.User {
	return model.User{
		ID:              r.ID,
		Username:        r.Username,
		Email:           r.Email,
		Phone:           r.Phone.String,
		Role:            model.Role(r.Role),
		PasswordHash:    r.PasswordHash,
		ProfilePhotoURL: r.ProfilePhotoURL,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

var userColumns = []string{
	"id", "username", "email", "phone", "role",
	"password_hash", "profile_photo_url", "created_at", "updated_at",
}

func selectUsers() sq.SelectBuilder {
	return sq.Select(userColumns...).From("users")
}

func (u *UserStore) Create(ctx context.Context, user *model.User) error {
	now := u.db.now()
	id := xid.New().String()

	query, args, err := sq.Insert("users").SetMap(map[string]any{
		"id":                id,
		"username":          user.Username,
		"email":             user.Email,
		"phone":             sql.NullString{String: user.Phone, Valid: user.Phone != ""},
		"role":              string(user.Role),
		"password_hash":     user.PasswordHash,
		"profile_photo_url": user.ProfilePhotoURL,
		"created_at":        now,
		"updated_at":        now,
	}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: building user insert: %w", err)
	}

	if _, err := u.db.conn.ExecContext(ctx, query, args...); err != nil {
		if constraintCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return apperror.Conflict("user", "this email or phone")
		}
		return fmt.Errorf("sqlite: inserting user: %w", err)
	}

	user.ID = id
	user.CreatedAt, user.UpdatedAt = now, now
	return nil
}

func (u *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getOne(ctx, selectUsers().Where(sq.Eq{"id": id}), id)
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getOne(ctx, selectUsers().Where(sq.Eq{"email": email}), email)
}

func (u *UserStore) FindByEmailOrPhone(ctx context.Context, email, phone string) (*model.User, error) {
	q := selectUsers().Where(sq.Eq{"email": email})
	if phone != "" {
		q = selectUsers().Where(sq.Or{sq.Eq{"email": email}, sq.Eq{"phone": phone}})
	}

	query, args, err := q.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building user lookup: %w", err)
	}

	var row userRow
	if err := sqlscan.Get(ctx, u.db.conn, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: finding user %s: %w", email, err)
	}
	user := row.toModel()
	return &user, nil
}

func (u *UserStore) ListByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}

	query, args, err := selectUsers().Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building user list: %w", err)
	}

	var rows []userRow
	if err := sqlscan.Select(ctx, u.db.conn, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}

	out := make([]model.User, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

func (u *UserStore) SetRole(ctx context.Context, email string, role model.Role) error {
	query, args, err := sq.Update("users").
		Set("role", string(role)).
		Set("updated_at", u.db.now()).
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: building role update: %w", err)
	}

	res, err := u.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: setting role for %s: %w", email, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", email)
	}
	return nil
}

func (u *UserStore) getOne(ctx context.Context, q sq.SelectBuilder, key string) (*model.User, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building user query: %w", err)
	}

	var row userRow
	if err := sqlscan.Get(ctx, u.db.conn, &row, query, args...); err != nil {
		if sqlscan.NotFound(err) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", key, err)
	}
	user := row.toModel()
	return &user, nil
}
