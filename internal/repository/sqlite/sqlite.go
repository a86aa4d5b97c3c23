// Package sqlite is the embedded store: users and reports in a single SQLite
// file, for deployments that do not want to run MongoDB.
//
// It uses modernc.org/sqlite, a pure-Go port of SQLite, so the binary still
// builds with CGO_ENABLED=0. The schema is versioned with golang-migrate and
// the migration files are compiled into the binary.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB wraps a *sql.DB. Users and Reports are views over the same connection pool.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// pragmas are applied by the driver to every connection it opens, not just
// the first one.
var pragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"busy_timeout(5000)",
}

// dsn appends the per-connection pragmas to dbPath.
func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(dbPath)
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// New opens (or creates) the database at dbPath and brings the schema up to
// date. Pass ":memory:" for a throwaway database.
func New(dbPath string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" gets its own private database, so the
	// pool must never grow past one.
	if strings.Contains(dbPath, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	logger.Info("sqlite: ready", slog.String("path", dbPath))
	return db, nil
}

func (db *DB) Users() *UserStore     { return &UserStore{db: db} }
func (db *DB) Reports() *ReportStore { return &ReportStore{db: db} }

func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate applies every pending migration under migrations/.
//
// The migrate instance is deliberately not closed: Close would also close the
// *sql.DB it was handed.
func (db *DB) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, err := m.Version()
	if err == nil {
		db.logger.Debug("sqlite: schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}
	return nil
}

// constraintCode extracts the extended SQLite result code from a constraint
// violation, or 0 when err is something else.
func constraintCode(err error) int {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) {
		return 0
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return se.Code()
	}
	return 0
}
