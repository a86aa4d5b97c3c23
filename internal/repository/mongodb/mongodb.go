// Package mongodb is the primary store: users and reports as MongoDB
// documents, with a 2dsphere index serving the proximity query.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection   = "users"
	reportsCollection = "reports"

	connectTimeout = 15 * time.Second
	indexTimeout   = 10 * time.Second
)

// Store owns the client. Users and Reports are views over its collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
	now    func() time.Time
}

// Connect dials uri, pings, and ensures indexes. Index failures are logged as
// warnings and do not fail the connection.
func Connect(ctx context.Context, uri, dbName string, logger *slog.Logger) (*Store, error) {
	start := time.Now()
	logger.Info("mongo: connecting", slog.String("uri", redactURI(uri)), slog.String("db", dbName))

	dctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(dctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(dctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(dbName),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.ensureIndexes(ctx); err != nil {
		logger.Warn("mongo: index creation warnings", slog.String("error", err.Error()))
	}

	logger.Info("mongo: connected", slog.Duration("took", time.Since(start).Round(time.Millisecond)))
	return s, nil
}

func (s *Store) Users() *UserStore     { return &UserStore{col: s.db.Collection(usersCollection), now: s.now} }
func (s *Store) Reports() *ReportStore { return &ReportStore{col: s.db.Collection(reportsCollection), now: s.now} }

// Ping checks the server is reachable; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, indexTimeout)
	defer cancel()

	var errs []string
	create := func(col string, models ...mongo.IndexModel) {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			errs = append(errs, col+": "+err.Error())
		}
	}

	create(usersCollection,
		mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		mongo.IndexModel{Keys: bson.D{{Key: "phone", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	)
	create(reportsCollection,
		mongo.IndexModel{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "ownerId", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	)

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// redactURI masks credentials so the URI can be logged. It works on the raw
// string so a password the URL parser would reject is still hidden.
func redactURI(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	hosts := rest
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		hosts = rest[:i]
	}
	at := strings.LastIndex(hosts, "@")
	if at < 0 {
		return raw
	}
	return scheme + "://****:****@" + rest[at+1:]
}
