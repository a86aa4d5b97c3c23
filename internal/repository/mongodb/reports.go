package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

var _ repository.ReportRepository = (*ReportStore)(nil)

// ReportStore implements repository.ReportRepository over the reports
// collection. Every write is a single-document atomic operation except
// UpdateMany.
type ReportStore struct {
	col *mongo.Collection
	now func() time.Time
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

func (s *ReportStore) Create(ctx context.Context, report *model.Report) error {
	now := s.now()
	report.CreatedAt, report.UpdatedAt = now, now
	if report.Upvotes == nil {
		report.Upvotes = []string{}
	}

	doc, err := reportFromModel(report)
	if err != nil {
		return apperror.ValidationFailed("ownerId", "owner id is not a valid identifier")
	}

	res, err := s.col.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("mongodb: inserting report: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("mongodb: unexpected inserted id type %T", res.InsertedID)
	}
	report.ID = oid.Hex()
	return nil
}

func (s *ReportStore) GetByID(ctx context.Context, id string) (*model.Report, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperror.NotFound("report", id)
	}

	var doc reportDoc
	if err := s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, s.notFoundOr(err, id)
	}
	return doc.toModel(), nil
}

func (s *ReportStore) List(ctx context.Context, f repository.ReportFilter) ([]model.Report, error) {
	filter, ok := listFilter(f)
	if !ok {
		return []model.Report{}, nil
	}
	return s.find(ctx, filter, options.Find().SetSort(newestFirst))
}

func (s *ReportStore) Update(ctx context.Context, id string, patch repository.ReportPatch) (*model.Report, error) {
	return s.findOneAndUpdate(ctx, id, patchUpdate(patch, s.now()))
}

func (s *ReportStore) AddUpvoter(ctx context.Context, id, userID string) (*model.Report, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperror.ValidationFailed("userId", "user id is not a valid identifier")
	}
	return s.findOneAndUpdate(ctx, id, bson.M{"$addToSet": bson.M{"upvotes": uid}})
}

func (s *ReportStore) RemoveUpvoter(ctx context.Context, id, userID string) (*model.Report, error) {
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperror.ValidationFailed("userId", "user id is not a valid identifier")
	}
	return s.findOneAndUpdate(ctx, id, bson.M{"$pull": bson.M{"upvotes": uid}})
}

func (s *ReportStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return apperror.NotFound("report", id)
	}
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("mongodb: deleting report %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("report", id)
	}
	return nil
}

func (s *ReportStore) Count(ctx context.Context, status model.Status) (int64, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	n, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongodb: counting reports: %w", err)
	}
	return n, nil
}

func (s *ReportStore) Nearby(ctx context.Context, q repository.NearbyQuery) ([]model.Report, error) {
	return s.find(ctx, nearFilter(q), options.Find())
}

// UpdateMany counts every matching id, then updates only the documents the
// patch would change, so ModifiedCount is not inflated by the updatedAt stamp.
func (s *ReportStore) UpdateMany(ctx context.Context, ids []string, patch repository.ReportPatch) (model.BulkResult, error) {
	oids := validObjectIDs(ids)
	if len(oids) == 0 || patch.IsEmpty() {
		return model.BulkResult{}, nil
	}
	inIDs := bson.M{"_id": bson.M{"$in": oids}}

	matched, err := s.col.CountDocuments(ctx, inIDs)
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("mongodb: counting bulk targets: %w", err)
	}

	res, err := s.col.UpdateMany(ctx,
		bson.M{"$and": bson.A{inIDs, differsFrom(patch)}},
		patchUpdate(patch, s.now()),
	)
	if err != nil {
		return model.BulkResult{}, fmt.Errorf("mongodb: bulk update: %w", err)
	}
	return model.BulkResult{MatchedCount: matched, ModifiedCount: res.ModifiedCount}, nil
}

func (s *ReportStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.Report, error) {
	cur, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb: querying reports: %w", err)
	}
	defer cur.Close(ctx)

	var docs []reportDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb: decoding reports: %w", err)
	}

	out := make([]model.Report, len(docs))
	for i := range docs {
		out[i] = *docs[i].toModel()
	}
	return out, nil
}

func (s *ReportStore) findOneAndUpdate(ctx context.Context, id string, update bson.M) (*model.Report, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperror.NotFound("report", id)
	}

	var doc reportDoc
	err = s.col.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, s.notFoundOr(err, id)
	}
	return doc.toModel(), nil
}

func (s *ReportStore) notFoundOr(err error, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperror.NotFound("report", id)
	}
	return fmt.Errorf("mongodb: report %s: %w", id, err)
}
