package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

var _ repository.UserRepository = (*UserStore)(nil)

// UserStore implements repository.UserRepository over the users collection.
type UserStore struct {
	col *mongo.Collection
	now func() time.Time
}

func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now

	doc := userFromModel(user)
	res, err := s.col.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("user", "this email or phone")
		}
		return fmt.Errorf("mongodb: inserting user: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("mongodb: unexpected inserted id type %T", res.InsertedID)
	}
	user.ID = oid.Hex()
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperror.NotFound("user", id)
	}
	return s.findOne(ctx, bson.M{"_id": oid}, id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findOne(ctx, bson.M{"email": email}, email)
}

func (s *UserStore) FindByEmailOrPhone(ctx context.Context, email, phone string) (*model.User, error) {
	filter := bson.M{"email": email}
	if phone != "" {
		filter = bson.M{"$or": bson.A{bson.M{"email": email}, bson.M{"phone": phone}}}
	}

	u, err := s.findOne(ctx, filter, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	return u, err
}

func (s *UserStore) ListByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	oids := validObjectIDs(ids)
	if len(oids) == 0 {
		return []model.User{}, nil
	}

	cur, err := s.col.Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, fmt.Errorf("mongodb: listing users: %w", err)
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb: decoding users: %w", err)
	}

	out := make([]model.User, len(docs))
	for i := range docs {
		out[i] = *docs[i].toModel()
	}
	return out, nil
}

func (s *UserStore) SetRole(ctx context.Context, email string, role model.Role) error {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$set": bson.M{"role": string(role), "updatedAt": s.now()}},
	)
	if err != nil {
		return fmt.Errorf("mongodb: setting role for %s: %w", email, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", email)
	}
	return nil
}

func (s *UserStore) findOne(ctx context.Context, filter bson.M, key string) (*model.User, error) {
	var doc userDoc
	if err := s.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongodb: finding user %s: %w", key, err)
	}
	return doc.toModel(), nil
}
