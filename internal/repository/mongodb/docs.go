package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/sakif/civic-reports/internal/model"
	"github.com/sakif/civic-reports/internal/repository"
)

// userDoc is the stored shape of a user. Phone is omitted when empty so the
// sparse unique index ignores users without one.
type userDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	Username        string             `bson:"username"`
	Email           string             `bson:"email"`
	Phone           string             `bson:"phone,omitempty"`
	Role            string             `bson:"role"`
	PasswordHash    string             `bson:"password,omitempty"`
	ProfilePhotoURL string             `bson:"profilePhotoUrl,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt"`
}

func (d *userDoc) toModel() *model.User {
	return &model.User{
		ID:              d.ID.Hex(),
		Username:        d.Username,
		Email:           d.Email,
		Phone:           d.Phone,
		Role:            model.Role(d.Role),
		PasswordHash:    d.PasswordHash,
		ProfilePhotoURL: d.ProfilePhotoURL,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func userFromModel(u *model.User) userDoc {
	return userDoc{
		Username:        u.Username,
		Email:           u.Email,
		Phone:           u.Phone,
		Role:            string(u.Role),
		PasswordHash:    u.PasswordHash,
		ProfilePhotoURL: u.ProfilePhotoURL,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

type geoDoc struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

// reportDoc is the stored shape of a report. ownerId and upvotes hold
// ObjectIDs referencing the users collection.
type reportDoc struct {
	ID                 primitive.ObjectID   `bson:"_id,omitempty"`
	OwnerID            primitive.ObjectID   `bson:"ownerId"`
	Category           string               `bson:"category"`
	Title              string               `bson:"title,omitempty"`
	Description        string               `bson:"description"`
	ImageURL           string               `bson:"imageUrl,omitempty"`
	AfterImageURL      string               `bson:"afterImageUrl,omitempty"`
	Location           *geoDoc              `bson:"location,omitempty"`
	Address            string               `bson:"address"`
	Status             string               `bson:"status"`
	Priority           string               `bson:"priority"`
	Severity           *int                 `bson:"severity,omitempty"`
	AssignedDepartment string               `bson:"assignedDepartment"`
	Upvotes            []primitive.ObjectID `bson:"upvotes"`
	CreatedAt          time.Time            `bson:"createdAt"`
	UpdatedAt          time.Time            `bson:"updatedAt"`
}

func (d *reportDoc) toModel() *model.Report {
	r := &model.Report{
		ID:                 d.ID.Hex(),
		OwnerID:            d.OwnerID.Hex(),
		Category:           d.Category,
		Title:              d.Title,
		Description:        d.Description,
		ImageURL:           d.ImageURL,
		AfterImageURL:      d.AfterImageURL,
		Address:            d.Address,
		Status:             model.Status(d.Status),
		Priority:           model.Priority(d.Priority),
		Severity:           d.Severity,
		AssignedDepartment: d.AssignedDepartment,
		Upvotes:            make([]string, len(d.Upvotes)),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	for i, id := range d.Upvotes {
		r.Upvotes[i] = id.Hex()
	}
	if d.Location != nil && len(d.Location.Coordinates) == 2 {
		r.Location = model.NewGeoPoint(d.Location.Coordinates[0], d.Location.Coordinates[1])
	}
	return r
}

func reportFromModel(r *model.Report) (reportDoc, error) {
	owner, err := primitive.ObjectIDFromHex(r.OwnerID)
	if err != nil {
		return reportDoc{}, err
	}
	upvotes, err := objectIDs(r.Upvotes)
	if err != nil {
		return reportDoc{}, err
	}

	d := reportDoc{
		OwnerID:            owner,
		Category:           r.Category,
		Title:              r.Title,
		Description:        r.Description,
		ImageURL:           r.ImageURL,
		AfterImageURL:      r.AfterImageURL,
		Address:            r.Address,
		Status:             string(r.Status),
		Priority:           string(r.Priority),
		Severity:           r.Severity,
		AssignedDepartment: r.AssignedDepartment,
		Upvotes:            upvotes,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.Location != nil {
		d.Location = &geoDoc{Type: "Point", Coordinates: []float64{r.Location.Longitude(), r.Location.Latitude()}}
	}
	return d, nil
}

// objectIDs parses hex ids, failing on the first malformed one.
func objectIDs(hexes []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(hexes))
	for _, h := range hexes {
		oid, err := primitive.ObjectIDFromHex(h)
		if err != nil {
			return nil, err
		}
		out = append(out, oid)
	}
	return out, nil
}

// validObjectIDs parses hex ids, silently dropping malformed ones: an id that
// cannot be an ObjectID cannot match a document either.
func validObjectIDs(hexes []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(hexes))
	for _, h := range hexes {
		if oid, err := primitive.ObjectIDFromHex(h); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

// listFilter translates a ReportFilter. ok is false when the owner id is not
// a valid ObjectID, i.e. nothing can match.
func listFilter(f repository.ReportFilter) (filter bson.M, ok bool) {
	filter = bson.M{}
	if f.OwnerID != "" {
		oid, err := primitive.ObjectIDFromHex(f.OwnerID)
		if err != nil {
			return nil, false
		}
		filter["ownerId"] = oid
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	return filter, true
}

// patchUpdate builds the $set document for a patch, stamping updatedAt.
func patchUpdate(p repository.ReportPatch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	for k, v := range p.Fields() {
		set[k] = v
	}
	return bson.M{"$set": set}
}

// differsFrom matches documents where at least one patched field holds a
// different value, so UpdateMany only touches reports it actually changes.
func differsFrom(p repository.ReportPatch) bson.M {
	fields := p.Fields()
	or := make(bson.A, 0, len(fields))
	for k, v := range fields {
		or = append(or, bson.M{k: bson.M{"$ne": v}})
	}
	return bson.M{"$or": or}
}

// nearFilter selects unresolved reports within q's radius. $near also sorts
// the results nearest first.
func nearFilter(q repository.NearbyQuery) bson.M {
	return bson.M{
		"location": bson.M{
			"$near": bson.M{
				"$geometry": bson.M{
					"type":        "Point",
					"coordinates": bson.A{q.Longitude, q.Latitude},
				},
				"$maxDistance": q.RadiusMeters,
			},
		},
		"status": bson.M{"$ne": string(model.StatusResolved)},
	}
}
