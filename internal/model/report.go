package model

import (
	"slices"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// PriorityFromSeverity maps a 1–5 severity onto a priority.
// A nil severity yields the default (medium).
func PriorityFromSeverity(severity *int) Priority {
	switch {
	case severity == nil:
		return PriorityMedium
	case *severity >= 4:
		return PriorityHigh
	case *severity <= 2:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Categories is the fixed set of issue types a report may be filed under.
var Categories = []string{
	"Roads & Potholes",
	"Garbage & Sanitation",
	"Streetlights & Electricity",
	"Water Supply & Drainage",
	"Traffic & Signals",
	"Parks & Public Spaces",
	"Public Safety",
	"Other",
}

// ValidCategory reports whether c is one of Categories.
func ValidCategory(c string) bool {
	return slices.Contains(Categories, c)
}

const DefaultDepartment = "Unassigned"

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewGeoPoint builds a point from a longitude/latitude pair.
func NewGeoPoint(lng, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

func (p *GeoPoint) Longitude() float64 { return p.Coordinates[0] }
func (p *GeoPoint) Latitude() float64  { return p.Coordinates[1] }

// Owner is the slice of the owning user attached to reports on read.
type Owner struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Report is a geo-tagged civic issue filed by a user.
//
// OwnerID is set once at creation; no update path writes it.
type Report struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"ownerId"`
	Owner              *Owner    `json:"owner,omitempty"`
	Category           string    `json:"category"`
	Title              string    `json:"title,omitempty"`
	Description        string    `json:"description"`
	ImageURL           string    `json:"imageUrl,omitempty"`
	AfterImageURL      string    `json:"afterImageUrl,omitempty"`
	Location           *GeoPoint `json:"location,omitempty"`
	Address            string    `json:"address"`
	Status             Status    `json:"status"`
	Priority           Priority  `json:"priority"`
	Severity           *int      `json:"severity,omitempty"`
	AssignedDepartment string    `json:"assignedDepartment"`
	Upvotes            []string  `json:"upvotes"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// HasUpvoted reports whether userID is in the upvoter set.
func (r *Report) HasUpvoted(userID string) bool {
	return slices.Contains(r.Upvotes, userID)
}

// Stats is the per-status breakdown of all reports.
type Stats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	InProgress int64 `json:"inProgress"`
	Resolved   int64 `json:"resolved"`
}

// BulkResult reports how many documents a bulk update touched.
type BulkResult struct {
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
}
