package repository

import (
	"github.com/sakif/civic-reports/internal/model"
)

// ReportPatch is a partial update. Nil fields are left untouched; a non-nil
// pointer to "" clears a string field. There is deliberately no OwnerID.
type ReportPatch struct {
	Status             *model.Status   `json:"status,omitempty" validate:"omitempty,report_status"`
	Priority           *model.Priority `json:"priority,omitempty" validate:"omitempty,report_priority"`
	Severity           *int            `json:"severity,omitempty" validate:"omitempty,min=1,max=5"`
	Category           *string         `json:"category,omitempty" validate:"omitempty,report_category"`
	Title              *string         `json:"title,omitempty" validate:"omitempty,max=120"`
	Description        *string         `json:"description,omitempty" validate:"omitempty,min=1,max=500"`
	Address            *string         `json:"address,omitempty" validate:"omitempty,min=1"`
	AssignedDepartment *string         `json:"assignedDepartment,omitempty" validate:"omitempty,max=120"`
	ImageURL           *string         `json:"imageUrl,omitempty"`
	AfterImageURL      *string         `json:"afterImageUrl,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p ReportPatch) IsEmpty() bool {
	return p.Status == nil && p.Priority == nil && p.Severity == nil &&
		p.Category == nil && p.Title == nil && p.Description == nil &&
		p.Address == nil && p.AssignedDepartment == nil &&
		p.ImageURL == nil && p.AfterImageURL == nil
}

// ApplyTo copies every set field onto r.
func (p ReportPatch) ApplyTo(r *model.Report) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Priority != nil {
		r.Priority = *p.Priority
	}
	if p.Severity != nil {
		sev := *p.Severity
		r.Severity = &sev
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	if p.Address != nil {
		r.Address = *p.Address
	}
	if p.AssignedDepartment != nil {
		r.AssignedDepartment = *p.AssignedDepartment
	}
	if p.ImageURL != nil {
		r.ImageURL = *p.ImageURL
	}
	if p.AfterImageURL != nil {
		r.AfterImageURL = *p.AfterImageURL
	}
}

// Fields returns the set fields keyed by their camelCase document names.
// The SQL store maps these onto column names.
func (p ReportPatch) Fields() map[string]any {
	m := make(map[string]any)
	if p.Status != nil {
		m["status"] = string(*p.Status)
	}
	if p.Priority != nil {
		m["priority"] = string(*p.Priority)
	}
	if p.Severity != nil {
		m["severity"] = *p.Severity
	}
	if p.Category != nil {
		m["category"] = *p.Category
	}
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	if p.Address != nil {
		m["address"] = *p.Address
	}
	if p.AssignedDepartment != nil {
		m["assignedDepartment"] = *p.AssignedDepartment
	}
	if p.ImageURL != nil {
		m["imageUrl"] = *p.ImageURL
	}
	if p.AfterImageURL != nil {
		m["afterImageUrl"] = *p.AfterImageURL
	}
	return m
}
