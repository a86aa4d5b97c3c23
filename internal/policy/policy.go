// Package policy decides who may do what to a report.
//
// Every owner-or-admin rule lives here so handlers and services never repeat
// inline role checks. A Decision says whether the action is allowed, which
// path allowed it, and if not, whether the caller lacks the right outright or
// the report's current state is what blocks them.
package policy

import (
	"github.com/sakif/civic-reports/internal/model"
)

type Action string

const (
	ReplaceImage Action = "replace-image"
	DeleteImage  Action = "delete-image"
	DeleteReport Action = "delete-report"
	UpdateStatus Action = "update-status"
	Assign       Action = "assign"
	BulkUpdate   Action = "bulk-update"
	ViewStats    Action = "view-stats"
)

// Denial classifies a refusal.
type Denial int

const (
	NotDenied Denial = iota
	// DeniedForbidden: the caller is not entitled to the action at all.
	DeniedForbidden
	// DeniedState: the caller is entitled, but not while the report is in
	// its current state.
	DeniedState
)

// Caller is the authenticated identity asking to act.
type Caller struct {
	ID   string
	Role model.Role
}

func (c Caller) IsAdmin() bool { return c.Role == model.RoleAdmin }

// Decision is the outcome of Can.
type Decision struct {
	Allowed bool
	AsAdmin bool // allowed through the admin path
	Denial  Denial
	Reason  string
}

func allow(asAdmin bool) Decision { return Decision{Allowed: true, AsAdmin: asAdmin} }

func forbid(reason string) Decision {
	return Decision{Denial: DeniedForbidden, Reason: reason}
}

func blockedByState(reason string) Decision {
	return Decision{Denial: DeniedState, Reason: reason}
}

// Can decides whether caller may perform action on report. report may be nil
// for actions that are not about one report (bulk update, stats).
func Can(caller Caller, report *model.Report, action Action) Decision {
	switch action {
	case UpdateStatus, Assign, BulkUpdate, ViewStats:
		if caller.IsAdmin() {
			return allow(true)
		}
		return forbid("admin access required")

	case DeleteReport:
		if caller.IsAdmin() {
			return allow(true)
		}
		if report != nil && report.OwnerID == caller.ID {
			return allow(false)
		}
		return forbid("only the owner or an admin can delete this report")

	case ReplaceImage:
		// Owner path only; admins change images through status updates.
		if report == nil || report.OwnerID != caller.ID {
			return forbid("only the owner can replace the report image")
		}
		if report.Status != model.StatusPending {
			return blockedByState("image can only be changed while the report is pending")
		}
		return allow(false)

	case DeleteImage:
		if caller.IsAdmin() {
			return allow(true)
		}
		if report == nil || report.OwnerID != caller.ID {
			return forbid("only the owner or an admin can delete report images")
		}
		if report.Status != model.StatusPending {
			return blockedByState("image can only be deleted while the report is pending")
		}
		return allow(false)
	}

	return forbid("unknown action")
}
