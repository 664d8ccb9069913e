package models

import "time"

// Status is the lifecycle state of a catalog entity version. Values
// are lowercase on the wire; existing clients depend on the exact
// strings.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusPendingApproval   Status = "pending_approval"
	StatusApproved          Status = "approved"
	StatusPendingActivation Status = "pending_activation"
	StatusActive            Status = "active"
	StatusDisabled          Status = "disabled"
	StatusArchived          Status = "archived"
)

// AwaitingApproval reports whether the status marks a version sitting
// in the approval queue. "submitted" is a legacy alias some older
// records still carry; it is accepted wherever pending_approval is.
func (s Status) AwaitingApproval() bool {
	return s == StatusPendingApproval || s == StatusSubmitted
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusPendingApproval, StatusApproved,
		StatusPendingActivation, StatusActive, StatusDisabled, StatusArchived:
		return true
	}
	return false
}

// EntityKind discriminates the two catalog entity families.
type EntityKind string

const (
	KindCourse EntityKind = "course"
	KindDegree EntityKind = "degree"
)

// Versioned carries the lineage and lifecycle fields shared by every
// catalog entity. A lineage is the set of rows with the same base
// code; at most one row per lineage has IsLatest = true and it is
// always the highest version. Superseded versions are kept forever.
type Versioned struct {
	ID           string     `db:"id" json:"id"`
	BaseCode     string     `db:"base_code" json:"base_code"`
	Version      int        `db:"version" json:"version"`
	Status       Status     `db:"status" json:"status"`
	IsLatest     bool       `db:"is_latest_version" json:"is_latest_version"`
	ParentID     *string    `db:"parent_entity_id" json:"parent_entity_id,omitempty"`
	RejectReason *string    `db:"reject_reason" json:"reject_reason,omitempty"`
	CreatedBy    string     `db:"created_by" json:"created_by"`
	UpdatedBy    string     `db:"updated_by" json:"updated_by"`
	ApprovedBy   *string    `db:"approved_by" json:"approved_by,omitempty"`
	SubmittedAt  *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	PublishedAt  *time.Time `db:"published_at" json:"published_at,omitempty"`
	EffectiveAt  *time.Time `db:"effective_at" json:"effective_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// VersionRef is a slim projection of a lineage member used in
// edit-eligibility checks and lineage listings.
type VersionRef struct {
	ID       string `db:"id" json:"id"`
	BaseCode string `db:"base_code" json:"base_code"`
	Version  int    `db:"version" json:"version"`
	Status   Status `db:"status" json:"status"`
	IsLatest bool   `db:"is_latest_version" json:"is_latest_version"`
}

// Ref returns the slim lineage projection of the entity.
func (v Versioned) Ref() VersionRef {
	return VersionRef{
		ID:       v.ID,
		BaseCode: v.BaseCode,
		Version:  v.Version,
		Status:   v.Status,
		IsLatest: v.IsLatest,
	}
}
