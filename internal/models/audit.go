package models

import "time"

// AuditEntry is one row of the workflow audit trail. Every status
// transition, edit denial and enrollment decision is recorded with
// the acting user and the before/after snapshots.
type AuditEntry struct {
	ID         string    `db:"id" json:"id"`
	ActorID    *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole  string    `db:"actor_role" json:"actor_role"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	FromStatus *string   `db:"from_status" json:"from_status,omitempty"`
	ToStatus   *string   `db:"to_status" json:"to_status,omitempty"`
	Detail     *string   `db:"detail" json:"detail,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AuditFilter restricts audit trail listings.
type AuditFilter struct {
	ActorID    string
	Resource   string
	ResourceID string
	Action     string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}
