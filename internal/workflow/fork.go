package workflow

import (
	"time"

	"github.com/acadeon/curricula-api/internal/models"
)

// ForkFrom computes the lineage fields of a new version forked from
// src. Approval metadata, timestamps and status never carry over; the
// fork starts life as a fresh draft one version ahead, pointing back
// at its parent. The caller persists the new row and flips the
// parent's latest flag in one transaction.
//
// Only the latest version of a lineage may be forked, and not while
// it is itself still in-flight; forking a draft or a pending version
// would put two concurrent editable versions into the same lineage.
func ForkFrom(src models.Versioned, actor models.Actor, now time.Time) (models.Versioned, error) {
	if !src.IsLatest {
		return models.Versioned{}, &TransitionError{Resource: "version", From: string(src.Status), Action: "fork"}
	}
	switch normalize(src.Status) {
	case models.StatusDraft, models.StatusPendingApproval:
		return models.Versioned{}, &TransitionError{Resource: "version", From: string(src.Status), Action: "fork"}
	}

	parentID := src.ID
	return models.Versioned{
		BaseCode:  src.BaseCode,
		Version:   src.Version + 1,
		Status:    models.StatusDraft,
		IsLatest:  true,
		ParentID:  &parentID,
		CreatedBy: actor.Subject,
		UpdatedBy: actor.Subject,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
