package workflow

import (
	"time"

	"github.com/acadeon/curricula-api/internal/models"
)

// EnrollmentAction is a decision verb at one approval stage.
type EnrollmentAction string

const (
	EnrollmentApprove EnrollmentAction = "approve"
	EnrollmentReject  EnrollmentAction = "reject"
)

// Decision is one approve/reject attempt against an enrollment record.
type Decision struct {
	Stage  models.EnrollmentStage
	Action EnrollmentAction
	Reason string
	Actor  models.Actor
	Now    time.Time
}

// EnrollmentResult is a successful pipeline decision.
type EnrollmentResult struct {
	NewStatus models.EnrollmentStatus
	Effects   []SideEffect
}

// stageRank orders the pipeline so a decision can tell "not yet there"
// from "already moved past".
func stageRank(s models.EnrollmentStatus) int {
	switch s {
	case models.EnrollmentDraft:
		return 0
	case models.EnrollmentPendingHOD:
		return 1
	case models.EnrollmentPendingOffice:
		return 2
	case models.EnrollmentApproved:
		return 3
	default:
		return -1
	}
}

func stageStatus(stage models.EnrollmentStage) models.EnrollmentStatus {
	if stage == models.StageOffice {
		return models.EnrollmentPendingOffice
	}
	return models.EnrollmentPendingHOD
}

// SubmitEnrollment locks a draft for review. Only the owning student
// may submit, and the record must carry at least one course.
func SubmitEnrollment(rec models.Enrollment, actor models.Actor, now time.Time) (EnrollmentResult, error) {
	if err := ensureOwnedBy(rec, actor, "submit"); err != nil {
		return EnrollmentResult{}, err
	}
	if rec.Status != models.EnrollmentDraft {
		return EnrollmentResult{}, &TransitionError{Resource: "enrollment", From: string(rec.Status), Action: "submit"}
	}
	if len(rec.CourseCodes) == 0 {
		return EnrollmentResult{}, &ValidationError{Field: "course_codes", Reason: "an enrollment must contain at least one course"}
	}
	return EnrollmentResult{
		NewStatus: models.EnrollmentPendingHOD,
		Effects:   []SideEffect{EffectNotifyApprovers},
	}, nil
}

// Decide applies one approve/reject decision. A terminal record fails
// with a transition error; a record that already moved past the
// decision stage fails with a stale error so the approver reloads
// instead of double-applying.
func Decide(rec models.Enrollment, d Decision) (EnrollmentResult, error) {
	if !d.Stage.Valid() {
		return EnrollmentResult{}, &ValidationError{Field: "stage", Reason: "unknown approval stage"}
	}
	if d.Action != EnrollmentApprove && d.Action != EnrollmentReject {
		return EnrollmentResult{}, &ValidationError{Field: "action", Reason: "unknown decision action"}
	}
	if err := authorizeStage(rec, d); err != nil {
		return EnrollmentResult{}, err
	}
	if d.Action == EnrollmentReject && d.Reason == "" {
		return EnrollmentResult{}, &ValidationError{Field: "reason", Reason: "a rejection reason is required"}
	}

	if rec.Status.Terminal() {
		return EnrollmentResult{}, &TransitionError{Resource: "enrollment", From: string(rec.Status), Action: string(d.Action)}
	}
	expected := stageStatus(d.Stage)
	if rec.Status != expected {
		if stageRank(rec.Status) > stageRank(expected) {
			return EnrollmentResult{}, &StaleError{Resource: "enrollment", Expected: string(expected), Actual: string(rec.Status)}
		}
		return EnrollmentResult{}, &TransitionError{Resource: "enrollment", From: string(rec.Status), Action: string(d.Action)}
	}

	if d.Action == EnrollmentReject {
		return EnrollmentResult{
			NewStatus: models.EnrollmentRejected,
			Effects:   []SideEffect{EffectNotifyStudent},
		}, nil
	}
	if d.Stage == models.StageHOD {
		return EnrollmentResult{
			NewStatus: models.EnrollmentPendingOffice,
			Effects:   []SideEffect{EffectNotifyOffice},
		}, nil
	}
	return EnrollmentResult{
		NewStatus: models.EnrollmentApproved,
		Effects:   []SideEffect{EffectNotifyStudent},
	}, nil
}

// Withdraw cancels a record that has not reached a terminal state.
func Withdraw(rec models.Enrollment, actor models.Actor, now time.Time) (EnrollmentResult, error) {
	if err := ensureOwnedBy(rec, actor, "withdraw"); err != nil {
		return EnrollmentResult{}, err
	}
	switch rec.Status {
	case models.EnrollmentDraft, models.EnrollmentPendingHOD, models.EnrollmentPendingOffice:
		return EnrollmentResult{NewStatus: models.EnrollmentWithdrawn}, nil
	default:
		return EnrollmentResult{}, &TransitionError{Resource: "enrollment", From: string(rec.Status), Action: "withdraw"}
	}
}

// EnsureDraftEditable guards saveDraft. Only the owning student may
// replace the course set, and only before submission.
func EnsureDraftEditable(rec models.Enrollment, actor models.Actor) error {
	if err := ensureOwnedBy(rec, actor, "edit"); err != nil {
		return err
	}
	if rec.Status != models.EnrollmentDraft {
		return &TransitionError{Resource: "enrollment", From: string(rec.Status), Action: "save_draft"}
	}
	return nil
}

func ensureOwnedBy(rec models.Enrollment, actor models.Actor, action string) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleStudent || actor.Subject != rec.StudentID {
		return &ForbiddenError{Action: action, Role: actor.Role, Reason: "only the owning student may do this"}
	}
	return nil
}

func authorizeStage(rec models.Enrollment, d Decision) error {
	switch d.Stage {
	case models.StageHOD:
		if d.Actor.Role != models.RoleHOD {
			return &ForbiddenError{Action: string(d.Action), Role: d.Actor.Role, Reason: "first-stage decisions require a head of department"}
		}
		if d.Actor.DepartmentCode != rec.DepartmentCode {
			return &ForbiddenError{Action: string(d.Action), Role: d.Actor.Role, Reason: "approver department does not match the record"}
		}
	case models.StageOffice:
		if d.Actor.Role != models.RoleOffice {
			return &ForbiddenError{Action: string(d.Action), Role: d.Actor.Role, Reason: "second-stage decisions require the academic office"}
		}
	}
	return nil
}
