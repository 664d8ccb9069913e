// Package workflow holds the pure decision core of the catalog: the
// status state machine shared by courses and degrees, the
// edit-eligibility validator, version forking and the two-stage
// enrollment pipeline. Nothing in this package performs I/O; callers
// persist results and record audit entries after a successful
// decision.
package workflow

import (
	"time"

	"github.com/acadeon/curricula-api/internal/models"
)

// Action is a workflow verb applied to a catalog entity version.
type Action string

const (
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionPublish  Action = "publish"
	ActionActivate Action = "activate"
	ActionDisable  Action = "disable"
	ActionArchive  Action = "archive"
	ActionDelete   Action = "delete"
)

// SideEffect names follow-up work the orchestration layer owes after a
// successful transition. The machine only declares them.
type SideEffect string

const (
	EffectNotifyApprovers    SideEffect = "notify_approvers"
	EffectNotifyOwner        SideEffect = "notify_owner"
	EffectNotifyStudent      SideEffect = "notify_student"
	EffectNotifyOffice       SideEffect = "notify_office"
	EffectScheduleActivation SideEffect = "schedule_activation"
	EffectDeleteRecord       SideEffect = "delete_record"
)

// Snapshot is the slice of a catalog entity the machine decides on.
// It is a value type; Transition never mutates caller state.
type Snapshot struct {
	Kind           models.EntityKind
	ID             string
	BaseCode       string
	Version        int
	Status         models.Status
	IsLatest       bool
	DepartmentCode string
	CreatedBy      string
	EffectiveAt    *time.Time
}

// Request carries one transition attempt. Now is an explicit input so
// that identical requests always produce identical results.
type Request struct {
	Action Action
	Actor  models.Actor
	Reason string
	Now    time.Time
}

// Result is a successful transition decision.
type Result struct {
	NewStatus models.Status
	Effects   []SideEffect
}

// rule describes one permitted (status, action) edge.
type rule struct {
	target      models.Status
	roles       map[models.UserRole]bool
	ownerScoped bool // lecturers must own the row or share its department
	deptScoped  bool // approver department must match the row
	needsReason bool
	effects     []SideEffect
}

// Config parametrizes the machine per entity kind. Courses and
// degrees currently share the same edges; the table keeps the two
// lifecycles independently tunable without duplicating the machine.
type Config struct {
	Kind  models.EntityKind
	rules map[models.Status]map[Action]rule
}

func defaultRules() map[models.Status]map[Action]rule {
	return map[models.Status]map[Action]rule{
		models.StatusDraft: {
			ActionSubmit: {
				target:      models.StatusPendingApproval,
				roles:       map[models.UserRole]bool{models.RoleLecturer: true, models.RoleAdmin: true},
				ownerScoped: true,
				effects:     []SideEffect{EffectNotifyApprovers},
			},
			ActionDelete: {
				target:      models.StatusDraft,
				roles:       map[models.UserRole]bool{models.RoleLecturer: true, models.RoleAdmin: true},
				ownerScoped: true,
				effects:     []SideEffect{EffectDeleteRecord},
			},
		},
		models.StatusPendingApproval: {
			ActionApprove: {
				target:     models.StatusApproved,
				roles:      map[models.UserRole]bool{models.RoleHOD: true},
				deptScoped: true,
				effects:    []SideEffect{EffectNotifyOwner},
			},
			ActionReject: {
				target:      models.StatusDraft,
				roles:       map[models.UserRole]bool{models.RoleHOD: true},
				deptScoped:  true,
				needsReason: true,
				effects:     []SideEffect{EffectNotifyOwner},
			},
		},
		models.StatusApproved: {
			ActionPublish: {
				target:      models.StatusActive,
				roles:       map[models.UserRole]bool{models.RoleLecturer: true, models.RoleAdmin: true},
				ownerScoped: true,
				effects:     []SideEffect{EffectNotifyOwner},
			},
		},
		models.StatusPendingActivation: {
			ActionActivate: {
				target:  models.StatusActive,
				roles:   map[models.UserRole]bool{models.RoleOffice: true, models.RoleAdmin: true},
				effects: []SideEffect{EffectNotifyOwner},
			},
		},
		models.StatusActive: {
			ActionDisable: {
				target: models.StatusDisabled,
				roles:  map[models.UserRole]bool{models.RoleOffice: true, models.RoleAdmin: true},
			},
		},
		models.StatusDisabled: {
			ActionArchive: {
				target: models.StatusArchived,
				roles:  map[models.UserRole]bool{models.RoleAdmin: true},
			},
		},
	}
}

// NewConfig builds the machine configuration for one entity kind.
func NewConfig(kind models.EntityKind) Config {
	return Config{Kind: kind, rules: defaultRules()}
}

// Transition computes the next status for one action, or a typed
// error. It is deterministic and touches nothing outside its inputs.
func (c Config) Transition(snap Snapshot, req Request) (Result, error) {
	status := normalize(snap.Status)
	edges, ok := c.rules[status]
	if !ok {
		return Result{}, &TransitionError{Resource: string(c.Kind), From: string(snap.Status), Action: string(req.Action)}
	}
	r, ok := edges[req.Action]
	if !ok {
		return Result{}, &TransitionError{Resource: string(c.Kind), From: string(snap.Status), Action: string(req.Action)}
	}
	if err := r.authorize(snap, req); err != nil {
		return Result{}, err
	}
	if r.needsReason && req.Reason == "" {
		return Result{}, &ValidationError{Field: "reason", Reason: "a reason is required for this action"}
	}

	result := Result{NewStatus: r.target, Effects: append([]SideEffect(nil), r.effects...)}

	// Publishing ahead of the effective date parks the version in
	// pending_activation until the date arrives.
	if req.Action == ActionPublish && snap.EffectiveAt != nil && snap.EffectiveAt.After(req.Now) {
		result.NewStatus = models.StatusPendingActivation
		result.Effects = append(result.Effects, EffectScheduleActivation)
	}
	return result, nil
}

func (r rule) authorize(snap Snapshot, req Request) error {
	if !r.roles[req.Actor.Role] {
		return &ForbiddenError{Action: string(req.Action), Role: req.Actor.Role}
	}
	if r.ownerScoped && req.Actor.Role == models.RoleLecturer {
		if req.Actor.Subject != snap.CreatedBy && req.Actor.DepartmentCode != snap.DepartmentCode {
			return &ForbiddenError{
				Action: string(req.Action),
				Role:   req.Actor.Role,
				Reason: "only the creator or a department collaborator may do this",
			}
		}
	}
	if r.deptScoped && req.Actor.DepartmentCode != snap.DepartmentCode {
		return &ForbiddenError{
			Action: string(req.Action),
			Role:   req.Actor.Role,
			Reason: "approver department does not match the record",
		}
	}
	return nil
}

// normalize folds the legacy "submitted" status, still present on old
// rows, into pending_approval. The machine never produces it.
func normalize(s models.Status) models.Status {
	if s == models.StatusSubmitted {
		return models.StatusPendingApproval
	}
	return s
}
