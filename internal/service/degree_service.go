package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/repository"
	"github.com/acadeon/curricula-api/internal/workflow"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type degreeStore interface {
	Create(ctx context.Context, degree *models.Degree) error
	FindByID(ctx context.Context, id string) (*models.Degree, error)
	FindByBaseCode(ctx context.Context, baseCode string) ([]models.Degree, error)
	FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Degree, error)
	List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, int, error)
	Update(ctx context.Context, degree *models.Degree) error
	SwapStatus(ctx context.Context, params repository.StatusSwapParams) error
	InsertVersion(ctx context.Context, parentID string, next *models.Degree) error
	DeleteDraft(ctx context.Context, degree *models.Degree) error
	FindDueForActivation(ctx context.Context, now time.Time) ([]models.Degree, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

// CreateDegreeRequest starts a new degree lineage at version 1.
type CreateDegreeRequest struct {
	BaseCode          string     `json:"base_code" validate:"required,min=2,max=32"`
	Title             string     `json:"title" validate:"required,min=3,max=200"`
	Description       string     `json:"description" validate:"max=4000"`
	Level             string     `json:"level" validate:"required,oneof=bachelor master doctoral"`
	DurationSemesters int        `json:"duration_semesters" validate:"required,min=1,max=24"`
	DepartmentCode    string     `json:"department_code" validate:"required,min=2,max=16"`
	EffectiveAt       *time.Time `json:"effective_at,omitempty"`
}

// UpdateDegreeRequest edits the content of one degree version.
type UpdateDegreeRequest struct {
	Title             *string    `json:"title,omitempty" validate:"omitempty,min=3,max=200"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=4000"`
	Level             *string    `json:"level,omitempty" validate:"omitempty,oneof=bachelor master doctoral"`
	DurationSemesters *int       `json:"duration_semesters,omitempty" validate:"omitempty,min=1,max=24"`
	EffectiveAt       *time.Time `json:"effective_at,omitempty"`
}

// DegreeService is the degree counterpart of CourseService. Both lean
// on the same workflow core, so the two services stay thin and the
// transition rules live in exactly one place.
type DegreeService struct {
	repo      degreeStore
	audit     auditRecorder
	notify    effectDispatcher
	metrics   workflowMetrics
	cache     lineageCache
	machine   workflow.Config
	policy    workflow.EditPolicy
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

func NewDegreeService(
	repo degreeStore,
	audit auditRecorder,
	notify effectDispatcher,
	metrics workflowMetrics,
	cache lineageCache,
	policy workflow.EditPolicy,
	cacheTTL time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
) *DegreeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DegreeService{
		repo:      repo,
		audit:     audit,
		notify:    notify,
		metrics:   metrics,
		cache:     cache,
		machine:   workflow.NewConfig(models.KindDegree),
		policy:    policy,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

// Create opens a new degree lineage as a version-1 draft.
func (s *DegreeService) Create(ctx context.Context, req CreateDegreeRequest, actor models.Actor) (*models.Degree, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if actor.Role != models.RoleLecturer && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if actor.Role == models.RoleLecturer && actor.DepartmentCode != req.DepartmentCode {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "degrees are created in the lecturer's own department")
	}

	if _, err := s.repo.FindLatestByBaseCode(ctx, req.BaseCode); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("base code %s already exists, fork its latest version instead", req.BaseCode))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapStoreErr(err, "failed to check base code")
	}

	degree := &models.Degree{
		Versioned: models.Versioned{
			BaseCode:    req.BaseCode,
			Version:     1,
			Status:      models.StatusDraft,
			IsLatest:    true,
			CreatedBy:   actor.Subject,
			UpdatedBy:   actor.Subject,
			EffectiveAt: req.EffectiveAt,
		},
		Title:             req.Title,
		Description:       req.Description,
		Level:             req.Level,
		DurationSemesters: req.DurationSemesters,
		DepartmentCode:    req.DepartmentCode,
	}
	if err := s.repo.Create(ctx, degree); err != nil {
		return nil, mapStoreErr(err, "failed to create degree")
	}

	s.recordAudit(ctx, actor, "DEGREE_CREATE", degree.ID, nil, degree, nil, nil)
	s.invalidateLineage(ctx, degree.BaseCode)
	return degree, nil
}

// Get loads one degree version.
func (s *DegreeService) Get(ctx context.Context, id string) (*models.Degree, error) {
	degree, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load degree")
	}
	return degree, nil
}

// List returns degree versions matching the filter.
func (s *DegreeService) List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, *models.Pagination, error) {
	degrees, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, mapStoreErr(err, "failed to list degrees")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return degrees, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Lineage returns every version of a base code, oldest first.
func (s *DegreeService) Lineage(ctx context.Context, baseCode string) ([]models.Degree, error) {
	key := "lineage:degree:" + baseCode
	if s.cache != nil {
		var cached []models.Degree
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	lineage, err := s.repo.FindByBaseCode(ctx, baseCode)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load degree lineage")
	}
	if len(lineage) == 0 {
		return nil, appErrors.ErrNotFound
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, lineage, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache degree lineage", zap.String("base_code", baseCode), zap.Error(err))
		}
	}
	return lineage, nil
}

// CanEdit runs the shared eligibility check against the lineage.
func (s *DegreeService) CanEdit(ctx context.Context, id string) (*models.Degree, workflow.Eligibility, error) {
	degree, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, workflow.Eligibility{}, mapStoreErr(err, "failed to load degree")
	}
	eligibility, err := s.eligibilityFor(ctx, degree)
	if err != nil {
		return nil, workflow.Eligibility{}, err
	}
	return degree, eligibility, nil
}

// Update edits the content of a version, gated by edit eligibility.
func (s *DegreeService) Update(ctx context.Context, id string, req UpdateDegreeRequest, actor models.Actor) (*models.Degree, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	degree, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load degree")
	}
	if err := s.authorizeContentEdit(degree, actor); err != nil {
		return nil, err
	}
	if err := s.ensureEditable(ctx, degree); err != nil {
		return nil, err
	}

	before := *degree
	if req.Title != nil {
		degree.Title = *req.Title
	}
	if req.Description != nil {
		degree.Description = *req.Description
	}
	if req.Level != nil {
		degree.Level = *req.Level
	}
	if req.DurationSemesters != nil {
		degree.DurationSemesters = *req.DurationSemesters
	}
	if req.EffectiveAt != nil {
		degree.EffectiveAt = req.EffectiveAt
	}
	degree.UpdatedBy = actor.Subject

	if err := s.repo.Update(ctx, degree); err != nil {
		return nil, mapStoreErr(err, "failed to update degree")
	}

	s.recordAudit(ctx, actor, "DEGREE_UPDATE", degree.ID, &before, degree, nil, nil)
	s.invalidateLineage(ctx, degree.BaseCode)
	return degree, nil
}

// Transition applies one workflow action with an optimistic status
// check.
func (s *DegreeService) Transition(ctx context.Context, id string, req TransitionRequest, actor models.Actor) (*models.Degree, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	action := workflow.Action(req.Action)
	if action == workflow.ActionDelete {
		return nil, appErrors.Clone(appErrors.ErrValidation, "delete has a dedicated endpoint")
	}
	degree, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load degree")
	}

	if action == workflow.ActionSubmit {
		if err := s.ensureEditable(ctx, degree); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	result, err := s.machine.Transition(degreeSnapshot(degree), workflow.Request{
		Action: action,
		Actor:  actor,
		Reason: req.Reason,
		Now:    now,
	})
	if err != nil {
		s.metrics.RecordTransition(models.KindDegree, string(action), "denied")
		return nil, mapWorkflowErr(err)
	}

	params := repository.StatusSwapParams{
		ID:        degree.ID,
		Expected:  degree.Status,
		NewStatus: result.NewStatus,
		UpdatedBy: actor.Subject,
	}
	switch action {
	case workflow.ActionSubmit:
		params.SubmittedAt = &now
		params.ClearReject = true
	case workflow.ActionApprove:
		approver := actor.Subject
		params.ApprovedBy = &approver
		params.ApprovedAt = &now
	case workflow.ActionReject:
		reason := req.Reason
		params.RejectReason = &reason
	case workflow.ActionPublish:
		params.PublishedAt = &now
	}

	if err := s.repo.SwapStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("degree")
			s.metrics.RecordTransition(models.KindDegree, string(action), "stale")
		} else {
			s.metrics.RecordTransition(models.KindDegree, string(action), "error")
		}
		return nil, mapSwapErr(err)
	}

	before := *degree
	applyDegreeSwap(degree, params, now)
	s.metrics.RecordTransition(models.KindDegree, string(action), "applied")

	s.recordAudit(ctx, actor, "DEGREE_"+actionAuditName(action), degree.ID, &before, degree, statusPtr(before.Status), statusPtr(degree.Status), req.Reason)
	s.notify.DispatchEffects(result.Effects, NotificationEvent{
		Resource:       "degree " + degree.BaseCode,
		ResourceID:     degree.ID,
		Owner:          degree.CreatedBy,
		DepartmentCode: degree.DepartmentCode,
		Summary:        transitionSummary("degree", degree.BaseCode, degree.Version, before.Status, degree.Status, req.Reason),
	})
	s.invalidateLineage(ctx, degree.BaseCode)
	return degree, nil
}

// Fork creates the next draft version from the latest one.
func (s *DegreeService) Fork(ctx context.Context, id string, actor models.Actor) (*models.Degree, error) {
	src, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load degree")
	}
	if err := s.authorizeContentEdit(src, actor); err != nil {
		return nil, err
	}

	nextVersioned, err := workflow.ForkFrom(src.Versioned, actor, time.Now().UTC())
	if err != nil {
		return nil, mapWorkflowErr(err)
	}
	next := &models.Degree{
		Versioned:         nextVersioned,
		Title:             src.Title,
		Description:       src.Description,
		Level:             src.Level,
		DurationSemesters: src.DurationSemesters,
		DepartmentCode:    src.DepartmentCode,
	}

	if err := s.repo.InsertVersion(ctx, src.ID, next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("degree")
			return nil, appErrors.Clone(appErrors.ErrStaleState, "the lineage was forked concurrently, reload and retry")
		}
		return nil, mapStoreErr(err, "failed to fork degree version")
	}

	s.recordAudit(ctx, actor, "DEGREE_FORK", next.ID, src, next, statusPtr(src.Status), statusPtr(next.Status))
	s.invalidateLineage(ctx, next.BaseCode)
	return next, nil
}

// Delete removes a draft version.
func (s *DegreeService) Delete(ctx context.Context, id string, actor models.Actor) error {
	degree, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return mapStoreErr(err, "failed to load degree")
	}

	if _, err := s.machine.Transition(degreeSnapshot(degree), workflow.Request{
		Action: workflow.ActionDelete,
		Actor:  actor,
		Now:    time.Now().UTC(),
	}); err != nil {
		s.metrics.RecordTransition(models.KindDegree, string(workflow.ActionDelete), "denied")
		return mapWorkflowErr(err)
	}

	if err := s.repo.DeleteDraft(ctx, degree); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("degree")
			return appErrors.Clone(appErrors.ErrStaleState, "the draft changed concurrently, reload and retry")
		}
		return mapStoreErr(err, "failed to delete draft degree")
	}

	s.metrics.RecordTransition(models.KindDegree, string(workflow.ActionDelete), "applied")
	s.recordAudit(ctx, actor, "DEGREE_DELETE", degree.ID, degree, nil, statusPtr(degree.Status), nil)
	s.invalidateLineage(ctx, degree.BaseCode)
	return nil
}

// ActivateDue flips degree versions whose effective date has arrived.
func (s *DegreeService) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.FindDueForActivation(ctx, now)
	if err != nil {
		return 0, mapStoreErr(err, "failed to list degrees due for activation")
	}
	activated := 0
	for i := range due {
		degree := &due[i]
		err := s.repo.SwapStatus(ctx, repository.StatusSwapParams{
			ID:        degree.ID,
			Expected:  models.StatusPendingActivation,
			NewStatus: models.StatusActive,
			UpdatedBy: "scheduler",
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return activated, mapStoreErr(err, "failed to activate degree")
		}
		activated++
		s.metrics.RecordTransition(models.KindDegree, string(workflow.ActionActivate), "applied")
		s.audit.Record(ctx, &models.AuditEntry{
			ActorRole:  "SYSTEM",
			Action:     "DEGREE_ACTIVATE",
			Resource:   "degree",
			ResourceID: &degree.ID,
			FromStatus: strPtr(string(models.StatusPendingActivation)),
			ToStatus:   strPtr(string(models.StatusActive)),
		})
		s.invalidateLineage(ctx, degree.BaseCode)
	}
	return activated, nil
}

// CountByStatus feeds the dashboard.
func (s *DegreeService) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, mapStoreErr(err, "failed to count degrees")
	}
	return counts, nil
}

func (s *DegreeService) ensureEditable(ctx context.Context, degree *models.Degree) error {
	eligibility, err := s.eligibilityFor(ctx, degree)
	if err != nil {
		return err
	}
	if !eligibility.Allowed {
		s.metrics.RecordEditBlocked(models.KindDegree)
		return &EditDeniedError{Entity: degree.Ref(), Result: eligibility}
	}
	return nil
}

func (s *DegreeService) eligibilityFor(ctx context.Context, degree *models.Degree) (workflow.Eligibility, error) {
	lineage, err := s.repo.FindByBaseCode(ctx, degree.BaseCode)
	if err != nil {
		return workflow.Eligibility{}, mapStoreErr(err, "failed to load degree lineage")
	}
	refs := make([]models.VersionRef, 0, len(lineage))
	for i := range lineage {
		refs = append(refs, lineage[i].Ref())
	}
	return s.policy.CanEdit(degree.Ref(), refs), nil
}

func (s *DegreeService) authorizeContentEdit(degree *models.Degree, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleLecturer:
		if actor.Subject == degree.CreatedBy || actor.DepartmentCode == degree.DepartmentCode {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "only the creator or a department collaborator may do this")
	default:
		return appErrors.ErrForbidden
	}
}

func (s *DegreeService) recordAudit(ctx context.Context, actor models.Actor, action, resourceID string, before, after interface{}, fromStatus, toStatus *string, detail ...string) {
	oldValues, newValues := diffSnapshots(before, after)
	entry := &models.AuditEntry{
		ActorID:    strPtr(actor.Subject),
		ActorRole:  string(actor.Role),
		Action:     action,
		Resource:   "degree",
		ResourceID: &resourceID,
		FromStatus: fromStatus,
		ToStatus:   toStatus,
		OldValues:  oldValues,
		NewValues:  newValues,
	}
	if len(detail) > 0 && detail[0] != "" {
		entry.Detail = &detail[0]
	}
	s.audit.Record(ctx, entry)
}

func (s *DegreeService) invalidateLineage(ctx context.Context, baseCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "lineage:degree:"+baseCode); err != nil {
		s.logger.Warn("failed to invalidate degree lineage cache", zap.String("base_code", baseCode), zap.Error(err))
	}
}

func degreeSnapshot(degree *models.Degree) workflow.Snapshot {
	return workflow.Snapshot{
		Kind:           models.KindDegree,
		ID:             degree.ID,
		BaseCode:       degree.BaseCode,
		Version:        degree.Version,
		Status:         degree.Status,
		IsLatest:       degree.IsLatest,
		DepartmentCode: degree.DepartmentCode,
		CreatedBy:      degree.CreatedBy,
		EffectiveAt:    degree.EffectiveAt,
	}
}

func applyDegreeSwap(degree *models.Degree, params repository.StatusSwapParams, now time.Time) {
	degree.Status = params.NewStatus
	degree.UpdatedBy = params.UpdatedBy
	degree.UpdatedAt = now
	if params.SubmittedAt != nil {
		degree.SubmittedAt = params.SubmittedAt
	}
	if params.ClearReject {
		degree.RejectReason = nil
	}
	if params.RejectReason != nil {
		degree.RejectReason = params.RejectReason
	}
	if params.ApprovedBy != nil {
		degree.ApprovedBy = params.ApprovedBy
		degree.ApprovedAt = params.ApprovedAt
	}
	if params.PublishedAt != nil {
		degree.PublishedAt = params.PublishedAt
	}
}
