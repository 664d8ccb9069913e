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

type courseStore interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindByBaseCode(ctx context.Context, baseCode string) ([]models.Course, error)
	FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	Update(ctx context.Context, course *models.Course) error
	SwapStatus(ctx context.Context, params repository.StatusSwapParams) error
	InsertVersion(ctx context.Context, parentID string, next *models.Course) error
	DeleteDraft(ctx context.Context, course *models.Course) error
	FindDueForActivation(ctx context.Context, now time.Time) ([]models.Course, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

type effectDispatcher interface {
	DispatchEffects(effects []workflow.SideEffect, event NotificationEvent)
}

type workflowMetrics interface {
	RecordTransition(kind models.EntityKind, action, outcome string)
	RecordEditBlocked(kind models.EntityKind)
	RecordStaleConflict(resource string)
	RecordCacheOperation(hit bool)
}

type lineageCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CreateCourseRequest starts a new lineage at version 1.
type CreateCourseRequest struct {
	BaseCode       string     `json:"base_code" validate:"required,min=2,max=32"`
	Title          string     `json:"title" validate:"required,min=3,max=200"`
	Description    string     `json:"description" validate:"max=4000"`
	Credits        int        `json:"credits" validate:"required,min=1,max=60"`
	DepartmentCode string     `json:"department_code" validate:"required,min=2,max=16"`
	Level          string     `json:"level" validate:"required,oneof=bachelor master doctoral"`
	EffectiveAt    *time.Time `json:"effective_at,omitempty"`
}

// UpdateCourseRequest edits the content of one version. Nil fields
// are left untouched.
type UpdateCourseRequest struct {
	Title       *string    `json:"title,omitempty" validate:"omitempty,min=3,max=200"`
	Description *string    `json:"description,omitempty" validate:"omitempty,max=4000"`
	Credits     *int       `json:"credits,omitempty" validate:"omitempty,min=1,max=60"`
	Level       *string    `json:"level,omitempty" validate:"omitempty,oneof=bachelor master doctoral"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
}

// TransitionRequest applies one workflow action to a version.
type TransitionRequest struct {
	Action string `json:"action" validate:"required"`
	Reason string `json:"reason,omitempty" validate:"max=2000"`
}

// CourseService orchestrates the course catalog workflow: it loads
// state, asks the decision core, persists the outcome and fans out
// audit and notifications. All mutation entry points funnel through
// the one eligibility check here.
type CourseService struct {
	repo      courseStore
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

// NewCourseService constructs the service.
func NewCourseService(
	repo courseStore,
	audit auditRecorder,
	notify effectDispatcher,
	metrics workflowMetrics,
	cache lineageCache,
	policy workflow.EditPolicy,
	cacheTTL time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{
		repo:      repo,
		audit:     audit,
		notify:    notify,
		metrics:   metrics,
		cache:     cache,
		machine:   workflow.NewConfig(models.KindCourse),
		policy:    policy,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

// Create opens a new lineage as a version-1 draft.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest, actor models.Actor) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if actor.Role != models.RoleLecturer && actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if actor.Role == models.RoleLecturer && actor.DepartmentCode != req.DepartmentCode {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "courses are created in the lecturer's own department")
	}

	if _, err := s.repo.FindLatestByBaseCode(ctx, req.BaseCode); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("base code %s already exists, fork its latest version instead", req.BaseCode))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapStoreErr(err, "failed to check base code")
	}

	course := &models.Course{
		Versioned: models.Versioned{
			BaseCode:    req.BaseCode,
			Version:     1,
			Status:      models.StatusDraft,
			IsLatest:    true,
			CreatedBy:   actor.Subject,
			UpdatedBy:   actor.Subject,
			EffectiveAt: req.EffectiveAt,
		},
		Title:          req.Title,
		Description:    req.Description,
		Credits:        req.Credits,
		DepartmentCode: req.DepartmentCode,
		Level:          req.Level,
	}
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, mapStoreErr(err, "failed to create course")
	}

	s.recordAudit(ctx, actor, "COURSE_CREATE", course.ID, nil, course, nil, nil)
	s.invalidateLineage(ctx, course.BaseCode)
	return course, nil
}

// Get loads one course version.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load course")
	}
	return course, nil
}

// List returns course versions matching the filter.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, mapStoreErr(err, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Lineage returns every version of a base code, oldest first. Reads
// go through the cache; any write to the lineage invalidates it.
func (s *CourseService) Lineage(ctx context.Context, baseCode string) ([]models.Course, error) {
	key := "lineage:course:" + baseCode
	if s.cache != nil {
		var cached []models.Course
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	lineage, err := s.repo.FindByBaseCode(ctx, baseCode)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load course lineage")
	}
	if len(lineage) == 0 {
		return nil, appErrors.ErrNotFound
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, lineage, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache course lineage", zap.String("base_code", baseCode), zap.Error(err))
		}
	}
	return lineage, nil
}

// CanEdit runs the shared eligibility check and returns the entity
// alongside the structured result.
func (s *CourseService) CanEdit(ctx context.Context, id string) (*models.Course, workflow.Eligibility, error) {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, workflow.Eligibility{}, mapStoreErr(err, "failed to load course")
	}
	eligibility, err := s.eligibilityFor(ctx, course)
	if err != nil {
		return nil, workflow.Eligibility{}, err
	}
	return course, eligibility, nil
}

// Update edits the content of a version. The eligibility validator
// runs first; a denial carries the blocking versions back to the
// client.
func (s *CourseService) Update(ctx context.Context, id string, req UpdateCourseRequest, actor models.Actor) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load course")
	}
	if err := s.authorizeContentEdit(course, actor); err != nil {
		return nil, err
	}
	if err := s.ensureEditable(ctx, course); err != nil {
		return nil, err
	}

	before := *course
	if req.Title != nil {
		course.Title = *req.Title
	}
	if req.Description != nil {
		course.Description = *req.Description
	}
	if req.Credits != nil {
		course.Credits = *req.Credits
	}
	if req.Level != nil {
		course.Level = *req.Level
	}
	if req.EffectiveAt != nil {
		course.EffectiveAt = req.EffectiveAt
	}
	course.UpdatedBy = actor.Subject

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, mapStoreErr(err, "failed to update course")
	}

	s.recordAudit(ctx, actor, "COURSE_UPDATE", course.ID, &before, course, nil, nil)
	s.invalidateLineage(ctx, course.BaseCode)
	return course, nil
}

// Transition applies one workflow action and persists it with an
// optimistic status check.
func (s *CourseService) Transition(ctx context.Context, id string, req TransitionRequest, actor models.Actor) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	action := workflow.Action(req.Action)
	if action == workflow.ActionDelete {
		return nil, appErrors.Clone(appErrors.ErrValidation, "delete has a dedicated endpoint")
	}
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load course")
	}

	// Submitting is how a draft starts shaping future state, so it is
	// gated by the same eligibility rule as content edits.
	if action == workflow.ActionSubmit {
		if err := s.ensureEditable(ctx, course); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	result, err := s.machine.Transition(courseSnapshot(course), workflow.Request{
		Action: action,
		Actor:  actor,
		Reason: req.Reason,
		Now:    now,
	})
	if err != nil {
		s.metrics.RecordTransition(models.KindCourse, string(action), "denied")
		return nil, mapWorkflowErr(err)
	}

	params := repository.StatusSwapParams{
		ID:        course.ID,
		Expected:  course.Status,
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
			s.metrics.RecordStaleConflict("course")
			s.metrics.RecordTransition(models.KindCourse, string(action), "stale")
		} else {
			s.metrics.RecordTransition(models.KindCourse, string(action), "error")
		}
		return nil, mapSwapErr(err)
	}

	before := *course
	applyCourseSwap(course, params, now)
	s.metrics.RecordTransition(models.KindCourse, string(action), "applied")

	s.recordAudit(ctx, actor, "COURSE_"+actionAuditName(action), course.ID, &before, course, statusPtr(before.Status), statusPtr(course.Status), req.Reason)
	s.notify.DispatchEffects(result.Effects, NotificationEvent{
		Resource:       "course " + course.BaseCode,
		ResourceID:     course.ID,
		Owner:          course.CreatedBy,
		DepartmentCode: course.DepartmentCode,
		Summary:        transitionSummary("course", course.BaseCode, course.Version, before.Status, course.Status, req.Reason),
	})
	s.invalidateLineage(ctx, course.BaseCode)
	return course, nil
}

// Fork creates the next draft version from the latest one and retires
// the parent's latest flag in the same transaction.
func (s *CourseService) Fork(ctx context.Context, id string, actor models.Actor) (*models.Course, error) {
	src, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load course")
	}
	if err := s.authorizeContentEdit(src, actor); err != nil {
		return nil, err
	}

	nextVersioned, err := workflow.ForkFrom(src.Versioned, actor, time.Now().UTC())
	if err != nil {
		return nil, mapWorkflowErr(err)
	}
	next := &models.Course{
		Versioned:      nextVersioned,
		Title:          src.Title,
		Description:    src.Description,
		Credits:        src.Credits,
		DepartmentCode: src.DepartmentCode,
		Level:          src.Level,
	}

	if err := s.repo.InsertVersion(ctx, src.ID, next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("course")
			return nil, appErrors.Clone(appErrors.ErrStaleState, "the lineage was forked concurrently, reload and retry")
		}
		return nil, mapStoreErr(err, "failed to fork course version")
	}

	s.recordAudit(ctx, actor, "COURSE_FORK", next.ID, src, next, statusPtr(src.Status), statusPtr(next.Status))
	s.invalidateLineage(ctx, next.BaseCode)
	return next, nil
}

// Delete removes a draft version. The decision still goes through the
// machine so role and status rules stay in one place.
func (s *CourseService) Delete(ctx context.Context, id string, actor models.Actor) error {
	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return mapStoreErr(err, "failed to load course")
	}

	if _, err := s.machine.Transition(courseSnapshot(course), workflow.Request{
		Action: workflow.ActionDelete,
		Actor:  actor,
		Now:    time.Now().UTC(),
	}); err != nil {
		s.metrics.RecordTransition(models.KindCourse, string(workflow.ActionDelete), "denied")
		return mapWorkflowErr(err)
	}

	if err := s.repo.DeleteDraft(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("course")
			return appErrors.Clone(appErrors.ErrStaleState, "the draft changed concurrently, reload and retry")
		}
		return mapStoreErr(err, "failed to delete draft course")
	}

	s.metrics.RecordTransition(models.KindCourse, string(workflow.ActionDelete), "applied")
	s.recordAudit(ctx, actor, "COURSE_DELETE", course.ID, course, nil, statusPtr(course.Status), nil)
	s.invalidateLineage(ctx, course.BaseCode)
	return nil
}

// ActivateDue flips versions parked in pending_activation whose
// effective date has arrived. Called by the activation sweep.
func (s *CourseService) ActivateDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.FindDueForActivation(ctx, now)
	if err != nil {
		return 0, mapStoreErr(err, "failed to list courses due for activation")
	}
	activated := 0
	for i := range due {
		course := &due[i]
		err := s.repo.SwapStatus(ctx, repository.StatusSwapParams{
			ID:        course.ID,
			Expected:  models.StatusPendingActivation,
			NewStatus: models.StatusActive,
			UpdatedBy: "scheduler",
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue // someone activated or disabled it first
			}
			return activated, mapStoreErr(err, "failed to activate course")
		}
		activated++
		s.metrics.RecordTransition(models.KindCourse, string(workflow.ActionActivate), "applied")
		s.audit.Record(ctx, &models.AuditEntry{
			ActorRole:  "SYSTEM",
			Action:     "COURSE_ACTIVATE",
			Resource:   "course",
			ResourceID: &course.ID,
			FromStatus: strPtr(string(models.StatusPendingActivation)),
			ToStatus:   strPtr(string(models.StatusActive)),
		})
		s.invalidateLineage(ctx, course.BaseCode)
	}
	return activated, nil
}

// CountByStatus feeds the dashboard.
func (s *CourseService) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, mapStoreErr(err, "failed to count courses")
	}
	return counts, nil
}

// ensureEditable is the single gate every course mutation entry point
// funnels through.
func (s *CourseService) ensureEditable(ctx context.Context, course *models.Course) error {
	eligibility, err := s.eligibilityFor(ctx, course)
	if err != nil {
		return err
	}
	if !eligibility.Allowed {
		s.metrics.RecordEditBlocked(models.KindCourse)
		return &EditDeniedError{Entity: course.Ref(), Result: eligibility}
	}
	return nil
}

func (s *CourseService) eligibilityFor(ctx context.Context, course *models.Course) (workflow.Eligibility, error) {
	lineage, err := s.repo.FindByBaseCode(ctx, course.BaseCode)
	if err != nil {
		return workflow.Eligibility{}, mapStoreErr(err, "failed to load course lineage")
	}
	refs := make([]models.VersionRef, 0, len(lineage))
	for i := range lineage {
		refs = append(refs, lineage[i].Ref())
	}
	return s.policy.CanEdit(course.Ref(), refs), nil
}

func (s *CourseService) authorizeContentEdit(course *models.Course, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleLecturer:
		if actor.Subject == course.CreatedBy || actor.DepartmentCode == course.DepartmentCode {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "only the creator or a department collaborator may do this")
	default:
		return appErrors.ErrForbidden
	}
}

func (s *CourseService) recordAudit(ctx context.Context, actor models.Actor, action, resourceID string, before, after interface{}, fromStatus, toStatus *string, detail ...string) {
	oldValues, newValues := diffSnapshots(before, after)
	entry := &models.AuditEntry{
		ActorID:    strPtr(actor.Subject),
		ActorRole:  string(actor.Role),
		Action:     action,
		Resource:   "course",
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

func (s *CourseService) invalidateLineage(ctx context.Context, baseCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "lineage:course:"+baseCode); err != nil {
		s.logger.Warn("failed to invalidate course lineage cache", zap.String("base_code", baseCode), zap.Error(err))
	}
}

func courseSnapshot(course *models.Course) workflow.Snapshot {
	return workflow.Snapshot{
		Kind:           models.KindCourse,
		ID:             course.ID,
		BaseCode:       course.BaseCode,
		Version:        course.Version,
		Status:         course.Status,
		IsLatest:       course.IsLatest,
		DepartmentCode: course.DepartmentCode,
		CreatedBy:      course.CreatedBy,
		EffectiveAt:    course.EffectiveAt,
	}
}

// applyCourseSwap mirrors the swap's column writes onto the in-memory
// row returned to the caller.
func applyCourseSwap(course *models.Course, params repository.StatusSwapParams, now time.Time) {
	course.Status = params.NewStatus
	course.UpdatedBy = params.UpdatedBy
	course.UpdatedAt = now
	if params.SubmittedAt != nil {
		course.SubmittedAt = params.SubmittedAt
	}
	if params.ClearReject {
		course.RejectReason = nil
	}
	if params.RejectReason != nil {
		course.RejectReason = params.RejectReason
	}
	if params.ApprovedBy != nil {
		course.ApprovedBy = params.ApprovedBy
		course.ApprovedAt = params.ApprovedAt
	}
	if params.PublishedAt != nil {
		course.PublishedAt = params.PublishedAt
	}
}

func actionAuditName(action workflow.Action) string {
	switch action {
	case workflow.ActionSubmit:
		return "SUBMIT"
	case workflow.ActionApprove:
		return "APPROVE"
	case workflow.ActionReject:
		return "REJECT"
	case workflow.ActionPublish:
		return "PUBLISH"
	case workflow.ActionActivate:
		return "ACTIVATE"
	case workflow.ActionDisable:
		return "DISABLE"
	case workflow.ActionArchive:
		return "ARCHIVE"
	case workflow.ActionDelete:
		return "DELETE"
	default:
		return "TRANSITION"
	}
}

func transitionSummary(kind, baseCode string, version int, from, to models.Status, reason string) string {
	summary := fmt.Sprintf("%s %s v%d moved from %s to %s", kind, baseCode, version, from, to)
	if reason != "" {
		summary += ": " + reason
	}
	return summary
}

func strPtr(s string) *string {
	return &s
}

func statusPtr(s models.Status) *string {
	v := string(s)
	return &v
}
