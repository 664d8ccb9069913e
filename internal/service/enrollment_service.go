package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/repository"
	"github.com/acadeon/curricula-api/internal/workflow"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type enrollmentStore interface {
	Create(ctx context.Context, rec *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindLive(ctx context.Context, studentID, academicYear string, semester int) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ReplaceDraftCourses(ctx context.Context, id string, courseCodes pq.StringArray) error
	SwapStatus(ctx context.Context, params repository.EnrollmentSwapParams) error
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type periodReader interface {
	FindByYearSemester(ctx context.Context, academicYear string, semester int) (*models.Period, error)
}

type courseCatalog interface {
	FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Course, error)
}

type decisionMetrics interface {
	RecordDecision(stage, action, outcome string)
	RecordStaleConflict(resource string)
}

// CreateEnrollmentRequest opens a draft for one student and period.
// StudentID is only honoured for elevated callers; students always
// enroll themselves.
type CreateEnrollmentRequest struct {
	StudentID    string   `json:"student_id,omitempty"`
	AcademicYear string   `json:"academic_year" validate:"required,min=4,max=16"`
	Semester     int      `json:"semester" validate:"required,min=1,max=3"`
	CourseCodes  []string `json:"course_codes" validate:"omitempty,dive,min=2,max=32"`
}

// SaveDraftRequest replaces the course set of a draft.
type SaveDraftRequest struct {
	CourseCodes []string `json:"course_codes" validate:"dive,min=2,max=32"`
}

// DecideEnrollmentRequest is one approve/reject decision at a stage.
type DecideEnrollmentRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Reason string `json:"reason,omitempty" validate:"max=2000"`
}

// EnrollmentService drives records through the two-stage approval
// pipeline. The pipeline rules live in the workflow package; this
// service loads state, persists outcomes and fans out notifications.
type EnrollmentService struct {
	repo       enrollmentStore
	students   studentReader
	periods    periodReader
	courses    courseCatalog
	audit      auditRecorder
	notify     effectDispatcher
	metrics    decisionMetrics
	maxCourses int
	openPeriod bool
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewEnrollmentService constructs the service. maxCourses caps the
// course set per record; openPeriod gates drafts on a configured
// enrollment window.
func NewEnrollmentService(
	repo enrollmentStore,
	students studentReader,
	periods periodReader,
	courses courseCatalog,
	audit auditRecorder,
	notify effectDispatcher,
	metrics decisionMetrics,
	maxCourses int,
	openPeriod bool,
	validate *validator.Validate,
	logger *zap.Logger,
) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCourses <= 0 {
		maxCourses = 12
	}
	return &EnrollmentService{
		repo:       repo,
		students:   students,
		periods:    periods,
		courses:    courses,
		audit:      audit,
		notify:     notify,
		metrics:    metrics,
		maxCourses: maxCourses,
		openPeriod: openPeriod,
		validator:  validate,
		logger:     logger,
	}
}

// CreateDraft opens a new enrollment draft. A student gets at most one
// live record per period; the check here catches the common case and
// the partial unique index catches the race.
func (s *EnrollmentService) CreateDraft(ctx context.Context, req CreateEnrollmentRequest, actor models.Actor) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	studentID := req.StudentID
	switch actor.Role {
	case models.RoleStudent:
		if studentID != "" && studentID != actor.Subject {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students enroll themselves")
		}
		studentID = actor.Subject
	case models.RoleAdmin, models.RoleOffice:
		if studentID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "student_id is required when enrolling on behalf of a student")
		}
	default:
		return nil, appErrors.ErrForbidden
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown student")
		}
		return nil, mapStoreErr(err, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "the student record is inactive")
	}

	if s.openPeriod {
		period, err := s.periods.FindByYearSemester(ctx, req.AcademicYear, req.Semester)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "no enrollment period is configured for that year and semester")
			}
			return nil, mapStoreErr(err, "failed to load enrollment period")
		}
		if !period.AcceptsEnrollments(time.Now().UTC()) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "the enrollment window for that period is closed")
		}
	}

	if err := s.validateCourseCodes(ctx, req.CourseCodes); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindLive(ctx, studentID, req.AcademicYear, req.Semester); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "the student already has a live enrollment for that period")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapStoreErr(err, "failed to check existing enrollments")
	}

	rec := &models.Enrollment{
		StudentID:      studentID,
		DepartmentCode: student.DepartmentCode,
		AcademicYear:   req.AcademicYear,
		Semester:       req.Semester,
		CourseCodes:    pq.StringArray(req.CourseCodes),
		Status:         models.EnrollmentDraft,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, mapStoreErr(err, "failed to create enrollment")
	}

	s.recordAudit(ctx, actor, "ENROLLMENT_CREATE", rec.ID, nil, rec, nil, statusStr(rec.Status))
	return rec, nil
}

// SaveDraft replaces the course set of a draft record.
func (s *EnrollmentService) SaveDraft(ctx context.Context, id string, req SaveDraftRequest, actor models.Actor) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load enrollment")
	}
	if err := workflow.EnsureDraftEditable(*rec, actor); err != nil {
		return nil, mapWorkflowErr(err)
	}
	if err := s.validateCourseCodes(ctx, req.CourseCodes); err != nil {
		return nil, err
	}

	before := *rec
	if err := s.repo.ReplaceDraftCourses(ctx, rec.ID, pq.StringArray(req.CourseCodes)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("enrollment")
			return nil, appErrors.Clone(appErrors.ErrStaleState, "the draft was submitted or removed concurrently, reload and retry")
		}
		return nil, mapStoreErr(err, "failed to save draft courses")
	}
	rec.CourseCodes = pq.StringArray(req.CourseCodes)

	s.recordAudit(ctx, actor, "ENROLLMENT_SAVE_DRAFT", rec.ID, &before, rec, nil, nil)
	return rec, nil
}

// Submit locks a draft for review and notifies the first-stage
// approvers.
func (s *EnrollmentService) Submit(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load enrollment")
	}

	now := time.Now().UTC()
	result, err := workflow.SubmitEnrollment(*rec, actor, now)
	if err != nil {
		return nil, mapWorkflowErr(err)
	}

	params := repository.EnrollmentSwapParams{
		ID:          rec.ID,
		Expected:    rec.Status,
		NewStatus:   result.NewStatus,
		SubmittedAt: &now,
	}
	if err := s.repo.SwapStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("enrollment")
		}
		return nil, mapSwapErr(err)
	}

	before := *rec
	rec.Status = result.NewStatus
	rec.SubmittedAt = &now
	rec.UpdatedAt = now

	s.recordAudit(ctx, actor, "ENROLLMENT_SUBMIT", rec.ID, nil, nil, statusStr(before.Status), statusStr(rec.Status))
	s.notify.DispatchEffects(result.Effects, NotificationEvent{
		Resource:       "enrollment",
		ResourceID:     rec.ID,
		Owner:          rec.StudentID,
		DepartmentCode: rec.DepartmentCode,
		Summary:        fmt.Sprintf("enrollment for %s %s S%d awaits first-stage review", rec.StudentID, rec.AcademicYear, rec.Semester),
	})
	return rec, nil
}

// Decide applies one approve/reject decision at a pipeline stage.
func (s *EnrollmentService) Decide(ctx context.Context, id string, stage models.EnrollmentStage, req DecideEnrollmentRequest, actor models.Actor) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load enrollment")
	}

	now := time.Now().UTC()
	decision := workflow.Decision{
		Stage:  stage,
		Action: workflow.EnrollmentAction(req.Action),
		Reason: req.Reason,
		Actor:  actor,
		Now:    now,
	}
	result, err := workflow.Decide(*rec, decision)
	if err != nil {
		var stale *workflow.StaleError
		if errors.As(err, &stale) {
			s.metrics.RecordDecision(string(stage), req.Action, "stale")
		} else {
			s.metrics.RecordDecision(string(stage), req.Action, "denied")
		}
		return nil, mapWorkflowErr(err)
	}

	params := repository.EnrollmentSwapParams{
		ID:        rec.ID,
		Expected:  rec.Status,
		NewStatus: result.NewStatus,
	}
	actorID := actor.Subject
	switch {
	case result.NewStatus == models.EnrollmentRejected:
		reason := req.Reason
		recStage := stage
		params.RejectedBy = &actorID
		params.RejectedAt = &now
		params.RejectedStage = &recStage
		params.RejectReason = &reason
	case stage == models.StageHOD:
		params.HodApprovedBy = &actorID
		params.HodApprovedAt = &now
	default:
		params.OfficeApprovedBy = &actorID
		params.OfficeApprovedAt = &now
	}

	if err := s.repo.SwapStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("enrollment")
			s.metrics.RecordDecision(string(stage), req.Action, "stale")
		} else {
			s.metrics.RecordDecision(string(stage), req.Action, "error")
		}
		return nil, mapSwapErr(err)
	}

	before := *rec
	applyEnrollmentSwap(rec, params, now)
	s.metrics.RecordDecision(string(stage), req.Action, "applied")

	auditAction := "ENROLLMENT_APPROVE"
	if result.NewStatus == models.EnrollmentRejected {
		auditAction = "ENROLLMENT_REJECT"
	}
	s.recordAudit(ctx, actor, auditAction, rec.ID, nil, nil, statusStr(before.Status), statusStr(rec.Status), req.Reason)
	s.notify.DispatchEffects(result.Effects, NotificationEvent{
		Resource:       "enrollment",
		ResourceID:     rec.ID,
		Owner:          rec.StudentID,
		DepartmentCode: rec.DepartmentCode,
		Summary:        decisionSummary(rec, stage, req),
	})
	return rec, nil
}

// Withdraw cancels a record before it is approved.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load enrollment")
	}

	now := time.Now().UTC()
	result, err := workflow.Withdraw(*rec, actor, now)
	if err != nil {
		return nil, mapWorkflowErr(err)
	}

	params := repository.EnrollmentSwapParams{
		ID:          rec.ID,
		Expected:    rec.Status,
		NewStatus:   result.NewStatus,
		WithdrawnAt: &now,
	}
	if err := s.repo.SwapStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordStaleConflict("enrollment")
		}
		return nil, mapSwapErr(err)
	}

	before := *rec
	rec.Status = result.NewStatus
	rec.WithdrawnAt = &now
	rec.UpdatedAt = now

	s.recordAudit(ctx, actor, "ENROLLMENT_WITHDRAW", rec.ID, nil, nil, statusStr(before.Status), statusStr(rec.Status))
	return rec, nil
}

// Get loads one record, scoped to what the caller may see.
func (s *EnrollmentService) Get(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error) {
	rec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load enrollment")
	}
	if err := scopeEnrollmentRead(rec, actor); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records the caller may see. Students see their own,
// heads of department their department, the office and admins
// everything.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter, actor models.Actor) ([]models.Enrollment, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.Subject
	case models.RoleHOD:
		filter.DepartmentCode = actor.DepartmentCode
	case models.RoleOffice, models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, mapStoreErr(err, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return records, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// CountByStatus feeds the dashboard.
func (s *EnrollmentService) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, mapStoreErr(err, "failed to count enrollments")
	}
	return counts, nil
}

// validateCourseCodes checks the set size and that every code resolves
// to an active, latest course version.
func (s *EnrollmentService) validateCourseCodes(ctx context.Context, codes []string) error {
	if len(codes) > s.maxCourses {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d courses per enrollment", s.maxCourses))
	}
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course %s appears more than once", code))
		}
		seen[code] = true

		course, err := s.courses.FindLatestByBaseCode(ctx, code)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown course code %s", code))
			}
			return mapStoreErr(err, "failed to resolve course code")
		}
		if course.Status != models.StatusActive {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("course %s is not open for enrollment", code))
		}
	}
	return nil
}

func (s *EnrollmentService) recordAudit(ctx context.Context, actor models.Actor, action, resourceID string, before, after interface{}, fromStatus, toStatus *string, detail ...string) {
	oldValues, newValues := diffSnapshots(before, after)
	entry := &models.AuditEntry{
		ActorID:    strPtr(actor.Subject),
		ActorRole:  string(actor.Role),
		Action:     action,
		Resource:   "enrollment",
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

func scopeEnrollmentRead(rec *models.Enrollment, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin, models.RoleOffice:
		return nil
	case models.RoleHOD:
		if actor.DepartmentCode == rec.DepartmentCode {
			return nil
		}
	case models.RoleStudent:
		if actor.Subject == rec.StudentID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

func applyEnrollmentSwap(rec *models.Enrollment, params repository.EnrollmentSwapParams, now time.Time) {
	rec.Status = params.NewStatus
	rec.UpdatedAt = now
	if params.SubmittedAt != nil {
		rec.SubmittedAt = params.SubmittedAt
	}
	if params.HodApprovedBy != nil {
		rec.HodApprovedBy = params.HodApprovedBy
		rec.HodApprovedAt = params.HodApprovedAt
	}
	if params.OfficeApprovedBy != nil {
		rec.OfficeApprovedBy = params.OfficeApprovedBy
		rec.OfficeApprovedAt = params.OfficeApprovedAt
	}
	if params.RejectedBy != nil {
		rec.RejectedBy = params.RejectedBy
		rec.RejectedAt = params.RejectedAt
		rec.RejectedStage = params.RejectedStage
		rec.RejectReason = params.RejectReason
	}
	if params.WithdrawnAt != nil {
		rec.WithdrawnAt = params.WithdrawnAt
	}
}

func decisionSummary(rec *models.Enrollment, stage models.EnrollmentStage, req DecideEnrollmentRequest) string {
	verb := "approved"
	if req.Action == string(workflow.EnrollmentReject) {
		verb = "rejected"
	}
	summary := fmt.Sprintf("enrollment for %s %s S%d %s at the %s stage", rec.StudentID, rec.AcademicYear, rec.Semester, verb, stage)
	if req.Reason != "" {
		summary += ": " + req.Reason
	}
	return summary
}

func statusStr(s models.EnrollmentStatus) *string {
	v := string(s)
	return &v
}
