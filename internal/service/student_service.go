package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type studentStore interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
}

// CreateStudentRequest registers a student reference record.
type CreateStudentRequest struct {
	Number         string `json:"number" validate:"required,min=4,max=32"`
	FullName       string `json:"full_name" validate:"required,min=3,max=160"`
	DepartmentCode string `json:"department_code" validate:"required,min=2,max=16"`
	CohortYear     int    `json:"cohort_year" validate:"required,min=2000,max=2100"`
}

// UpdateStudentRequest edits a student reference record.
type UpdateStudentRequest struct {
	FullName       *string `json:"full_name,omitempty" validate:"omitempty,min=3,max=160"`
	DepartmentCode *string `json:"department_code,omitempty" validate:"omitempty,min=2,max=16"`
	Active         *bool   `json:"active,omitempty"`
}

// StudentService manages the student reference records the enrollment
// pipeline validates against.
type StudentService struct {
	repo      studentStore
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

func NewStudentService(repo studentStore, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns students matching the filter. Staff only; heads of
// department are pinned to their own department.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter, actor models.Actor) ([]models.Student, *models.Pagination, error) {
	switch actor.Role {
	case models.RoleHOD:
		filter.DepartmentCode = actor.DepartmentCode
	case models.RoleOffice, models.RoleAdmin:
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, mapStoreErr(err, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one student. Students may read their own record.
func (s *StudentService) Get(ctx context.Context, id string, actor models.Actor) (*models.Student, error) {
	if actor.Role == models.RoleStudent && actor.Subject != id {
		return nil, appErrors.ErrForbidden
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load student")
	}
	return student, nil
}

// Create registers a student record. Admin and office only.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor models.Actor) (*models.Student, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleOffice {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	student := &models.Student{
		Number:         req.Number,
		FullName:       req.FullName,
		DepartmentCode: req.DepartmentCode,
		CohortYear:     req.CohortYear,
		Active:         true,
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, mapStoreErr(err, "failed to create student")
	}

	s.auditChange(ctx, actor, "STUDENT_CREATE", student.ID, nil, student)
	return student, nil
}

// Update edits a student record. Admin and office only.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, actor models.Actor) (*models.Student, error) {
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleOffice {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load student")
	}

	before := *student
	if req.FullName != nil {
		student.FullName = *req.FullName
	}
	if req.DepartmentCode != nil {
		student.DepartmentCode = *req.DepartmentCode
	}
	if req.Active != nil {
		student.Active = *req.Active
	}
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, mapStoreErr(err, "failed to update student")
	}

	s.auditChange(ctx, actor, "STUDENT_UPDATE", student.ID, &before, student)
	return student, nil
}

func (s *StudentService) auditChange(ctx context.Context, actor models.Actor, action, resourceID string, before, after interface{}) {
	oldValues, newValues := diffSnapshots(before, after)
	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:    strPtr(actor.Subject),
		ActorRole:  string(actor.Role),
		Action:     action,
		Resource:   "student",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
}
