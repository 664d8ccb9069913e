package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type departmentStore interface {
	List(ctx context.Context, filter models.DepartmentFilter) ([]models.Department, int, error)
	FindByCode(ctx context.Context, code string) (*models.Department, error)
	Create(ctx context.Context, department *models.Department) error
	Update(ctx context.Context, department *models.Department) error
}

// CreateDepartmentRequest registers a new department.
type CreateDepartmentRequest struct {
	Code   string  `json:"code" validate:"required,min=2,max=16,uppercase"`
	Name   string  `json:"name" validate:"required,min=3,max=120"`
	HeadID *string `json:"head_id,omitempty"`
}

// UpdateDepartmentRequest edits department reference data.
type UpdateDepartmentRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,min=3,max=120"`
	HeadID *string `json:"head_id,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// DepartmentService manages the department reference data that scopes
// first-stage approvals.
type DepartmentService struct {
	repo      departmentStore
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

func NewDepartmentService(repo departmentStore, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *DepartmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepartmentService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns departments matching the filter.
func (s *DepartmentService) List(ctx context.Context, filter models.DepartmentFilter) ([]models.Department, *models.Pagination, error) {
	departments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, mapStoreErr(err, "failed to list departments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return departments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one department by code.
func (s *DepartmentService) Get(ctx context.Context, code string) (*models.Department, error) {
	department, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load department")
	}
	return department, nil
}

// Create registers a new department. Admin only.
func (s *DepartmentService) Create(ctx context.Context, req CreateDepartmentRequest, actor models.Actor) (*models.Department, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if _, err := s.repo.FindByCode(ctx, req.Code); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a department with that code already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapStoreErr(err, "failed to check department code")
	}

	department := &models.Department{
		Code:   req.Code,
		Name:   req.Name,
		HeadID: req.HeadID,
		Active: true,
	}
	if err := s.repo.Create(ctx, department); err != nil {
		return nil, mapStoreErr(err, "failed to create department")
	}

	s.auditChange(ctx, actor, "DEPARTMENT_CREATE", department.ID, nil, department)
	return department, nil
}

// Update edits department reference data. Admin only.
func (s *DepartmentService) Update(ctx context.Context, code string, req UpdateDepartmentRequest, actor models.Actor) (*models.Department, error) {
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	department, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load department")
	}

	before := *department
	if req.Name != nil {
		department.Name = *req.Name
	}
	if req.HeadID != nil {
		department.HeadID = req.HeadID
	}
	if req.Active != nil {
		department.Active = *req.Active
	}
	if err := s.repo.Update(ctx, department); err != nil {
		return nil, mapStoreErr(err, "failed to update department")
	}

	s.auditChange(ctx, actor, "DEPARTMENT_UPDATE", department.ID, &before, department)
	return department, nil
}

func (s *DepartmentService) auditChange(ctx context.Context, actor models.Actor, action, resourceID string, before, after interface{}) {
	oldValues, newValues := diffSnapshots(before, after)
	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:    strPtr(actor.Subject),
		ActorRole:  string(actor.Role),
		Action:     action,
		Resource:   "department",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
}
