package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type periodStore interface {
	List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, int, error)
	FindByID(ctx context.Context, id string) (*models.Period, error)
	FindCurrent(ctx context.Context) (*models.Period, error)
	FindByYearSemester(ctx context.Context, academicYear string, semester int) (*models.Period, error)
	Create(ctx context.Context, period *models.Period) error
	Update(ctx context.Context, period *models.Period) error
	SetCurrent(ctx context.Context, id string) error
}

// CreatePeriodRequest registers an academic period with its enrollment
// window.
type CreatePeriodRequest struct {
	AcademicYear    string    `json:"academic_year" validate:"required,min=4,max=16"`
	Semester        int       `json:"semester" validate:"required,min=1,max=3"`
	Name            string    `json:"name" validate:"required,min=3,max=120"`
	StartDate       time.Time `json:"start_date" validate:"required"`
	EndDate         time.Time `json:"end_date" validate:"required"`
	EnrollmentOpen  time.Time `json:"enrollment_open" validate:"required"`
	EnrollmentClose time.Time `json:"enrollment_close" validate:"required"`
}

// UpdatePeriodRequest adjusts period dates or the name.
type UpdatePeriodRequest struct {
	Name            *string    `json:"name,omitempty" validate:"omitempty,min=3,max=120"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	EnrollmentOpen  *time.Time `json:"enrollment_open,omitempty"`
	EnrollmentClose *time.Time `json:"enrollment_close,omitempty"`
}

// PeriodService manages academic periods and their enrollment windows.
type PeriodService struct {
	repo      periodStore
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

func NewPeriodService(repo periodStore, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *PeriodService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns periods matching the filter.
func (s *PeriodService) List(ctx context.Context, filter models.PeriodFilter) ([]models.Period, *models.Pagination, error) {
	periods, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, mapStoreErr(err, "failed to list periods")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return periods, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns one period.
func (s *PeriodService) Get(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load period")
	}
	return period, nil
}

// Current returns the period marked current, if any.
func (s *PeriodService) Current(ctx context.Context) (*models.Period, error) {
	period, err := s.repo.FindCurrent(ctx)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load current period")
	}
	return period, nil
}

// Create registers a new period. Admin and office only.
func (s *PeriodService) Create(ctx context.Context, req CreatePeriodRequest, actor models.Actor) (*models.Period, error) {
	if err := requirePeriodManager(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := validateWindow(req.StartDate, req.EndDate, req.EnrollmentOpen, req.EnrollmentClose); err != nil {
		return nil, err
	}
	if _, err := s.repo.FindByYearSemester(ctx, req.AcademicYear, req.Semester); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a period for that year and semester already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapStoreErr(err, "failed to check period")
	}

	period := &models.Period{
		AcademicYear:    req.AcademicYear,
		Semester:        req.Semester,
		Name:            req.Name,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		EnrollmentOpen:  req.EnrollmentOpen,
		EnrollmentClose: req.EnrollmentClose,
	}
	if err := s.repo.Create(ctx, period); err != nil {
		return nil, mapStoreErr(err, "failed to create period")
	}

	s.auditChange(ctx, actor, "PERIOD_CREATE", period.ID, nil, period)
	return period, nil
}

// Update adjusts a period. Admin and office only.
func (s *PeriodService) Update(ctx context.Context, id string, req UpdatePeriodRequest, actor models.Actor) (*models.Period, error) {
	if err := requirePeriodManager(actor); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load period")
	}

	before := *period
	if req.Name != nil {
		period.Name = *req.Name
	}
	if req.StartDate != nil {
		period.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		period.EndDate = *req.EndDate
	}
	if req.EnrollmentOpen != nil {
		period.EnrollmentOpen = *req.EnrollmentOpen
	}
	if req.EnrollmentClose != nil {
		period.EnrollmentClose = *req.EnrollmentClose
	}
	if err := validateWindow(period.StartDate, period.EndDate, period.EnrollmentOpen, period.EnrollmentClose); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, period); err != nil {
		return nil, mapStoreErr(err, "failed to update period")
	}

	s.auditChange(ctx, actor, "PERIOD_UPDATE", period.ID, &before, period)
	return period, nil
}

// MakeCurrent marks one period current and unmarks the rest.
func (s *PeriodService) MakeCurrent(ctx context.Context, id string, actor models.Actor) (*models.Period, error) {
	if err := requirePeriodManager(actor); err != nil {
		return nil, err
	}
	if err := s.repo.SetCurrent(ctx, id); err != nil {
		return nil, mapStoreErr(err, "failed to set current period")
	}
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load period")
	}

	s.auditChange(ctx, actor, "PERIOD_SET_CURRENT", period.ID, nil, period)
	return period, nil
}

func (s *PeriodService) auditChange(ctx context.Context, actor models.Actor, action, resourceID string, before, after interface{}) {
	oldValues, newValues := diffSnapshots(before, after)
	s.audit.Record(ctx, &models.AuditEntry{
		ActorID:    strPtr(actor.Subject),
		ActorRole:  string(actor.Role),
		Action:     action,
		Resource:   "period",
		ResourceID: &resourceID,
		OldValues:  oldValues,
		NewValues:  newValues,
	})
}

func requirePeriodManager(actor models.Actor) error {
	if actor.Role == models.RoleAdmin || actor.Role == models.RoleOffice {
		return nil
	}
	return appErrors.ErrForbidden
}

func validateWindow(start, end, open, close time.Time) error {
	if !end.After(start) {
		return appErrors.Clone(appErrors.ErrValidation, "end_date must be after start_date")
	}
	if !close.After(open) {
		return appErrors.Clone(appErrors.ErrValidation, "enrollment_close must be after enrollment_open")
	}
	return nil
}
