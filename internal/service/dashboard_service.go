package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

const queuePageSize = 20

type dashboardCourses interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type dashboardDegrees interface {
	List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, *models.Pagination, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type dashboardEnrollments interface {
	List(ctx context.Context, filter models.EnrollmentFilter, actor models.Actor) ([]models.Enrollment, *models.Pagination, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type metricsProvider interface {
	Snapshot() models.SystemMetrics
	RecordCacheOperation(hit bool)
}

// DashboardService assembles the approval dashboard: status counts
// across the catalog plus the queue of records waiting on the caller's
// role. The overview is cached per role and department since approvers
// poll it.
type DashboardService struct {
	courses     dashboardCourses
	degrees     dashboardDegrees
	enrollments dashboardEnrollments
	metrics     metricsProvider
	cache       lineageCache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewDashboardService(
	courses dashboardCourses,
	degrees dashboardDegrees,
	enrollments dashboardEnrollments,
	metrics metricsProvider,
	cache lineageCache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		courses:     courses,
		degrees:     degrees,
		enrollments: enrollments,
		metrics:     metrics,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// Overview returns counts and the role-scoped approval queue.
func (s *DashboardService) Overview(ctx context.Context, actor models.Actor) (*models.DashboardOverview, error) {
	switch actor.Role {
	case models.RoleHOD, models.RoleOffice, models.RoleAdmin:
	default:
		return nil, appErrors.ErrForbidden
	}

	key := fmt.Sprintf("dashboard:overview:%s:%s", actor.Role, actor.DepartmentCode)
	if s.cache != nil {
		var cached models.DashboardOverview
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		}
		s.metrics.RecordCacheOperation(false)
	}

	overview := &models.DashboardOverview{GeneratedAt: time.Now().UTC()}

	var err error
	if overview.Courses, err = s.courses.CountByStatus(ctx); err != nil {
		return nil, err
	}
	if overview.Degrees, err = s.degrees.CountByStatus(ctx); err != nil {
		return nil, err
	}
	if overview.Enrollments, err = s.enrollments.CountByStatus(ctx); err != nil {
		return nil, err
	}
	if overview.Queue, err = s.buildQueue(ctx, actor); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, overview, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache dashboard overview", zap.Error(err))
		}
	}
	return overview, nil
}

// Metrics exposes the runtime counters snapshot for the admin panel.
func (s *DashboardService) Metrics(actor models.Actor) (models.SystemMetrics, error) {
	if actor.Role != models.RoleAdmin {
		return models.SystemMetrics{}, appErrors.ErrForbidden
	}
	return s.metrics.Snapshot(), nil
}

// buildQueue lists what the caller can act on. Heads of department see
// their department's submissions, the office sees second-stage records
// and scheduled activations, admins see all of it.
func (s *DashboardService) buildQueue(ctx context.Context, actor models.Actor) ([]models.ApprovalQueueItem, error) {
	var queue []models.ApprovalQueueItem

	dept := actor.DepartmentCode
	if actor.Role == models.RoleOffice || actor.Role == models.RoleAdmin {
		dept = ""
	}

	if actor.Role == models.RoleHOD || actor.Role == models.RoleAdmin {
		courses, _, err := s.courses.List(ctx, models.CourseFilter{
			Status:         models.StatusPendingApproval,
			DepartmentCode: dept,
			PageSize:       queuePageSize,
			SortBy:         "updated_at",
			SortOrder:      "ASC",
		})
		if err != nil {
			return nil, err
		}
		for _, c := range courses {
			queue = append(queue, models.ApprovalQueueItem{
				ResourceID:     c.ID,
				Kind:           string(models.KindCourse),
				Label:          fmt.Sprintf("%s v%d %s", c.BaseCode, c.Version, c.Title),
				Status:         string(c.Status),
				DepartmentCode: c.DepartmentCode,
				WaitingSince:   c.SubmittedAt,
			})
		}

		degrees, _, err := s.degrees.List(ctx, models.DegreeFilter{
			Status:         models.StatusPendingApproval,
			DepartmentCode: dept,
			PageSize:       queuePageSize,
			SortBy:         "updated_at",
			SortOrder:      "ASC",
		})
		if err != nil {
			return nil, err
		}
		for _, d := range degrees {
			queue = append(queue, models.ApprovalQueueItem{
				ResourceID:     d.ID,
				Kind:           string(models.KindDegree),
				Label:          fmt.Sprintf("%s v%d %s", d.BaseCode, d.Version, d.Title),
				Status:         string(d.Status),
				DepartmentCode: d.DepartmentCode,
				WaitingSince:   d.SubmittedAt,
			})
		}

		hodQueue, _, err := s.enrollments.List(ctx, models.EnrollmentFilter{
			Status:    models.EnrollmentPendingHOD,
			PageSize:  queuePageSize,
			SortBy:    "submitted_at",
			SortOrder: "ASC",
		}, actor)
		if err != nil {
			return nil, err
		}
		queue = append(queue, enrollmentQueueItems(hodQueue)...)
	}

	if actor.Role == models.RoleOffice || actor.Role == models.RoleAdmin {
		officeQueue, _, err := s.enrollments.List(ctx, models.EnrollmentFilter{
			Status:    models.EnrollmentPendingOffice,
			PageSize:  queuePageSize,
			SortBy:    "submitted_at",
			SortOrder: "ASC",
		}, actor)
		if err != nil {
			return nil, err
		}
		queue = append(queue, enrollmentQueueItems(officeQueue)...)

		scheduled, _, err := s.courses.List(ctx, models.CourseFilter{
			Status:    models.StatusPendingActivation,
			PageSize:  queuePageSize,
			SortBy:    "updated_at",
			SortOrder: "ASC",
		})
		if err != nil {
			return nil, err
		}
		for _, c := range scheduled {
			queue = append(queue, models.ApprovalQueueItem{
				ResourceID:     c.ID,
				Kind:           string(models.KindCourse),
				Label:          fmt.Sprintf("%s v%d %s", c.BaseCode, c.Version, c.Title),
				Status:         string(c.Status),
				DepartmentCode: c.DepartmentCode,
				WaitingSince:   c.ApprovedAt,
			})
		}
	}

	return queue, nil
}

func enrollmentQueueItems(records []models.Enrollment) []models.ApprovalQueueItem {
	items := make([]models.ApprovalQueueItem, 0, len(records))
	for _, rec := range records {
		items = append(items, models.ApprovalQueueItem{
			ResourceID:     rec.ID,
			Kind:           "enrollment",
			Label:          fmt.Sprintf("%s %s S%d", rec.StudentID, rec.AcademicYear, rec.Semester),
			Status:         string(rec.Status),
			DepartmentCode: rec.DepartmentCode,
			WaitingSince:   rec.SubmittedAt,
		})
	}
	return items
}
