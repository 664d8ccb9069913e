package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type dashCoursesStub struct {
	items  []models.Course
	counts []models.StatusCount
}

func (s *dashCoursesStub) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	var out []models.Course
	for _, c := range s.items {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.DepartmentCode != "" && c.DepartmentCode != filter.DepartmentCode {
			continue
		}
		out = append(out, c)
	}
	return out, &models.Pagination{TotalCount: len(out)}, nil
}

func (s *dashCoursesStub) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	return s.counts, nil
}

type dashDegreesStub struct {
	counts []models.StatusCount
}

func (s *dashDegreesStub) List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, *models.Pagination, error) {
	return nil, &models.Pagination{}, nil
}

func (s *dashDegreesStub) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	return s.counts, nil
}

type dashEnrollmentsStub struct {
	items  []models.Enrollment
	counts []models.StatusCount
}

func (s *dashEnrollmentsStub) List(ctx context.Context, filter models.EnrollmentFilter, actor models.Actor) ([]models.Enrollment, *models.Pagination, error) {
	var out []models.Enrollment
	for _, rec := range s.items {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if actor.Role == models.RoleHOD && rec.DepartmentCode != actor.DepartmentCode {
			continue
		}
		out = append(out, rec)
	}
	return out, &models.Pagination{TotalCount: len(out)}, nil
}

func (s *dashEnrollmentsStub) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	return s.counts, nil
}

func TestDashboardServiceOverviewScopesHodQueue(t *testing.T) {
	submitted := time.Now().UTC().Add(-2 * time.Hour)
	csCourse := courseFixture("c1", 1, models.StatusPendingApproval, true)
	csCourse.SubmittedAt = &submitted
	mathCourse := courseFixture("c2", 1, models.StatusPendingApproval, true)
	mathCourse.DepartmentCode = "MATH"

	courses := &dashCoursesStub{
		items:  []models.Course{csCourse, mathCourse},
		counts: []models.StatusCount{{Status: "pending_approval", Count: 2}},
	}
	enrollments := &dashEnrollmentsStub{
		items:  []models.Enrollment{enrollmentFixture("enr-1", models.EnrollmentPendingHOD)},
		counts: []models.StatusCount{{Status: "pending_hod_approval", Count: 1}},
	}
	metrics := &metricsStub{}
	svc := NewDashboardService(courses, &dashDegreesStub{}, enrollments, metrics, newCacheStub(), time.Minute, zap.NewNop())

	overview, err := svc.Overview(context.Background(), csHead())
	require.NoError(t, err)
	require.Equal(t, 2, overview.Courses[0].Count)
	require.Len(t, overview.Queue, 2)
	for _, item := range overview.Queue {
		require.Equal(t, "CS", item.DepartmentCode)
	}

	cached, err := svc.Overview(context.Background(), csHead())
	require.NoError(t, err)
	require.Len(t, cached.Queue, 2)
	require.Equal(t, 1, metrics.cacheHits)
}

func TestDashboardServiceOverviewOfficeSeesSecondStage(t *testing.T) {
	enrollments := &dashEnrollmentsStub{
		items: []models.Enrollment{
			enrollmentFixture("enr-1", models.EnrollmentPendingHOD),
			enrollmentFixture("enr-2", models.EnrollmentPendingOffice),
		},
	}
	svc := NewDashboardService(&dashCoursesStub{}, &dashDegreesStub{}, enrollments, &metricsStub{}, nil, time.Minute, zap.NewNop())

	overview, err := svc.Overview(context.Background(), officeActor())
	require.NoError(t, err)
	require.Len(t, overview.Queue, 1)
	require.Equal(t, "enr-2", overview.Queue[0].ResourceID)
	require.Equal(t, string(models.EnrollmentPendingOffice), overview.Queue[0].Status)
}

func TestDashboardServiceOverviewForbiddenForStudents(t *testing.T) {
	svc := NewDashboardService(&dashCoursesStub{}, &dashDegreesStub{}, &dashEnrollmentsStub{}, &metricsStub{}, nil, time.Minute, zap.NewNop())

	_, err := svc.Overview(context.Background(), ownStudent())
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestDashboardServiceMetricsAdminOnly(t *testing.T) {
	svc := NewDashboardService(&dashCoursesStub{}, &dashDegreesStub{}, &dashEnrollmentsStub{}, &metricsStub{}, nil, time.Minute, zap.NewNop())

	_, err := svc.Metrics(csHead())
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	_, err = svc.Metrics(models.Actor{Subject: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
}
