package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/pkg/export"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type exportCoursesStub struct {
	lineage []models.Course
}

func (s *exportCoursesStub) FindByBaseCode(ctx context.Context, baseCode string) ([]models.Course, error) {
	return s.lineage, nil
}

type exportDegreesStub struct {
	lineage []models.Degree
}

func (s *exportDegreesStub) FindByBaseCode(ctx context.Context, baseCode string) ([]models.Degree, error) {
	return s.lineage, nil
}

type exportEnrollmentsStub struct {
	records []models.Enrollment
	filter  models.EnrollmentFilter
}

func (s *exportEnrollmentsStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	s.filter = filter
	return s.records, len(s.records), nil
}

func newTestExportService(courses *exportCoursesStub, enrollments *exportEnrollmentsStub) *ExportService {
	return NewExportService(
		courses,
		&exportDegreesStub{},
		enrollments,
		export.NewCSVExporter(),
		export.NewPDFExporter("Acadeon University"),
		100,
		zap.NewNop(),
	)
}

func TestExportServiceCourseLineageCSV(t *testing.T) {
	courses := &exportCoursesStub{lineage: []models.Course{
		courseFixture("c1", 1, models.StatusArchived, false),
		courseFixture("c2", 2, models.StatusActive, true),
	}}
	svc := newTestExportService(courses, &exportEnrollmentsStub{})

	file, err := svc.CourseLineage(context.Background(), "CS401", "csv", csHead())
	require.NoError(t, err)
	require.Equal(t, "text/csv", file.ContentType)
	require.True(t, strings.HasPrefix(file.Name, "course_cs401_lineage_"))

	content := string(file.Content)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Version,Status,Title,Credits,Department,Created By,Submitted,Approved,Published,Effective", lines[0])
	require.Contains(t, content, "Distributed Systems")
	require.Contains(t, content, "archived")
}

func TestExportServiceCourseLineagePDF(t *testing.T) {
	courses := &exportCoursesStub{lineage: []models.Course{
		courseFixture("c1", 1, models.StatusActive, true),
	}}
	svc := newTestExportService(courses, &exportEnrollmentsStub{})

	file, err := svc.CourseLineage(context.Background(), "CS401", "pdf", csHead())
	require.NoError(t, err)
	require.Equal(t, "application/pdf", file.ContentType)
	require.True(t, strings.HasPrefix(string(file.Content), "%PDF"))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	courses := &exportCoursesStub{lineage: []models.Course{
		courseFixture("c1", 1, models.StatusActive, true),
	}}
	svc := newTestExportService(courses, &exportEnrollmentsStub{})

	_, err := svc.CourseLineage(context.Background(), "CS401", "xlsx", csHead())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestExportServiceForbiddenForStudents(t *testing.T) {
	svc := newTestExportService(&exportCoursesStub{}, &exportEnrollmentsStub{})

	_, err := svc.CourseLineage(context.Background(), "CS401", "csv", ownStudent())
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestExportServiceEnrollmentsPinsHodDepartment(t *testing.T) {
	enrollments := &exportEnrollmentsStub{records: []models.Enrollment{
		enrollmentFixture("enr-1", models.EnrollmentApproved),
	}}
	svc := newTestExportService(&exportCoursesStub{}, enrollments)

	file, err := svc.Enrollments(context.Background(), models.EnrollmentFilter{AcademicYear: "2026/2027", Semester: 1}, "csv", csHead())
	require.NoError(t, err)
	require.Equal(t, "CS", enrollments.filter.DepartmentCode)
	require.Contains(t, string(file.Content), "stud-1")
	require.Contains(t, string(file.Content), "CS401")
}
