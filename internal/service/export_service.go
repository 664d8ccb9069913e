package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/pkg/export"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type exportCourseSource interface {
	FindByBaseCode(ctx context.Context, baseCode string) ([]models.Course, error)
}

type exportDegreeSource interface {
	FindByBaseCode(ctx context.Context, baseCode string) ([]models.Degree, error)
}

type exportEnrollmentSource interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

type renderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// ExportFile is a rendered document ready to stream to the client.
type ExportFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// ExportService renders lineage histories and enrollment registers as
// CSV or PDF documents.
type ExportService struct {
	courses     exportCourseSource
	degrees     exportDegreeSource
	enrollments exportEnrollmentSource
	csv         renderer
	pdf         renderer
	maxRows     int
	logger      *zap.Logger
}

func NewExportService(
	courses exportCourseSource,
	degrees exportDegreeSource,
	enrollments exportEnrollmentSource,
	csv renderer,
	pdf renderer,
	maxRows int,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRows <= 0 {
		maxRows = 5000
	}
	return &ExportService{
		courses:     courses,
		degrees:     degrees,
		enrollments: enrollments,
		csv:         csv,
		pdf:         pdf,
		maxRows:     maxRows,
		logger:      logger,
	}
}

// CourseLineage exports the full version history of one course lineage.
func (s *ExportService) CourseLineage(ctx context.Context, baseCode, format string, actor models.Actor) (*ExportFile, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	lineage, err := s.courses.FindByBaseCode(ctx, baseCode)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load course lineage")
	}
	if len(lineage) == 0 {
		return nil, appErrors.ErrNotFound
	}

	data := export.Dataset{
		Title:       fmt.Sprintf("Course lineage %s", baseCode),
		Headers:     []string{"Version", "Status", "Title", "Credits", "Department", "Created By", "Submitted", "Approved", "Published", "Effective"},
		GeneratedAt: time.Now().UTC(),
	}
	for _, c := range s.clampCourses(lineage) {
		data.Rows = append(data.Rows, map[string]string{
			"Version":    fmt.Sprintf("%d", c.Version),
			"Status":     string(c.Status),
			"Title":      c.Title,
			"Credits":    fmt.Sprintf("%d", c.Credits),
			"Department": c.DepartmentCode,
			"Created By": c.CreatedBy,
			"Submitted":  formatTime(c.SubmittedAt),
			"Approved":   formatTime(c.ApprovedAt),
			"Published":  formatTime(c.PublishedAt),
			"Effective":  formatTime(c.EffectiveAt),
		})
	}
	return s.render(data, fmt.Sprintf("course_%s_lineage", strings.ToLower(baseCode)), format)
}

// DegreeLineage exports the full version history of one degree lineage.
func (s *ExportService) DegreeLineage(ctx context.Context, baseCode, format string, actor models.Actor) (*ExportFile, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	lineage, err := s.degrees.FindByBaseCode(ctx, baseCode)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load degree lineage")
	}
	if len(lineage) == 0 {
		return nil, appErrors.ErrNotFound
	}

	data := export.Dataset{
		Title:       fmt.Sprintf("Degree lineage %s", baseCode),
		Headers:     []string{"Version", "Status", "Title", "Level", "Semesters", "Department", "Created By", "Submitted", "Approved", "Published"},
		GeneratedAt: time.Now().UTC(),
	}
	rows := lineage
	if len(rows) > s.maxRows {
		rows = rows[:s.maxRows]
	}
	for _, d := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Version":    fmt.Sprintf("%d", d.Version),
			"Status":     string(d.Status),
			"Title":      d.Title,
			"Level":      d.Level,
			"Semesters":  fmt.Sprintf("%d", d.DurationSemesters),
			"Department": d.DepartmentCode,
			"Created By": d.CreatedBy,
			"Submitted":  formatTime(d.SubmittedAt),
			"Approved":   formatTime(d.ApprovedAt),
			"Published":  formatTime(d.PublishedAt),
		})
	}
	return s.render(data, fmt.Sprintf("degree_%s_lineage", strings.ToLower(baseCode)), format)
}

// Enrollments exports the enrollment register for one period. Heads of
// department are pinned to their own department.
func (s *ExportService) Enrollments(ctx context.Context, filter models.EnrollmentFilter, format string, actor models.Actor) (*ExportFile, error) {
	switch actor.Role {
	case models.RoleHOD:
		filter.DepartmentCode = actor.DepartmentCode
	case models.RoleOffice, models.RoleAdmin:
	default:
		return nil, appErrors.ErrForbidden
	}
	filter.Page = 1
	filter.PageSize = 100

	var records []models.Enrollment
	for len(records) < s.maxRows {
		batch, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, mapStoreErr(err, "failed to list enrollments")
		}
		records = append(records, batch...)
		if len(records) >= total || len(batch) == 0 {
			break
		}
		filter.Page++
	}
	if len(records) > s.maxRows {
		records = records[:s.maxRows]
	}

	data := export.Dataset{
		Title:       enrollmentExportTitle(filter),
		Headers:     []string{"Student", "Department", "Year", "Semester", "Courses", "Status", "Submitted", "Decided Stage", "Reason"},
		GeneratedAt: time.Now().UTC(),
	}
	for _, rec := range records {
		stage := ""
		if rec.RejectedStage != nil {
			stage = string(*rec.RejectedStage)
		}
		reason := ""
		if rec.RejectReason != nil {
			reason = *rec.RejectReason
		}
		data.Rows = append(data.Rows, map[string]string{
			"Student":       rec.StudentID,
			"Department":    rec.DepartmentCode,
			"Year":          rec.AcademicYear,
			"Semester":      fmt.Sprintf("%d", rec.Semester),
			"Courses":       strings.Join(rec.CourseCodes, " "),
			"Status":        string(rec.Status),
			"Submitted":     formatTime(rec.SubmittedAt),
			"Decided Stage": stage,
			"Reason":        reason,
		})
	}
	return s.render(data, "enrollments", format)
}

func (s *ExportService) render(data export.Dataset, stem, format string) (*ExportFile, error) {
	stamp := data.GeneratedAt.Format("20060102")
	switch strings.ToLower(format) {
	case "csv", "":
		content, err := s.csv.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv export")
		}
		return &ExportFile{
			Name:        fmt.Sprintf("%s_%s.csv", stem, stamp),
			ContentType: "text/csv",
			Content:     content,
		}, nil
	case "pdf":
		content, err := s.pdf.Render(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf export")
		}
		return &ExportFile{
			Name:        fmt.Sprintf("%s_%s.pdf", stem, stamp),
			ContentType: "application/pdf",
			Content:     content,
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
}

func (s *ExportService) clampCourses(lineage []models.Course) []models.Course {
	if len(lineage) > s.maxRows {
		return lineage[:s.maxRows]
	}
	return lineage
}

func requireStaff(actor models.Actor) error {
	switch actor.Role {
	case models.RoleLecturer, models.RoleHOD, models.RoleOffice, models.RoleAdmin:
		return nil
	default:
		return appErrors.ErrForbidden
	}
}

func enrollmentExportTitle(filter models.EnrollmentFilter) string {
	title := "Enrollment register"
	if filter.AcademicYear != "" {
		title += " " + filter.AcademicYear
		if filter.Semester != 0 {
			title += fmt.Sprintf(" S%d", filter.Semester)
		}
	}
	if filter.DepartmentCode != "" {
		title += " " + filter.DepartmentCode
	}
	return title
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
