package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acadeon/curricula-api/internal/models"
)

const enrollmentColumns = `id, student_id, department_code, academic_year, semester, course_codes, status,
       submitted_at, hod_approved_by, hod_approved_at, office_approved_by, office_approved_at,
       rejected_by, rejected_at, rejected_stage, reject_reason, withdrawn_at, created_at, updated_at`

// EnrollmentRepository persists enrollment records moving through the
// two-stage approval pipeline.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts a new draft record. The partial unique index on
// (student_id, academic_year, semester) for live records makes a
// second concurrent draft fail at the database.
func (r *EnrollmentRepository) Create(ctx context.Context, rec *models.Enrollment) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = models.EnrollmentDraft
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	const query = `INSERT INTO enrollments
	(id, student_id, department_code, academic_year, semester, course_codes, status,
	 submitted_at, hod_approved_by, hod_approved_at, office_approved_by, office_approved_at,
	 rejected_by, rejected_at, rejected_stage, reject_reason, withdrawn_at, created_at, updated_at)
	VALUES (:id, :student_id, :department_code, :academic_year, :semester, :course_codes, :status,
	 :submitted_at, :hod_approved_by, :hod_approved_at, :office_approved_by, :office_approved_at,
	 :rejected_by, :rejected_at, :rejected_stage, :reject_reason, :withdrawn_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var rec models.Enrollment
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindLive returns the one record for (student, period) that is still
// in play, i.e. neither rejected nor withdrawn.
func (r *EnrollmentRepository) FindLive(ctx context.Context, studentID, academicYear string, semester int) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments
	WHERE student_id = $1 AND academic_year = $2 AND semester = $3
	  AND status NOT IN ('rejected', 'withdrawn')`, enrollmentColumns)
	var rec models.Enrollment
	if err := r.db.GetContext(ctx, &rec, query, studentID, academicYear, semester); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	base := "FROM enrollments WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.DepartmentCode != "" {
		conditions = append(conditions, fmt.Sprintf("department_code = $%d", len(args)+1))
		args = append(args, filter.DepartmentCode)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Semester != 0 {
		conditions = append(conditions, fmt.Sprintf("semester = $%d", len(args)+1))
		args = append(args, filter.Semester)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"created_at":   true,
		"updated_at":   true,
		"submitted_at": true,
		"status":       true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "updated_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d",
		enrollmentColumns, base, sortBy, order, size, offset)

	var records []models.Enrollment
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return records, total, nil
}

// ReplaceDraftCourses overwrites the course-code set of a draft. The
// write is idempotent and guarded on draft status so a submission
// racing the save loses cleanly.
func (r *EnrollmentRepository) ReplaceDraftCourses(ctx context.Context, id string, courseCodes pq.StringArray) error {
	const query = `UPDATE enrollments SET course_codes = $1, updated_at = $2 WHERE id = $3 AND status = 'draft'`
	result, err := r.db.ExecContext(ctx, query, courseCodes, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("replace draft courses: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check draft course replace rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// EnrollmentSwapParams groups the columns one pipeline decision may
// touch.
type EnrollmentSwapParams struct {
	ID               string
	Expected         models.EnrollmentStatus
	NewStatus        models.EnrollmentStatus
	SubmittedAt      *time.Time
	HodApprovedBy    *string
	HodApprovedAt    *time.Time
	OfficeApprovedBy *string
	OfficeApprovedAt *time.Time
	RejectedBy       *string
	RejectedAt       *time.Time
	RejectedStage    *models.EnrollmentStage
	RejectReason     *string
	WithdrawnAt      *time.Time
}

// SwapStatus applies one pipeline transition optimistically. A second
// approver acting on an already-transitioned record gets
// sql.ErrNoRows, never a silent double-apply.
func (r *EnrollmentRepository) SwapStatus(ctx context.Context, params EnrollmentSwapParams) error {
	setParts := []string{
		"status = :new_status",
		"updated_at = :updated_at",
	}
	if params.SubmittedAt != nil {
		setParts = append(setParts, "submitted_at = :submitted_at")
	}
	if params.HodApprovedBy != nil {
		setParts = append(setParts, "hod_approved_by = :hod_approved_by", "hod_approved_at = :hod_approved_at")
	}
	if params.OfficeApprovedBy != nil {
		setParts = append(setParts, "office_approved_by = :office_approved_by", "office_approved_at = :office_approved_at")
	}
	if params.RejectedBy != nil {
		setParts = append(setParts,
			"rejected_by = :rejected_by",
			"rejected_at = :rejected_at",
			"rejected_stage = :rejected_stage",
			"reject_reason = :reject_reason",
		)
	}
	if params.WithdrawnAt != nil {
		setParts = append(setParts, "withdrawn_at = :withdrawn_at")
	}

	query := fmt.Sprintf("UPDATE enrollments SET %s WHERE id = :id AND status = :expected",
		strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                 params.ID,
		"expected":           params.Expected,
		"new_status":         params.NewStatus,
		"updated_at":         time.Now().UTC(),
		"submitted_at":       params.SubmittedAt,
		"hod_approved_by":    params.HodApprovedBy,
		"hod_approved_at":    params.HodApprovedAt,
		"office_approved_by": params.OfficeApprovedBy,
		"office_approved_at": params.OfficeApprovedAt,
		"rejected_by":        params.RejectedBy,
		"rejected_at":        params.RejectedAt,
		"rejected_stage":     params.RejectedStage,
		"reject_reason":      params.RejectReason,
		"withdrawn_at":       params.WithdrawnAt,
	})
	if err != nil {
		return fmt.Errorf("swap enrollment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check enrollment swap rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus aggregates record counts per pipeline status.
func (r *EnrollmentRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM enrollments GROUP BY status ORDER BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count enrollments by status: %w", err)
	}
	return counts, nil
}
