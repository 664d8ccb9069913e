package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acadeon/curricula-api/internal/models"
)

const courseColumns = `id, base_code, version, status, is_latest_version, parent_entity_id, reject_reason,
       created_by, updated_by, approved_by, submitted_at, approved_at, published_at, effective_at,
       created_at, updated_at, title, description, credits, department_code, level`

// CourseRepository persists course versions and their lineage.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create inserts a fresh version-1 draft.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	const query = `INSERT INTO courses
	(id, base_code, version, status, is_latest_version, parent_entity_id, reject_reason,
	 created_by, updated_by, approved_by, submitted_at, approved_at, published_at, effective_at,
	 created_at, updated_at, title, description, credits, department_code, level)
	VALUES (:id, :base_code, :version, :status, :is_latest_version, :parent_entity_id, :reject_reason,
	 :created_by, :updated_by, :approved_by, :submitted_at, :approved_at, :published_at, :effective_at,
	 :created_at, :updated_at, :title, :description, :credits, :department_code, :level)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID loads one course version.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE id = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindByBaseCode returns the full lineage of a base code, oldest
// version first.
func (r *CourseRepository) FindByBaseCode(ctx context.Context, baseCode string) ([]models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE base_code = $1 ORDER BY version ASC", courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, baseCode); err != nil {
		return nil, fmt.Errorf("find courses by base code: %w", err)
	}
	return courses, nil
}

// FindLatestByBaseCode returns the canonical version of a lineage.
func (r *CourseRepository) FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses WHERE base_code = $1 AND is_latest_version = TRUE", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, baseCode); err != nil {
		return nil, err
	}
	return &course, nil
}

// List returns course versions matching the filter plus a total count.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.BaseCode != "" {
		conditions = append(conditions, fmt.Sprintf("base_code = $%d", len(args)+1))
		args = append(args, filter.BaseCode)
	}
	if filter.DepartmentCode != "" {
		conditions = append(conditions, fmt.Sprintf("department_code = $%d", len(args)+1))
		args = append(args, filter.DepartmentCode)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.LatestOnly {
		conditions = append(conditions, "is_latest_version = TRUE")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(title ILIKE $%d OR base_code ILIKE $%d)", len(args)+1, len(args)+2))
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"base_code":  true,
		"title":      true,
		"version":    true,
		"status":     true,
		"created_at": true,
		"updated_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "base_code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s, version DESC LIMIT %d OFFSET %d",
		courseColumns, base, sortBy, order, size, offset)

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Update persists content edits to a version. Lifecycle columns are
// untouched; transitions go through SwapStatus.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET title = :title, description = :description, credits = :credits,
	 department_code = :department_code, level = :level, effective_at = :effective_at,
	 updated_by = :updated_by, updated_at = :updated_at
	 WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check course update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// StatusSwapParams groups the columns a transition may touch.
type StatusSwapParams struct {
	ID           string
	Expected     models.Status
	NewStatus    models.Status
	UpdatedBy    string
	RejectReason *string
	ClearReject  bool
	ApprovedBy   *string
	SubmittedAt  *time.Time
	ApprovedAt   *time.Time
	PublishedAt  *time.Time
}

// SwapStatus performs the optimistic status transition. The row must
// still hold the status the caller read; otherwise sql.ErrNoRows is
// returned and the caller surfaces a stale-state conflict.
func (r *CourseRepository) SwapStatus(ctx context.Context, params StatusSwapParams) error {
	return swapVersionedStatus(ctx, r.db, "courses", params)
}

// swapVersionedStatus is shared by the course and degree tables, which
// carry identical lifecycle columns.
func swapVersionedStatus(ctx context.Context, db *sqlx.DB, table string, params StatusSwapParams) error {
	setParts := []string{
		"status = :new_status",
		"updated_by = :updated_by",
		"updated_at = :updated_at",
	}
	if params.RejectReason != nil {
		setParts = append(setParts, "reject_reason = :reject_reason")
	} else if params.ClearReject {
		setParts = append(setParts, "reject_reason = NULL")
	}
	if params.ApprovedBy != nil {
		setParts = append(setParts, "approved_by = :approved_by")
	}
	if params.SubmittedAt != nil {
		setParts = append(setParts, "submitted_at = :submitted_at")
	}
	if params.ApprovedAt != nil {
		setParts = append(setParts, "approved_at = :approved_at")
	}
	if params.PublishedAt != nil {
		setParts = append(setParts, "published_at = :published_at")
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = :id AND status = :expected",
		table, strings.Join(setParts, ", "))
	result, err := db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":            params.ID,
		"expected":      params.Expected,
		"new_status":    params.NewStatus,
		"updated_by":    params.UpdatedBy,
		"updated_at":    time.Now().UTC(),
		"reject_reason": params.RejectReason,
		"approved_by":   params.ApprovedBy,
		"submitted_at":  params.SubmittedAt,
		"approved_at":   params.ApprovedAt,
		"published_at":  params.PublishedAt,
	})
	if err != nil {
		return fmt.Errorf("swap %s status: %w", table, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s status swap rows: %w", table, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertVersion writes a forked version and retires its parent in one
// transaction. The parent flip is guarded so a concurrent fork of the
// same lineage fails with sql.ErrNoRows instead of minting two latest
// versions.
func (r *CourseRepository) InsertVersion(ctx context.Context, parentID string, next *models.Course) error {
	if next.ID == "" {
		next.ID = uuid.NewString()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fork tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	result, err = tx.ExecContext(ctx,
		`UPDATE courses SET is_latest_version = FALSE, updated_at = $1 WHERE id = $2 AND is_latest_version = TRUE`,
		time.Now().UTC(), parentID)
	if err != nil {
		return fmt.Errorf("retire parent course version: %w", err)
	}
	var rows int64
	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check parent course flip rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	const insert = `INSERT INTO courses
	(id, base_code, version, status, is_latest_version, parent_entity_id, reject_reason,
	 created_by, updated_by, approved_by, submitted_at, approved_at, published_at, effective_at,
	 created_at, updated_at, title, description, credits, department_code, level)
	VALUES (:id, :base_code, :version, :status, :is_latest_version, :parent_entity_id, :reject_reason,
	 :created_by, :updated_by, :approved_by, :submitted_at, :approved_at, :published_at, :effective_at,
	 :created_at, :updated_at, :title, :description, :credits, :department_code, :level)`
	if _, err = tx.NamedExecContext(ctx, insert, next); err != nil {
		return fmt.Errorf("insert forked course version: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit fork tx: %w", err)
	}
	return nil
}

// DeleteDraft removes a draft version. When the draft was the latest
// of its lineage the parent becomes latest again, in the same
// transaction, so the lineage never loses its canonical row.
func (r *CourseRepository) DeleteDraft(ctx context.Context, course *models.Course) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete draft tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var result sql.Result
	result, err = tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1 AND status = 'draft'`, course.ID)
	if err != nil {
		return fmt.Errorf("delete draft course: %w", err)
	}
	var rows int64
	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check draft course delete rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	if course.IsLatest && course.ParentID != nil {
		if _, err = tx.ExecContext(ctx,
			`UPDATE courses SET is_latest_version = TRUE, updated_at = $1 WHERE id = $2`,
			time.Now().UTC(), *course.ParentID); err != nil {
			return fmt.Errorf("restore parent course version: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete draft tx: %w", err)
	}
	return nil
}

// FindDueForActivation lists versions parked in pending_activation
// whose effective date has arrived.
func (r *CourseRepository) FindDueForActivation(ctx context.Context, now time.Time) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses
	WHERE status = 'pending_activation' AND effective_at IS NOT NULL AND effective_at <= $1
	ORDER BY effective_at ASC`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, now); err != nil {
		return nil, fmt.Errorf("find courses due for activation: %w", err)
	}
	return courses, nil
}

// CountByStatus aggregates version counts per lifecycle status.
func (r *CourseRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM courses GROUP BY status ORDER BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count courses by status: %w", err)
	}
	return counts, nil
}
