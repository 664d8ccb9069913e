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

const degreeColumns = `id, base_code, version, status, is_latest_version, parent_entity_id, reject_reason,
       created_by, updated_by, approved_by, submitted_at, approved_at, published_at, effective_at,
       created_at, updated_at, title, description, level, duration_semesters, department_code`

// DegreeRepository persists degree program versions and their lineage.
// Degrees share the course lifecycle columns; only the domain payload
// differs.
type DegreeRepository struct {
	db *sqlx.DB
}

// NewDegreeRepository constructs the repository.
func NewDegreeRepository(db *sqlx.DB) *DegreeRepository {
	return &DegreeRepository{db: db}
}

// Create inserts a fresh version-1 draft.
func (r *DegreeRepository) Create(ctx context.Context, degree *models.Degree) error {
	if degree.ID == "" {
		degree.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if degree.CreatedAt.IsZero() {
		degree.CreatedAt = now
	}
	degree.UpdatedAt = now

	const query = `INSERT INTO degrees
	(id, base_code, version, status, is_latest_version, parent_entity_id, reject_reason,
	 created_by, updated_by, approved_by, submitted_at, approved_at, published_at, effective_at,
	 created_at, updated_at, title, description, level, duration_semesters, department_code)
	VALUES (:id, :base_code, :version, :status, :is_latest_version, :parent_entity_id, :reject_reason,
	 :created_by, :updated_by, :approved_by, :submitted_at, :approved_at, :published_at, :effective_at,
	 :created_at, :updated_at, :title, :description, :level, :duration_semesters, :department_code)`
	if _, err := r.db.NamedExecContext(ctx, query, degree); err != nil {
		return fmt.Errorf("create degree: %w", err)
	}
	return nil
}

// FindByID loads one degree version.
func (r *DegreeRepository) FindByID(ctx context.Context, id string) (*models.Degree, error) {
	query := fmt.Sprintf("SELECT %s FROM degrees WHERE id = $1", degreeColumns)
	var degree models.Degree
	if err := r.db.GetContext(ctx, &degree, query, id); err != nil {
		return nil, err
	}
	return &degree, nil
}

// FindByBaseCode returns the full lineage of a base code, oldest
// version first.
func (r *DegreeRepository) FindByBaseCode(ctx context.Context, baseCode string) ([]models.Degree, error) {
	query := fmt.Sprintf("SELECT %s FROM degrees WHERE base_code = $1 ORDER BY version ASC", degreeColumns)
	var degrees []models.Degree
	if err := r.db.SelectContext(ctx, &degrees, query, baseCode); err != nil {
		return nil, fmt.Errorf("find degrees by base code: %w", err)
	}
	return degrees, nil
}

// FindLatestByBaseCode returns the canonical version of a lineage.
func (r *DegreeRepository) FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Degree, error) {
	query := fmt.Sprintf("SELECT %s FROM degrees WHERE base_code = $1 AND is_latest_version = TRUE", degreeColumns)
	var degree models.Degree
	if err := r.db.GetContext(ctx, &degree, query, baseCode); err != nil {
		return nil, err
	}
	return &degree, nil
}

// List returns degree versions matching the filter plus a total count.
func (r *DegreeRepository) List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, int, error) {
	base := "FROM degrees WHERE 1=1"
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
		"level":      true,
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
		degreeColumns, base, sortBy, order, size, offset)

	var degrees []models.Degree
	if err := r.db.SelectContext(ctx, &degrees, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list degrees: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count degrees: %w", err)
	}
	return degrees, total, nil
}

// Update persists content edits to a version. Lifecycle columns are
// untouched; transitions go through SwapStatus.
func (r *DegreeRepository) Update(ctx context.Context, degree *models.Degree) error {
	degree.UpdatedAt = time.Now().UTC()
	const query = `UPDATE degrees SET title = :title, description = :description, level = :level,
	 duration_semesters = :duration_semesters, department_code = :department_code, effective_at = :effective_at,
	 updated_by = :updated_by, updated_at = :updated_at
	 WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, degree)
	if err != nil {
		return fmt.Errorf("update degree: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check degree update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SwapStatus performs the optimistic status transition shared with the
// course table.
func (r *DegreeRepository) SwapStatus(ctx context.Context, params StatusSwapParams) error {
	return swapVersionedStatus(ctx, r.db, "degrees", params)
}

// InsertVersion writes a forked version and retires its parent in one
// transaction.
func (r *DegreeRepository) InsertVersion(ctx context.Context, parentID string, next *models.Degree) error {
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
		`UPDATE degrees SET is_latest_version = FALSE, updated_at = $1 WHERE id = $2 AND is_latest_version = TRUE`,
		time.Now().UTC(), parentID)
	if err != nil {
		return fmt.Errorf("retire parent degree version: %w", err)
	}
	var rows int64
	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check parent degree flip rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	const insert = `INSERT INTO degrees
	(id, base_code, version, status, is_latest_version, parent_entity_id, reject_reason,
	 created_by, updated_by, approved_by, submitted_at, approved_at, published_at, effective_at,
	 created_at, updated_at, title, description, level, duration_semesters, department_code)
	VALUES (:id, :base_code, :version, :status, :is_latest_version, :parent_entity_id, :reject_reason,
	 :created_by, :updated_by, :approved_by, :submitted_at, :approved_at, :published_at, :effective_at,
	 :created_at, :updated_at, :title, :description, :level, :duration_semesters, :department_code)`
	if _, err = tx.NamedExecContext(ctx, insert, next); err != nil {
		return fmt.Errorf("insert forked degree version: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit fork tx: %w", err)
	}
	return nil
}

// DeleteDraft removes a draft version, restoring the parent as latest
// when the draft headed its lineage.
func (r *DegreeRepository) DeleteDraft(ctx context.Context, degree *models.Degree) error {
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
	result, err = tx.ExecContext(ctx, `DELETE FROM degrees WHERE id = $1 AND status = 'draft'`, degree.ID)
	if err != nil {
		return fmt.Errorf("delete draft degree: %w", err)
	}
	var rows int64
	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check draft degree delete rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return err
	}

	if degree.IsLatest && degree.ParentID != nil {
		if _, err = tx.ExecContext(ctx,
			`UPDATE degrees SET is_latest_version = TRUE, updated_at = $1 WHERE id = $2`,
			time.Now().UTC(), *degree.ParentID); err != nil {
			return fmt.Errorf("restore parent degree version: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete draft tx: %w", err)
	}
	return nil
}

// FindDueForActivation lists versions parked in pending_activation
// whose effective date has arrived.
func (r *DegreeRepository) FindDueForActivation(ctx context.Context, now time.Time) ([]models.Degree, error) {
	query := fmt.Sprintf(`SELECT %s FROM degrees
	WHERE status = 'pending_activation' AND effective_at IS NOT NULL AND effective_at <= $1
	ORDER BY effective_at ASC`, degreeColumns)
	var degrees []models.Degree
	if err := r.db.SelectContext(ctx, &degrees, query, now); err != nil {
		return nil, fmt.Errorf("find degrees due for activation: %w", err)
	}
	return degrees, nil
}

// CountByStatus aggregates version counts per lifecycle status.
func (r *DegreeRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM degrees GROUP BY status ORDER BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count degrees by status: %w", err)
	}
	return counts, nil
}
