package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/acadeon/curricula-api/internal/models"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var courseRowColumns = []string{
	"id", "base_code", "version", "status", "is_latest_version", "parent_entity_id", "reject_reason",
	"created_by", "updated_by", "approved_by", "submitted_at", "approved_at", "published_at", "effective_at",
	"created_at", "updated_at", "title", "description", "credits", "department_code", "level",
}

func courseRow(id string, version int, status string, latest bool) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "CS101", version, status, latest, nil, nil,
		"lect-1", "lect-1", nil, nil, nil, nil, nil,
		now, now, "Intro to Computing", "Foundations course", 6, "CS", "bachelor",
	}
}

func TestCourseRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	course := &models.Course{
		Versioned: models.Versioned{
			BaseCode:  "CS101",
			Version:   1,
			Status:    models.StatusDraft,
			IsLatest:  true,
			CreatedBy: "lect-1",
			UpdatedBy: "lect-1",
		},
		Title:          "Intro to Computing",
		Description:    "Foundations course",
		Credits:        6,
		DepartmentCode: "CS",
		Level:          "bachelor",
	}
	require.NoError(t, repo.Create(context.Background(), course))
	require.NotEmpty(t, course.ID, "repository mints the identifier")

	rows := sqlmock.NewRows(courseRowColumns).AddRow(courseRow(course.ID, 1, "draft", true)...)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, base_code, version, status")).
		WithArgs(course.ID).
		WillReturnRows(rows)

	found, err := repo.FindByID(context.Background(), course.ID)
	require.NoError(t, err)
	require.Equal(t, course.ID, found.ID)
	require.Equal(t, models.StatusDraft, found.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryFindByBaseCode(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	rows := sqlmock.NewRows(courseRowColumns).
		AddRow(courseRow("c-1", 1, "active", false)...).
		AddRow(courseRow("c-2", 2, "draft", true)...)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY version ASC")).
		WithArgs("CS101").
		WillReturnRows(rows)

	lineage, err := repo.FindByBaseCode(context.Background(), "CS101")
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	require.Equal(t, 1, lineage[0].Version)
	require.Equal(t, 2, lineage[1].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositorySwapStatus(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	err := repo.SwapStatus(context.Background(), StatusSwapParams{
		ID:          "c-1",
		Expected:    models.StatusDraft,
		NewStatus:   models.StatusPendingApproval,
		UpdatedBy:   "lect-1",
		SubmittedAt: &now,
		ClearReject: true,
	})
	require.NoError(t, err)

	// Status moved underneath the caller.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.SwapStatus(context.Background(), StatusSwapParams{
		ID:        "c-1",
		Expected:  models.StatusDraft,
		NewStatus: models.StatusPendingApproval,
		UpdatedBy: "lect-1",
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryInsertVersion(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	parentID := "c-1"
	next := &models.Course{
		Versioned: models.Versioned{
			BaseCode:  "CS101",
			Version:   2,
			Status:    models.StatusDraft,
			IsLatest:  true,
			ParentID:  &parentID,
			CreatedBy: "lect-2",
			UpdatedBy: "lect-2",
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		},
		Title:          "Intro to Computing",
		Credits:        6,
		DepartmentCode: "CS",
		Level:          "bachelor",
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET is_latest_version = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO courses")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.InsertVersion(context.Background(), parentID, next))
	require.NotEmpty(t, next.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryInsertVersionConcurrentForkFails(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	parentID := "c-1"

	// Another fork already retired the parent; the flip matches no row
	// and the whole transaction rolls back.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET is_latest_version = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.InsertVersion(context.Background(), parentID, &models.Course{
		Versioned: models.Versioned{BaseCode: "CS101", Version: 2, Status: models.StatusDraft, IsLatest: true, ParentID: &parentID},
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryDeleteDraftRestoresParent(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	parentID := "c-1"
	draft := &models.Course{
		Versioned: models.Versioned{
			ID:       "c-2",
			BaseCode: "CS101",
			Version:  2,
			Status:   models.StatusDraft,
			IsLatest: true,
			ParentID: &parentID,
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1 AND status = 'draft'")).
		WithArgs("c-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET is_latest_version = TRUE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteDraft(context.Background(), draft))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryDeleteDraftGoneIsStale(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses")).
		WithArgs("c-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.DeleteDraft(context.Background(), &models.Course{
		Versioned: models.Versioned{ID: "c-9", Status: models.StatusDraft},
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryListLatestOnly(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()

	repo := NewCourseRepository(db)
	rows := sqlmock.NewRows(courseRowColumns).AddRow(courseRow("c-2", 2, "active", true)...)
	mock.ExpectQuery(regexp.QuoteMeta("is_latest_version = TRUE")).
		WithArgs("CS").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WithArgs("CS").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	courses, total, err := repo.List(context.Background(), models.CourseFilter{
		DepartmentCode: "CS",
		LatestOnly:     true,
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, courses, 1)
	require.True(t, courses[0].IsLatest)
	require.NoError(t, mock.ExpectationsWereMet())
}
