package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/repository"
	"github.com/acadeon/curricula-api/internal/workflow"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type enrollmentRepoStub struct {
	records map[string]*models.Enrollment
	filter  models.EnrollmentFilter
	swapErr error
}

func newEnrollmentRepoStub() *enrollmentRepoStub {
	return &enrollmentRepoStub{records: make(map[string]*models.Enrollment)}
}

func (s *enrollmentRepoStub) add(rec models.Enrollment) {
	copy := rec
	s.records[rec.ID] = &copy
}

func (s *enrollmentRepoStub) Create(ctx context.Context, rec *models.Enrollment) error {
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("enr-%d", len(s.records)+1)
	}
	if rec.Status == "" {
		rec.Status = models.EnrollmentDraft
	}
	copy := *rec
	s.records[rec.ID] = &copy
	return nil
}

func (s *enrollmentRepoStub) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if rec, ok := s.records[id]; ok {
		copy := *rec
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) FindLive(ctx context.Context, studentID, academicYear string, semester int) (*models.Enrollment, error) {
	for _, rec := range s.records {
		if rec.StudentID == studentID && rec.AcademicYear == academicYear && rec.Semester == semester &&
			rec.Status != models.EnrollmentRejected && rec.Status != models.EnrollmentWithdrawn {
			copy := *rec
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentRepoStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	s.filter = filter
	var out []models.Enrollment
	for _, rec := range s.records {
		if filter.StudentID != "" && rec.StudentID != filter.StudentID {
			continue
		}
		if filter.DepartmentCode != "" && rec.DepartmentCode != filter.DepartmentCode {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (s *enrollmentRepoStub) ReplaceDraftCourses(ctx context.Context, id string, courseCodes pq.StringArray) error {
	rec, ok := s.records[id]
	if !ok || rec.Status != models.EnrollmentDraft {
		return sql.ErrNoRows
	}
	rec.CourseCodes = courseCodes
	return nil
}

func (s *enrollmentRepoStub) SwapStatus(ctx context.Context, params repository.EnrollmentSwapParams) error {
	if s.swapErr != nil {
		err := s.swapErr
		s.swapErr = nil
		return err
	}
	rec, ok := s.records[params.ID]
	if !ok || rec.Status != params.Expected {
		return sql.ErrNoRows
	}
	rec.Status = params.NewStatus
	if params.SubmittedAt != nil {
		rec.SubmittedAt = params.SubmittedAt
	}
	if params.HodApprovedBy != nil {
		rec.HodApprovedBy = params.HodApprovedBy
		rec.HodApprovedAt = params.HodApprovedAt
	}
	if params.OfficeApprovedBy != nil {
		rec.OfficeApprovedBy = params.OfficeApprovedBy
		rec.OfficeApprovedAt = params.OfficeApprovedAt
	}
	if params.RejectedBy != nil {
		rec.RejectedBy = params.RejectedBy
		rec.RejectedAt = params.RejectedAt
		rec.RejectedStage = params.RejectedStage
		rec.RejectReason = params.RejectReason
	}
	if params.WithdrawnAt != nil {
		rec.WithdrawnAt = params.WithdrawnAt
	}
	return nil
}

func (s *enrollmentRepoStub) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	byStatus := map[string]int{}
	for _, rec := range s.records {
		byStatus[string(rec.Status)]++
	}
	out := make([]models.StatusCount, 0, len(byStatus))
	for status, count := range byStatus {
		out = append(out, models.StatusCount{Status: status, Count: count})
	}
	return out, nil
}

type studentReaderStub struct {
	students map[string]*models.Student
}

func (s *studentReaderStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if st, ok := s.students[id]; ok {
		copy := *st
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type periodReaderStub struct {
	periods map[string]*models.Period
}

func (s *periodReaderStub) FindByYearSemester(ctx context.Context, academicYear string, semester int) (*models.Period, error) {
	if p, ok := s.periods[fmt.Sprintf("%s|%d", academicYear, semester)]; ok {
		copy := *p
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type courseCatalogStub struct {
	latest map[string]*models.Course
}

func (s *courseCatalogStub) FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Course, error) {
	if c, ok := s.latest[baseCode]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

type enrollmentFixtures struct {
	repo     *enrollmentRepoStub
	students *studentReaderStub
	periods  *periodReaderStub
	catalog  *courseCatalogStub
	audit    *recorderStub
	notify   *notifierStub
	metrics  *metricsStub
}

func newTestEnrollmentService(t *testing.T) (*EnrollmentService, *enrollmentFixtures) {
	t.Helper()
	now := time.Now().UTC()

	f := &enrollmentFixtures{
		repo: newEnrollmentRepoStub(),
		students: &studentReaderStub{students: map[string]*models.Student{
			"stud-1": {ID: "stud-1", Number: "S2024001", FullName: "Mara Voss", DepartmentCode: "CS", CohortYear: 2024, Active: true},
		}},
		periods: &periodReaderStub{periods: map[string]*models.Period{
			"2026/2027|1": {
				ID:              "per-1",
				AcademicYear:    "2026/2027",
				Semester:        1,
				Name:            "Winter 2026",
				StartDate:       now.Add(-24 * time.Hour),
				EndDate:         now.Add(120 * 24 * time.Hour),
				EnrollmentOpen:  now.Add(-24 * time.Hour),
				EnrollmentClose: now.Add(14 * 24 * time.Hour),
			},
		}},
		catalog: &courseCatalogStub{latest: map[string]*models.Course{
			"CS401": {Versioned: models.Versioned{ID: "c1", BaseCode: "CS401", Version: 3, Status: models.StatusActive, IsLatest: true}},
			"CS402": {Versioned: models.Versioned{ID: "c2", BaseCode: "CS402", Version: 1, Status: models.StatusActive, IsLatest: true}},
			"CS900": {Versioned: models.Versioned{ID: "c3", BaseCode: "CS900", Version: 1, Status: models.StatusDraft, IsLatest: true}},
		}},
		audit:   &recorderStub{},
		notify:  &notifierStub{},
		metrics: &metricsStub{},
	}

	svc := NewEnrollmentService(f.repo, f.students, f.periods, f.catalog, f.audit, f.notify, f.metrics, 5, true, nil, zap.NewNop())
	return svc, f
}

func ownStudent() models.Actor {
	return models.Actor{Subject: "stud-1", FullName: "Mara Voss", Role: models.RoleStudent, DepartmentCode: "CS"}
}

func officeActor() models.Actor {
	return models.Actor{Subject: "office-1", FullName: "Jules Berg", Role: models.RoleOffice}
}

func enrollmentFixture(id string, status models.EnrollmentStatus) models.Enrollment {
	return models.Enrollment{
		ID:             id,
		StudentID:      "stud-1",
		DepartmentCode: "CS",
		AcademicYear:   "2026/2027",
		Semester:       1,
		CourseCodes:    pq.StringArray{"CS401"},
		Status:         status,
	}
}

func TestEnrollmentServiceCreateDraft(t *testing.T) {
	svc, f := newTestEnrollmentService(t)

	rec, err := svc.CreateDraft(context.Background(), CreateEnrollmentRequest{
		AcademicYear: "2026/2027",
		Semester:     1,
		CourseCodes:  []string{"CS401", "CS402"},
	}, ownStudent())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentDraft, rec.Status)
	require.Equal(t, "stud-1", rec.StudentID)
	require.Equal(t, "CS", rec.DepartmentCode)
	require.Equal(t, pq.StringArray{"CS401", "CS402"}, rec.CourseCodes)

	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "ENROLLMENT_CREATE", f.audit.entries[0].Action)
}

func TestEnrollmentServiceCreateDraftSecondLiveConflict(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	_, err := svc.CreateDraft(context.Background(), CreateEnrollmentRequest{
		AcademicYear: "2026/2027",
		Semester:     1,
	}, ownStudent())
	require.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
}

func TestEnrollmentServiceCreateDraftAfterWithdrawalAllowed(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentWithdrawn))

	rec, err := svc.CreateDraft(context.Background(), CreateEnrollmentRequest{
		AcademicYear: "2026/2027",
		Semester:     1,
	}, ownStudent())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentDraft, rec.Status)
}

func TestEnrollmentServiceCreateDraftClosedWindow(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	period := f.periods.periods["2026/2027|1"]
	period.EnrollmentClose = time.Now().UTC().Add(-time.Hour)

	_, err := svc.CreateDraft(context.Background(), CreateEnrollmentRequest{
		AcademicYear: "2026/2027",
		Semester:     1,
	}, ownStudent())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestEnrollmentServiceCreateDraftRejectsBadCourses(t *testing.T) {
	svc, _ := newTestEnrollmentService(t)

	_, err := svc.CreateDraft(context.Background(), CreateEnrollmentRequest{
		AcademicYear: "2026/2027",
		Semester:     1,
		CourseCodes:  []string{"NOPE101"},
	}, ownStudent())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))

	_, err = svc.CreateDraft(context.Background(), CreateEnrollmentRequest{
		AcademicYear: "2026/2027",
		Semester:     1,
		CourseCodes:  []string{"CS900"},
	}, ownStudent())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestEnrollmentServiceSaveDraftReplacesCourses(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentDraft))

	rec, err := svc.SaveDraft(context.Background(), "enr-1", SaveDraftRequest{CourseCodes: []string{"CS401", "CS402"}}, ownStudent())
	require.NoError(t, err)
	require.Equal(t, pq.StringArray{"CS401", "CS402"}, rec.CourseCodes)
	require.Equal(t, pq.StringArray{"CS401", "CS402"}, f.repo.records["enr-1"].CourseCodes)
}

func TestEnrollmentServiceSaveDraftDuplicateCourseRejected(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentDraft))

	_, err := svc.SaveDraft(context.Background(), "enr-1", SaveDraftRequest{CourseCodes: []string{"CS401", "CS402", "CS401"}}, ownStudent())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
	require.Contains(t, err.Error(), "CS401")
	require.Equal(t, pq.StringArray{"CS401"}, f.repo.records["enr-1"].CourseCodes)
}

func TestEnrollmentServiceSaveDraftOtherStudentForbidden(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentDraft))

	other := models.Actor{Subject: "stud-2", Role: models.RoleStudent}
	_, err := svc.SaveDraft(context.Background(), "enr-1", SaveDraftRequest{CourseCodes: []string{"CS401"}}, other)
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestEnrollmentServiceSubmitMovesToFirstStage(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentDraft))

	rec, err := svc.Submit(context.Background(), "enr-1", ownStudent())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentPendingHOD, rec.Status)
	require.NotNil(t, rec.SubmittedAt)
	require.Contains(t, f.notify.effects, workflow.EffectNotifyApprovers)
	require.Len(t, f.audit.entries, 1)
	require.Equal(t, "ENROLLMENT_SUBMIT", f.audit.entries[0].Action)
}

func TestEnrollmentServiceSubmitEmptyCoursesFails(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	empty := enrollmentFixture("enr-1", models.EnrollmentDraft)
	empty.CourseCodes = nil
	f.repo.add(empty)

	_, err := svc.Submit(context.Background(), "enr-1", ownStudent())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestEnrollmentServiceDecidePipelineHappyPath(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	rec, err := svc.Decide(context.Background(), "enr-1", models.StageHOD, DecideEnrollmentRequest{Action: "approve"}, csHead())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentPendingOffice, rec.Status)
	require.Equal(t, "hod-1", *rec.HodApprovedBy)
	require.Contains(t, f.notify.effects, workflow.EffectNotifyOffice)

	rec, err = svc.Decide(context.Background(), "enr-1", models.StageOffice, DecideEnrollmentRequest{Action: "approve"}, officeActor())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentApproved, rec.Status)
	require.Equal(t, "office-1", *rec.OfficeApprovedBy)
	require.Contains(t, f.notify.effects, workflow.EffectNotifyStudent)

	require.Contains(t, f.metrics.decisions, "hod:approve:applied")
	require.Contains(t, f.metrics.decisions, "office:approve:applied")
}

func TestEnrollmentServiceRepeatedHodApproveIsStale(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	_, err := svc.Decide(context.Background(), "enr-1", models.StageHOD, DecideEnrollmentRequest{Action: "approve"}, csHead())
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), "enr-1", models.StageHOD, DecideEnrollmentRequest{Action: "approve"}, csHead())
	require.Equal(t, appErrors.ErrStaleState.Code, errCode(t, err))
	require.Contains(t, f.metrics.decisions, "hod:approve:stale")
}

func TestEnrollmentServiceRejectRequiresReason(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingOffice))

	_, err := svc.Decide(context.Background(), "enr-1", models.StageOffice, DecideEnrollmentRequest{Action: "reject"}, officeActor())
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))

	rec, err := svc.Decide(context.Background(), "enr-1", models.StageOffice, DecideEnrollmentRequest{
		Action: "reject",
		Reason: "clashes with the department's mandatory lab block",
	}, officeActor())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentRejected, rec.Status)
	require.Equal(t, "clashes with the department's mandatory lab block", *rec.RejectReason)
	require.Equal(t, models.StageOffice, *rec.RejectedStage)
}

func TestEnrollmentServiceHodWrongDepartmentForbidden(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	foreign := models.Actor{Subject: "hod-2", Role: models.RoleHOD, DepartmentCode: "MATH"}
	_, err := svc.Decide(context.Background(), "enr-1", models.StageHOD, DecideEnrollmentRequest{Action: "approve"}, foreign)
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestEnrollmentServiceWithdraw(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	rec, err := svc.Withdraw(context.Background(), "enr-1", ownStudent())
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentWithdrawn, rec.Status)
	require.NotNil(t, rec.WithdrawnAt)

	approved := enrollmentFixture("enr-2", models.EnrollmentApproved)
	f.repo.add(approved)
	_, err = svc.Withdraw(context.Background(), "enr-2", ownStudent())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
}

func TestEnrollmentServiceListScopesByRole(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	_, _, err := svc.List(context.Background(), models.EnrollmentFilter{StudentID: "stud-9"}, ownStudent())
	require.NoError(t, err)
	require.Equal(t, "stud-1", f.repo.filter.StudentID)

	_, _, err = svc.List(context.Background(), models.EnrollmentFilter{}, csHead())
	require.NoError(t, err)
	require.Equal(t, "CS", f.repo.filter.DepartmentCode)

	_, _, err = svc.List(context.Background(), models.EnrollmentFilter{}, models.Actor{Role: models.RoleLecturer})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestEnrollmentServiceGetScopesStudent(t *testing.T) {
	svc, f := newTestEnrollmentService(t)
	f.repo.add(enrollmentFixture("enr-1", models.EnrollmentPendingHOD))

	_, err := svc.Get(context.Background(), "enr-1", models.Actor{Subject: "stud-2", Role: models.RoleStudent})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	rec, err := svc.Get(context.Background(), "enr-1", ownStudent())
	require.NoError(t, err)
	require.Equal(t, "enr-1", rec.ID)
}
