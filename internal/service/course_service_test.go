package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/repository"
	"github.com/acadeon/curricula-api/internal/workflow"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
)

type courseRepoStub struct {
	courses map[string]*models.Course
	swapErr error
}

func newCourseRepoStub() *courseRepoStub {
	return &courseRepoStub{courses: make(map[string]*models.Course)}
}

func (s *courseRepoStub) add(c models.Course) {
	copy := c
	s.courses[c.ID] = &copy
}

func (s *courseRepoStub) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = fmt.Sprintf("course-%d", len(s.courses)+1)
	}
	copy := *course
	s.courses[course.ID] = &copy
	return nil
}

func (s *courseRepoStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := s.courses[id]; ok {
		copy := *c
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *courseRepoStub) FindByBaseCode(ctx context.Context, baseCode string) ([]models.Course, error) {
	var out []models.Course
	for _, c := range s.courses {
		if c.BaseCode == baseCode {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *courseRepoStub) FindLatestByBaseCode(ctx context.Context, baseCode string) (*models.Course, error) {
	for _, c := range s.courses {
		if c.BaseCode == baseCode && c.IsLatest {
			copy := *c
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *courseRepoStub) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var out []models.Course
	for _, c := range s.courses {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.DepartmentCode != "" && c.DepartmentCode != filter.DepartmentCode {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (s *courseRepoStub) Update(ctx context.Context, course *models.Course) error {
	stored, ok := s.courses[course.ID]
	if !ok {
		return sql.ErrNoRows
	}
	*stored = *course
	return nil
}

func (s *courseRepoStub) SwapStatus(ctx context.Context, params repository.StatusSwapParams) error {
	if s.swapErr != nil {
		err := s.swapErr
		s.swapErr = nil
		return err
	}
	stored, ok := s.courses[params.ID]
	if !ok || stored.Status != params.Expected {
		return sql.ErrNoRows
	}
	stored.Status = params.NewStatus
	stored.UpdatedBy = params.UpdatedBy
	if params.SubmittedAt != nil {
		stored.SubmittedAt = params.SubmittedAt
	}
	if params.ClearReject {
		stored.RejectReason = nil
	}
	if params.RejectReason != nil {
		stored.RejectReason = params.RejectReason
	}
	if params.ApprovedBy != nil {
		stored.ApprovedBy = params.ApprovedBy
		stored.ApprovedAt = params.ApprovedAt
	}
	if params.PublishedAt != nil {
		stored.PublishedAt = params.PublishedAt
	}
	return nil
}

func (s *courseRepoStub) InsertVersion(ctx context.Context, parentID string, next *models.Course) error {
	parent, ok := s.courses[parentID]
	if !ok || !parent.IsLatest {
		return sql.ErrNoRows
	}
	parent.IsLatest = false
	if next.ID == "" {
		next.ID = fmt.Sprintf("course-%d", len(s.courses)+1)
	}
	copy := *next
	s.courses[next.ID] = &copy
	return nil
}

func (s *courseRepoStub) DeleteDraft(ctx context.Context, course *models.Course) error {
	stored, ok := s.courses[course.ID]
	if !ok || stored.Status != models.StatusDraft {
		return sql.ErrNoRows
	}
	delete(s.courses, course.ID)
	if course.IsLatest && course.ParentID != nil {
		if parent, ok := s.courses[*course.ParentID]; ok {
			parent.IsLatest = true
		}
	}
	return nil
}

func (s *courseRepoStub) FindDueForActivation(ctx context.Context, now time.Time) ([]models.Course, error) {
	var out []models.Course
	for _, c := range s.courses {
		if c.Status == models.StatusPendingActivation && c.EffectiveAt != nil && !c.EffectiveAt.After(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *courseRepoStub) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	byStatus := map[string]int{}
	for _, c := range s.courses {
		byStatus[string(c.Status)]++
	}
	out := make([]models.StatusCount, 0, len(byStatus))
	for status, count := range byStatus {
		out = append(out, models.StatusCount{Status: status, Count: count})
	}
	return out, nil
}

type recorderStub struct {
	entries []*models.AuditEntry
}

func (r *recorderStub) Record(ctx context.Context, entry *models.AuditEntry) {
	r.entries = append(r.entries, entry)
}

type notifierStub struct {
	effects []workflow.SideEffect
	events  []NotificationEvent
}

func (n *notifierStub) DispatchEffects(effects []workflow.SideEffect, event NotificationEvent) {
	n.effects = append(n.effects, effects...)
	n.events = append(n.events, event)
}

type metricsStub struct {
	transitions []string
	decisions   []string
	blocked     int
	stale       int
	cacheHits   int
	cacheMisses int
}

func (m *metricsStub) RecordTransition(kind models.EntityKind, action, outcome string) {
	m.transitions = append(m.transitions, fmt.Sprintf("%s:%s:%s", kind, action, outcome))
}

func (m *metricsStub) RecordEditBlocked(kind models.EntityKind) { m.blocked++ }

func (m *metricsStub) RecordStaleConflict(resource string) { m.stale++ }

func (m *metricsStub) RecordCacheOperation(hit bool) {
	if hit {
		m.cacheHits++
	} else {
		m.cacheMisses++
	}
}

func (m *metricsStub) RecordDecision(stage, action, outcome string) {
	m.decisions = append(m.decisions, fmt.Sprintf("%s:%s:%s", stage, action, outcome))
}

func (m *metricsStub) Snapshot() models.SystemMetrics { return models.SystemMetrics{} }

type cacheStub struct {
	entries map[string][]byte
}

func newCacheStub() *cacheStub {
	return &cacheStub{entries: make(map[string][]byte)}
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *cacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func newTestCourseService(repo *courseRepoStub) (*CourseService, *recorderStub, *notifierStub, *metricsStub, *cacheStub) {
	audit := &recorderStub{}
	notify := &notifierStub{}
	metrics := &metricsStub{}
	cache := newCacheStub()
	policy := workflow.NewEditPolicy(workflow.DefaultBlockingStatuses())
	svc := NewCourseService(repo, audit, notify, metrics, cache, policy, time.Minute, nil, zap.NewNop())
	return svc, audit, notify, metrics, cache
}

func csLecturer() models.Actor {
	return models.Actor{Subject: "lect-1", FullName: "Dana Cole", Role: models.RoleLecturer, DepartmentCode: "CS"}
}

func csHead() models.Actor {
	return models.Actor{Subject: "hod-1", FullName: "Priya Nair", Role: models.RoleHOD, DepartmentCode: "CS"}
}

func courseFixture(id string, version int, status models.Status, latest bool) models.Course {
	return models.Course{
		Versioned: models.Versioned{
			ID:        id,
			BaseCode:  "CS401",
			Version:   version,
			Status:    status,
			IsLatest:  latest,
			CreatedBy: "lect-1",
			UpdatedBy: "lect-1",
		},
		Title:          "Distributed Systems",
		Description:    "Consensus, replication and failure models",
		Credits:        6,
		DepartmentCode: "CS",
		Level:          "master",
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func TestCourseServiceCreateStartsLineage(t *testing.T) {
	repo := newCourseRepoStub()
	svc, audit, _, _, _ := newTestCourseService(repo)

	course, err := svc.Create(context.Background(), CreateCourseRequest{
		BaseCode:       "CS401",
		Title:          "Distributed Systems",
		Description:    "Consensus, replication and failure models",
		Credits:        6,
		DepartmentCode: "CS",
		Level:          "master",
	}, csLecturer())
	require.NoError(t, err)
	require.Equal(t, 1, course.Version)
	require.Equal(t, models.StatusDraft, course.Status)
	require.True(t, course.IsLatest)
	require.Equal(t, "lect-1", course.CreatedBy)

	require.Len(t, audit.entries, 1)
	require.Equal(t, "COURSE_CREATE", audit.entries[0].Action)
}

func TestCourseServiceCreateRejectsForeignDepartment(t *testing.T) {
	repo := newCourseRepoStub()
	svc, _, _, _, _ := newTestCourseService(repo)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		BaseCode:       "MA201",
		Title:          "Linear Algebra",
		Credits:        5,
		DepartmentCode: "MATH",
		Level:          "bachelor",
	}, csLecturer())
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestCourseServiceCreateDuplicateBaseCode(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	_, err := svc.Create(context.Background(), CreateCourseRequest{
		BaseCode:       "CS401",
		Title:          "Distributed Systems",
		Credits:        6,
		DepartmentCode: "CS",
		Level:          "master",
	}, csLecturer())
	require.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
}

func TestCourseServiceUpdateBlockedByNewerVersion(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, false))
	v2 := courseFixture("c2", 2, models.StatusDraft, true)
	parent := "c1"
	v2.ParentID = &parent
	repo.add(v2)
	svc, _, _, metrics, _ := newTestCourseService(repo)

	title := "Advanced Distributed Systems"
	_, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Title: &title}, csLecturer())

	var denied *EditDeniedError
	require.ErrorAs(t, err, &denied)
	require.False(t, denied.Result.Allowed)
	require.Len(t, denied.Result.Blocking, 1)
	require.Equal(t, 2, denied.Result.Blocking[0].Version)
	require.Equal(t, 1, metrics.blocked)
}

func TestCourseServiceUpdateAllowedWhenNewerRetired(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, false))
	repo.add(courseFixture("c2", 2, models.StatusDisabled, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	title := "Advanced Distributed Systems"
	updated, err := svc.Update(context.Background(), "c1", UpdateCourseRequest{Title: &title}, csLecturer())
	require.NoError(t, err)
	require.Equal(t, title, updated.Title)
	require.Equal(t, title, repo.courses["c1"].Title)
}

func TestCourseServiceSubmitTransition(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusDraft, true))
	svc, audit, notify, metrics, _ := newTestCourseService(repo)

	course, err := svc.Transition(context.Background(), "c1", TransitionRequest{Action: "submit"}, csLecturer())
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingApproval, course.Status)
	require.NotNil(t, course.SubmittedAt)

	require.Contains(t, notify.effects, workflow.EffectNotifyApprovers)
	require.Contains(t, metrics.transitions, "course:submit:applied")
	require.Len(t, audit.entries, 1)
	require.Equal(t, "COURSE_SUBMIT", audit.entries[0].Action)
	require.Equal(t, "draft", *audit.entries[0].FromStatus)
	require.Equal(t, "pending_approval", *audit.entries[0].ToStatus)
}

func TestCourseServiceApproveRequiresMatchingDepartment(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusPendingApproval, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	foreign := models.Actor{Subject: "hod-2", Role: models.RoleHOD, DepartmentCode: "MATH"}
	_, err := svc.Transition(context.Background(), "c1", TransitionRequest{Action: "approve"}, foreign)
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))

	course, err := svc.Transition(context.Background(), "c1", TransitionRequest{Action: "approve"}, csHead())
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, course.Status)
	require.Equal(t, "hod-1", *course.ApprovedBy)
}

func TestCourseServiceRejectThenResubmitClearsReason(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusPendingApproval, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	course, err := svc.Transition(context.Background(), "c1", TransitionRequest{Action: "reject", Reason: "syllabus is missing assessment criteria"}, csHead())
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, course.Status)
	require.Equal(t, "syllabus is missing assessment criteria", *course.RejectReason)

	course, err = svc.Transition(context.Background(), "c1", TransitionRequest{Action: "submit"}, csLecturer())
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingApproval, course.Status)
	require.Nil(t, course.RejectReason)
}

func TestCourseServiceTransitionStaleConflict(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusDraft, true))
	repo.swapErr = sql.ErrNoRows
	svc, _, _, metrics, _ := newTestCourseService(repo)

	_, err := svc.Transition(context.Background(), "c1", TransitionRequest{Action: "submit"}, csLecturer())
	require.Equal(t, appErrors.ErrStaleState.Code, errCode(t, err))
	require.Equal(t, 1, metrics.stale)
	require.Contains(t, metrics.transitions, "course:submit:stale")
}

func TestCourseServicePublishFutureEffectiveDateParks(t *testing.T) {
	repo := newCourseRepoStub()
	approved := courseFixture("c1", 1, models.StatusApproved, true)
	effective := time.Now().UTC().Add(48 * time.Hour)
	approved.EffectiveAt = &effective
	repo.add(approved)
	svc, _, notify, _, _ := newTestCourseService(repo)

	course, err := svc.Transition(context.Background(), "c1", TransitionRequest{Action: "publish"}, csLecturer())
	require.NoError(t, err)
	require.Equal(t, models.StatusPendingActivation, course.Status)
	require.NotNil(t, course.PublishedAt)
	require.Contains(t, notify.effects, workflow.EffectScheduleActivation)

	activated, err := svc.ActivateDue(context.Background(), effective.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, activated)
	require.Equal(t, models.StatusActive, repo.courses["c1"].Status)
}

func TestCourseServiceForkCreatesNextDraft(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, true))
	svc, audit, _, _, _ := newTestCourseService(repo)

	next, err := svc.Fork(context.Background(), "c1", csLecturer())
	require.NoError(t, err)
	require.Equal(t, 2, next.Version)
	require.Equal(t, models.StatusDraft, next.Status)
	require.True(t, next.IsLatest)
	require.NotNil(t, next.ParentID)
	require.Equal(t, "c1", *next.ParentID)
	require.Equal(t, "Distributed Systems", next.Title)

	require.False(t, repo.courses["c1"].IsLatest)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "COURSE_FORK", audit.entries[0].Action)
}

func TestCourseServiceForkInFlightLatestFails(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusDraft, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	_, err := svc.Fork(context.Background(), "c1", csLecturer())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
}

func TestCourseServiceDeleteDraftRestoresParent(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, false))
	v2 := courseFixture("c2", 2, models.StatusDraft, true)
	parent := "c1"
	v2.ParentID = &parent
	repo.add(v2)
	svc, audit, _, _, _ := newTestCourseService(repo)

	err := svc.Delete(context.Background(), "c2", csLecturer())
	require.NoError(t, err)
	require.NotContains(t, repo.courses, "c2")
	require.True(t, repo.courses["c1"].IsLatest)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "COURSE_DELETE", audit.entries[0].Action)
}

func TestCourseServiceDeleteRejectsNonDraft(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	err := svc.Delete(context.Background(), "c1", csLecturer())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
}

func TestCourseServiceLineageUsesCache(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, true))
	svc, _, _, metrics, _ := newTestCourseService(repo)

	first, err := svc.Lineage(context.Background(), "CS401")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, metrics.cacheMisses)

	second, err := svc.Lineage(context.Background(), "CS401")
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.Equal(t, first[0].ID, second[0].ID)
	require.Equal(t, 1, metrics.cacheHits)

	title := "Advanced Distributed Systems"
	_, err = svc.Update(context.Background(), "c1", UpdateCourseRequest{Title: &title}, csLecturer())
	require.NoError(t, err)

	refreshed, err := svc.Lineage(context.Background(), "CS401")
	require.NoError(t, err)
	require.Equal(t, title, refreshed[0].Title)
	require.Equal(t, 2, metrics.cacheMisses)
}

func TestCourseServiceCanEditReportsBlockers(t *testing.T) {
	repo := newCourseRepoStub()
	repo.add(courseFixture("c1", 1, models.StatusActive, false))
	repo.add(courseFixture("c2", 2, models.StatusPendingApproval, true))
	svc, _, _, _, _ := newTestCourseService(repo)

	course, eligibility, err := svc.CanEdit(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, "c1", course.ID)
	require.False(t, eligibility.Allowed)
	require.Contains(t, eligibility.Reason, "newer version")
}
