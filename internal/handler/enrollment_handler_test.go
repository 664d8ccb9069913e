package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/service"
)

type fakeEnrollmentWorkflow struct {
	record  *models.Enrollment
	records []models.Enrollment
	err     error

	lastStage  models.EnrollmentStage
	lastDecide service.DecideEnrollmentRequest
	lastFilter models.EnrollmentFilter
}

func (f *fakeEnrollmentWorkflow) CreateDraft(context.Context, service.CreateEnrollmentRequest, models.Actor) (*models.Enrollment, error) {
	return f.record, f.err
}

func (f *fakeEnrollmentWorkflow) SaveDraft(context.Context, string, service.SaveDraftRequest, models.Actor) (*models.Enrollment, error) {
	return f.record, f.err
}

func (f *fakeEnrollmentWorkflow) Submit(context.Context, string, models.Actor) (*models.Enrollment, error) {
	return f.record, f.err
}

func (f *fakeEnrollmentWorkflow) Decide(_ context.Context, _ string, stage models.EnrollmentStage, req service.DecideEnrollmentRequest, _ models.Actor) (*models.Enrollment, error) {
	f.lastStage = stage
	f.lastDecide = req
	return f.record, f.err
}

func (f *fakeEnrollmentWorkflow) Withdraw(context.Context, string, models.Actor) (*models.Enrollment, error) {
	return f.record, f.err
}

func (f *fakeEnrollmentWorkflow) Get(context.Context, string, models.Actor) (*models.Enrollment, error) {
	return f.record, f.err
}

func (f *fakeEnrollmentWorkflow) List(_ context.Context, filter models.EnrollmentFilter, _ models.Actor) ([]models.Enrollment, *models.Pagination, error) {
	f.lastFilter = filter
	return f.records, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(f.records)}, f.err
}

func testEnrollment() *models.Enrollment {
	return &models.Enrollment{
		ID:        "enr-1",
		StudentID: "stud-1",
		Status:    models.EnrollmentPendingHOD,
	}
}

func TestEnrollmentHandlerDecideValidStage(t *testing.T) {
	fake := &fakeEnrollmentWorkflow{record: testEnrollment()}
	handler := NewEnrollmentHandler(fake)
	actor := models.Actor{Subject: "hod-1", Role: models.RoleHOD, DepartmentCode: "CS"}

	c, rec := testContext(t, http.MethodPost, "/enrollments/enr-1/decide/hod", []byte(`{"action":"approve"}`), &actor)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}, {Key: "stage", Value: "hod"}}
	handler.Decide(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StageHOD, fake.lastStage)
	assert.Equal(t, "approve", fake.lastDecide.Action)
}

func TestEnrollmentHandlerDecideUnknownStage(t *testing.T) {
	fake := &fakeEnrollmentWorkflow{record: testEnrollment()}
	handler := NewEnrollmentHandler(fake)
	actor := models.Actor{Subject: "hod-1", Role: models.RoleHOD, DepartmentCode: "CS"}

	c, rec := testContext(t, http.MethodPost, "/enrollments/enr-1/decide/registrar", []byte(`{"action":"approve"}`), &actor)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}, {Key: "stage", Value: "registrar"}}
	handler.Decide(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.lastStage)
}

func TestEnrollmentHandlerDecideRejectCarriesReason(t *testing.T) {
	fake := &fakeEnrollmentWorkflow{record: testEnrollment()}
	handler := NewEnrollmentHandler(fake)
	actor := models.Actor{Subject: "office-1", Role: models.RoleOffice}

	c, rec := testContext(t, http.MethodPost, "/enrollments/enr-1/decide/office", []byte(`{"action":"reject","reason":"course cap reached"}`), &actor)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}, {Key: "stage", Value: "office"}}
	handler.Decide(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StageOffice, fake.lastStage)
	assert.Equal(t, "reject", fake.lastDecide.Action)
	assert.Equal(t, "course cap reached", fake.lastDecide.Reason)
}

func TestEnrollmentHandlerListParsesFilter(t *testing.T) {
	fake := &fakeEnrollmentWorkflow{}
	handler := NewEnrollmentHandler(fake)
	actor := models.Actor{Subject: "office-1", Role: models.RoleOffice}

	c, rec := testContext(t, http.MethodGet, "/enrollments?year=2026-2027&semester=1&status=pending_office_approval", nil, &actor)
	handler.List(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-2027", fake.lastFilter.AcademicYear)
	assert.Equal(t, 1, fake.lastFilter.Semester)
	assert.Equal(t, models.EnrollmentPendingOffice, fake.lastFilter.Status)
}

func TestEnrollmentHandlerSubmitRequiresActor(t *testing.T) {
	handler := NewEnrollmentHandler(&fakeEnrollmentWorkflow{})

	c, rec := testContext(t, http.MethodPost, "/enrollments/enr-1/submit", nil, nil)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	handler.Submit(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
