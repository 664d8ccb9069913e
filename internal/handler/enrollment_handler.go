package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/service"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

type enrollmentWorkflow interface {
	CreateDraft(ctx context.Context, req service.CreateEnrollmentRequest, actor models.Actor) (*models.Enrollment, error)
	SaveDraft(ctx context.Context, id string, req service.SaveDraftRequest, actor models.Actor) (*models.Enrollment, error)
	Submit(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error)
	Decide(ctx context.Context, id string, stage models.EnrollmentStage, req service.DecideEnrollmentRequest, actor models.Actor) (*models.Enrollment, error)
	Withdraw(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error)
	Get(ctx context.Context, id string, actor models.Actor) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter, actor models.Actor) ([]models.Enrollment, *models.Pagination, error)
}

// EnrollmentHandler exposes the two-stage enrollment pipeline over HTTP.
type EnrollmentHandler struct {
	service enrollmentWorkflow
}

// NewEnrollmentHandler constructs an enrollment handler.
func NewEnrollmentHandler(svc enrollmentWorkflow) *EnrollmentHandler {
	return &EnrollmentHandler{service: svc}
}

// List godoc
// @Summary List enrollment records visible to the caller
// @Tags Enrollments
// @Produce json
// @Param student_id query string false "Filter by student"
// @Param department query string false "Filter by department code"
// @Param year query string false "Filter by academic year"
// @Param semester query int false "Filter by semester"
// @Param status query string false "Filter by pipeline status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("student_id")
	filter.DepartmentCode = c.Query("department")
	filter.AcademicYear = c.Query("year")
	if semester, err := strconv.Atoi(c.Query("semester")); err == nil {
		filter.Semester = semester
	}
	filter.Status = models.EnrollmentStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	records, pagination, err := h.service.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// Get godoc
// @Summary Get one enrollment record
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Create godoc
// @Summary Open a draft enrollment for a period
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.CreateEnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.CreateDraft(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// SaveCourses godoc
// @Summary Replace the course selection on a draft
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body service.SaveDraftRequest true "Course codes"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/courses [put]
func (h *EnrollmentHandler) SaveCourses(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.SaveDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.SaveDraft(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Submit godoc
// @Summary Submit a draft enrollment for approval
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/submit [post]
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.service.Submit(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Decide godoc
// @Summary Approve or reject an enrollment at one pipeline stage
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param stage path string true "Pipeline stage (hod or office)"
// @Param payload body service.DecideEnrollmentRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/decide/{stage} [post]
func (h *EnrollmentHandler) Decide(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stage := models.EnrollmentStage(c.Param("stage"))
	if !stage.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "stage must be hod or office"))
		return
	}
	var req service.DecideEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.Decide(c.Request.Context(), c.Param("id"), stage, req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Withdraw godoc
// @Summary Withdraw an enrollment before final approval
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/withdraw [post]
func (h *EnrollmentHandler) Withdraw(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	record, err := h.service.Withdraw(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
