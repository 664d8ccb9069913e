package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/service"
	"github.com/acadeon/curricula-api/internal/workflow"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

type courseWorkflow interface {
	Create(ctx context.Context, req service.CreateCourseRequest, actor models.Actor) (*models.Course, error)
	Get(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error)
	Lineage(ctx context.Context, baseCode string) ([]models.Course, error)
	CanEdit(ctx context.Context, id string) (*models.Course, workflow.Eligibility, error)
	Update(ctx context.Context, id string, req service.UpdateCourseRequest, actor models.Actor) (*models.Course, error)
	Transition(ctx context.Context, id string, req service.TransitionRequest, actor models.Actor) (*models.Course, error)
	Fork(ctx context.Context, id string, actor models.Actor) (*models.Course, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
}

// CourseHandler exposes the course catalog workflow over HTTP.
type CourseHandler struct {
	service courseWorkflow
}

// NewCourseHandler constructs a course handler.
func NewCourseHandler(svc courseWorkflow) *CourseHandler {
	return &CourseHandler{service: svc}
}

// transitionBody is the optional request body for transition actions.
// Only reject requires a reason.
type transitionBody struct {
	Reason string `json:"reason"`
}

// List godoc
// @Summary List course versions
// @Tags Courses
// @Produce json
// @Param department query string false "Filter by department code"
// @Param status query string false "Filter by lifecycle status"
// @Param base_code query string false "Filter by base code"
// @Param latest_only query bool false "Only latest versions (default true)"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	filter.DepartmentCode = c.Query("department")
	filter.Status = models.Status(c.Query("status"))
	filter.BaseCode = c.Query("base_code")
	filter.LatestOnly = c.DefaultQuery("latest_only", "true") == "true"
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = limit
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	courses, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Get godoc
// @Summary Get one course version with edit eligibility
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, eligibility, err := h.service.CanEdit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"canEdit": eligibility.Allowed}
	if !eligibility.Allowed {
		meta["editBlockedReason"] = eligibility.Reason
	}
	response.JSON(c, http.StatusOK, course, nil, meta)
}

// Lineage godoc
// @Summary Full version history of a course lineage
// @Tags Courses
// @Produce json
// @Param id path string true "Any version ID in the lineage"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/lineage [get]
func (h *CourseHandler) Lineage(c *gin.Context) {
	course, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	lineage, err := h.service.Lineage(c.Request.Context(), course.BaseCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lineage, nil)
}

// Create godoc
// @Summary Create a new course lineage
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Edit a course version in place
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course version ID"
// @Param payload body service.UpdateCourseRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.EditBlockedPayload
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		respondCatalogError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Submit godoc
// @Summary Submit a draft for approval
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/submit [post]
func (h *CourseHandler) Submit(c *gin.Context) { h.transition(c, workflow.ActionSubmit) }

// Approve godoc
// @Summary Approve a pending course version
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/approve [post]
func (h *CourseHandler) Approve(c *gin.Context) { h.transition(c, workflow.ActionApprove) }

// Reject godoc
// @Summary Reject a pending course version back to draft
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course version ID"
// @Param payload body transitionBody true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/reject [post]
func (h *CourseHandler) Reject(c *gin.Context) { h.transition(c, workflow.ActionReject) }

// Publish godoc
// @Summary Publish an approved course version
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/publish [post]
func (h *CourseHandler) Publish(c *gin.Context) { h.transition(c, workflow.ActionPublish) }

// Activate godoc
// @Summary Activate a version parked for a future effective date
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/activate [post]
func (h *CourseHandler) Activate(c *gin.Context) { h.transition(c, workflow.ActionActivate) }

// Disable godoc
// @Summary Disable an active course version
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/disable [post]
func (h *CourseHandler) Disable(c *gin.Context) { h.transition(c, workflow.ActionDisable) }

// Archive godoc
// @Summary Archive a disabled course version
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/archive [post]
func (h *CourseHandler) Archive(c *gin.Context) { h.transition(c, workflow.ActionArchive) }

// Fork godoc
// @Summary Fork the latest version into a new draft
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 201 {object} response.Envelope
// @Router /courses/{id}/fork [post]
func (h *CourseHandler) Fork(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	draft, err := h.service.Fork(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, draft)
}

// Delete godoc
// @Summary Delete a draft version
// @Tags Courses
// @Produce json
// @Param id path string true "Course version ID"
// @Success 204
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *CourseHandler) transition(c *gin.Context, action workflow.Action) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var body transitionBody
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	req := service.TransitionRequest{Action: string(action), Reason: body.Reason}
	course, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		respondCatalogError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// respondCatalogError renders eligibility denials in the legacy 403
// payload existing catalog clients parse; everything else follows the
// envelope contract.
func respondCatalogError(c *gin.Context, err error) {
	var denied *service.EditDeniedError
	if errors.As(err, &denied) {
		response.EditBlocked(c, response.EditBlockedPayload{
			Error:              "EDIT_BLOCKED",
			Reason:             denied.Result.Reason,
			CanEdit:            false,
			CourseStatus:       string(denied.Entity.Status),
			IsLatestVersion:    denied.Entity.IsLatest,
			Version:            denied.Entity.Version,
			NewerVersionsCount: len(denied.Result.Blocking),
		})
		return
	}
	response.Error(c, err)
}
