package handler

import (
	"context"
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

type degreeWorkflow interface {
	Create(ctx context.Context, req service.CreateDegreeRequest, actor models.Actor) (*models.Degree, error)
	Get(ctx context.Context, id string) (*models.Degree, error)
	List(ctx context.Context, filter models.DegreeFilter) ([]models.Degree, *models.Pagination, error)
	Lineage(ctx context.Context, baseCode string) ([]models.Degree, error)
	CanEdit(ctx context.Context, id string) (*models.Degree, workflow.Eligibility, error)
	Update(ctx context.Context, id string, req service.UpdateDegreeRequest, actor models.Actor) (*models.Degree, error)
	Transition(ctx context.Context, id string, req service.TransitionRequest, actor models.Actor) (*models.Degree, error)
	Fork(ctx context.Context, id string, actor models.Actor) (*models.Degree, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
}

// DegreeHandler exposes the degree programme workflow over HTTP. The
// endpoints mirror the course set, payload shapes included.
type DegreeHandler struct {
	service degreeWorkflow
}

// NewDegreeHandler constructs a degree handler.
func NewDegreeHandler(svc degreeWorkflow) *DegreeHandler {
	return &DegreeHandler{service: svc}
}

// List godoc
// @Summary List degree versions
// @Tags Degrees
// @Produce json
// @Param department query string false "Filter by department code"
// @Param status query string false "Filter by lifecycle status"
// @Param base_code query string false "Filter by base code"
// @Param latest_only query bool false "Only latest versions (default true)"
// @Param search query string false "Search keyword"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /degrees [get]
func (h *DegreeHandler) List(c *gin.Context) {
	var filter models.DegreeFilter
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

	degrees, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, degrees, pagination)
}

// Get godoc
// @Summary Get one degree version with edit eligibility
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id} [get]
func (h *DegreeHandler) Get(c *gin.Context) {
	degree, eligibility, err := h.service.CanEdit(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"canEdit": eligibility.Allowed}
	if !eligibility.Allowed {
		meta["editBlockedReason"] = eligibility.Reason
	}
	response.JSON(c, http.StatusOK, degree, nil, meta)
}

// Lineage godoc
// @Summary Full version history of a degree lineage
// @Tags Degrees
// @Produce json
// @Param id path string true "Any version ID in the lineage"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/lineage [get]
func (h *DegreeHandler) Lineage(c *gin.Context) {
	degree, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	lineage, err := h.service.Lineage(c.Request.Context(), degree.BaseCode)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, lineage, nil)
}

// Create godoc
// @Summary Create a new degree lineage
// @Tags Degrees
// @Accept json
// @Produce json
// @Param payload body service.CreateDegreeRequest true "Degree payload"
// @Success 201 {object} response.Envelope
// @Router /degrees [post]
func (h *DegreeHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateDegreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	degree, err := h.service.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, degree)
}

// Update godoc
// @Summary Edit a degree version in place
// @Tags Degrees
// @Accept json
// @Produce json
// @Param id path string true "Degree version ID"
// @Param payload body service.UpdateDegreeRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.EditBlockedPayload
// @Router /degrees/{id} [put]
func (h *DegreeHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateDegreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	degree, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		respondCatalogError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, degree, nil)
}

// Submit godoc
// @Summary Submit a draft for approval
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/submit [post]
func (h *DegreeHandler) Submit(c *gin.Context) { h.transition(c, workflow.ActionSubmit) }

// Approve godoc
// @Summary Approve a pending degree version
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/approve [post]
func (h *DegreeHandler) Approve(c *gin.Context) { h.transition(c, workflow.ActionApprove) }

// Reject godoc
// @Summary Reject a pending degree version back to draft
// @Tags Degrees
// @Accept json
// @Produce json
// @Param id path string true "Degree version ID"
// @Param payload body transitionBody true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/reject [post]
func (h *DegreeHandler) Reject(c *gin.Context) { h.transition(c, workflow.ActionReject) }

// Publish godoc
// @Summary Publish an approved degree version
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/publish [post]
func (h *DegreeHandler) Publish(c *gin.Context) { h.transition(c, workflow.ActionPublish) }

// Activate godoc
// @Summary Activate a version parked for a future effective date
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/activate [post]
func (h *DegreeHandler) Activate(c *gin.Context) { h.transition(c, workflow.ActionActivate) }

// Disable godoc
// @Summary Disable an active degree version
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/disable [post]
func (h *DegreeHandler) Disable(c *gin.Context) { h.transition(c, workflow.ActionDisable) }

// Archive godoc
// @Summary Archive a disabled degree version
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 200 {object} response.Envelope
// @Router /degrees/{id}/archive [post]
func (h *DegreeHandler) Archive(c *gin.Context) { h.transition(c, workflow.ActionArchive) }

// Fork godoc
// @Summary Fork the latest version into a new draft
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 201 {object} response.Envelope
// @Router /degrees/{id}/fork [post]
func (h *DegreeHandler) Fork(c *gin.Context) {
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
// @Tags Degrees
// @Produce json
// @Param id path string true "Degree version ID"
// @Success 204
// @Router /degrees/{id} [delete]
func (h *DegreeHandler) Delete(c *gin.Context) {
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

func (h *DegreeHandler) transition(c *gin.Context, action workflow.Action) {
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
	degree, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		respondCatalogError(c, err)
		return
	}
	response.JSON(c, http.StatusOK, degree, nil)
}
