package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter, actor models.Actor) ([]models.AuditEntry, *models.Pagination, error)
}

// AuditHandler exposes the audit trail to staff roles.
type AuditHandler struct {
	service auditReader
}

// NewAuditHandler constructs an audit handler.
func NewAuditHandler(svc auditReader) *AuditHandler {
	return &AuditHandler{service: svc}
}

// List godoc
// @Summary List audit entries
// @Tags Audit
// @Produce json
// @Param actor_id query string false "Filter by acting user"
// @Param resource query string false "Filter by resource type"
// @Param resource_id query string false "Filter by resource ID"
// @Param action query string false "Filter by action"
// @Param from query string false "Lower bound (RFC 3339)"
// @Param to query string false "Upper bound (RFC 3339)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.service.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// ForResource godoc
// @Summary Audit history of one record
// @Tags Audit
// @Produce json
// @Param resource path string true "Resource type (course, degree, enrollment, ...)"
// @Param id path string true "Resource ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit/{resource}/{id} [get]
func (h *AuditHandler) ForResource(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filter, err := auditFilterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.Resource = c.Param("resource")
	filter.ResourceID = c.Param("id")
	entries, pagination, err := h.service.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

func auditFilterFromQuery(c *gin.Context) (models.AuditFilter, error) {
	var filter models.AuditFilter
	filter.ActorID = c.Query("actor_id")
	filter.Resource = c.Query("resource")
	filter.ResourceID = c.Query("resource_id")
	filter.Action = c.Query("action")
	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "from must be RFC 3339")
		}
		filter.From = &ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "to must be RFC 3339")
		}
		filter.To = &ts
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = limit
	}
	return filter, nil
}
