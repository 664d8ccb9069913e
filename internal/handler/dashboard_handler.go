package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

type approvalDashboard interface {
	Overview(ctx context.Context, actor models.Actor) (*models.DashboardOverview, error)
	Metrics(actor models.Actor) (models.SystemMetrics, error)
}

// DashboardHandler serves the approval pipeline dashboard.
type DashboardHandler struct {
	service approvalDashboard
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(svc approvalDashboard) *DashboardHandler {
	return &DashboardHandler{service: svc}
}

// Approvals godoc
// @Summary Approval pipeline overview for the caller's scope
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/approvals [get]
func (h *DashboardHandler) Approvals(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// Metrics godoc
// @Summary Workflow metrics snapshot
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/metrics [get]
func (h *DashboardHandler) Metrics(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	snapshot, err := h.service.Metrics(actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}
