package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/models"
	"github.com/acadeon/curricula-api/internal/service"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

type exportRenderer interface {
	CourseLineage(ctx context.Context, baseCode, format string, actor models.Actor) (*service.ExportFile, error)
	DegreeLineage(ctx context.Context, baseCode, format string, actor models.Actor) (*service.ExportFile, error)
	Enrollments(ctx context.Context, filter models.EnrollmentFilter, format string, actor models.Actor) (*service.ExportFile, error)
}

// ExportHandler serves CSV and PDF downloads. Formats ride on the
// path as file extensions, matching the links older clients bookmark.
type ExportHandler struct {
	service exportRenderer
}

// NewExportHandler constructs an export handler.
func NewExportHandler(svc exportRenderer) *ExportHandler {
	return &ExportHandler{service: svc}
}

// CourseHistory godoc
// @Summary Download a course version history
// @Tags Exports
// @Produce octet-stream
// @Param code path string true "Course base code"
// @Param file path string true "history.csv or history.pdf"
// @Success 200 {file} binary
// @Router /exports/courses/{code}/{file} [get]
func (h *ExportHandler) CourseHistory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format, err := historyFormat(c.Param("file"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.CourseLineage(c.Request.Context(), c.Param("code"), format, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendExport(c, file)
}

// DegreeHistory godoc
// @Summary Download a degree version history
// @Tags Exports
// @Produce octet-stream
// @Param code path string true "Degree base code"
// @Param file path string true "history.csv or history.pdf"
// @Success 200 {file} binary
// @Router /exports/degrees/{code}/{file} [get]
func (h *ExportHandler) DegreeHistory(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format, err := historyFormat(c.Param("file"))
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := h.service.DegreeLineage(c.Request.Context(), c.Param("code"), format, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendExport(c, file)
}

// Enrollments godoc
// @Summary Download the enrollment ledger for a period
// @Tags Exports
// @Produce octet-stream
// @Param year path string true "Academic year, e.g. 2026-2027"
// @Param file path string true "Semester with extension, e.g. 1.csv"
// @Success 200 {file} binary
// @Router /exports/enrollments/{year}/{file} [get]
func (h *ExportHandler) Enrollments(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stem, format, ok := strings.Cut(c.Param("file"), ".")
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "expected <semester>.<csv|pdf>"))
		return
	}
	semester, err := strconv.Atoi(stem)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "semester must be a number"))
		return
	}
	filter := models.EnrollmentFilter{
		AcademicYear: c.Param("year"),
		Semester:     semester,
		Status:       models.EnrollmentStatus(c.Query("status")),
	}
	file, err := h.service.Enrollments(c.Request.Context(), filter, format, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendExport(c, file)
}

func historyFormat(file string) (string, error) {
	stem, format, ok := strings.Cut(file, ".")
	if !ok || stem != "history" {
		return "", appErrors.Clone(appErrors.ErrValidation, "expected history.csv or history.pdf")
	}
	return format, nil
}

func sendExport(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", file.Name))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
