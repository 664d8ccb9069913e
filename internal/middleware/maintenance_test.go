package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/pkg/config"
)

func TestMaintenanceBlocksWritesOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Maintenance(config.MaintenanceConfig{ReadOnly: true, Message: "term rollover in progress"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusCreated) })

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected reads to pass, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected writes to be rejected, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "term rollover in progress") {
		t.Fatalf("expected configured message, got %s", recorder.Body.String())
	}
}

func TestMaintenanceDisabledPassesWrites(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Maintenance(config.MaintenanceConfig{}))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusCreated) })

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/", nil))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected write to pass, got %d", recorder.Code)
	}
}
