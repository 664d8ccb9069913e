package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/pkg/config"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

// Maintenance rejects mutating requests while the catalog is frozen,
// typically during a term rollover. Reads keep working so dashboards
// and exports stay available.
func Maintenance(cfg config.MaintenanceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.ReadOnly {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		err := appErrors.ErrMaintenance
		if cfg.Message != "" {
			err = appErrors.Clone(appErrors.ErrMaintenance, cfg.Message)
		}
		response.Error(c, err)
		c.Abort()
	}
}
