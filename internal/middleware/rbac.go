package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/models"
	appErrors "github.com/acadeon/curricula-api/pkg/errors"
	"github.com/acadeon/curricula-api/pkg/response"
)

// RequireRoles gates a route group to the listed roles. Finer scoping,
// department and ownership checks, stays in the services where the
// records are at hand.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		actor, ok := CurrentActor(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[actor.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff admits every role except students.
func RequireStaff() gin.HandlerFunc {
	return RequireRoles(models.RoleLecturer, models.RoleHOD, models.RoleOffice, models.RoleAdmin)
}
