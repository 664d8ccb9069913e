package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/acadeon/curricula-api/internal/middleware"
	"github.com/acadeon/curricula-api/internal/models"
)

func actorFromContext(c *gin.Context) (models.Actor, bool) {
	return middleware.CurrentActor(c)
}
