package routes

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"civic-ingest/models"
	"civic-ingest/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SetupHealthRoutes registers the liveness probe
func SetupHealthRoutes(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})
}

// respondServiceError maps service sentinels to HTTP statuses
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		utils.RespondWithNotFound(c, err.Error())
	case errors.Is(err, models.ErrInvalidTransition):
		utils.RespondWithError(c, http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, models.ErrTransitionConflict):
		utils.RespondWithConflict(c, err.Error(), nil)
	default:
		utils.RespondWithInternalError(c, "Request failed", err.Error())
	}
}

func objectIDParam(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		utils.RespondWithBadRequest(c, "Invalid "+name, nil)
		return primitive.NilObjectID, false
	}
	return id, true
}

func limitQuery(c *gin.Context, def, max int64) int64 {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.FormatInt(def, 10)), 10, 64)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
