package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/middleware"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/response"
	"github.com/stemsi/lessonpath/internal/service"
)

// ActivityHandler serves the student activity feed.
type ActivityHandler struct {
	activityService *service.ActivityService
	log             zerolog.Logger
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(activityService *service.ActivityService, log zerolog.Logger) *ActivityHandler {
	return &ActivityHandler{
		activityService: activityService,
		log:             log.With().Str("component", "activity_handler").Logger(),
	}
}

// ListActivity godoc
// GET /api/v1/student/activity?limit=20
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
			map[string]string{"limit": "limit must be a non-negative integer"})
		return
	}

	entries, err := h.activityService.List(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if entries == nil {
		entries = []model.ActivityEntry{}
	}

	response.Success(c, http.StatusOK, gin.H{"activities": entries})
}
