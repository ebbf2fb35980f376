package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/middleware"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/response"
	"github.com/stemsi/lessonpath/internal/service"
	"github.com/stemsi/lessonpath/internal/validator"
)

// ProgressHandler handles lesson unlock status and completion facts.
type ProgressHandler struct {
	progressService *service.ProgressService
	log             zerolog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progressService *service.ProgressService, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
		log:             log.With().Str("component", "progress_handler").Logger(),
	}
}

// GetUnlockStatus godoc
// GET /api/v1/student/lessons/unlock-status
// Returns every lesson with the student's derived progress and lock state.
func (h *ProgressHandler) GetUnlockStatus(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	statuses, err := h.progressService.UnlockStatus(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}
	if statuses == nil {
		statuses = []model.LessonStatus{}
	}

	response.Success(c, http.StatusOK, gin.H{"lessons": statuses})
}

// GetLesson godoc
// GET /api/v1/student/lessons/:lesson_id
// Returns lesson content. Locked lessons are refused.
func (h *ProgressHandler) GetLesson(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lessonID, err := uuid.Parse(c.Param("lesson_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.progressService.GetLesson(c.Request.Context(), claims.UserID, lessonID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// GetVideo godoc
// GET /api/v1/student/videos/:video_id
// Returns a video of an unlocked lesson with its watched state.
func (h *ProgressHandler) GetVideo(c *gin.Context) {
	claims, videoID, ok := idParams(c, "video_id")
	if !ok {
		return
	}

	status, err := h.progressService.GetVideo(c.Request.Context(), claims.UserID, videoID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, status)
}

// GetLessonProgress godoc
// GET /api/v1/student/lessons/:lesson_id/progress
// Returns progress for one lesson, locked or not.
func (h *ProgressHandler) GetLessonProgress(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lessonID, err := uuid.Parse(c.Param("lesson_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.progressService.LessonProgress(c.Request.Context(), claims.UserID, lessonID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": status.Progress})
}

// GetSummary godoc
// GET /api/v1/student/progress/summary
// Returns the dashboard rollup across tracks.
func (h *ProgressHandler) GetSummary(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	summary, err := h.progressService.Summary(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// MarkSlideRead godoc
// POST /api/v1/student/progress/slides/read
// Records that the student opened a lesson's course material. Idempotent.
func (h *ProgressHandler) MarkSlideRead(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.MarkSlideReadRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.progressService.MarkSlideRead(c.Request.Context(), claims.UserID, uuid.MustParse(req.CourseMaterialID))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": status.Progress})
}

// MarkVideoWatched godoc
// POST /api/v1/student/progress/videos/watched
// Records a completed video. Idempotent.
func (h *ProgressHandler) MarkVideoWatched(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.MarkVideoWatchedRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	status, err := h.progressService.MarkVideoWatched(c.Request.Context(), claims.UserID, uuid.MustParse(req.VideoID))
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"progress": status.Progress})
}
