package handler

import (
	"errors"
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

// AttemptHandler handles quiz payloads, attempt lifecycle and submissions.
type AttemptHandler struct {
	attemptService *service.AttemptService
	evaluator      *service.Evaluator
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, evaluator *service.Evaluator, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		evaluator:      evaluator,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GetQuiz godoc
// GET /api/v1/student/quizzes/:quiz_id
// Returns the quiz without answer keys.
func (h *AttemptHandler) GetQuiz(c *gin.Context) {
	claims, quizID, ok := h.quizParams(c)
	if !ok {
		return
	}

	quiz, err := h.attemptService.GetQuizForStudent(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"quiz": quiz, "duration": h.attemptService.Duration()})
}

// GetLessonQuiz godoc
// GET /api/v1/student/lessons/:lesson_id/quiz
// Returns the quiz gating an unlocked lesson, without answer keys.
func (h *AttemptHandler) GetLessonQuiz(c *gin.Context) {
	claims, lessonID, ok := idParams(c, "lesson_id")
	if !ok {
		return
	}

	quiz, err := h.attemptService.GetQuizForLesson(c.Request.Context(), claims.UserID, lessonID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"quiz": quiz, "duration": h.attemptService.Duration()})
}

// CanAttempt godoc
// GET /api/v1/student/quizzes/:quiz_id/can-attempt
func (h *AttemptHandler) CanAttempt(c *gin.Context) {
	claims, quizID, ok := h.quizParams(c)
	if !ok {
		return
	}

	eligibility, err := h.attemptService.CanAttempt(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, eligibility)
}

// GetCurrentAttempt godoc
// GET /api/v1/student/quizzes/:quiz_id/attempts/current
// Returns the open attempt, or null when there is none.
func (h *AttemptHandler) GetCurrentAttempt(c *gin.Context) {
	claims, quizID, ok := h.quizParams(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.GetCurrent(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Success(c, http.StatusOK, gin.H{"attempt": nil})
			return
		}
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt.ForStudent()})
}

// ListAttempts godoc
// GET /api/v1/student/quizzes/:quiz_id/attempts
// Returns the attempt history for a quiz, oldest first.
func (h *AttemptHandler) ListAttempts(c *gin.Context) {
	claims, quizID, ok := h.quizParams(c)
	if !ok {
		return
	}

	attempts, err := h.attemptService.List(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	if attempts == nil {
		attempts = []model.QuizAttempt{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

// StartAttempt godoc
// POST /api/v1/student/quizzes/:quiz_id/attempts
// Creates the next attempt, or resumes the open one unchanged.
func (h *AttemptHandler) StartAttempt(c *gin.Context) {
	claims, quizID, ok := h.quizParams(c)
	if !ok {
		return
	}

	attempt, resumed, err := h.attemptService.CreateOrResume(c.Request.Context(), claims.UserID, quizID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"attempt": attempt.ForStudent(), "resumed": resumed})
}

// GetAttempt godoc
// GET /api/v1/student/attempts/:attempt_id
// Returns an attempt; finalized attempts include their result.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	attempt, err := h.attemptService.Get(c.Request.Context(), claims.UserID, attemptID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt.ForStudent(), "result": attempt.Result()})
}

// SaveProgress godoc
// PUT /api/v1/student/attempts/:attempt_id/progress
// Autosave for clients without a live stream.
func (h *AttemptHandler) SaveProgress(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SaveProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	p := model.Progress{
		Answers:              req.Answers,
		CurrentQuestionIndex: *req.CurrentQuestionIndex,
		TimeRemainingSeconds: *req.TimeRemaining,
	}
	if err := h.attemptService.SaveProgress(c.Request.Context(), claims.UserID, attemptID, p); err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Grades and finalizes the attempt. forced=true is the beacon sent by a
// closing page and skips the all-answered check. Replays return the
// stored result.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = service.ReasonManual
		if req.Forced {
			reason = service.ReasonUnload
		}
	}

	result, err := h.evaluator.Submit(c.Request.Context(), service.SubmitRequest{
		StudentID:     claims.UserID,
		AttemptID:     attemptID,
		Answers:       req.Answers,
		TimeRemaining: req.TimeRemaining,
		Forced:        req.Forced,
		Reason:        reason,
	})
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ListMyAttempts godoc
// GET /api/v1/student/attempts
// Returns every attempt of the student, newest first.
func (h *AttemptHandler) ListMyAttempts(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attempts, err := h.attemptService.ListByStudent(c.Request.Context(), claims.UserID)
	if err != nil {
		failFromError(c, h.log, err)
		return
	}

	if attempts == nil {
		attempts = []model.QuizAttempt{}
	}
	response.Success(c, http.StatusOK, gin.H{"attempts": attempts})
}

func (h *AttemptHandler) quizParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	return idParams(c, "quiz_id")
}

func (h *AttemptHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	return idParams(c, "attempt_id")
}

func idParams(c *gin.Context, param string) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}

	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, id, true
}
