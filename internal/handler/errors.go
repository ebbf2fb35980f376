package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/response"
	"github.com/stemsi/lessonpath/internal/service"
)

// failFromError maps service errors onto the response envelope.
func failFromError(c *gin.Context, log zerolog.Logger, err error) {
	var (
		ve *service.ValidationError
		le *service.LockedError
	)
	switch {
	case errors.As(err, &ve):
		switch {
		case len(ve.Unanswered) > 0:
			response.FailWithData(c, http.StatusBadRequest, response.ErrUnansweredQuestions,
				gin.H{"unanswered": ve.Unanswered})
		case errors.Is(err, service.ErrNoQuestions):
			response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
		default:
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation,
				map[string]string{ve.Field: ve.Message})
		}
	case errors.As(err, &le):
		code := response.ErrQuizLocked
		if le.IsLessonLock() {
			code = response.ErrLessonLocked
		}
		response.FailWithData(c, http.StatusForbidden, code, gin.H{"reason": le.Reason})
	case errors.Is(err, service.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrAttemptFinalized):
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinalized)
	case errors.Is(err, service.ErrConflict):
		response.Fail(c, http.StatusConflict, response.ErrConflict)
	default:
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
