package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/lessonpath/internal/response"
	"github.com/stemsi/lessonpath/internal/service"
)

// SingleAttemptStream allows one live stream per attempt. A second tab or
// device opening the same attempt is rejected until the first disconnects.
func SingleAttemptStream(locks service.StreamLock, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		attemptID := c.Param(param)
		if attemptID == "" {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		token, ok, err := locks.Acquire(c.Request.Context(), attemptID)
		if err != nil {
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		if !ok {
			response.AbortFail(c, http.StatusConflict, response.ErrStreamActive)
			return
		}

		defer func() {
			// The request context is gone once the stream closes.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = locks.Release(ctx, attemptID, token)
		}()

		c.Next()
	}
}
