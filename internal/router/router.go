package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/handler"
	"github.com/stemsi/lessonpath/internal/middleware"
	"github.com/stemsi/lessonpath/internal/response"
	"github.com/stemsi/lessonpath/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Progress *handler.ProgressHandler
	Attempt  *handler.AttemptHandler
	Activity *handler.ActivityHandler
	WS       *handler.WSHandler
	System   *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	streamLocks service.StreamLock,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:   middleware.DefaultBrotliConfig.Quality,
		MinLength: middleware.DefaultBrotliConfig.MinLength,
		Skipper:   middleware.SkipPaths("/health"),
	}))

	// Health check.
	router.GET("/health", handlers.System.Health)

	// Writes that a misbehaving client could hammer (autosave loops).
	writeLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.NoStore(),
		middleware.RequireStudentJWT(authService),
	)
	{
		// Lessons and progression
		studentAPI.GET("/lessons/unlock-status", handlers.Progress.GetUnlockStatus)
		studentAPI.GET("/lessons/:lesson_id", handlers.Progress.GetLesson)
		studentAPI.GET("/lessons/:lesson_id/progress", handlers.Progress.GetLessonProgress)
		studentAPI.GET("/lessons/:lesson_id/quiz", handlers.Attempt.GetLessonQuiz)
		studentAPI.GET("/videos/:video_id", handlers.Progress.GetVideo)
		studentAPI.GET("/progress/summary", handlers.Progress.GetSummary)
		studentAPI.POST("/progress/slides/read", writeLimiter.Middleware(), handlers.Progress.MarkSlideRead)
		studentAPI.POST("/progress/videos/watched", writeLimiter.Middleware(), handlers.Progress.MarkVideoWatched)

		// Quizzes
		studentAPI.GET("/quizzes/:quiz_id", handlers.Attempt.GetQuiz)
		studentAPI.GET("/quizzes/:quiz_id/can-attempt", handlers.Attempt.CanAttempt)
		studentAPI.GET("/quizzes/:quiz_id/attempts/current", handlers.Attempt.GetCurrentAttempt)
		studentAPI.GET("/quizzes/:quiz_id/attempts", handlers.Attempt.ListAttempts)
		studentAPI.POST("/quizzes/:quiz_id/attempts", handlers.Attempt.StartAttempt)

		// Attempts
		studentAPI.GET("/attempts", handlers.Attempt.ListMyAttempts)
		studentAPI.GET("/attempts/:attempt_id", handlers.Attempt.GetAttempt)
		studentAPI.PUT("/attempts/:attempt_id/progress", writeLimiter.Middleware(), handlers.Attempt.SaveProgress)
		studentAPI.POST("/attempts/:attempt_id/submit", writeLimiter.Middleware(), handlers.Attempt.SubmitAttempt)

		// Activity feed
		studentAPI.GET("/activity", handlers.Activity.ListActivity)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream",
			middleware.SingleAttemptStream(streamLocks, "attempt_id"),
			handlers.WS.AttemptStream,
		)
	}

	return router
}
