package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/response"
)

const healthTimeout = 2 * time.Second

// Pinger is satisfied by both store backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler reports liveness and runtime stats.
type SystemHandler struct {
	store     Pinger
	rdb       *redis.Client
	cfg       *config.Config
	startTime time.Time
	log       zerolog.Logger
}

func NewSystemHandler(store Pinger, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		store:     store,
		rdb:       rdb,
		cfg:       cfg,
		startTime: time.Now(),
		log:       log.With().Str("component", "system_handler").Logger(),
	}
}

type healthStatus struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
	Redis    string `json:"redis"`

	DBDriver        string `json:"db_driver"`
	AttemptDuration int    `json:"attempt_duration_seconds"`

	GoVersion     string `json:"go_version"`
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
	QueueActivity int64  `json:"queue_activity"`
}

// Health godoc
// GET /health
// Reports 503 when the store is unreachable. Redis is optional and only
// degrades the status.
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	s := healthStatus{
		Status:          "ok",
		Uptime:          formatDuration(time.Since(h.startTime)),
		Database:        "ok",
		Redis:           "disabled",
		DBDriver:        h.cfg.DBDriver,
		AttemptDuration: h.cfg.AttemptDurationSeconds(),
		GoVersion:       runtime.Version(),
		Goroutines:      runtime.NumGoroutine(),
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.HeapAlloc = ms.HeapAlloc
	s.NumGC = ms.NumGC

	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.log.Error().Err(err).Msg("Store ping failed")
		s.Status = "unavailable"
		s.Database = "down"
		code = http.StatusServiceUnavailable
	}

	if h.rdb != nil {
		pipe := h.rdb.Pipeline()
		ping := pipe.Ping(ctx)
		queue := pipe.LLen(ctx, config.WorkerKey.ActivityEventsQueue)
		_, _ = pipe.Exec(ctx)
		if ping.Err() != nil {
			s.Redis = "down"
			if code == http.StatusOK {
				s.Status = "degraded"
			}
		} else {
			s.Redis = "ok"
			s.QueueActivity, _ = queue.Result()
		}
	}

	response.Success(c, code, s)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
