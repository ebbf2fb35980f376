package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/service"
)

const (
	ActivityBatchSize    = 50
	ActivityBatchTimeout = 2 * time.Second
	ActivityPollTimeout  = 1 * time.Second
)

// ActivityWorker drains activity_events_queue into the activity log and
// drops the affected students' cached unlock status.
type ActivityWorker struct {
	store service.ActivityStore
	cache service.ProgressCache
	rdb   *redis.Client
	log   zerolog.Logger
}

func NewActivityWorker(store service.ActivityStore, cache service.ProgressCache, rdb *redis.Client, log zerolog.Logger) *ActivityWorker {
	return &ActivityWorker{
		store: store,
		cache: cache,
		rdb:   rdb,
		log:   log.With().Str("component", "activity_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is cancelled, then flushes what it holds and
// drains the queue. Call in a goroutine.
func (w *ActivityWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ActivityWorker started")

	batch := make([]model.ActivityEntry, 0, ActivityBatchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= ActivityBatchSize || time.Since(lastFlush) >= ActivityBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("ActivityWorker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, ActivityPollTimeout, config.WorkerKey.ActivityEventsQueue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			if e, ok := w.decode(item[1]); ok {
				batch = append(batch, e)
			}
		}
	}
}

func (w *ActivityWorker) decode(raw string) (model.ActivityEntry, bool) {
	var e model.ActivityEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		return e, false
	}
	return e, true
}

// drain empties the queue without blocking, in batches.
func (w *ActivityWorker) drain(ctx context.Context) {
	for {
		items, err := w.rdb.LPopCount(ctx, config.WorkerKey.ActivityEventsQueue, ActivityBatchSize).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				w.log.Error().Err(err).Msg("Drain error")
			}
			return
		}
		batch := make([]model.ActivityEntry, 0, len(items))
		for _, raw := range items {
			if e, ok := w.decode(raw); ok {
				batch = append(batch, e)
			}
		}
		// Requeued entries would come straight back; leave them for next start.
		if requeued := w.flushSafe(ctx, batch); requeued > 0 || len(items) < ActivityBatchSize {
			return
		}
	}
}

// ----------------------------------------------------------------
// Batch insert wrapper
// ----------------------------------------------------------------

// flushSafe inserts the batch, falling back to single inserts, and
// returns how many entries were put back on the queue.
func (w *ActivityWorker) flushSafe(ctx context.Context, batch []model.ActivityEntry) int {
	if len(batch) == 0 {
		return 0
	}

	requeued := 0
	if err := w.store.InsertActivities(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk activity insert failed, using fallback")

		for _, e := range batch {
			if err := w.store.InsertActivities(ctx, []model.ActivityEntry{e}); err != nil {
				w.log.Error().Err(err).Int("student_id", e.StudentID).Msg("single insert failed, requeueing")
				raw, _ := json.Marshal(e)
				w.rdb.RPush(ctx, config.WorkerKey.ActivityEventsQueue, raw)
				requeued++
			}
		}
	}

	w.invalidate(ctx, batch)
	return requeued
}

// invalidate drops each affected student's cached progress once.
func (w *ActivityWorker) invalidate(ctx context.Context, batch []model.ActivityEntry) {
	seen := make(map[int]bool, len(batch))
	for _, e := range batch {
		if seen[e.StudentID] {
			continue
		}
		seen[e.StudentID] = true
		if err := w.cache.Invalidate(ctx, e.StudentID); err != nil {
			w.log.Warn().Err(err).Int("student_id", e.StudentID).Msg("cache invalidation failed")
		}
	}
}
