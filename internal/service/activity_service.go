package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
)

// Activity feed page bounds.
const (
	DefaultActivityLimit = 20
	MaxActivityLimit     = 100
)

// ActivityService serves the student activity feed.
type ActivityService struct {
	store ActivityStore
}

// NewActivityService creates a new ActivityService.
func NewActivityService(store ActivityStore) *ActivityService {
	return &ActivityService{store: store}
}

// List returns the most recent entries, newest first.
func (s *ActivityService) List(ctx context.Context, studentID, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	limit = min(limit, MaxActivityLimit)
	entries, err := s.store.ListActivities(ctx, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return entries, nil
}

// RedisEventPublisher queues activity events for the activity worker.
type RedisEventPublisher struct {
	rdb *redis.Client
}

// NewRedisEventPublisher creates a new RedisEventPublisher.
func NewRedisEventPublisher(rdb *redis.Client) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, entry model.ActivityEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return p.rdb.RPush(ctx, config.WorkerKey.ActivityEventsQueue, raw).Err()
}

// DirectEventPublisher writes activity events straight to the store.
// Used when Redis is not configured.
type DirectEventPublisher struct {
	store ActivityStore
}

// NewDirectEventPublisher creates a new DirectEventPublisher.
func NewDirectEventPublisher(store ActivityStore) *DirectEventPublisher {
	return &DirectEventPublisher{store: store}
}

func (p *DirectEventPublisher) Publish(ctx context.Context, entry model.ActivityEntry) error {
	return p.store.InsertActivities(ctx, []model.ActivityEntry{entry})
}
