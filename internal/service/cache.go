package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
)

const (
	// quizPayloadTTL bounds how long a quiz payload is served from Redis.
	quizPayloadTTL = time.Hour
	// unlockVersionTTL keeps a student's version counter well past any
	// in-flight computation.
	unlockVersionTTL = 24 * time.Hour
)

// setIfVersion writes KEYS[2] only while KEYS[1] still holds ARGV[1].
// A missing counter reads as version 0.
var setIfVersion = redis.NewScript(`
local current = redis.call("GET", KEYS[1]) or "0"
if current ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// RedisCache implements ProgressCache and QuizPayloadCache on Redis.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a RedisCache; ttl applies to unlock status entries.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) UnlockStatusVersion(ctx context.Context, studentID int) (int64, error) {
	v, err := c.rdb.Get(ctx, config.CacheKey.StudentUnlockVersionKey(studentID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCache) GetUnlockStatus(ctx context.Context, studentID int) ([]model.LessonStatus, bool, error) {
	var statuses []model.LessonStatus
	ok, err := c.getJSON(ctx, config.CacheKey.StudentUnlockStatusKey(studentID), &statuses)
	return statuses, ok, err
}

func (c *RedisCache) SetUnlockStatus(ctx context.Context, studentID int, version int64, statuses []model.LessonStatus) error {
	raw, err := json.Marshal(statuses)
	if err != nil {
		return err
	}
	keys := []string{
		config.CacheKey.StudentUnlockVersionKey(studentID),
		config.CacheKey.StudentUnlockStatusKey(studentID),
	}
	return setIfVersion.Run(ctx, c.rdb, keys, strconv.FormatInt(version, 10), raw, c.ttl.Milliseconds()).Err()
}

// Invalidate bumps the version and drops the entry in one transaction.
func (c *RedisCache) Invalidate(ctx context.Context, studentID int) error {
	versionKey := config.CacheKey.StudentUnlockVersionKey(studentID)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, unlockVersionTTL)
		pipe.Del(ctx, config.CacheKey.StudentUnlockStatusKey(studentID))
		return nil
	})
	return err
}

func (c *RedisCache) GetQuizPayload(ctx context.Context, quizID uuid.UUID) (*model.QuizForStudent, bool, error) {
	var payload model.QuizForStudent
	ok, err := c.getJSON(ctx, config.CacheKey.QuizPayloadKey(quizID.String()), &payload)
	if !ok || err != nil {
		return nil, false, err
	}
	return &payload, true, nil
}

func (c *RedisCache) SetQuizPayload(ctx context.Context, quizID uuid.UUID, payload *model.QuizForStudent) error {
	return c.setJSON(ctx, config.CacheKey.QuizPayloadKey(quizID.String()), payload, quizPayloadTTL)
}

func (c *RedisCache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// Corrupt entry; drop it so the next read rebuilds.
		c.rdb.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *RedisCache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// NopCache disables caching when Redis is not configured.
type NopCache struct{}

func (NopCache) UnlockStatusVersion(context.Context, int) (int64, error) { return 0, nil }

func (NopCache) GetUnlockStatus(context.Context, int) ([]model.LessonStatus, bool, error) {
	return nil, false, nil
}

func (NopCache) SetUnlockStatus(context.Context, int, int64, []model.LessonStatus) error { return nil }

func (NopCache) Invalidate(context.Context, int) error { return nil }

func (NopCache) GetQuizPayload(context.Context, uuid.UUID) (*model.QuizForStudent, bool, error) {
	return nil, false, nil
}

func (NopCache) SetQuizPayload(context.Context, uuid.UUID, *model.QuizForStudent) error { return nil }
