package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/lessonpath/internal/config"
)

// StreamLock binds an attempt to at most one live stream. Acquire hands out
// a token; Release with a stale token leaves the current holder alone.
type StreamLock interface {
	Acquire(ctx context.Context, attemptID string) (token string, ok bool, err error)
	Release(ctx context.Context, attemptID, token string) error
}

// releaseIfOwner deletes KEYS[1] only while it still holds ARGV[1].
var releaseIfOwner = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStreamLock holds the binding in Redis so it spans server instances.
// The TTL bounds how long a crashed instance can keep an attempt bound; an
// attempt is finalized by then, so no live stream outlasts it.
type RedisStreamLock struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStreamLock creates a RedisStreamLock.
func NewRedisStreamLock(rdb *redis.Client, ttl time.Duration) *RedisStreamLock {
	return &RedisStreamLock{rdb: rdb, ttl: ttl}
}

func (l *RedisStreamLock) Acquire(ctx context.Context, attemptID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, config.CacheKey.AttemptLiveKey(attemptID), token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (l *RedisStreamLock) Release(ctx context.Context, attemptID, token string) error {
	return releaseIfOwner.Run(ctx, l.rdb, []string{config.CacheKey.AttemptLiveKey(attemptID)}, token).Err()
}

// LocalStreamLock is the single-process fallback used without Redis.
type LocalStreamLock struct {
	mu   sync.Mutex
	held map[string]string
}

// NewLocalStreamLock creates a LocalStreamLock.
func NewLocalStreamLock() *LocalStreamLock {
	return &LocalStreamLock{held: make(map[string]string)}
}

func (l *LocalStreamLock) Acquire(_ context.Context, attemptID string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[attemptID]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[attemptID] = token
	return token, true, nil
}

func (l *LocalStreamLock) Release(_ context.Context, attemptID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[attemptID] == token {
		delete(l.held, attemptID)
	}
	return nil
}
