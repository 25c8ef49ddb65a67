package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Options configures the limiter backends.
type Options struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Manager selects a limiter backend and enforces rate limits. When Redis
// is configured but unavailable it falls back to the in-memory limiter
// for a breaker window instead of failing requests.
type Manager struct {
	opts          Options
	nowFn         func() time.Time
	memoryLimiter Limiter

	mu           sync.Mutex
	redisLimiter *RedisLimiter
	breakerUntil time.Time
}

// NewManager constructs a Manager. A nil nowFn defaults to time.Now.
func NewManager(opts Options, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Manager{
		opts:          opts,
		nowFn:         nowFn,
		memoryLimiter: NewMemoryLimiter(),
	}
	if addr := strings.TrimSpace(opts.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		m.redisLimiter = NewRedisLimiter(client, opts.RedisPrefix)
	}
	return m
}

// Allow checks whether the request should be allowed using the best
// available backend.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()

	if m.redisLimiter != nil && !m.isBreakerActive(now) {
		result, errAllow := m.redisLimiter.Allow(ctx, key, limit, now)
		if errAllow == nil {
			return result, nil
		}
		m.tripBreaker(errAllow, now)
	}
	return m.memoryLimiter.Allow(ctx, key, limit, now)
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}
