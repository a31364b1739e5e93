package middleware

import (
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// ErrTooManyRequests 触发限流
var ErrTooManyRequests = errors.New(1029, "Too Many Requests", http.StatusTooManyRequests)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每个 key 每秒补充的令牌数
	RequestsPerSecond float64

	// Burst 桶容量
	Burst int

	// KeyFunc 限流 key，默认客户端 IP
	KeyFunc func(c *relay.Context) string

	Logger logger.Logger

	// BucketExpiry 超过该时间未访问的桶被回收
	BucketExpiry time.Duration

	now func() time.Time
}

// tokenBucket 令牌桶，由 limiter.mu 保护
type tokenBucket struct {
	tokens float64
	last   time.Time
}

type limiter struct {
	mu          sync.Mutex
	rate        float64
	burst       float64
	expiry      time.Duration
	buckets     map[string]*tokenBucket
	lastCleanup time.Time
}

// allow 补充令牌后尝试取一个；顺带回收过期的桶，不需要后台协程
func (l *limiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.expiry {
		for k, b := range l.buckets {
			if now.Sub(b.last) > l.expiry {
				delete(l.buckets, k)
			}
		}
		l.lastCleanup = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}

	b.tokens = min(l.burst, b.tokens+now.Sub(b.last).Seconds()*l.rate)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter 按 key 的令牌桶限流，用于握手与签发 token 等入口
func RateLimiter(cfg RateLimiterConfig) relay.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
	}
	if cfg.BucketExpiry <= 0 {
		cfg.BucketExpiry = 10 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *relay.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	l := &limiter{
		rate:        cfg.RequestsPerSecond,
		burst:       float64(cfg.Burst),
		expiry:      cfg.BucketExpiry,
		buckets:     make(map[string]*tokenBucket),
		lastCleanup: cfg.now(),
	}

	return func(c *relay.Context) {
		key := cfg.KeyFunc(c)
		if l.allow(key, cfg.now()) {
			c.Next()
			return
		}
		cfg.Logger.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Request().URL.Path))
		c.RespondError(ErrTooManyRequests)
		c.Abort()
	}
}
