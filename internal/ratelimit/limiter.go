package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/smallbiznis/accessportal/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyEndpoint = "ratelimit:%s:%s"

// Limiter throttles unauthenticated or token-driven endpoints such as device
// verification and enrollment-token validation. Redis keeps the buckets
// shared across replicas; without it each process limits on its own.
type Limiter struct {
	enabled bool
	rate    float64
	burst   int

	bucket  *TokenBucket
	log     *zap.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

type LimiterParams struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Redis   *redis.Client    `optional:"true"`
	Metrics *metrics.Metrics `optional:"true"`
}

func NewLimiter(p LimiterParams) *Limiter {
	return &Limiter{
		enabled: p.Cfg.RateLimit.Enabled,
		rate:    p.Cfg.RateLimit.VerifyRate,
		burst:   p.Cfg.RateLimit.VerifyBurst,
		bucket:  NewTokenBucket(p.Redis),
		log:     p.Log.Named("ratelimit"),
		metrics: p.Metrics,
		local:   make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.enabled && l.rate > 0 && l.burst > 0
}

// Allow consumes one token for key on endpoint. RetryAfter is set when the
// request is denied.
func (l *Limiter) Allow(ctx context.Context, endpoint, key string) Result {
	if !l.Enabled() {
		return Result{Allowed: true}
	}
	bucketKey := fmt.Sprintf(keyEndpoint, endpoint, strings.TrimSpace(key))

	var res Result
	if l.bucket != nil {
		shared, err := l.bucket.Allow(ctx, bucketKey, l.rate, l.burst)
		if err == nil {
			res = *shared
		} else {
			l.log.Warn("redis rate limit failed, using local bucket", zap.String("endpoint", endpoint), zap.Error(err))
			res = l.allowLocal(bucketKey)
		}
	} else {
		res = l.allowLocal(bucketKey)
	}

	if !res.Allowed {
		l.metrics.RecordRateLimitDenied(ctx, endpoint)
	}
	return res
}

func (l *Limiter) allowLocal(key string) Result {
	l.mu.Lock()
	limiter, ok := l.local[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.rate), l.burst)
		l.local[key] = limiter
	}
	l.mu.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return Result{Allowed: false, Limit: l.burst, RetryAfter: delay}
	}
	return Result{Allowed: true, Limit: l.burst, Remaining: int(limiter.TokensAt(now))}
}
