package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/aura/types"
)

// =============================================================================
// 🚦 限流
// =============================================================================

const (
	limiterSweepEvery = time.Minute
	limiterIdleTTL    = 3 * time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet 每个调用方一个令牌桶
type limiterSet struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiterSet(rps float64, burst int) *limiterSet {
	return &limiterSet{rps: rate.Limit(rps), burst: burst, buckets: make(map[string]*bucket)}
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(s.rps, s.burst)}
		s.buckets[key] = b
	}
	b.seen = now
	s.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// sweep 丢弃 idle 之前就不再出现的调用方，返回剩余数量
func (s *limiterSet) sweep(now time.Time, idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if now.Sub(b.seen) > idle {
			delete(s.buckets, key)
		}
	}
	return len(s.buckets)
}

// RateLimiter 按调用方限流：认证后的请求按用户计，其余按来源 IP 计。
// rps<=0 时不限流；清理协程随 ctx 退出。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	set := newLimiterSet(rps, max(burst, 1))
	go func() {
		t := time.NewTicker(limiterSweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				set.sweep(now, limiterIdleTTL)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			if !set.allow(key, time.Now()) {
				logger.Debug("rate limited", zap.String("caller", key), zap.String("route", routeLabel(r.URL.Path)))
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, types.ErrRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if user, ok := types.UserID(r.Context()); ok {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
