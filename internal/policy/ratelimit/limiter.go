// Package ratelimit throttles outbound requests with one token bucket per
// upstream host. The search and product hosts of the site are throttled
// independently.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

// Config sets the per-host bucket. RPS <= 0 disables throttling.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter hands out per-host token buckets on first use.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New returns a Limiter for cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{limit: rate.Inf, burst: max(cfg.Burst, 1), buckets: map[string]*rate.Limiter{}}
	if cfg.RPS > 0 {
		l.limit = rate.Limit(cfg.RPS)
	}
	return l
}

// Wait blocks until rawURL's host may be contacted again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostKey(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[host] = b
	}
	return b
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
