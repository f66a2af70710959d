// Package ratelimit paces outbound stub queries per upstream nameserver
// so a single resolution's retries can't hammer a slow or misbehaving
// referral target. This is a resolver-resilience concern, distinct from
// (and not a substitute for) incoming-client rate limiting.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces queries to upstream nameservers, one token bucket per
// server IP, created lazily on first use.
type Limiter struct {
	mu              sync.Mutex
	byServer        map[string]*rate.Limiter
	queriesPerSec   rate.Limit
	burstSize       int
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

// Config controls the per-server token bucket.
type Config struct {
	QueriesPerSecond float64       // default 20
	BurstSize        int           // default 10
	CleanupInterval  time.Duration // default 10 minutes
}

// DefaultConfig returns sensible defaults for a resolver issuing bursts of
// stub queries against authoritative servers.
func DefaultConfig() Config {
	return Config{
		QueriesPerSecond: 20,
		BurstSize:        10,
		CleanupInterval:  10 * time.Minute,
	}
}

// New returns a Limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.QueriesPerSecond == 0 {
		cfg.QueriesPerSecond = DefaultConfig().QueriesPerSecond
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = DefaultConfig().BurstSize
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	return &Limiter{
		byServer:        make(map[string]*rate.Limiter),
		queriesPerSec:   rate.Limit(cfg.QueriesPerSecond),
		burstSize:       cfg.BurstSize,
		lastCleanup:     time.Now(),
		cleanupInterval: cfg.CleanupInterval,
	}
}

// Allow reports whether a stub query to server may proceed now. A denied
// query should be treated by the resolver the same as any other
// retryable I/O failure from that nameserver, not as a fatal error.
func (l *Limiter) Allow(server net.IP) bool {
	key := server.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > l.cleanupInterval {
		l.byServer = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	limiter, ok := l.byServer[key]
	if !ok {
		limiter = rate.NewLimiter(l.queriesPerSec, l.burstSize)
		l.byServer[key] = limiter
	}
	return limiter.Allow()
}

// Tracked returns the number of upstream servers currently holding a
// token bucket, for metrics/diagnostics.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byServer)
}
