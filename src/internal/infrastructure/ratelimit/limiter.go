// Package ratelimit limits how often each peer may open connections or
// send requests to a network endpoint.
package ratelimit

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"

	"github.com/kodflow/project-host/src/internal/infrastructure/logger"
)

// ErrLimited is returned when a peer exceeds its rate.
var ErrLimited = errors.New("rate limit exceeded")

// RateLimiter keeps one token bucket per peer identifier.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	lastSeen map[string]time.Time
	maxSize  int // Maximum number of limiters to keep in memory
	clock    clock.Clock
	stop     chan struct{}
	stopOnce sync.Once
}

// Config holds rate limiter configuration.
type Config struct {
	RequestsPerSecond int           // Requests allowed per second
	Burst             int           // Maximum burst size
	TTL               time.Duration // How long to keep idle limiters in memory
	MaxPeers          int           // Maximum number of tracked peers
}

// DefaultConfig returns a reasonable default configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             20,
		TTL:               15 * time.Minute,
		MaxPeers:          10000,
	}
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop
// to end the loop.
func NewRateLimiter(cfg Config, clk clock.Clock) *RateLimiter {
	defaults := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = defaults.MaxPeers
	}
	if clk == nil {
		clk = clock.WallClock
	}

	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
		ttl:      cfg.TTL,
		lastSeen: make(map[string]time.Time),
		maxSize:  cfg.MaxPeers,
		clock:    clk,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether identifier may proceed now.
func (rl *RateLimiter) Allow(identifier string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	limiter, exists := rl.limiters[identifier]
	if !exists {
		if len(rl.limiters) >= rl.maxSize {
			rl.evictOldest()
		}
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[identifier] = limiter
	}
	rl.lastSeen[identifier] = now
	rl.mu.Unlock()

	allowed := limiter.AllowN(now, 1)
	if !allowed {
		logger.WithField("peer", identifier).Warn("Rate limit exceeded")
	}
	return allowed
}

// PeerID returns the identifier of a remote address: the IP for TCP
// peers, the whole address otherwise.
func PeerID(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

// AllowConn returns ErrLimited when the peer of conn is over its rate.
func (rl *RateLimiter) AllowConn(conn net.Conn) error {
	if !rl.Allow(PeerID(conn.RemoteAddr())) {
		return ErrLimited
	}
	return nil
}

// evictOldest removes the least recently seen peer.
func (rl *RateLimiter) evictOldest() {
	var oldestID string
	var oldestTime time.Time
	first := true

	for id, lastSeen := range rl.lastSeen {
		if first || lastSeen.Before(oldestTime) {
			oldestID = id
			oldestTime = lastSeen
			first = false
		}
	}

	if !first {
		delete(rl.limiters, oldestID)
		delete(rl.lastSeen, oldestID)
	}
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.stop:
			return
		case <-rl.clock.After(time.Minute):
			rl.Cleanup()
		}
	}
}

// Cleanup drops peers idle for longer than the TTL and returns how many
// were dropped.
func (rl *RateLimiter) Cleanup() int {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for identifier, lastSeen := range rl.lastSeen {
		if now.Sub(lastSeen) > rl.ttl {
			delete(rl.limiters, identifier)
			delete(rl.lastSeen, identifier)
			dropped++
		}
	}

	if dropped > 0 {
		logger.WithField("count", dropped).Debug("Cleaned up inactive rate limiters")
	}
	return dropped
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Stats returns statistics about current rate limiters.
func (rl *RateLimiter) Stats() map[string]interface{} {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return map[string]interface{}{
		"active_limiters":  len(rl.limiters),
		"limit_per_second": int(rl.limit),
		"burst_size":       rl.burst,
		"ttl_minutes":      int(rl.ttl.Minutes()),
	}
}
