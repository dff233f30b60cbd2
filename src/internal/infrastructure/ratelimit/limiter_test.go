package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, cfg Config) (*RateLimiter, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(epoch)
	rl := NewRateLimiter(cfg, clk)
	t.Cleanup(rl.Stop)
	return rl, clk
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestsPerSecond != 10 || cfg.Burst != 20 || cfg.TTL != 15*time.Minute || cfg.MaxPeers != 10000 {
		t.Errorf("DefaultConfig() = %+v", cfg)
	}

	rl, _ := newLimiter(t, Config{})
	stats := rl.Stats()
	if stats["limit_per_second"] != 10 || stats["burst_size"] != 20 {
		t.Errorf("zero config should fall back to defaults, got %v", stats)
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, clk := newLimiter(t, Config{RequestsPerSecond: 1, Burst: 3, TTL: time.Minute})

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst was refused", i)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst was allowed")
	}

	// Other peers have their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("independent peer was refused")
	}

	// Tokens refill with time.
	clk.Advance(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("request after refill was refused")
	}
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl, _ := newLimiter(t, Config{RequestsPerSecond: 1, Burst: 50})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("peer") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly the burst of 50", allowed)
	}
}

func TestRateLimiter_EvictOldest(t *testing.T) {
	rl, clk := newLimiter(t, Config{MaxPeers: 3})

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("peer-%d", i))
		clk.Advance(time.Second)
	}
	rl.Allow("peer-3")

	rl.mu.RLock()
	_, oldest := rl.limiters["peer-0"]
	_, newest := rl.limiters["peer-3"]
	size := len(rl.limiters)
	rl.mu.RUnlock()

	if oldest || !newest || size != 3 {
		t.Errorf("after eviction: peer-0 kept=%v, peer-3 kept=%v, size=%d", oldest, newest, size)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clk := newLimiter(t, Config{TTL: 5 * time.Minute})

	rl.Allow("idle")
	clk.Advance(4 * time.Minute)
	rl.Allow("active")
	clk.Advance(2 * time.Minute)

	if got := rl.Cleanup(); got != 1 {
		t.Errorf("Cleanup() = %d, want 1", got)
	}
	if got := rl.Stats()["active_limiters"]; got != 1 {
		t.Errorf("active_limiters = %v, want 1", got)
	}
}

func TestRateLimiter_CleanupLoop(t *testing.T) {
	rl, clk := newLimiter(t, Config{TTL: time.Minute})
	rl.Allow("idle")

	// Wait for the loop to block on the clock, then pass the TTL and
	// one cleanup tick.
	if err := clk.WaitAdvance(2*time.Minute, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rl.Stats()["active_limiters"] == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("cleanup loop did not drop the idle peer")
}

type addr string

func (a addr) Network() string { return "test" }
func (a addr) String() string  { return string(a) }

func TestPeerID(t *testing.T) {
	tests := []struct {
		addr net.Addr
		want string
	}{
		{addr: &net.TCPAddr{IP: net.ParseIP("192.168.1.5"), Port: 4242}, want: "192.168.1.5"},
		{addr: &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}, want: "::1"},
		{addr: addr("pipe"), want: "pipe"},
		{addr: nil, want: "unknown"},
	}

	for _, tt := range tests {
		if got := PeerID(tt.addr); got != tt.want {
			t.Errorf("PeerID(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func TestRateLimiter_AllowConn(t *testing.T) {
	rl, _ := newLimiter(t, Config{RequestsPerSecond: 1, Burst: 1})

	srv, cli := net.Pipe()
	defer srv.Close()
	defer cli.Close()

	if err := rl.AllowConn(srv); err != nil {
		t.Fatalf("first AllowConn() = %v", err)
	}
	if err := rl.AllowConn(srv); !errors.Is(err, ErrLimited) {
		t.Errorf("second AllowConn() = %v, want ErrLimited", err)
	}
}
