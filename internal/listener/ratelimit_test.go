package listener

import (
	"testing"
	"time"
)

func TestHandshakeRateLimiterAllowsWithinBurst(t *testing.T) {
	r := newHandshakeRateLimiter(3, 1.0, 100, 50.0)
	for i := 0; i < 3; i++ {
		if !r.Allow("1.2.3.4:1111") {
			t.Fatalf("expected attempt %d within burst to be allowed", i)
		}
	}
	if r.Allow("1.2.3.4:1111") {
		t.Fatal("expected attempt beyond burst to be denied")
	}
}

func TestHandshakeRateLimiterPerAddrIsolation(t *testing.T) {
	r := newHandshakeRateLimiter(1, 0.1, 100, 50.0)
	if !r.Allow("addr-a") {
		t.Fatal("expected first attempt from addr-a to be allowed")
	}
	if !r.Allow("addr-b") {
		t.Fatal("expected first attempt from addr-b to be allowed, independent of addr-a's bucket")
	}
}

func TestHandshakeRateLimiterGlobalCapOverridesPerAddr(t *testing.T) {
	r := newHandshakeRateLimiter(10, 10.0, 1, 0.1)
	if !r.Allow("addr-a") {
		t.Fatal("expected first global token to be available")
	}
	if r.Allow("addr-b") {
		t.Fatal("expected global limiter to deny a second address once its single token is spent")
	}
}

func TestHandshakeRateLimiterSweepEvictsStaleEntries(t *testing.T) {
	r := newHandshakeRateLimiter(5, 1.0, 100, 50.0)
	r.addrTTL = time.Millisecond
	r.Allow("stale-addr")

	time.Sleep(5 * time.Millisecond)
	r.sweep(time.Now())

	r.mu.Lock()
	_, exists := r.perAddr["stale-addr"]
	r.mu.Unlock()
	if exists {
		t.Fatal("expected stale entry to be evicted by sweep")
	}
}
