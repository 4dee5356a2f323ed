package listener

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// handshakeRateLimiter throttles datagram handshake attempts with a
// two-level token bucket: per-source-address and global. Adapted from
// the per-IP + global rate.Limiter pattern in
// ws/internal/shared/limits/connection_rate_limiter.go, narrowed from
// general connection-rate limiting to guarding the shared UDP socket's
// handshake path against flooding (SPEC_FULL §3).
type handshakeRateLimiter struct {
	mu       sync.Mutex
	perAddr  map[string]*addrLimiter
	addrTTL  time.Duration
	addrRate float64
	addrBurst int

	global *rate.Limiter
}

type addrLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newHandshakeRateLimiter(addrBurst int, addrRate float64, globalBurst int, globalRate float64) *handshakeRateLimiter {
	if addrBurst <= 0 {
		addrBurst = 5
	}
	if addrRate <= 0 {
		addrRate = 1.0
	}
	if globalBurst <= 0 {
		globalBurst = 200
	}
	if globalRate <= 0 {
		globalRate = 50.0
	}
	return &handshakeRateLimiter{
		perAddr:   make(map[string]*addrLimiter),
		addrTTL:   5 * time.Minute,
		addrRate:  addrRate,
		addrBurst: addrBurst,
		global:    rate.NewLimiter(rate.Limit(globalRate), globalBurst),
	}
}

// Allow reports whether a handshake attempt from addrKey may proceed.
func (r *handshakeRateLimiter) Allow(addrKey string) bool {
	if !r.global.Allow() {
		return false
	}

	r.mu.Lock()
	entry, ok := r.perAddr[addrKey]
	if !ok {
		entry = &addrLimiter{limiter: rate.NewLimiter(rate.Limit(r.addrRate), r.addrBurst)}
		r.perAddr[addrKey] = entry
	}
	entry.lastAccess = time.Now()
	r.mu.Unlock()

	return entry.limiter.Allow()
}

// sweep evicts per-address limiters untouched for longer than addrTTL,
// so a long-lived listener doesn't accumulate one entry per ever-seen
// address.
func (r *handshakeRateLimiter) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for addr, entry := range r.perAddr {
		if now.Sub(entry.lastAccess) > r.addrTTL {
			delete(r.perAddr, addr)
		}
	}
}
