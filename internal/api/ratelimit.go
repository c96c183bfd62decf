// internal/api/ratelimit.go
package api

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxClients bounds the limiter table; it is cleared when full.
const maxClients = 10000

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond float64
	burstSize         int
}

// NewRateLimiter creates a limiter. Non-positive values disable limiting.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burstSize:         burst,
	}
}

// Enabled reports whether requests are limited at all.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.requestsPerSecond > 0 && rl.burstSize > 0
}

// Limit returns the configured burst, used for the limit header.
func (rl *RateLimiter) Limit() int {
	return rl.burstSize
}

// Allow consumes a token for client and reports the tokens left.
func (rl *RateLimiter) Allow(client string) (bool, int) {
	if !rl.Enabled() {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.limiters) >= maxClients {
		rl.limiters = make(map[string]*rate.Limiter)
	}
	limiter, exists := rl.limiters[client]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(rl.requestsPerSecond), rl.burstSize)
		rl.limiters[client] = limiter
	}

	ok := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return ok, remaining
}
