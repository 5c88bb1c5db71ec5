package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled at a fixed rate.
type RateLimiter struct {
	tokens     int
	capacity   int
	refillRate time.Duration
	lastRefill time.Time
	mutex      sync.Mutex
}

func NewRateLimiter(capacity int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)

	tokensToAdd := int(elapsed / rl.refillRate)
	if tokensToAdd > 0 {
		rl.tokens += tokensToAdd
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
		rl.lastRefill = now
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}

	return false
}

// RateLimitStore keeps one limiter per client key and evicts idle ones.
type RateLimitStore struct {
	limiters   map[string]*RateLimiter
	mutex      sync.RWMutex
	capacity   int
	refillRate time.Duration
	cleanup    time.Duration
}

func NewRateLimitStore(capacity int, refillRate time.Duration) *RateLimitStore {
	store := &RateLimitStore{
		limiters:   make(map[string]*RateLimiter),
		capacity:   capacity,
		refillRate: refillRate,
		cleanup:    10 * time.Minute,
	}

	go store.cleanupRoutine()

	return store
}

func (rls *RateLimitStore) getLimiter(key string) *RateLimiter {
	rls.mutex.RLock()
	limiter, exists := rls.limiters[key]
	rls.mutex.RUnlock()

	if exists {
		return limiter
	}

	rls.mutex.Lock()
	defer rls.mutex.Unlock()

	if limiter, exists := rls.limiters[key]; exists {
		return limiter
	}

	limiter = NewRateLimiter(rls.capacity, rls.refillRate)
	rls.limiters[key] = limiter
	return limiter
}

func (rls *RateLimitStore) cleanupRoutine() {
	ticker := time.NewTicker(rls.cleanup)
	defer ticker.Stop()

	for range ticker.C {
		rls.mutex.Lock()
		now := time.Now()
		for key, limiter := range rls.limiters {
			limiter.mutex.Lock()
			if now.Sub(limiter.lastRefill) > rls.cleanup {
				delete(rls.limiters, key)
			}
			limiter.mutex.Unlock()
		}
		rls.mutex.Unlock()
	}
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return "ip:" + strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

// RateLimit rejects clients that exhaust their token bucket.
func RateLimit(store *RateLimitStore) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			limiter := store.getLimiter(clientKey(r))

			if !limiter.Allow() {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(store.capacity))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", store.refillRate.Seconds()))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		}
	}
}
