package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatgate/internal/pkg/errors"
	"chatgate/internal/platform/config"
)

type RateLimiter struct {
	store *sync.Map // map[string]*bucket
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
}

type bucket struct {
	lim *rate.Limiter
	mu  sync.Mutex
	// lastAccess drives eviction of idle keys
	lastAccess time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		store: &sync.Map{},
		limit: rate.Limit(cfg.PerSecond),
		burst: burst,
		idle:  10 * time.Minute,
		now:   time.Now,
	}
}

// Run evicts idle buckets until stop is closed.
func (rl *RateLimiter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

func (rl *RateLimiter) evict() {
	now := rl.now()
	rl.store.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastAccess) > rl.idle {
			rl.store.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}

// Reserve takes one token for key and reports how long the caller must wait
// when none is available.
func (rl *RateLimiter) Reserve(key string) (bool, time.Duration) {
	now := rl.now()

	val, _ := rl.store.LoadOrStore(key, &bucket{
		lim:        rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	})
	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAccess = now

	if b.lim.AllowN(now, 1) {
		return true, 0
	}

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	wait := res.DelayFrom(now)
	res.CancelAt(now)
	return false, wait
}

// Handle limits per API key, or per client address for unauthenticated
// traffic. It must run after AuthMiddleware to see the key.
func (rl *RateLimiter) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rl.limit <= 0 {
			next(w, r)
			return
		}

		var key string
		if id := IdentityFrom(r.Context()); id != nil {
			key = fmt.Sprintf("key:%d", id.KeyID)
		} else if c := ClaimsFrom(r.Context()); c != nil {
			key = fmt.Sprintf("user:%d", c.UserID)
		} else {
			key = "ip:" + remoteHost(r)
		}

		ok, wait := rl.Reserve(key)
		if !ok {
			seconds := int(math.Ceil(wait.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
			return
		}

		next(w, r)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
