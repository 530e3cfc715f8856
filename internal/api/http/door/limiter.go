package door

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// limiterIdleTTL is how long an idle client keeps its bucket.
	limiterIdleTTL = 10 * time.Minute
	// limiterSweepEvery is the number of hits between two idle sweeps.
	limiterSweepEvery = 512
)

// clientLimiter applies a token bucket per client address and evicts idle ones.
type clientLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*bucket
	hits    uint64
	idleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newClientLimiter returns nil, which allows everything, when rps or burst is not positive.
func newClientLimiter(rps float64, burst int) *clientLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}

	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*bucket),
		idleTTL: limiterIdleTTL,
	}
}

// allow reports whether the client may make one more request at now.
func (l *clientLimiter) allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.byKey[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = b
	}

	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%limiterSweepEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	return allowed
}
