package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const (
	bucketIdleTTL = 10 * time.Minute
	sweepEvery    = 5 * time.Minute
)

// RatePolicy is a token bucket: Rate requests per second refill a bucket
// holding at most Burst.
type RatePolicy struct {
	Rate  float64
	Burst int
}

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(c echo.Context) string

// PerClient keys by authenticated user when known, by client IP otherwise.
// Mounted before Auth it always keys by IP.
func PerClient(c echo.Context) string {
	if id := UserID(c); id != "" {
		return "user:" + id
	}
	return "ip:" + c.RealIP()
}

// PerJobOwner keys export creation by the user who will own the job. Each
// creation starts a full export on a worker, so it draws from a bucket
// separate from the user's polling and downloads.
func PerJobOwner(c echo.Context) string {
	return "create:" + PerClient(c)
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// buckets holds one limiter per key. Idle buckets are dropped lazily on
// access, so memory stays bounded without a background goroutine.
type buckets struct {
	policy RatePolicy
	now    func() time.Time

	mu        sync.Mutex
	m         map[string]*bucket
	lastSweep time.Time
}

func newBuckets(p RatePolicy) *buckets {
	return &buckets{policy: p, now: time.Now, m: make(map[string]*bucket)}
}

// take draws one token for key. It returns the wait before the next token
// when the bucket is empty.
func (b *buckets) take(key string) (time.Duration, bool) {
	now := b.now()
	b.mu.Lock()
	if now.Sub(b.lastSweep) >= sweepEvery {
		for k, bk := range b.m {
			if now.Sub(bk.seen) > bucketIdleTTL {
				delete(b.m, k)
			}
		}
		b.lastSweep = now
	}
	bk, ok := b.m[key]
	if !ok {
		bk = &bucket{lim: rate.NewLimiter(rate.Limit(b.policy.Rate), b.policy.Burst)}
		b.m[key] = bk
	}
	bk.seen = now
	b.mu.Unlock()

	r := bk.lim.ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// RateLimit rejects requests with 429 and a Retry-After header once the
// bucket chosen by key is empty.
func RateLimit(p RatePolicy, key KeyFunc) echo.MiddlewareFunc {
	return rateLimit(newBuckets(p), key)
}

func rateLimit(b *buckets, key KeyFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			wait, ok := b.take(key(c))
			if !ok {
				if wait > 0 {
					c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				}
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
