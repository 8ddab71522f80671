package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// limiterPool holds one token bucket per client IP. Buckets for idle clients
// are dropped by a periodic sweep so the map stays bounded.
type limiterPool struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*clientBucket
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func (p *limiterPool) allow(ip string) bool {
	p.mu.Lock()
	b, ok := p.buckets[ip]
	if !ok {
		b = &clientBucket{bucket: rate.NewLimiter(p.rps, p.burst)}
		p.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	p.mu.Unlock()

	return b.bucket.Allow()
}

func (p *limiterPool) sweep() {
	for {
		time.Sleep(limiterSweepEvery)
		p.mu.Lock()
		for ip, b := range p.buckets {
			if time.Since(b.lastSeen) > limiterIdleAfter {
				delete(p.buckets, ip)
			}
		}
		p.mu.Unlock()
	}
}

// RateLimiter returns gin middleware enforcing a per-client-IP token bucket:
// rps steady-state requests per second with the given burst. Rejections get
// a 429 with a Retry-After hint.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	pool := &limiterPool{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*clientBucket),
	}
	go pool.sweep()

	return func(c *gin.Context) {
		if !pool.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
