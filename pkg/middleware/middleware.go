package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-swap/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limits are per client requests per minute for each endpoint type. Zero
// disables limiting for that type.
type Limits struct {
	SubmitPerMinute int
	ReadPerMinute   int
}

// DefaultLimits matches the execution queue's 100 orders per minute
func DefaultLimits() Limits {
	return Limits{
		SubmitPerMinute: 100,
		ReadPerMinute:   1000,
	}
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.Mutex
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

// perMinute converts n requests per minute; zero or less, including health
// and websocket routes, is unlimited
func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

func getLimiter(limits Limits, path, clientIP string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientIP + ":" + path
	v, exists := visitors[key]

	if !exists {
		var perMin int
		switch {
		case strings.HasPrefix(path, "/api/orders/execute"):
			perMin = limits.SubmitPerMinute
		case strings.HasPrefix(path, "/api/"):
			perMin = limits.ReadPerMinute
		}

		// a full minute's allowance may arrive at once, as in the job runner
		v = &visitor{
			limiter:  rate.NewLimiter(perMinute(perMin), max(perMin, 1)),
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for key, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, key)
			}
		}
		mu.Unlock()
	}
}

// RateLimit throttles each client per endpoint type
func RateLimit(limits Limits) gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := getLimiter(limits, c.FullPath(), c.ClientIP())
		if !limiter.Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequestLogger logs every request through zerolog
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}
