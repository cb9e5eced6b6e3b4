package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter implements rate limiting for API endpoints
type RateLimiter struct {
	ipLimiters    map[string]*rate.Limiter
	userLimiters  map[string]*rate.Limiter
	ipMutex       sync.Mutex
	userMutex     sync.Mutex
	ipRate        rate.Limit
	userRate      rate.Limit
	ipBurst       int
	userBurst     int
	cleanupTicker *time.Ticker
	done          chan struct{}
	stopOnce      sync.Once
}

// NewRateLimiter creates a new rate limiter. ipRequestsPerSecond applies to
// anonymous endpoints keyed by client IP, userRequestsPerMinute to
// authenticated payment endpoints keyed by user id.
func NewRateLimiter(ipRequestsPerSecond, userRequestsPerMinute float64, ipBurst, userBurst int) *RateLimiter {
	limiter := &RateLimiter{
		ipLimiters:    make(map[string]*rate.Limiter),
		userLimiters:  make(map[string]*rate.Limiter),
		ipRate:        rate.Limit(ipRequestsPerSecond),
		userRate:      rate.Limit(userRequestsPerMinute / 60),
		ipBurst:       ipBurst,
		userBurst:     userBurst,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		done:          make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

// cleanup periodically drops idle limiters
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.ipMutex.Lock()
			rl.ipLimiters = make(map[string]*rate.Limiter)
			rl.ipMutex.Unlock()

			rl.userMutex.Lock()
			rl.userLimiters = make(map[string]*rate.Limiter)
			rl.userMutex.Unlock()
		case <-rl.done:
			return
		}
	}
}

// Stop stops the rate limiter cleanup
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.done)
	})
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	rl.ipMutex.Lock()
	defer rl.ipMutex.Unlock()

	limiter, exists := rl.ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.ipRate, rl.ipBurst)
		rl.ipLimiters[ip] = limiter
	}
	return limiter
}

func (rl *RateLimiter) getUserLimiter(key string) *rate.Limiter {
	rl.userMutex.Lock()
	defer rl.userMutex.Unlock()

	limiter, exists := rl.userLimiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.userRate, rl.userBurst)
		rl.userLimiters[key] = limiter
	}
	return limiter
}

// IPRateLimiterMiddleware limits requests based on IP address
func (rl *RateLimiter) IPRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getIPLimiter(c.ClientIP()).Allow() {
			tooManyRequests(c, rl.ipRate)
			return
		}

		c.Next()
	}
}

// UserRateLimiterMiddleware limits requests per authenticated user. It must
// run after AuthMiddleware; unauthenticated requests fall back to the IP key.
func (rl *RateLimiter) UserRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if userID, ok := CurrentUserID(c); ok {
			key = "user:" + userID.String()
		}

		if !rl.getUserLimiter(key).Allow() {
			tooManyRequests(c, rl.userRate)
			return
		}

		c.Next()
	}
}

func tooManyRequests(c *gin.Context, limit rate.Limit) {
	retryAfter := 1
	if limit > 0 {
		retryAfter = int(math.Ceil(1 / float64(limit)))
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":               "rate limit exceeded",
		"retry_after_seconds": retryAfter,
	})
	c.Abort()
}
