package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/context8/context8-docker/internal/config"
)

// RateLimit enforces a per-client requests-per-minute ceiling backed by
// Redis, so the limit holds across replicas. Clients are keyed by presented
// credential when one exists and by IP otherwise; the raw secret is hashed
// before it becomes a Redis key.
//
// Redis being down never blocks traffic: the limiter fails open with a log
// line, the same stance the write path takes toward the embedding provider.
func RateLimit(rdb *redis.Client, cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := redis_rate.NewLimiter(rdb)
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 300
	}

	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		res, err := limiter.Allow(c.Request.Context(), clientKey(c), redis_rate.PerMinute(perMinute))
		if err != nil {
			slog.Warn("rate limiter unavailable, failing open", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// clientKey derives the rate-limit key for one request. Credentials are
// preferred over IPs so one NAT'd office does not share a bucket, and secrets
// are hashed so they never appear in Redis.
func clientKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return "c8:rl:key:" + digest(key)
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return "c8:rl:bearer:" + digest(strings.TrimPrefix(h, "Bearer "))
	}
	return "c8:rl:ip:" + c.ClientIP()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
