package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware allows limit requests per caller in each fixed window.
// Unauthenticated requests are counted per IP. Redis failures let the request
// through.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		who := string(GetCaller(c))
		if who == "" {
			who = "ip:" + c.IP()
		}
		bucket := time.Now().UnixNano() / int64(window)
		key := fmt.Sprintf("rl:%s:%d", who, bucket)

		ctx := c.Context()
		var incr *redis.IntCmd
		_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, window)
			return nil
		})
		if err != nil {
			return c.Next()
		}

		count := incr.Val()
		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Set("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit) {
			reset := time.Unix(0, (bucket+1)*int64(window))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(time.Until(reset).Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
				"code":  "rate_limited",
			})
		}
		return c.Next()
	}
}
