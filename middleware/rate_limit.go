package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"

	"coldrelay/utils"
)

const rateLimitWindow = time.Minute

// RateLimited throttles API calls per client IP using a fixed window
// counter in redis. When redis is unavailable the request passes; the
// limiter protects capacity, it is not an auth boundary.
func RateLimited(rdb *redis.Client, maxPerMinute int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || maxPerMinute <= 0 {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s", c.IP())
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			utils.LogWarn("rate limit backend unavailable", map[string]interface{}{"error": err.Error()})
			return c.Next()
		}
		if count == 1 {
			rdb.Expire(ctx, key, rateLimitWindow)
		}

		if count > int64(maxPerMinute) {
			ttl, _ := rdb.TTL(ctx, key).Result()
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
