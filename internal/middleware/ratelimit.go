package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware counts requests per path and caller in fixed windows.
// A nil client disables limiting.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rdb == nil || limit <= 0 {
			return c.Next()
		}

		who := c.IP()
		if p := GetPrincipal(c); !p.IsZero() {
			who = p.String()
		}
		key := fmt.Sprintf("rl:%s:%s", c.Route().Path, who)

		ctx := context.Background()
		count, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(ctx, key, window)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":     "rate limit exceeded",
				"code":      "rate_limited",
				"retryable": true,
			})
		}

		return c.Next()
	}
}
