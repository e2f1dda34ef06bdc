package middleware

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/gofiber/fiber/v2"

	"github.com/Oldsnak/video-downloader-api/internal/ratelimit"
	"github.com/Oldsnak/video-downloader-api/pkg/response"
)

type RateLimiter struct {
	governor ratelimit.Governor
	logger   *slog.Logger
}

func NewRateLimiter(governor ratelimit.Governor, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{governor: governor, logger: logger}
}

// Limit admits requests through the governor, keyed by client address
func (rl *RateLimiter) Limit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		res, err := rl.governor.Take(c.Context(), c.IP())
		if err != nil {
			// If the backend fails, allow the request but log the error
			rl.logger.Warn("rate limiter unavailable", "error", err)
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))

		if !res.Allowed {
			retry := int(math.Ceil(res.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Set("Retry-After", fmt.Sprintf("%d", retry))
			return response.RateLimited(c)
		}

		return c.Next()
	}
}
