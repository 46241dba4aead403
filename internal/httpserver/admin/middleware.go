package admin

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/castlebay/modeldesk/internal/analytics"
	"github.com/castlebay/modeldesk/internal/httpserver/httputil"
	"github.com/castlebay/modeldesk/internal/limits"
)

const (
	callerIDHeader  = "X-Caller-Id"
	adminReadHeader = "X-Admin-Read"

	callerLocalKey = "modeldesk/caller"
)

// callerMiddleware extracts the already-authenticated caller identity set by
// the platform's auth proxy. Authentication itself happens upstream; the
// engine only needs the identity and the admin-read flag.
func callerMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(callerIDHeader))
		if id == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "caller identity required")
		}
		caller := analytics.Caller{
			ID:        id,
			AdminRead: strings.EqualFold(strings.TrimSpace(c.Get(adminReadHeader)), "true"),
		}
		c.Locals(callerLocalKey, caller)
		return c.Next()
	}
}

// rateLimitMiddleware throttles each caller's admin requests.
func rateLimitMiddleware(limiter *limits.RateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := callerFromCtx(c)
		if err := limiter.Allow(c.Context(), "caller:"+caller.ID); err != nil {
			if errors.Is(err, limits.ErrLimitExceeded) {
				return httputil.WriteError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
			}
			return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
		}
		return c.Next()
	}
}

func callerFromCtx(c *fiber.Ctx) analytics.Caller {
	if caller, ok := c.Locals(callerLocalKey).(analytics.Caller); ok {
		return caller
	}
	return analytics.Caller{}
}
