package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	limiterpkg "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// NewRateLimiter builds an in-memory per-IP limiter.
func NewRateLimiter(limit int64, period time.Duration) *limiterpkg.Limiter {
	rate := limiterpkg.Rate{
		Period: period,
		Limit:  limit,
	}
	return limiterpkg.New(memory.NewStore(), rate)
}

// RateLimitMiddleware rejects requests over the per-IP budget with 429.
func RateLimitMiddleware(limiter *limiterpkg.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			lctx, err := limiter.Get(c.Request().Context(), c.RealIP())
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Rate limiter failure"})
			}
			if lctx.Reached {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many requests"})
			}
			return next(c)
		}
	}
}
