package presence

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careinbox/careinbox/internal/platform/auth"
)

// TouchMiddleware marks the authenticated caller active on every request.
// Tracker failures are logged and never fail the request.
func TouchMiddleware(tracker Tracker, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if userID := auth.UserIDFromContext(ctx); userID != "" {
				if err := tracker.Touch(ctx, userID, time.Now()); err != nil {
					logger.Warn().Err(err).Str("user_id", userID).Msg("presence touch failed")
				}
			}
			return next(c)
		}
	}
}
