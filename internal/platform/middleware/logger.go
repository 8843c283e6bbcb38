package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medlink/medlink/internal/platform/auth"
)

// Logger emits one structured line per request. The identity fields are read
// after the handler runs so the auth middleware further down the chain has
// already stamped the context.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if userID := auth.UserIDFromContext(req.Context()); userID != uuid.Nil {
				evt = evt.Str("user_id", userID.String())
			}
			evt.Msg("request")

			return err
		}
	}
}
