package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// CronKeyHeader carries the shared secret for externally triggered jobs
// (scheduler tick, daily PIN reset).
const CronKeyHeader = "X-Cron-Key"

// CronKey rejects requests that do not present the configured secret.
// With an empty secret it denies everything: an unset secret must not
// mean an open endpoint.
func CronKey(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "cron endpoint disabled")
			}
			got := c.Request().Header.Get(CronKeyHeader)
			if got == "" {
				got = c.QueryParam("key")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}
