package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// RequireActive rejects authenticated principals whose account has been
// deactivated with 403 Forbidden.  It must run after Authenticate in
// required mode.
func RequireActive() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            u := CurrentUser(c)
            if u == nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            if !u.IsActive {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "account inactive"})
            }
            return next(c)
        }
    }
}
