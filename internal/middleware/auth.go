package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/shop-session/internal/service"
)

// AuthMode selects what happens to a request without an Authorization
// header.
type AuthMode int

const (
    // AuthRequired rejects requests without credentials.
    AuthRequired AuthMode = iota
    // AuthOptional lets requests without credentials through as
    // anonymous.  Credentials that are present must still be valid.
    AuthOptional
)

// Authenticate returns an Echo middleware that validates the bearer token
// with a and stores the resulting identity on the context, where handlers
// read it with CurrentIdentity / CurrentUser.  Authentication failures are
// answered with 401 and the failure class; store failures with 500.
func Authenticate(a *service.Authenticator, mode AuthMode) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            header := c.Request().Header.Get(echo.HeaderAuthorization)
            if header == "" {
                if mode == AuthOptional {
                    return next(c)
                }
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }

            id, err := a.Authenticate(c.Request().Context(), header)
            if err != nil {
                if service.IsAuthError(err) {
                    c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="shop"`)
                    return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
                }
                return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
            }
            SetIdentity(c, id)
            return next(c)
        }
    }
}
