package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/service"
)

// writeError maps service errors to HTTP responses.  Anything outside the
// known taxonomy is logged and answered with a generic 500.
func writeError(c echo.Context, log *zap.Logger, err error) error {
    switch {
    case service.IsAuthError(err):
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
    case errors.Is(err, service.ErrPasswordMismatch):
        return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
    case errors.Is(err, service.ErrUsernameTaken):
        return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
    case errors.Is(err, service.ErrCartNotFound),
        errors.Is(err, service.ErrProductNotFound),
        errors.Is(err, service.ErrLineNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
    }
    log.Error("request failed",
        zap.String("method", c.Request().Method),
        zap.String("path", c.Path()),
        zap.Error(err))
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
