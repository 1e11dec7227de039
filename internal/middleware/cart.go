package middleware

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/config"
    "github.com/iliyamo/shop-session/internal/service"
)

// CartSession resolves the cart of the request and stores it on the
// context for CurrentCart.  It must run after Authenticate.
//
// For an authenticated request that still carries the anonymous cart
// cookie, the anonymous cart is merged into the user's cart first and the
// cookie is cleared.  For an anonymous request without a usable cookie a
// new anonymous cart is created and its identifier set as cookie.
func CartSession(carts *service.CartService, cookie config.CookieConfig, log *zap.Logger) echo.MiddlewareFunc {
    if log == nil {
        log = zap.NewNop()
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            ctx := c.Request().Context()
            actor := service.Actor{User: CurrentUser(c)}
            if ck, err := c.Cookie(cookie.Name); err == nil {
                actor.AnonCartID = ck.Value
            }

            if actor.User != nil && actor.AnonCartID != "" {
                if _, err := carts.Merge(ctx, actor.User.ID, actor.AnonCartID); err != nil {
                    log.Error("cart merge failed", zap.Uint64("user_id", actor.User.ID), zap.Error(err))
                    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
                }
                clearCartCookie(c, cookie)
            }

            res, err := carts.Resolve(ctx, actor)
            if err != nil {
                log.Error("cart resolve failed", zap.Error(err))
                return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
            }
            if res.IssuedAnonID != "" {
                setCartCookie(c, cookie, res.IssuedAnonID)
            }
            c.Set(cartKey, res.Cart)
            return next(c)
        }
    }
}

func setCartCookie(c echo.Context, cfg config.CookieConfig, value string) {
    c.SetCookie(&http.Cookie{
        Name:     cfg.Name,
        Value:    value,
        Path:     "/",
        MaxAge:   int(cfg.MaxAge.Seconds()),
        HttpOnly: true,
        Secure:   cfg.Secure,
        SameSite: http.SameSiteLaxMode,
    })
}

func clearCartCookie(c echo.Context, cfg config.CookieConfig) {
    c.SetCookie(&http.Cookie{
        Name:     cfg.Name,
        Value:    "",
        Path:     "/",
        MaxAge:   -1,
        HttpOnly: true,
        Secure:   cfg.Secure,
        SameSite: http.SameSiteLaxMode,
    })
}
