package middleware

// identity.go holds the context keys shared across middleware and
// handlers, and accessors for the authenticated principal and the
// resolved cart.

import (
    "strconv"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/service"
)

const (
    identityKey = "identity"
    cartKey     = "cart"
)

// SetIdentity stores the authenticated identity on the request.
func SetIdentity(c echo.Context, id service.Identity) { c.Set(identityKey, id) }

// CurrentIdentity returns the identity stored by Authenticate.
func CurrentIdentity(c echo.Context) (service.Identity, bool) {
    id, ok := c.Get(identityKey).(service.Identity)
    return id, ok
}

// CurrentUser returns the authenticated user or nil for anonymous requests.
func CurrentUser(c echo.Context) *model.User {
    id, ok := CurrentIdentity(c)
    if !ok {
        return nil
    }
    u := id.User
    return &u
}

// CurrentCart returns the cart resolved by CartSession.
func CurrentCart(c echo.Context) (model.Cart, bool) {
    cart, ok := c.Get(cartKey).(model.Cart)
    return cart, ok
}

// userID returns the authenticated user id as a string, or "guest".
func userID(c echo.Context) string {
    if u := CurrentUser(c); u != nil {
        return strconv.FormatUint(u.ID, 10)
    }
    return "guest"
}
