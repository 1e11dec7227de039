// Package router defines how HTTP routes are registered for the API.  The
// whole surface is one method→handler table so it can be read (and tested)
// in a single place.
package router

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/config"
    "github.com/iliyamo/shop-session/internal/handler"
    "github.com/iliyamo/shop-session/internal/middleware"
    "github.com/iliyamo/shop-session/internal/service"
)

// Deps are the handlers and services the routes need.  RateLimit may be
// nil; DB may be nil.
type Deps struct {
    Auth          *handler.AuthHandler
    Cart          *handler.CartHandler
    Authenticator *service.Authenticator
    Carts         *service.CartService
    Cookie        config.CookieConfig
    RateLimit     echo.MiddlewareFunc
    DB            handler.Pinger
    Log           *zap.Logger
}

// Route is one entry of the routing table.
type Route struct {
    Method     string
    Path       string
    Handler    echo.HandlerFunc
    Middleware []echo.MiddlewareFunc
}

// Routes returns the routing table.
func Routes(d Deps) []Route {
    required := middleware.Authenticate(d.Authenticator, middleware.AuthRequired)
    optional := middleware.Authenticate(d.Authenticator, middleware.AuthOptional)
    active := middleware.RequireActive()
    cart := middleware.CartSession(d.Carts, d.Cookie, d.Log)

    limited := []echo.MiddlewareFunc{}
    if d.RateLimit != nil {
        limited = append(limited, d.RateLimit)
    }
    with := func(base []echo.MiddlewareFunc, mw ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
        return append(append([]echo.MiddlewareFunc{}, base...), mw...)
    }

    return []Route{
        {http.MethodGet, "/healthz", handler.Health(d.DB), nil},

        {http.MethodPost, "/v1/users", d.Auth.Register, limited},
        {http.MethodPost, "/v1/auth/token", d.Auth.Login, limited},
        {http.MethodPost, "/v1/auth/token/refresh", d.Auth.Refresh, limited},
        {http.MethodPost, "/v1/auth/logout", d.Auth.Logout, with(limited, required)},

        {http.MethodGet, "/v1/me", d.Auth.Me, with(nil, required, active)},
        {http.MethodPost, "/v1/me/password", d.Auth.ChangePassword, with(nil, required, active)},

        {http.MethodGet, "/v1/cart", d.Cart.View, with(nil, optional, cart)},
        {http.MethodDelete, "/v1/cart", d.Cart.Clear, with(nil, optional, cart)},
        {http.MethodPost, "/v1/cart/items", d.Cart.AddItem, with(nil, optional, cart)},
        {http.MethodPatch, "/v1/cart/items/:id", d.Cart.ReduceItem, with(nil, optional, cart)},
    }
}

// Register adds every route of the table to e.
func Register(e *echo.Echo, d Deps) {
    for _, r := range Routes(d) {
        e.Add(r.Method, r.Path, r.Handler, r.Middleware...)
    }
}
