package handler

import (
    "context"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/middleware"
    "github.com/iliyamo/shop-session/internal/service"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
    Auth *service.AuthService
    Log  *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, log *zap.Logger) *AuthHandler {
    if log == nil {
        log = zap.NewNop()
    }
    return &AuthHandler{Auth: auth, Log: log}
}

// ----- DTOs -----

type registerReq struct {
    Username string `json:"username"`
    Email    string `json:"email"`
    Password string `json:"password"`
}
type loginReq struct {
    Username string `json:"username"`
    Password string `json:"password"`
}
type refreshReq struct {
    RefreshToken string `json:"refresh_token"`
}
type changePasswordReq struct {
    CurrentPassword string `json:"current_password"`
    NewPassword     string `json:"new_password"`
}

type tokenPart struct {
    Token   string    `json:"token"`
    Expires time.Time `json:"expires"`
}
type userPart struct {
    ID        uint64    `json:"id"`
    Username  string    `json:"username"`
    Email     string    `json:"email"`
    IsActive  bool      `json:"is_active"`
    CreatedAt time.Time `json:"created_at"`
}
type authResp struct {
    User    userPart   `json:"user"`
    Access  tokenPart  `json:"access"`
    Refresh *tokenPart `json:"refresh,omitempty"`
}

// Register: create an active user.  No tokens are issued; clients log in
// afterwards.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Username = strings.TrimSpace(req.Username)
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Username == "" || req.Email == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/email/password required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    u, err := h.Auth.Register(ctx, req.Username, req.Email, req.Password)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    return c.JSON(http.StatusCreated, userPart{
        ID: u.ID, Username: u.Username, Email: u.Email, IsActive: u.IsActive, CreatedAt: u.CreatedAt,
    })
}

// Login: verify credentials and return an access/refresh pair.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    req.Username = strings.TrimSpace(req.Username)
    if req.Username == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    pair, err := h.Auth.Login(ctx, req.Username, req.Password)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    u := pair.User
    return c.JSON(http.StatusOK, authResp{
        User:    userPart{ID: u.ID, Username: u.Username, Email: u.Email, IsActive: u.IsActive, CreatedAt: u.CreatedAt},
        Access:  tokenPart{Token: pair.Access.Token, Expires: pair.Access.Exp},
        Refresh: &tokenPart{Token: pair.Refresh.Raw, Expires: pair.Refresh.ExpiresAt}, // raw back to client
    })
}

// Refresh: exchange a refresh token for a new access token.  The refresh
// token is returned only when the service rotated it.
func (h *AuthHandler) Refresh(c echo.Context) error {
    var req refreshReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    res, err := h.Auth.Refresh(ctx, req.RefreshToken)
    if err != nil {
        return writeError(c, h.Log, err)
    }
    out := echo.Map{"access": tokenPart{Token: res.Access.Token, Expires: res.Access.Exp}}
    if res.Refresh != nil {
        out["refresh"] = tokenPart{Token: res.Refresh.Raw, Expires: res.Refresh.ExpiresAt}
    }
    return c.JSON(http.StatusOK, out)
}

// Logout: revoke the presented access token and every refresh token of the
// user (protected).
func (h *AuthHandler) Logout(c echo.Context) error {
    id, ok := middleware.CurrentIdentity(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if err := h.Auth.Logout(ctx, id.Token); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}

// Me: the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
    u := middleware.CurrentUser(c)
    if u == nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
    }
    return c.JSON(http.StatusOK, userPart{
        ID: u.ID, Username: u.Username, Email: u.Email, IsActive: u.IsActive, CreatedAt: u.CreatedAt,
    })
}

// ChangePassword: replace the password and end all refresh sessions.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
    u := middleware.CurrentUser(c)
    if u == nil {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
    }
    var req changePasswordReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
    }
    if req.CurrentPassword == "" || req.NewPassword == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "current_password/new_password required"})
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    if err := h.Auth.ChangePassword(ctx, u.ID, req.CurrentPassword, req.NewPassword); err != nil {
        return writeError(c, h.Log, err)
    }
    return c.NoContent(http.StatusNoContent)
}
