// Package service holds the session and cart business logic.  It depends
// on small store interfaces satisfied by the MySQL repositories in
// production and by internal/repository/memstore in tests.
package service

import (
    "errors"

    "github.com/iliyamo/shop-session/internal/repository"
    "github.com/iliyamo/shop-session/internal/utils"
)

// Authentication and session errors.  Handlers translate these into 401.
var (
    // ErrInvalidCredentials covers unknown login, wrong password and
    // inactive account alike.
    ErrInvalidCredentials = errors.New("invalid credentials")
    // ErrRefreshNotFound covers unknown and revoked refresh tokens alike.
    ErrRefreshNotFound = errors.New("refresh token not found")
    ErrRefreshExpired  = errors.New("refresh token expired")

    ErrMalformedAuthHeader = errors.New("malformed authorization header")
    ErrMalformedToken      = utils.ErrMalformedToken
    ErrInvalidSignature    = errors.New("invalid token signature")
    ErrTokenRevoked        = errors.New("token revoked")
    ErrTokenExpired        = errors.New("token expired")
    ErrPrincipalNotFound   = errors.New("principal not found")
)

// Account errors.
var (
    ErrUsernameTaken    = errors.New("username already taken")
    ErrPasswordMismatch = errors.New("current password does not match")
)

// Cart errors.  Handlers translate these into 404.
var (
    ErrCartNotFound    = errors.New("cart not found")
    ErrProductNotFound = errors.New("product not found")
    ErrLineNotFound    = repository.ErrLineNotFound
)

// IsAuthError reports whether err is one of the authentication failures a
// client may see as 401.
func IsAuthError(err error) bool {
    for _, target := range []error{
        ErrInvalidCredentials, ErrRefreshNotFound, ErrRefreshExpired,
        ErrMalformedAuthHeader, ErrMalformedToken, ErrInvalidSignature,
        ErrTokenRevoked, ErrTokenExpired, ErrPrincipalNotFound,
    } {
        if errors.Is(err, target) {
            return true
        }
    }
    return false
}
