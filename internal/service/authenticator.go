package service

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/utils"
)

// Identity is an authenticated principal together with the verified claims
// of the token it presented.
type Identity struct {
    User   model.User
    Claims *utils.Claims
    Token  string
}

// Authenticator turns an Authorization header into an Identity.
type Authenticator struct {
    codec   *utils.TokenCodec
    revoked RevocationStore
    users   PrincipalFinder
    now     func() time.Time
    log     *zap.Logger
}

// NewAuthenticator returns an Authenticator.  A nil now uses time.Now and
// a nil log discards output.
func NewAuthenticator(codec *utils.TokenCodec, revoked RevocationStore, users PrincipalFinder, now func() time.Time, log *zap.Logger) *Authenticator {
    if now == nil {
        now = time.Now
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &Authenticator{codec: codec, revoked: revoked, users: users, now: now, log: log.Named("authn")}
}

// BearerToken extracts the token from an Authorization header.  The header
// must be exactly two space-separated parts with a case-insensitive
// "bearer" scheme.
func BearerToken(header string) (string, error) {
    parts := strings.Split(header, " ")
    if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
        return "", ErrMalformedAuthHeader
    }
    return parts[1], nil
}

// Authenticate validates the header in a fixed order: header shape, token
// structure, signature, revocation, expiry, principal.  Claims are not
// looked at before the signature has been verified.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (Identity, error) {
    raw, err := BearerToken(header)
    if err != nil {
        return Identity{}, a.reject(err)
    }

    dec, err := a.codec.Decode(raw)
    if err != nil {
        if errors.Is(err, utils.ErrMalformedToken) {
            return Identity{}, a.reject(ErrMalformedToken)
        }
        return Identity{}, err
    }
    if !dec.SignatureValid() {
        return Identity{}, a.reject(ErrInvalidSignature)
    }
    claims := dec.Claims

    revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
    if err != nil {
        return Identity{}, fmt.Errorf("check revocation: %w", err)
    }
    if revoked {
        return Identity{}, a.reject(ErrTokenRevoked)
    }

    exp, ok := claims.Expiry()
    if !ok || !exp.After(a.now()) {
        return Identity{}, a.reject(ErrTokenExpired)
    }

    u, found, err := a.users.FindByUsername(ctx, claims.Username)
    if err != nil {
        return Identity{}, fmt.Errorf("find principal: %w", err)
    }
    if !found {
        return Identity{}, a.reject(ErrPrincipalNotFound)
    }
    return Identity{User: u, Claims: claims, Token: raw}, nil
}

func (a *Authenticator) reject(err error) error {
    a.log.Warn("request not authenticated", zap.String("reason", err.Error()))
    return err
}
