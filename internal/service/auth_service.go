package service

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"

    "go.uber.org/zap"

    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/queue"
    "github.com/iliyamo/shop-session/internal/repository"
    "github.com/iliyamo/shop-session/internal/utils"
)

// PrincipalFinder looks principals up by login identifier.
type PrincipalFinder interface {
    FindByUsername(ctx context.Context, username string) (model.User, bool, error)
}

// PrincipalStore is the user directory the session service needs.
type PrincipalStore interface {
    PrincipalFinder
    Create(ctx context.Context, username, email, password string, cost int) (model.User, error)
    VerifyCredentials(ctx context.Context, login, password string) (model.User, bool, error)
    GetByID(ctx context.Context, id uint64) (model.User, error)
    UpdatePassword(ctx context.Context, id uint64, password string, cost int) error
}

// RefreshTokenStore persists refresh tokens.  FindActive returns
// sql.ErrNoRows for unknown and revoked tokens alike.  Revoke reports
// whether the call itself flipped the token from active to revoked.
type RefreshTokenStore interface {
    Create(ctx context.Context, userID uint64, expiresAt time.Time) (model.RefreshToken, error)
    FindActive(ctx context.Context, raw string) (model.RefreshToken, error)
    Revoke(ctx context.Context, id uint64) (bool, error)
    RevokeAllForUser(ctx context.Context, userID uint64) (int64, error)
}

// RevocationStore remembers revoked access-token ids until the token would
// have expired anyway.
type RevocationStore interface {
    Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
    IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// EventPublisher sends an event to a named queue.  Publishing is best
// effort: failures are logged, never surfaced to the client.
type EventPublisher interface {
    Publish(ctx context.Context, queueName string, payload any) error
}

// AuthConfig holds the session policy.
type AuthConfig struct {
    AccessTTL  time.Duration
    RefreshTTL time.Duration
    // RotateRefreshOnUse revokes the presented refresh token on every
    // successful refresh and hands out a new one.
    RotateRefreshOnUse bool
    BcryptCost         int
}

// AuthDeps bundles the collaborators of AuthService.  Events, Logger and
// Now are optional.
type AuthDeps struct {
    Users   PrincipalStore
    Tokens  RefreshTokenStore
    Revoked RevocationStore
    Codec   *utils.TokenCodec
    Events  EventPublisher
    Logger  *zap.Logger
    Now     func() time.Time
}

// AuthService implements login, refresh and logout on top of stateless
// access tokens and persisted refresh tokens.
type AuthService struct {
    users   PrincipalStore
    tokens  RefreshTokenStore
    revoked RevocationStore
    codec   *utils.TokenCodec
    issuer  *utils.AccessTokenIssuer
    events  EventPublisher
    log     *zap.Logger
    cfg     AuthConfig
    now     func() time.Time
}

// NewAuthService wires the session service.
func NewAuthService(deps AuthDeps, cfg AuthConfig) (*AuthService, error) {
    if deps.Users == nil || deps.Tokens == nil || deps.Revoked == nil || deps.Codec == nil {
        return nil, errors.New("auth service: users, tokens, revocation store and codec are required")
    }
    if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
        return nil, errors.New("auth service: token lifetimes must be positive")
    }
    if deps.Now == nil {
        deps.Now = time.Now
    }
    if deps.Events == nil {
        deps.Events = queue.Discard{}
    }
    if deps.Logger == nil {
        deps.Logger = zap.NewNop()
    }
    return &AuthService{
        users:   deps.Users,
        tokens:  deps.Tokens,
        revoked: deps.Revoked,
        codec:   deps.Codec,
        issuer:  utils.NewAccessTokenIssuer(deps.Codec, cfg.AccessTTL, deps.Now),
        events:  deps.Events,
        log:     deps.Logger.Named("auth"),
        cfg:     cfg,
        now:     deps.Now,
    }, nil
}

// TokenPair is the result of a successful login.
type TokenPair struct {
    User    model.User
    Access  utils.AccessToken
    Refresh model.RefreshToken
}

// RefreshResult is the result of a successful refresh.  Refresh is set
// only when the policy rotates refresh tokens.
type RefreshResult struct {
    Access  utils.AccessToken
    Refresh *model.RefreshToken
}

// Login verifies credentials, stores a new refresh token and issues an
// access token.  Every credential failure is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, login, password string) (TokenPair, error) {
    u, ok, err := s.users.VerifyCredentials(ctx, login, password)
    if err != nil {
        return TokenPair{}, fmt.Errorf("verify credentials: %w", err)
    }
    if !ok {
        s.log.Warn("login rejected", zap.String("reason", ErrInvalidCredentials.Error()))
        return TokenPair{}, ErrInvalidCredentials
    }

    rt, err := s.tokens.Create(ctx, u.ID, s.now().Add(s.cfg.RefreshTTL))
    if err != nil {
        return TokenPair{}, fmt.Errorf("create refresh token: %w", err)
    }
    access, err := s.issuer.Issue(u)
    if err != nil {
        return TokenPair{}, fmt.Errorf("issue access token: %w", err)
    }

    s.publishSession(ctx, queue.SessionEvent{
        Type:           queue.SessionLogin,
        UserID:         u.ID,
        Username:       u.Username,
        TokenID:        access.ID,
        RefreshTokenID: rt.ID,
    })
    return TokenPair{User: u, Access: access, Refresh: rt}, nil
}

// Refresh exchanges a refresh token for a new access token.  An expired
// token is revoked before ErrRefreshExpired is returned.
func (s *AuthService) Refresh(ctx context.Context, raw string) (RefreshResult, error) {
    raw = strings.TrimSpace(raw)
    if raw == "" {
        return RefreshResult{}, ErrRefreshNotFound
    }
    rt, err := s.tokens.FindActive(ctx, raw)
    if errors.Is(err, sql.ErrNoRows) {
        s.log.Warn("refresh rejected", zap.String("reason", ErrRefreshNotFound.Error()))
        return RefreshResult{}, ErrRefreshNotFound
    }
    if err != nil {
        return RefreshResult{}, fmt.Errorf("find refresh token: %w", err)
    }

    if rt.ExpiredAt(s.now()) {
        if _, err := s.tokens.Revoke(ctx, rt.ID); err != nil {
            return RefreshResult{}, fmt.Errorf("revoke expired refresh token: %w", err)
        }
        s.log.Warn("refresh rejected", zap.String("reason", ErrRefreshExpired.Error()), zap.Uint64("user_id", rt.UserID))
        s.publishSession(ctx, queue.SessionEvent{
            Type:           queue.SessionRefreshExpired,
            UserID:         rt.UserID,
            RefreshTokenID: rt.ID,
        })
        return RefreshResult{}, ErrRefreshExpired
    }

    u, err := s.users.GetByID(ctx, rt.UserID)
    if errors.Is(err, sql.ErrNoRows) {
        return RefreshResult{}, ErrRefreshNotFound
    }
    if err != nil {
        return RefreshResult{}, fmt.Errorf("load principal: %w", err)
    }

    // With rotation on, only the caller whose Revoke flipped the row may
    // continue; a concurrent or replayed use of the same token loses.
    if s.cfg.RotateRefreshOnUse {
        revoked, err := s.tokens.Revoke(ctx, rt.ID)
        if err != nil {
            return RefreshResult{}, fmt.Errorf("revoke rotated refresh token: %w", err)
        }
        if !revoked {
            s.log.Warn("refresh rejected", zap.String("reason", "refresh token already rotated"), zap.Uint64("user_id", rt.UserID))
            return RefreshResult{}, ErrRefreshNotFound
        }
    }

    access, err := s.issuer.Issue(u)
    if err != nil {
        return RefreshResult{}, fmt.Errorf("issue access token: %w", err)
    }
    res := RefreshResult{Access: access}

    if s.cfg.RotateRefreshOnUse {
        next, err := s.tokens.Create(ctx, u.ID, s.now().Add(s.cfg.RefreshTTL))
        if err != nil {
            return RefreshResult{}, fmt.Errorf("create refresh token: %w", err)
        }
        res.Refresh = &next
    }

    s.publishSession(ctx, queue.SessionEvent{
        Type:           queue.SessionRefresh,
        UserID:         u.ID,
        Username:       u.Username,
        TokenID:        access.ID,
        RefreshTokenID: rt.ID,
    })
    return res, nil
}

// Logout revokes the presented access token for the rest of its lifetime
// and every active refresh token of its principal.  The token must carry
// a valid signature but may already be expired or revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
    dec, err := s.codec.Decode(accessToken)
    if err != nil {
        if errors.Is(err, utils.ErrMalformedToken) {
            return ErrMalformedToken
        }
        return err
    }
    if !dec.SignatureValid() {
        s.log.Warn("logout rejected", zap.String("reason", ErrInvalidSignature.Error()))
        return ErrInvalidSignature
    }
    claims := dec.Claims

    if exp, ok := claims.Expiry(); ok && claims.ID != "" {
        if err := s.revoked.Revoke(ctx, claims.ID, exp.Sub(s.now())); err != nil {
            return fmt.Errorf("revoke access token: %w", err)
        }
    }

    ev := queue.SessionEvent{Type: queue.SessionLogout, Username: claims.Username, TokenID: claims.ID}
    u, found, err := s.users.FindByUsername(ctx, claims.Username)
    if err != nil {
        return fmt.Errorf("find principal: %w", err)
    }
    if found {
        n, err := s.tokens.RevokeAllForUser(ctx, u.ID)
        if err != nil {
            return fmt.Errorf("revoke refresh tokens: %w", err)
        }
        ev.UserID = u.ID
        ev.RevokedRefresh = n
    }
    s.publishSession(ctx, ev)
    return nil
}

// Register creates an active principal.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (model.User, error) {
    u, err := s.users.Create(ctx, username, email, password, s.cfg.BcryptCost)
    if errors.Is(err, repository.ErrUsernameExists) {
        return model.User{}, ErrUsernameTaken
    }
    if err != nil {
        return model.User{}, fmt.Errorf("create principal: %w", err)
    }
    return u, nil
}

// ChangePassword replaces the password of userID after checking the
// current one, then revokes all of the user's refresh tokens.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint64, current, next string) error {
    u, err := s.users.GetByID(ctx, userID)
    if errors.Is(err, sql.ErrNoRows) {
        return ErrPrincipalNotFound
    }
    if err != nil {
        return fmt.Errorf("load principal: %w", err)
    }
    if !utils.VerifyPassword(u.PasswordHash, current) {
        return ErrPasswordMismatch
    }
    if err := s.users.UpdatePassword(ctx, u.ID, next, s.cfg.BcryptCost); err != nil {
        return fmt.Errorf("update password: %w", err)
    }
    n, err := s.tokens.RevokeAllForUser(ctx, u.ID)
    if err != nil {
        return fmt.Errorf("revoke refresh tokens: %w", err)
    }
    s.publishSession(ctx, queue.SessionEvent{
        Type:           queue.SessionPasswordChange,
        UserID:         u.ID,
        Username:       u.Username,
        RevokedRefresh: n,
    })
    return nil
}

func (s *AuthService) publishSession(ctx context.Context, ev queue.SessionEvent) {
    ev.OccurredAt = s.now().UTC().Format(time.RFC3339)
    if err := s.events.Publish(ctx, queue.SessionEventsQueue, ev); err != nil {
        s.log.Warn("session event not published", zap.String("type", ev.Type), zap.Error(err))
    }
}
