package service

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/queue"
    "github.com/iliyamo/shop-session/internal/repository/memstore"
    "github.com/iliyamo/shop-session/internal/utils"
)

func TestNewAuthService_RequiresDeps(t *testing.T) {
    _, err := NewAuthService(AuthDeps{}, defaultAuthConfig())
    assert.Error(t, err)
}

func TestLogin_IssuesTokenPair(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    u := f.register(t, "alice", "s3cret")

    pair, err := f.svc.Login(context.Background(), "alice", "s3cret")
    require.NoError(t, err)
    assert.Equal(t, u.ID, pair.User.ID)
    assert.NotEmpty(t, pair.Access.Token)
    assert.NotEmpty(t, pair.Access.ID)
    assert.Equal(t, f.clock.Now().Add(15*time.Minute), pair.Access.Exp)
    assert.Len(t, pair.Refresh.Raw, 96)
    assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), pair.Refresh.ExpiresAt)

    id, err := f.authn.Authenticate(context.Background(), "Bearer "+pair.Access.Token)
    require.NoError(t, err)
    assert.Equal(t, u.ID, id.User.ID)
    assert.Equal(t, pair.Access.ID, id.Claims.ID)

    events := f.events.all()
    require.Len(t, events, 1)
    assert.Equal(t, queue.SessionEventsQueue, events[0].queue)
    ev := events[0].payload.(queue.SessionEvent)
    assert.Equal(t, queue.SessionLogin, ev.Type)
    assert.Equal(t, u.ID, ev.UserID)
}

func TestLogin_FailuresLookAlike(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    u := f.register(t, "alice", "s3cret")
    f.register(t, "bob", "hunter2")
    f.users.SetActive(u.ID, false)

    cases := []struct{ name, login, password string }{
        {"unknown login", "nobody", "s3cret"},
        {"wrong password", "bob", "wrong"},
        {"inactive account", "alice", "s3cret"},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            _, err := f.svc.Login(context.Background(), tc.login, tc.password)
            assert.ErrorIs(t, err, ErrInvalidCredentials)
            assert.EqualError(t, err, "invalid credentials")
        })
    }
}

func TestRefresh_KeepsRefreshTokenByDefault(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    f.register(t, "alice", "s3cret")
    pair, err := f.svc.Login(context.Background(), "alice", "s3cret")
    require.NoError(t, err)

    first, err := f.svc.Refresh(context.Background(), pair.Refresh.Raw)
    require.NoError(t, err)
    assert.Nil(t, first.Refresh)
    assert.NotEqual(t, pair.Access.ID, first.Access.ID)

    second, err := f.svc.Refresh(context.Background(), pair.Refresh.Raw)
    require.NoError(t, err)
    assert.NotEqual(t, first.Access.ID, second.Access.ID)
}

func TestRefresh_RotateOnUse(t *testing.T) {
    cfg := defaultAuthConfig()
    cfg.RotateRefreshOnUse = true
    f := newAuthFixture(t, cfg)
    f.register(t, "alice", "s3cret")
    pair, err := f.svc.Login(context.Background(), "alice", "s3cret")
    require.NoError(t, err)

    res, err := f.svc.Refresh(context.Background(), pair.Refresh.Raw)
    require.NoError(t, err)
    require.NotNil(t, res.Refresh)
    assert.NotEqual(t, pair.Refresh.Raw, res.Refresh.Raw)

    _, err = f.svc.Refresh(context.Background(), pair.Refresh.Raw)
    assert.ErrorIs(t, err, ErrRefreshNotFound)

    _, err = f.svc.Refresh(context.Background(), res.Refresh.Raw)
    assert.NoError(t, err)
}

// lockstepTokens lets every FindActive caller through only once all of
// them have found the token, so they race on the revoke that follows.
type lockstepTokens struct {
    *memstore.Tokens
    found sync.WaitGroup
}

func (l *lockstepTokens) FindActive(ctx context.Context, raw string) (model.RefreshToken, error) {
    rt, err := l.Tokens.FindActive(ctx, raw)
    l.found.Done()
    l.found.Wait()
    return rt, err
}

func TestRefresh_RotateOnUseConcurrentReuse(t *testing.T) {
    cfg := defaultAuthConfig()
    cfg.RotateRefreshOnUse = true
    f := newAuthFixture(t, cfg)
    f.register(t, "alice", "s3cret")
    pair, err := f.svc.Login(context.Background(), "alice", "s3cret")
    require.NoError(t, err)

    const callers = 2
    tokens := &lockstepTokens{Tokens: f.tokens}
    tokens.found.Add(callers)
    svc, err := NewAuthService(AuthDeps{
        Users:   f.users,
        Tokens:  tokens,
        Revoked: f.revoked,
        Codec:   f.codec,
        Now:     f.clock.Now,
    }, cfg)
    require.NoError(t, err)

    results := make([]RefreshResult, callers)
    errs := make([]error, callers)
    var wg sync.WaitGroup
    for i := 0; i < callers; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            results[i], errs[i] = svc.Refresh(context.Background(), pair.Refresh.Raw)
        }(i)
    }
    wg.Wait()

    var ok int
    for i := range errs {
        if errs[i] == nil {
            ok++
            require.NotNil(t, results[i].Refresh)
            continue
        }
        assert.ErrorIs(t, errs[i], ErrRefreshNotFound)
        assert.Nil(t, results[i].Refresh)
    }
    assert.Equal(t, 1, ok)
}

func TestRefresh_ExpiredIsRevoked(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    f.register(t, "alice", "s3cret")
    pair, err := f.svc.Login(context.Background(), "alice", "s3cret")
    require.NoError(t, err)

    f.clock.Advance(7 * 24 * time.Hour)

    _, err = f.svc.Refresh(context.Background(), pair.Refresh.Raw)
    assert.ErrorIs(t, err, ErrRefreshExpired)

    row, ok := f.tokens.Get(pair.Refresh.ID)
    require.True(t, ok)
    assert.True(t, row.IsRevoked)
    assert.NotNil(t, row.RevokedAt)

    _, err = f.svc.Refresh(context.Background(), pair.Refresh.Raw)
    assert.ErrorIs(t, err, ErrRefreshNotFound)
}

func TestRefresh_UnknownToken(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    _, err := f.svc.Refresh(context.Background(), "deadbeef")
    assert.ErrorIs(t, err, ErrRefreshNotFound)
    _, err = f.svc.Refresh(context.Background(), "  ")
    assert.ErrorIs(t, err, ErrRefreshNotFound)
}

func TestLogout_RevokesAccessAndRefresh(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    f.register(t, "alice", "s3cret")
    ctx := context.Background()
    pair, err := f.svc.Login(ctx, "alice", "s3cret")
    require.NoError(t, err)
    other, err := f.svc.Login(ctx, "alice", "s3cret")
    require.NoError(t, err)

    require.NoError(t, f.svc.Logout(ctx, pair.Access.Token))

    _, err = f.authn.Authenticate(ctx, "Bearer "+pair.Access.Token)
    assert.ErrorIs(t, err, ErrTokenRevoked)

    _, err = f.svc.Refresh(ctx, pair.Refresh.Raw)
    assert.ErrorIs(t, err, ErrRefreshNotFound)
    _, err = f.svc.Refresh(ctx, other.Refresh.Raw)
    assert.ErrorIs(t, err, ErrRefreshNotFound)

    // The second session's access token stays valid until it expires.
    _, err = f.authn.Authenticate(ctx, "Bearer "+other.Access.Token)
    assert.NoError(t, err)

    var logout *queue.SessionEvent
    for _, e := range f.events.all() {
        if ev, ok := e.payload.(queue.SessionEvent); ok && ev.Type == queue.SessionLogout {
            logout = &ev
        }
    }
    require.NotNil(t, logout)
    assert.Equal(t, int64(2), logout.RevokedRefresh)
    assert.Equal(t, pair.Access.ID, logout.TokenID)
}

func TestLogout_RejectsForeignSignature(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    u := f.register(t, "alice", "s3cret")

    foreign, err := utils.NewTokenCodec([]byte("another-secret"))
    require.NoError(t, err)
    tok, err := utils.NewAccessTokenIssuer(foreign, time.Minute, f.clock.Now).Issue(u)
    require.NoError(t, err)

    assert.ErrorIs(t, f.svc.Logout(context.Background(), tok.Token), ErrInvalidSignature)
    assert.ErrorIs(t, f.svc.Logout(context.Background(), "garbage"), ErrMalformedToken)
}

func TestLogout_UnknownPrincipalStillRevokesToken(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    u := f.register(t, "alice", "s3cret")
    pair, err := f.svc.Login(context.Background(), "alice", "s3cret")
    require.NoError(t, err)
    f.users.Delete(u.ID)

    require.NoError(t, f.svc.Logout(context.Background(), pair.Access.Token))
    revoked, err := f.revoked.IsRevoked(context.Background(), pair.Access.ID)
    require.NoError(t, err)
    assert.True(t, revoked)
}

func TestSession_EndToEnd(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    f.register(t, "alice", "s3cret")
    ctx := context.Background()

    pair, err := f.svc.Login(ctx, "alice", "s3cret")
    require.NoError(t, err)

    f.clock.Advance(14 * time.Minute)
    _, err = f.authn.Authenticate(ctx, "Bearer "+pair.Access.Token)
    require.NoError(t, err)

    f.clock.Advance(2 * time.Minute)
    _, err = f.authn.Authenticate(ctx, "Bearer "+pair.Access.Token)
    assert.ErrorIs(t, err, ErrTokenExpired)

    res, err := f.svc.Refresh(ctx, pair.Refresh.Raw)
    require.NoError(t, err)
    assert.NotEqual(t, pair.Access.ID, res.Access.ID)

    id, err := f.authn.Authenticate(ctx, "Bearer "+res.Access.Token)
    require.NoError(t, err)
    assert.Equal(t, "alice", id.User.Username)
}

func TestRegister_DuplicateUsername(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    f.register(t, "alice", "s3cret")

    _, err := f.svc.Register(context.Background(), "alice", "x@example.com", "other")
    assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestChangePassword(t *testing.T) {
    f := newAuthFixture(t, defaultAuthConfig())
    u := f.register(t, "alice", "old-pass")
    ctx := context.Background()
    pair, err := f.svc.Login(ctx, "alice", "old-pass")
    require.NoError(t, err)

    err = f.svc.ChangePassword(ctx, u.ID, "wrong", "new-pass")
    assert.ErrorIs(t, err, ErrPasswordMismatch)

    require.NoError(t, f.svc.ChangePassword(ctx, u.ID, "old-pass", "new-pass"))

    _, err = f.svc.Refresh(ctx, pair.Refresh.Raw)
    assert.ErrorIs(t, err, ErrRefreshNotFound)
    _, err = f.svc.Login(ctx, "alice", "old-pass")
    assert.ErrorIs(t, err, ErrInvalidCredentials)
    _, err = f.svc.Login(ctx, "alice", "new-pass")
    assert.NoError(t, err)

    assert.ErrorIs(t, f.svc.ChangePassword(ctx, 999, "a", "b"), ErrPrincipalNotFound)
}

func TestIsAuthError(t *testing.T) {
    assert.True(t, IsAuthError(ErrTokenExpired))
    assert.True(t, IsAuthError(ErrMalformedToken))
    assert.False(t, IsAuthError(ErrCartNotFound))
    assert.False(t, IsAuthError(nil))
}
