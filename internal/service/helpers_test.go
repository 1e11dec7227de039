package service

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "github.com/iliyamo/shop-session/internal/model"
    "github.com/iliyamo/shop-session/internal/repository"
    "github.com/iliyamo/shop-session/internal/repository/memstore"
    "github.com/iliyamo/shop-session/internal/utils"
)

const testSecret = "test-signing-secret"

type testClock struct {
    mu sync.Mutex
    t  time.Time
}

func newTestClock() *testClock {
    return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.t
}

func (c *testClock) Advance(d time.Duration) {
    c.mu.Lock()
    c.t = c.t.Add(d)
    c.mu.Unlock()
}

type published struct {
    queue   string
    payload any
}

type recordingPublisher struct {
    mu     sync.Mutex
    events []published
}

func (p *recordingPublisher) Publish(_ context.Context, queueName string, payload any) error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.events = append(p.events, published{queue: queueName, payload: payload})
    return nil
}

func (p *recordingPublisher) all() []published {
    p.mu.Lock()
    defer p.mu.Unlock()
    return append([]published(nil), p.events...)
}

type authFixture struct {
    svc     *AuthService
    authn   *Authenticator
    codec   *utils.TokenCodec
    users   *memstore.Users
    tokens  *memstore.Tokens
    revoked *repository.MemoryRevocationStore
    clock   *testClock
    events  *recordingPublisher
}

func defaultAuthConfig() AuthConfig {
    return AuthConfig{
        AccessTTL:  15 * time.Minute,
        RefreshTTL: 7 * 24 * time.Hour,
        BcryptCost: 4,
    }
}

func newAuthFixture(t *testing.T, cfg AuthConfig) *authFixture {
    t.Helper()
    f := &authFixture{
        users:  memstore.NewUsers(),
        tokens: memstore.NewTokens(),
        clock:  newTestClock(),
        events: &recordingPublisher{},
    }
    // A horizon longer than the access TTL lets tests revoke past expiry.
    f.revoked = repository.NewMemoryRevocationStore(time.Hour, f.clock.Now)

    codec, err := utils.NewTokenCodec([]byte(testSecret))
    require.NoError(t, err)
    f.codec = codec

    f.svc, err = NewAuthService(AuthDeps{
        Users:   f.users,
        Tokens:  f.tokens,
        Revoked: f.revoked,
        Codec:   codec,
        Events:  f.events,
        Now:     f.clock.Now,
    }, cfg)
    require.NoError(t, err)
    f.authn = NewAuthenticator(codec, f.revoked, f.users, f.clock.Now, nil)
    return f
}

func (f *authFixture) register(t *testing.T, username, password string) model.User {
    t.Helper()
    u, err := f.svc.Register(context.Background(), username, username+"@example.com", password)
    require.NoError(t, err)
    return u
}
