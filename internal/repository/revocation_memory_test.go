package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestMemoryRevocationStore_RevokedUntilTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryRevocationStore(time.Hour, clock.Now)

	require.NoError(t, s.Revoke(ctx, "jti-1", 10*time.Minute))

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	clock.Advance(9*time.Minute + 59*time.Second)
	revoked, _ = s.IsRevoked(ctx, "jti-1")
	assert.True(t, revoked)

	clock.Advance(time.Second)
	revoked, _ = s.IsRevoked(ctx, "jti-1")
	assert.False(t, revoked)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryRevocationStore_UnknownIDNotRevoked(t *testing.T) {
	s := NewMemoryRevocationStore(time.Hour, nil)
	revoked, err := s.IsRevoked(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryRevocationStore_NonPositiveTTLIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRevocationStore(time.Hour, nil)

	require.NoError(t, s.Revoke(ctx, "expired", 0))
	require.NoError(t, s.Revoke(ctx, "expired", -time.Second))

	revoked, _ := s.IsRevoked(ctx, "expired")
	assert.False(t, revoked)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryRevocationStore_TTLBeyondHorizon(t *testing.T) {
	s := NewMemoryRevocationStore(15*time.Minute, nil)
	err := s.Revoke(context.Background(), "jti", 16*time.Minute)
	assert.Error(t, err)
}

func TestMemoryRevocationStore_RevokeTwiceKeepsLaterDeadline(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryRevocationStore(time.Hour, clock.Now)

	require.NoError(t, s.Revoke(ctx, "jti", time.Minute))
	require.NoError(t, s.Revoke(ctx, "jti", 5*time.Minute))

	clock.Advance(2 * time.Minute)
	revoked, _ := s.IsRevoked(ctx, "jti")
	assert.True(t, revoked)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}
