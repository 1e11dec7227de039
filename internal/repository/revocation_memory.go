package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryRevocationStore keeps revoked access-token ids in process memory.
// Each entry stores the instant its token would have expired and is
// treated as absent from then on; the underlying expirable LRU drops it
// once the cache horizon passes.  Entries are bounded by the number of
// tokens revoked within one access-token lifetime.
type MemoryRevocationStore struct {
	entries *expirable.LRU[string, time.Time]
	horizon time.Duration
	now     func() time.Time
}

// NewMemoryRevocationStore returns a store whose entries may live at most
// horizon, which must be at least the access-token lifetime.  A nil now
// uses time.Now.
func NewMemoryRevocationStore(horizon time.Duration, now func() time.Time) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationStore{
		// size 0 means unbounded: an evicted entry would un-revoke a token.
		entries: expirable.NewLRU[string, time.Time](0, nil, horizon),
		horizon: horizon,
		now:     now,
	}
}

// Revoke marks tokenID revoked for ttl.  A non-positive ttl means the token
// has already expired and nothing needs tracking.
func (s *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if ttl > s.horizon {
		return fmt.Errorf("revocation ttl %s exceeds cache horizon %s", ttl, s.horizon)
	}
	s.entries.Add(tokenID, s.now().Add(ttl))
	return nil
}

// IsRevoked reports whether tokenID has a live revocation entry.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	deadline, ok := s.entries.Get(tokenID)
	if !ok {
		return false, nil
	}
	if !s.now().Before(deadline) {
		s.entries.Remove(tokenID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of tracked entries, expired ones included until
// they are swept.
func (s *MemoryRevocationStore) Len() int { return s.entries.Len() }
