// Package memstore provides in-memory versions of the MySQL repositories.
// They implement the same method sets and error conventions (sql.ErrNoRows
// for missing rows, repository sentinels otherwise) and are what the
// service, middleware and handler tests run against.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/shop-session/internal/model"
	"github.com/iliyamo/shop-session/internal/repository"
	"github.com/iliyamo/shop-session/internal/utils"
)

// Users is an in-memory principal directory.
type Users struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
}

func NewUsers() *Users { return &Users{byID: make(map[uint64]model.User)} }

func (s *Users) Create(_ context.Context, username, email, password string, cost int) (model.User, error) {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}
	username = strings.TrimSpace(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Username == username {
			return model.User{}, repository.ErrUsernameExists
		}
	}
	s.nextID++
	now := time.Now().UTC()
	u := model.User{
		ID:           s.nextID,
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[u.ID] = u
	return u, nil
}

func (s *Users) GetByID(_ context.Context, id uint64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return model.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Users) FindByUsername(_ context.Context, username string) (model.User, bool, error) {
	username = strings.TrimSpace(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Username == username {
			return u, true, nil
		}
	}
	return model.User{}, false, nil
}

func (s *Users) VerifyCredentials(ctx context.Context, login, password string) (model.User, bool, error) {
	u, found, err := s.FindByUsername(ctx, login)
	if err != nil || !found {
		return model.User{}, false, err
	}
	if !utils.VerifyPassword(u.PasswordHash, password) || !u.IsActive {
		return model.User{}, false, nil
	}
	return u, true, nil
}

func (s *Users) UpdatePassword(_ context.Context, id uint64, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	s.byID[id] = u
	return nil
}

// SetActive flips the active flag of a user.
func (s *Users) SetActive(id uint64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byID[id]; ok {
		u.IsActive = active
		s.byID[id] = u
	}
}

// Delete removes a user.
func (s *Users) Delete(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
}

// Tokens is an in-memory refresh-token table.
type Tokens struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]model.RefreshToken
}

func NewTokens() *Tokens { return &Tokens{rows: make(map[uint64]model.RefreshToken)} }

func (s *Tokens) Create(_ context.Context, userID uint64, expiresAt time.Time) (model.RefreshToken, error) {
	raw, err := utils.NewRefreshRaw()
	if err != nil {
		return model.RefreshToken{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := model.RefreshToken{
		ID:        s.nextID,
		UserID:    userID,
		Raw:       raw,
		TokenHash: utils.HashRefreshRaw(raw),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	stored := t
	stored.Raw = ""
	s.rows[t.ID] = stored
	return t, nil
}

func (s *Tokens) FindActive(_ context.Context, raw string) (model.RefreshToken, error) {
	hash := utils.HashRefreshRaw(raw)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.rows {
		if t.TokenHash == hash && !t.IsRevoked {
			return t, nil
		}
	}
	return model.RefreshToken{}, sql.ErrNoRows
}

func (s *Tokens) Revoke(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(id), nil
}

func (s *Tokens) RevokeAllForUser(_ context.Context, userID uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.rows {
		if t.UserID == userID && s.revokeLocked(id) {
			n++
		}
	}
	return n, nil
}

func (s *Tokens) revokeLocked(id uint64) bool {
	t, ok := s.rows[id]
	if !ok || t.IsRevoked {
		return false
	}
	now := time.Now().UTC()
	t.IsRevoked = true
	t.RevokedAt = &now
	s.rows[id] = t
	return true
}

// Get returns the stored row, revoked or not.
func (s *Tokens) Get(id uint64) (model.RefreshToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[id]
	return t, ok
}

// Catalog is an in-memory product catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[uint64]model.Product
}

func NewCatalog(products ...model.Product) *Catalog {
	c := &Catalog{products: make(map[uint64]model.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Exists(_ context.Context, id uint64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.products[id]
	return ok, nil
}

func (c *Catalog) ByIDs(_ context.Context, ids []uint64) (map[uint64]model.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uint64]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func sortLines(lines []model.CartLine) {
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
}
