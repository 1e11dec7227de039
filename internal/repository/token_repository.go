package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/shop-session/internal/model"
	"github.com/iliyamo/shop-session/internal/utils"
)

// TokenRepo persists refresh tokens.  Only the SHA-256 of the raw value is
// stored (single 'token_hash' column); rows are flagged revoked, never
// deleted.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Create generates a fresh raw token for userID, stores its hash and
// returns the token with Raw populated.
func (r *TokenRepo) Create(ctx context.Context, userID uint64, expiresAt time.Time) (model.RefreshToken, error) {
	raw, err := utils.NewRefreshRaw()
	if err != nil {
		return model.RefreshToken{}, err
	}
	t := model.RefreshToken{
		UserID:    userID,
		Raw:       raw,
		TokenHash: utils.HashRefreshRaw(raw),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, created_at, expires_at, is_revoked) VALUES (?,?,?,?,0)",
		t.UserID, t.TokenHash, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return model.RefreshToken{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.RefreshToken{}, err
	}
	t.ID = uint64(id)
	return t, nil
}

// FindActive looks a raw token up by hash among non-revoked rows.  Unknown
// and revoked tokens both yield sql.ErrNoRows.  Expiry is not checked here.
func (r *TokenRepo) FindActive(ctx context.Context, raw string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at
		 FROM refresh_tokens WHERE token_hash=? AND is_revoked=0 LIMIT 1`,
		utils.HashRefreshRaw(raw)).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return model.RefreshToken{}, err
	}
	return t, nil
}

// Revoke marks a token as revoked and reports whether this call did it.
// Revoking twice is a no-op that returns false.
func (r *TokenRepo) Revoke(ctx context.Context, id uint64) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1, revoked_at=UTC_TIMESTAMP() WHERE id=? AND is_revoked=0",
		id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RevokeAllForUser revokes all of the user's active tokens and returns how
// many rows changed.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET is_revoked=1, revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND is_revoked=0",
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
