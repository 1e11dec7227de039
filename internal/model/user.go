package model

import "time"

// User represents a shop account as stored in the `users` table.  It is
// the only principal type the session core knows about: access tokens
// are issued for a User and resolved back to one on every request.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Username     – unique login identifier (the shop uses phone numbers).
//  Email        – contact address, copied into access token claims.
//  PasswordHash – bcrypt hashed password.
//  IsActive     – whether the account may use profile endpoints.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
    ID           uint64    // users.id
    Username     string    // users.username
    Email        string    // users.email
    PasswordHash string    // users.password_hash
    IsActive     bool      // users.is_active
    CreatedAt    time.Time // users.created_at
    UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Each
// refresh token belongs to a user and carries its own expiry and a
// revocation flag.  The plain token is never stored; only its SHA‑256
// hash.  Rows are never deleted, revocation only flips IsRevoked.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – owner of the token.
//  Raw       – plain token value; only populated right after creation.
//  TokenHash – SHA‑256 hex digest of the token value.
//  CreatedAt – timestamp of creation.
//  ExpiresAt – expiration timestamp of the token.
//  IsRevoked – set once, never cleared.
//  RevokedAt – when the token was revoked (nil while active).
type RefreshToken struct {
    ID        uint64     // refresh_tokens.id
    UserID    uint64     // refresh_tokens.user_id
    Raw       string     // not persisted
    TokenHash string     // refresh_tokens.token_hash
    CreatedAt time.Time  // refresh_tokens.created_at
    ExpiresAt time.Time  // refresh_tokens.expires_at
    IsRevoked bool       // refresh_tokens.is_revoked
    RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
}

// ExpiredAt reports whether the token is no longer valid at now.  A token
// whose expiry equals now is already expired.
func (t RefreshToken) ExpiredAt(now time.Time) bool {
    return !t.ExpiresAt.After(now)
}
