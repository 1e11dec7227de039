package utils // package utils provides helper functions for token creation and hashing

import (
    "crypto/rand"   // secure random number generation
    "crypto/sha256" // SHA‑256 hashing for refresh tokens
    "crypto/subtle" // constant-time signature comparison
    "encoding/base64"
    "encoding/hex" // hex encoding and decoding functions
    "errors"
    "fmt"
    "strconv"
    "time" // time utilities for generating expirations

    "github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
    "github.com/google/uuid"

    "github.com/iliyamo/shop-session/internal/model"
)

// ErrMalformedToken is returned by TokenCodec.Decode when the token is not
// three dot-separated base64url segments with JSON header and payload.
var ErrMalformedToken = errors.New("malformed token")

// Claims is the payload of an access token.  Besides the registered
// claims (sub, jti, iat, exp) it carries the login identifier and email of
// the principal so that the token is self-describing.
type Claims struct {
    Username string `json:"username"`
    Email    string `json:"email"`
    jwt.RegisteredClaims
}

// UserID parses the subject claim back into a user id.
func (c *Claims) UserID() (uint64, error) {
    return strconv.ParseUint(c.Subject, 10, 64)
}

// Expiry returns the exp claim.  ok is false when the claim is missing.
func (c *Claims) Expiry() (exp time.Time, ok bool) {
    if c.ExpiresAt == nil {
        return time.Time{}, false
    }
    return c.ExpiresAt.Time, true
}

// TokenCodec encodes and decodes HS256 signed tokens of the form
// base64url(header).base64url(payload).base64url(signature), without
// padding.  The secret is injected at construction and never read from
// process state.
type TokenCodec struct {
    secret []byte
    parser *jwt.Parser
}

// NewTokenCodec returns a codec signing with secret.  An empty secret is
// rejected.
func NewTokenCodec(secret []byte) (*TokenCodec, error) {
    if len(secret) == 0 {
        return nil, errors.New("token codec: empty signing secret")
    }
    key := make([]byte, len(secret))
    copy(key, secret)
    return &TokenCodec{secret: key, parser: jwt.NewParser()}, nil
}

// Encode signs claims and returns the compact token string.  The header is
// always {"alg":"HS256","typ":"JWT"}.
func (c *TokenCodec) Encode(claims *Claims) (string, error) {
    t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
    return t.SignedString(c.secret)
}

// DecodedToken is the result of TokenCodec.Decode.  Signature is the
// segment presented by the client and Expected the one recomputed from
// the header and payload segments.  Nothing in Claims may be trusted until
// SignatureValid returns true.
type DecodedToken struct {
    Header    map[string]any
    Claims    *Claims
    Signature string
    Expected  string
}

// SignatureValid compares the presented and recomputed signatures in
// constant time.
func (d *DecodedToken) SignatureValid() bool {
    return subtle.ConstantTimeCompare([]byte(d.Signature), []byte(d.Expected)) == 1
}

// Decode splits the token into its three segments, parses the header and
// payload JSON and recomputes the expected signature over the exact
// "header.payload" bytes.  It does not reject a signature mismatch; callers
// decide with SignatureValid.
func (c *TokenCodec) Decode(raw string) (*DecodedToken, error) {
    claims := &Claims{}
    tok, parts, err := c.parser.ParseUnverified(raw, claims)
    if err != nil || len(parts) != 3 {
        return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
    }
    sig, err := jwt.SigningMethodHS256.Sign(parts[0]+"."+parts[1], c.secret)
    if err != nil {
        return nil, fmt.Errorf("recompute signature: %w", err)
    }
    return &DecodedToken{
        Header:    tok.Header,
        Claims:    claims,
        Signature: parts[2],
        Expected:  base64.RawURLEncoding.EncodeToString(sig),
    }, nil
}

// AccessToken represents a signed access token along with its identifier
// and expiry.  The Token field contains the compact string sent in the
// Authorization header; ID is the jti claim used for revocation.
type AccessToken struct {
    Token string    // the serialized token string
    ID    string    // jti
    Exp   time.Time // the UTC expiration time
}

// AccessTokenIssuer builds short-lived access tokens for a user.  It is
// stateless apart from its clock.
type AccessTokenIssuer struct {
    codec *TokenCodec
    ttl   time.Duration
    now   func() time.Time
}

// NewAccessTokenIssuer returns an issuer minting tokens valid for ttl.  A
// nil now uses time.Now.
func NewAccessTokenIssuer(codec *TokenCodec, ttl time.Duration, now func() time.Time) *AccessTokenIssuer {
    if now == nil {
        now = time.Now
    }
    return &AccessTokenIssuer{codec: codec, ttl: ttl, now: now}
}

// TTL returns the lifetime of issued tokens.
func (i *AccessTokenIssuer) TTL() time.Duration { return i.ttl }

// Issue signs a new access token for u.  Every call draws a fresh UUID
// for the jti claim so two tokens for the same user never share a
// revocation key.
func (i *AccessTokenIssuer) Issue(u model.User) (AccessToken, error) {
    now := i.now().UTC()
    claims := &Claims{
        Username: u.Username,
        Email:    u.Email,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   strconv.FormatUint(u.ID, 10),
            ID:        uuid.NewString(),
            IssuedAt:  jwt.NewNumericDate(now),
            ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
        },
    }
    signed, err := i.codec.Encode(claims)
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, ID: claims.ID, Exp: claims.ExpiresAt.Time}, nil
}

// NewRefreshRaw returns a cryptographically secure random refresh token
// value.  It is opaque to clients and carries no structure.
func NewRefreshRaw() (string, error) {
    return randomHex(48) // 48 bytes -> 96 hex chars
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string.  Only this hash is persisted.
func HashRefreshRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
