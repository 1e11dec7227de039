// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Both queues are durable and fed through the default
// exchange with the queue name as routing key.
const (
    SessionEventsQueue = "auth.session"
    CartEventsQueue    = "cart.merged"
)

// Session event types.
const (
    SessionLogin          = "login"
    SessionRefresh        = "refresh"
    SessionRefreshExpired = "refresh_expired"
    SessionLogout         = "logout"
    SessionPasswordChange = "password_changed"
)

// SessionEvent is published when a session is opened, renewed or closed.
// It never carries token material; TokenID is the access-token jti.
type SessionEvent struct {
    Type           string `json:"type"`
    UserID         uint64 `json:"user_id"`
    Username       string `json:"username,omitempty"`
    TokenID        string `json:"token_id,omitempty"`
    RefreshTokenID uint64 `json:"refresh_token_id,omitempty"`
    RevokedRefresh int64  `json:"revoked_refresh,omitempty"`
    OccurredAt     string `json:"occurred_at"`
}

// CartMergedEvent is published after an anonymous cart has been folded
// into a user's cart and deleted.
type CartMergedEvent struct {
    UserID      uint64 `json:"user_id"`
    AnonCartID  string `json:"anon_cart_id"`
    CartID      uint64 `json:"cart_id"`
    LinesMoved  int    `json:"lines_moved"`
    LinesSummed int    `json:"lines_summed"`
    MergedAt    string `json:"merged_at"`
}
