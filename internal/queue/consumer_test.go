package queue

import (
    "context"
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestFormatAuditLine_Session(t *testing.T) {
    body, err := json.Marshal(SessionEvent{
        Type:           SessionLogout,
        UserID:         7,
        Username:       "alice",
        TokenID:        "jti-1",
        RevokedRefresh: 2,
        OccurredAt:     "2026-01-01T00:00:00Z",
    })
    require.NoError(t, err)

    line, err := FormatAuditLine(SessionEventsQueue, body)
    require.NoError(t, err)
    assert.Equal(t,
        "[2026-01-01T00:00:00Z] session logout | user_id=7 | username=\"alice\" | token_id=jti-1 | revoked_refresh=2\n",
        line)
}

func TestFormatAuditLine_Cart(t *testing.T) {
    body, err := json.Marshal(CartMergedEvent{
        UserID: 3, AnonCartID: "abc", CartID: 9, LinesMoved: 1, LinesSummed: 1, MergedAt: "t",
    })
    require.NoError(t, err)

    line, err := FormatAuditLine(CartEventsQueue, body)
    require.NoError(t, err)
    assert.Contains(t, line, "cart merged | user_id=3 | anon_cart_id=abc | cart_id=9 | moved=1 | summed=1")
}

func TestFormatAuditLine_Errors(t *testing.T) {
    _, err := FormatAuditLine("other", []byte("{}"))
    assert.Error(t, err)

    _, err = FormatAuditLine(SessionEventsQueue, []byte("not json"))
    assert.Error(t, err)
}

func TestAuditConsumer_HandleAppends(t *testing.T) {
    dir := filepath.Join(t.TempDir(), "audit")
    c := NewAuditConsumer("", dir, nil)
    body, _ := json.Marshal(SessionEvent{Type: SessionLogin, UserID: 1, OccurredAt: "t"})

    require.NoError(t, c.handle(SessionEventsQueue, body))
    require.NoError(t, c.handle(SessionEventsQueue, body))

    data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
    require.NoError(t, err)
    assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestSleep_CancelledContext(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    assert.False(t, sleep(ctx, time.Hour))
    assert.True(t, sleep(context.Background(), time.Millisecond))
}

func TestDiscard(t *testing.T) {
    assert.NoError(t, Discard{}.Publish(context.Background(), SessionEventsQueue, struct{}{}))
}

func TestForward_StopsWhenDone(t *testing.T) {
    msgs := make(chan amqp.Delivery, 1)
    msgs <- amqp.Delivery{RoutingKey: SessionEventsQueue}
    out := make(chan amqp.Delivery) // never read: forward blocks sending
    done := make(chan struct{})

    returned := make(chan struct{})
    go func() {
        forward(msgs, out, done)
        close(returned)
    }()

    close(done)
    select {
    case <-returned:
    case <-time.After(2 * time.Second):
        t.Fatal("forward still blocked after done was closed")
    }
}

func TestForward_CopiesUntilSourceCloses(t *testing.T) {
    msgs := make(chan amqp.Delivery, 2)
    msgs <- amqp.Delivery{RoutingKey: SessionEventsQueue}
    msgs <- amqp.Delivery{RoutingKey: CartEventsQueue}
    close(msgs)
    out := make(chan amqp.Delivery, 2)

    forward(msgs, out, make(chan struct{}))
    require.Len(t, out, 2)
    assert.Equal(t, SessionEventsQueue, (<-out).RoutingKey)
    assert.Equal(t, CartEventsQueue, (<-out).RoutingKey)
}

