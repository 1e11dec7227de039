package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// AuditConsumer listens to the session and cart queues and appends one
// line per event to <dir>/audit.log.
type AuditConsumer struct {
    url string
    dir string
    log *zap.Logger
}

// NewAuditConsumer returns a consumer for the broker at url writing into dir.
func NewAuditConsumer(url, dir string, log *zap.Logger) *AuditConsumer {
    if dir == "" {
        dir = "logs"
    }
    if log == nil {
        log = zap.NewNop()
    }
    return &AuditConsumer{url: url, dir: dir, log: log}
}

// Run connects to RabbitMQ, declares both queues (durable) and consumes
// until ctx is cancelled.  Connection failures are retried with
// exponential backoff capped at 30s; a message that cannot be handled is
// rejected without requeue so the loop keeps going.
func (c *AuditConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := dialBroker(c.url, dialTimeout)
        if err != nil {
            c.log.Warn("audit-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second // reset after successful connect

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.Warn("audit-consumer: consume loop ended; reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn("audit-consumer: set QoS failed", zap.Error(err))
    }

    deliveries := make(chan amqp.Delivery)
    done := make(chan struct{})
    defer close(done)
    for _, name := range []string{SessionEventsQueue, CartEventsQueue} {
        if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
            return fmt.Errorf("queue declare %s: %w", name, err)
        }
        msgs, err := ch.Consume(name, "", false, false, false, false, nil)
        if err != nil {
            return fmt.Errorf("queue consume %s: %w", name, err)
        }
        go forward(msgs, deliveries, done)
    }

    closed := ch.NotifyClose(make(chan *amqp.Error, 1))
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case amqpErr := <-closed:
            if amqpErr != nil {
                return amqpErr
            }
            return errors.New("channel closed")
        case d := <-deliveries:
            if err := c.handle(d.RoutingKey, d.Body); err != nil {
                c.log.Warn("audit-consumer: handle message failed", zap.String("queue", d.RoutingKey), zap.Error(err))
                _ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// forward copies deliveries from one queue into out until msgs closes or
// done is closed.
func forward(msgs <-chan amqp.Delivery, out chan<- amqp.Delivery, done <-chan struct{}) {
    for d := range msgs {
        select {
        case out <- d:
        case <-done:
            return
        }
    }
}

func (c *AuditConsumer) handle(queueName string, body []byte) error {
    line, err := FormatAuditLine(queueName, body)
    if err != nil {
        return err
    }
    if err := os.MkdirAll(c.dir, 0o755); err != nil {
        return fmt.Errorf("mkdir %s: %w", c.dir, err)
    }
    f, err := os.OpenFile(filepath.Join(c.dir, "audit.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()
    if _, err := f.WriteString(line); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatAuditLine renders one event as a single human-friendly line
// terminated by a newline.
func FormatAuditLine(queueName string, body []byte) (string, error) {
    switch queueName {
    case SessionEventsQueue:
        var ev SessionEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        return fmt.Sprintf("[%s] session %s | user_id=%d | username=%q | token_id=%s | revoked_refresh=%d\n",
            ev.OccurredAt, ev.Type, ev.UserID, ev.Username, ev.TokenID, ev.RevokedRefresh), nil
    case CartEventsQueue:
        var ev CartMergedEvent
        if err := json.Unmarshal(body, &ev); err != nil {
            return "", fmt.Errorf("unmarshal: %w", err)
        }
        return fmt.Sprintf("[%s] cart merged | user_id=%d | anon_cart_id=%s | cart_id=%d | moved=%d | summed=%d\n",
            ev.MergedAt, ev.UserID, ev.AnonCartID, ev.CartID, ev.LinesMoved, ev.LinesSummed), nil
    default:
        return "", fmt.Errorf("unknown queue %q", queueName)
    }
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
