package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// dialTimeout bounds one connection attempt to the broker.
const dialTimeout = 3 * time.Second

// ErrBrokerConnecting is returned by Publish while another caller is
// still dialing the broker.
var ErrBrokerConnecting = errors.New("rabbitmq: connection in progress")

type dialFunc func(url string, timeout time.Duration) (*amqp.Connection, error)

func dialBroker(url string, timeout time.Duration) (*amqp.Connection, error) {
    return amqp.DialConfig(url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(timeout),
    })
}

// Publisher sends JSON events to RabbitMQ.  The connection is dialed on
// first use and re-dialed after any failure, so a broker outage never
// blocks startup.  Only one caller dials at a time and the lock is not
// held while it does; the others fail fast with ErrBrokerConnecting.
// Messages are persistent.
type Publisher struct {
    url  string
    log  *zap.Logger
    dial dialFunc

    mu       sync.Mutex
    dialing  bool
    conn     *amqp.Connection
    ch       *amqp.Channel
    declared map[string]bool
}

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger) *Publisher {
    if log == nil {
        log = zap.NewNop()
    }
    return &Publisher{url: url, log: log, dial: dialBroker, declared: make(map[string]bool)}
}

// Publish marshals payload and publishes it to queueName.  Errors are
// logged and returned so callers may ignore them.
func (p *Publisher) Publish(ctx context.Context, queueName string, payload any) error {
    body, err := json.Marshal(payload)
    if err != nil {
        return fmt.Errorf("marshal event: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel(ctx, queueName)
    if err != nil {
        p.log.Warn("rabbitmq: channel unavailable", zap.String("queue", queueName), zap.Error(err))
        return err
    }

    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent, // store on disk
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
        p.log.Warn("rabbitmq: publish failed", zap.String("queue", queueName), zap.Error(err))
        p.resetLocked()
        return err
    }
    return nil
}

// channel returns an open channel with queueName declared.  Callers hold
// mu; it is released while dialing and held again on return.
func (p *Publisher) channel(ctx context.Context, queueName string) (*amqp.Channel, error) {
    if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
        if err := p.connectLocked(ctx); err != nil {
            return nil, err
        }
    }
    if !p.declared[queueName] {
        if _, err := p.ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
            p.resetLocked()
            return nil, fmt.Errorf("queue declare: %w", err)
        }
        p.declared[queueName] = true
    }
    return p.ch, nil
}

func (p *Publisher) connectLocked(ctx context.Context) error {
    if p.dialing {
        return ErrBrokerConnecting
    }
    if err := ctx.Err(); err != nil {
        return err
    }
    timeout := dialTimeout
    if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
        timeout = time.Until(dl)
    }

    p.resetLocked()
    p.dialing = true
    p.mu.Unlock()
    conn, err := p.dial(p.url, timeout)
    var ch *amqp.Channel
    if err == nil {
        if ch, err = conn.Channel(); err != nil {
            _ = conn.Close()
            err = fmt.Errorf("channel open: %w", err)
        }
    } else {
        err = fmt.Errorf("dial: %w", err)
    }
    p.mu.Lock()
    p.dialing = false
    if err != nil {
        return err
    }
    p.conn, p.ch = conn, ch
    return nil
}

func (p *Publisher) resetLocked() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.ch, p.conn = nil, nil
    p.declared = make(map[string]bool)
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    var errs []error
    if p.ch != nil {
        errs = append(errs, p.ch.Close())
    }
    if p.conn != nil {
        errs = append(errs, p.conn.Close())
    }
    p.ch, p.conn = nil, nil
    return errors.Join(errs...)
}

// Discard drops every event.  It is used when publishing is disabled.
type Discard struct{}

func (Discard) Publish(context.Context, string, any) error { return nil }
