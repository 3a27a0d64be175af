// Package notify fans cache invalidations out to other instances over
// core NATS. Each instance tags its messages with an origin id and skips
// its own, so local invalidation stays synchronous while peers converge
// shortly after a commit.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// DefaultSubject carries invalidation messages.
const DefaultSubject = "owlai.cache.invalidate"

// Invalidator applies invalidations to the local caches. The query
// service satisfies it.
type Invalidator interface {
	InvalidateByEntity(id string) int
}

// message is the wire payload. Origin is the publishing instance's id.
type message struct {
	IDs    []string `json:"ids"`
	Origin string   `json:"origin"`
}

// Config configures the invalidation bus.
type Config struct {
	// URL of the NATS server, e.g. nats.DefaultURL.
	URL string

	// Subject overrides DefaultSubject (optional).
	Subject string

	// MaxReconnects and ReconnectWait tune connection recovery.
	// Zero values mean reconnect forever, 2s apart.
	MaxReconnects int
	ReconnectWait time.Duration

	// Logger for connection events (optional, defaults to slog.Default()).
	Logger *slog.Logger
}

// Bus publishes and receives invalidation messages.
type Bus struct {
	conn    *nats.Conn
	subject string
	origin  string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// New connects to NATS and returns a bus ready to publish. Call
// Subscribe to also receive peer invalidations.
func New(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "notify", "New", "NATS URL is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	maxReconnects := cfg.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}
	reconnectWait := cfg.ReconnectWait
	if reconnectWait == 0 {
		reconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("owlai-invalidation"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "notify", "New", "connect to NATS")
	}

	return &Bus{
		conn:    conn,
		subject: subject,
		origin:  uuid.NewString(),
		logger:  logger,
	}, nil
}

// PublishInvalidation sends entity ids to peer instances. The local
// caches are invalidated by the caller before publishing, so a publish
// failure only delays peer convergence until the entries expire.
func (b *Bus) PublishInvalidation(_ context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	payload, err := json.Marshal(message{IDs: ids, Origin: b.origin})
	if err != nil {
		return errors.Wrap(err, "notify", "PublishInvalidation", "encode message")
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		return errors.WrapTransient(err, "notify", "PublishInvalidation", "publish message")
	}
	return nil
}

// Subscribe applies peer invalidations to the given invalidator.
// Messages from this instance are skipped. Subscribing twice replaces
// the previous subscription.
func (b *Bus) Subscribe(inv Invalidator) error {
	if inv == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "notify", "Subscribe", "invalidator cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			b.logger.Warn("unsubscribe failed", "error", err)
		}
		b.sub = nil
	}

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		b.handle(msg.Data, inv)
	})
	if err != nil {
		return errors.WrapTransient(err, "notify", "Subscribe", "subscribe to invalidation subject")
	}
	b.sub = sub
	return nil
}

// handle applies one received invalidation message.
func (b *Bus) handle(data []byte, inv Invalidator) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		b.logger.Warn("malformed invalidation message", "error", err)
		return
	}
	if m.Origin == b.origin {
		return
	}
	total := 0
	for _, id := range m.IDs {
		total += inv.InvalidateByEntity(id)
	}
	b.logger.Debug("peer invalidation applied", "entities", len(m.IDs), "entries", total)
}

// Close drains the connection, letting in-flight messages finish.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.sub = nil
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return errors.Wrap(err, "notify", "Close", "drain connection")
	}
	return nil
}
