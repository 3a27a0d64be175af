package owlai

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/OwlAIhub/OwlAI-sub003/ai"
	"github.com/OwlAIhub/OwlAI-sub003/batch"
	"github.com/OwlAIhub/OwlAI-sub003/chat"
	"github.com/OwlAIhub/OwlAI-sub003/config"
	"github.com/OwlAIhub/OwlAI-sub003/degrade"
	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/metric"
	"github.com/OwlAIhub/OwlAI-sub003/notify"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/breaker"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/cache"
	"github.com/OwlAIhub/OwlAI-sub003/query"
	"github.com/OwlAIhub/OwlAI-sub003/store"
	"github.com/OwlAIhub/OwlAI-sub003/store/redisstore"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger *slog.Logger
	store  store.Store
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStore overrides the backend selected by the configuration. Useful
// for tests and embedding.
func WithStore(st store.Store) Option {
	return func(o *clientOptions) { o.store = st }
}

// Client is the assembled data-access layer. Construct with New, use
// the accessors, and Close when done.
type Client struct {
	store     store.Store
	registry  *metric.Registry
	tracker   *metric.Tracker
	breaker   *breaker.Breaker
	router    *degrade.Router
	reader    *query.Service
	writer    *batch.Writer
	chat      *chat.Manager
	bus       *notify.Bus
	assistant ai.Completer
	logger    *slog.Logger
	cancel    context.CancelFunc
}

// New wires the full stack from cfg. A nil cfg means defaults: an
// in-memory store, no peer invalidation, no assistant.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "owlai", "New", "validate configuration")
	}

	options := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger

	runCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		registry: metric.NewRegistry(),
		tracker:  metric.NewTracker(),
		logger:   logger,
		cancel:   cancel,
	}

	var err error
	c.store = options.store
	if c.store == nil {
		c.store, err = newStore(runCtx, cfg)
		if err != nil {
			cancel()
			return nil, err
		}
	}

	c.breaker = breaker.New(
		breaker.WithName("store"),
		breaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithResetTimeout(cfg.Breaker.ResetTimeout.Std()),
		breaker.WithWindow(cfg.Breaker.Window.Std()),
		breaker.WithLogger(logger),
	)
	c.router = degrade.NewRouter(
		degrade.WithLogger(logger),
		degrade.WithBreaker(c.breaker),
		degrade.WithDefaultTimeout(cfg.Degrade.DefaultTimeout.Std()),
	)

	c.reader, err = query.NewService(runCtx, c.store, cache.Config{
		Capacity:      cfg.Cache.Capacity,
		DefaultTTL:    cfg.Cache.DefaultTTL.Std(),
		SweepInterval: cfg.Cache.SweepInterval.Std(),
	},
		query.WithLogger(logger),
		query.WithTracker(c.tracker),
		query.WithRegistry(c.registry),
	)
	if err != nil {
		cancel()
		return nil, err
	}

	// The commit callback needs the chat manager, which needs the
	// writer. The indirection breaks the cycle.
	var mgr *chat.Manager
	c.writer, err = batch.NewWriter(runCtx, batch.Config{
		BatchSize:     cfg.Batch.BatchSize,
		FlushInterval: cfg.Batch.FlushInterval.Std(),
	}, c.store,
		batch.WithLogger(logger),
		batch.WithTracker(c.tracker),
		batch.WithBreaker(c.breaker),
		batch.WithCommitCallback(func(ops []store.BatchOp) {
			if mgr != nil {
				mgr.OnCommit(ops)
			}
		}),
	)
	if err != nil {
		cancel()
		_ = c.reader.Close()
		return nil, err
	}

	chatOpts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithDeleteChunkSize(cfg.Batch.BatchSize),
	}
	if cfg.NATS.URL != "" {
		c.bus, err = notify.New(notify.Config{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait.Std(),
			Logger:        logger,
		})
		if err != nil {
			c.shutdown(ctx)
			return nil, err
		}
		if err := c.bus.Subscribe(c.reader); err != nil {
			c.shutdown(ctx)
			return nil, err
		}
		chatOpts = append(chatOpts, chat.WithNotifier(c.bus))
	}

	mgr, err = chat.NewManager(c.writer, c.reader, c.store, chatOpts...)
	if err != nil {
		c.shutdown(ctx)
		return nil, err
	}
	c.chat = mgr

	if cfg.AI.Model != "" {
		inner, err := ai.NewClient(ai.Config{
			BaseURL:      cfg.AI.BaseURL,
			Model:        cfg.AI.Model,
			APIKey:       cfg.AI.APIKey,
			SystemPrompt: cfg.AI.SystemPrompt,
			Timeout:      cfg.AI.Timeout.Std(),
			Logger:       logger,
		})
		if err != nil {
			c.shutdown(ctx)
			return nil, err
		}
		c.assistant = ai.NewResilient(inner, c.router)
	}

	return c, nil
}

// newStore selects the backend: Redis when an address is configured,
// otherwise the in-memory store.
func newStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Redis.Addr == "" {
		return store.NewMem(), nil
	}
	redisCfg := redisstore.DefaultConfig()
	redisCfg.Addr = cfg.Redis.Addr
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	if cfg.Redis.KeyPrefix != "" {
		redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
	}
	return redisstore.New(ctx, redisCfg)
}

// Chat returns the session and message manager.
func (c *Client) Chat() *chat.Manager { return c.chat }

// Query returns the cached read service.
func (c *Client) Query() *query.Service { return c.reader }

// Writer returns the batch write queue for direct enqueueing.
func (c *Client) Writer() *batch.Writer { return c.writer }

// Router returns the degradation router for registering fallbacks.
func (c *Client) Router() *degrade.Router { return c.router }

// Assistant returns the resilient completion client, or nil when no
// model is configured.
func (c *Client) Assistant() ai.Completer { return c.assistant }

// Metrics returns the rolling performance tracker.
func (c *Client) Metrics() *metric.Tracker { return c.tracker }

// MetricsHandler serves the Prometheus metrics endpoint.
func (c *Client) MetricsHandler() http.Handler { return c.registry.Handler() }

// BreakerSnapshot reports the shared circuit breaker's current state.
func (c *Client) BreakerSnapshot() breaker.Snapshot { return c.breaker.Snapshot() }

// Close flushes pending writes and shuts everything down.
func (c *Client) Close(ctx context.Context) error {
	err := c.shutdown(ctx)
	if err != nil {
		return errors.Wrap(err, "owlai", "Close", "shutdown")
	}
	return nil
}

func (c *Client) shutdown(ctx context.Context) error {
	var firstErr error
	if c.writer != nil {
		if err := c.writer.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.bus != nil {
		if err := c.bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.reader != nil {
		if err := c.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.cancel()
	return firstErr
}
