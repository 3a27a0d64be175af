// Package query is the read path of the data-access layer: cursor-paginated
// and single-document reads that consult the TTL cache before touching the
// remote store, deduplicate concurrent identical reads, and invalidate
// broadly on writes.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/metric"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/cache"
	"github.com/OwlAIhub/OwlAI-sub003/pkg/dedupe"
	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// Page is one cached page of query results, cursor included.
type Page struct {
	Docs    []store.Document `json:"docs"`
	HasMore bool             `json:"has_more"`
	Cursor  string           `json:"cursor,omitempty"`
}

// Params describes a paginated read.
type Params struct {
	Collection string
	Filters    map[string]any
	Limit      int
	Cursor     string
	Descending bool
}

// Options controls caching for one read.
type Options struct {
	// UseCache consults (and populates) the TTL cache.
	UseCache bool
	// TTL overrides the cache default for this entry.
	TTL time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracker wires the shared metrics tracker.
func WithTracker(tracker *metric.Tracker) Option {
	return func(s *Service) { s.tracker = tracker }
}

// WithRegistry exposes both caches' Prometheus metrics through the
// given registry.
func WithRegistry(registry *metric.Registry) Option {
	return func(s *Service) { s.registry = registry }
}

// Service serves reads through a page cache and a document cache, both
// bounded TTL caches, with concurrent identical reads collapsed into one
// remote call.
type Service struct {
	store    store.Store
	pages    cache.Cache[Page]
	docs     cache.Cache[store.Document]
	flight   *dedupe.Group[Page]
	docOps   *dedupe.Group[store.Document]
	tracker  *metric.Tracker
	registry *metric.Registry
	logger   *slog.Logger
}

// NewService creates a query service with its two caches. The caches'
// sweep goroutines stop when ctx is cancelled or Close is called.
func NewService(ctx context.Context, st store.Store, cacheCfg cache.Config, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "query", "NewService", "store cannot be nil")
	}

	s := &Service{
		store:  st,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var pageOpts []cache.Option[Page]
	var docOpts []cache.Option[store.Document]
	if s.registry != nil {
		pageOpts = append(pageOpts, cache.WithMetrics[Page](s.registry, "query_pages"))
		docOpts = append(docOpts, cache.WithMetrics[store.Document](s.registry, "query_docs"))
	}

	pages, err := cache.New[Page](ctx, cacheCfg, pageOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "query", "NewService", "create page cache")
	}
	docs, err := cache.New[store.Document](ctx, cacheCfg, docOpts...)
	if err != nil {
		_ = pages.Close()
		return nil, errors.Wrap(err, "query", "NewService", "create document cache")
	}

	s.pages = pages
	s.docs = docs
	s.flight = dedupe.NewGroup(pages)
	s.docOps = dedupe.NewGroup(docs)
	return s, nil
}

// GetPaginated runs a cursor-paginated read for the given entity kind.
// HasMore is derived by over-fetching: the page requests exactly Limit
// documents and a full page signals more, with no separate count query.
func (s *Service) GetPaginated(ctx context.Context, kind string, p Params, o Options) (Page, error) {
	if p.Limit <= 0 {
		return Page{}, errors.WrapInvalid(errors.ErrInvalidData, "query", "GetPaginated", "limit must be positive")
	}

	start := time.Now()
	key := pageKey(kind, p)

	if o.UseCache {
		if page, ok := s.pages.Get(key); ok {
			s.recordHit()
			return page, nil
		}
		s.recordMiss()
	}

	page, err := s.flight.Deduplicate(ctx, key, func(ctx context.Context) (Page, error) {
		res, err := s.store.Query(ctx, store.Query{
			Collection: p.Collection,
			Filters:    p.Filters,
			Descending: p.Descending,
			Limit:      p.Limit,
			Cursor:     p.Cursor,
		})
		if err != nil {
			return Page{}, err
		}
		return Page{
			Docs:    res.Docs,
			HasMore: len(res.Docs) == p.Limit,
			Cursor:  res.Cursor,
		}, nil
	})

	if s.tracker != nil {
		s.tracker.Observe(start, err)
	}
	if err != nil {
		return Page{}, err
	}

	if o.UseCache {
		// The full page is cached, cursor included, so a repeat read
		// continues pagination without touching the store
		_, _ = s.pages.SetWithTTL(key, page, o.TTL)
	}
	return page, nil
}

// GetDocument retrieves one document, serving from cache when allowed.
// Returns a wrapped errors.ErrNotFound when the document is absent.
func (s *Service) GetDocument(ctx context.Context, collection, id string, o Options) (*store.Document, error) {
	start := time.Now()
	key := docKey(collection, id)

	if o.UseCache {
		if doc, ok := s.docs.Get(key); ok {
			s.recordHit()
			return &doc, nil
		}
		s.recordMiss()
	}

	doc, err := s.docOps.Deduplicate(ctx, key, func(ctx context.Context) (store.Document, error) {
		d, err := s.store.Get(ctx, collection, id)
		if err != nil {
			return store.Document{}, err
		}
		return *d, nil
	})

	if s.tracker != nil {
		s.tracker.Observe(start, err)
	}
	if err != nil {
		return nil, err
	}

	if o.UseCache {
		_, _ = s.docs.SetWithTTL(key, doc, o.TTL)
	}
	return &doc, nil
}

// InvalidateByEntity removes every cached page and document whose key
// contains the entity id. The substring match is deliberately broad;
// narrowing it risks stale reads surviving writes.
func (s *Service) InvalidateByEntity(id string) int {
	if id == "" {
		return 0
	}
	n := s.pages.InvalidateByPattern(id) + s.docs.InvalidateByPattern(id)
	if n > 0 {
		s.logger.Debug("cache invalidated", "entity", id, "entries", n)
	}
	return n
}

// CacheStats returns the page and document cache statistics.
func (s *Service) CacheStats() (pages, docs *cache.Statistics) {
	return s.pages.Stats(), s.docs.Stats()
}

// Close shuts down both caches.
func (s *Service) Close() error {
	pagesErr := s.pages.Close()
	docsErr := s.docs.Close()
	if pagesErr != nil {
		return pagesErr
	}
	return docsErr
}

func (s *Service) recordHit() {
	if s.tracker != nil {
		s.tracker.CacheHit()
	}
}

func (s *Service) recordMiss() {
	if s.tracker != nil {
		s.tracker.CacheMiss()
	}
}

// pageKey builds the deterministic composite cache key for a page read:
// entity kind, filter values, then the list parameters. Filter values sort
// by field name so equivalent queries share a key.
func pageKey(kind string, p Params) string {
	fields := make([]string, 0, len(p.Filters))
	for field := range p.Filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString(kind)
	for _, field := range fields {
		b.WriteString(":")
		b.WriteString(fmt.Sprint(p.Filters[field]))
	}
	fmt.Fprintf(&b, ":limit=%d:cursor=%s:desc=%t", p.Limit, p.Cursor, p.Descending)
	return b.String()
}

// docKey builds the cache key for a single-document read.
func docKey(collection, id string) string {
	return collection + ":" + id
}
