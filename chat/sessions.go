package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OwlAIhub/OwlAI-sub003/batch"
	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/query"
	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// Cache lifetimes for list reads. Session lists change less often than
// the message stream of an open conversation.
const (
	sessionListTTL = 5 * time.Minute
	messageListTTL = 2 * time.Minute
)

const (
	defaultSessionLimit = 20
	defaultMessageLimit = 50
	defaultDeleteChunk  = 500
)

// Notifier publishes invalidated entity ids to other instances. The chat
// manager works without one.
type Notifier interface {
	PublishInvalidation(ctx context.Context, ids ...string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithNotifier wires cross-instance invalidation publishing.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithDeleteChunkSize caps the ops per committed batch during session
// deletion. Keep it at or below the batch writer's BatchSize.
func WithDeleteChunkSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.deleteChunk = n
		}
	}
}

// Manager owns session and message lifecycles. Writes go through the
// batch writer as consistency groups; reads go through the cached query
// service. Wire OnCommit as the writer's commit callback so caches are
// invalidated only after writes actually land.
type Manager struct {
	writer      *batch.Writer
	reader      *query.Service
	store       store.Store
	notifier    Notifier
	logger      *slog.Logger
	deleteChunk int
}

// NewManager creates a chat manager over the given write queue, read
// service, and backing store.
func NewManager(writer *batch.Writer, reader *query.Service, st store.Store, opts ...Option) (*Manager, error) {
	if writer == nil || reader == nil || st == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "chat", "NewManager", "writer, reader, and store are required")
	}
	m := &Manager{
		writer:      writer,
		reader:      reader,
		store:       st,
		logger:      slog.Default(),
		deleteChunk: defaultDeleteChunk,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// CreateSession allocates a session with a fresh id and enqueues its
// creation. An empty title gets the default.
func (m *Manager) CreateSession(ctx context.Context, userID, title string) (*Session, error) {
	if userID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "chat", "CreateSession", "userID cannot be empty")
	}
	if title == "" {
		title = DefaultTitle
	}

	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	op := store.BatchOp{
		Kind:       store.OpCreate,
		Collection: CollectionSessions,
		ID:         s.ID,
		Payload:    sessionData(s),
	}
	if err := m.writer.Enqueue(ctx, op); err != nil {
		return nil, errors.Wrap(err, "chat", "CreateSession", "enqueue session create")
	}
	return s, nil
}

// RenameSession updates a session's title.
func (m *Manager) RenameSession(ctx context.Context, sessionID, title string) error {
	if sessionID == "" || title == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "chat", "RenameSession", "sessionID and title cannot be empty")
	}
	op := store.BatchOp{
		Kind:       store.OpUpdate,
		Collection: CollectionSessions,
		ID:         sessionID,
		Payload: map[string]any{
			"title":     title,
			"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
	if err := m.writer.Enqueue(ctx, op); err != nil {
		return errors.Wrap(err, "chat", "RenameSession", "enqueue title update")
	}
	return nil
}

// GetSession reads one session through the document cache.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	doc, err := m.reader.GetDocument(ctx, CollectionSessions, sessionID, query.Options{
		UseCache: true,
		TTL:      sessionListTTL,
	})
	if err != nil {
		return nil, err
	}
	s := sessionFromDoc(*doc)
	return &s, nil
}

// SessionPage is one page of a user's sessions, newest first.
type SessionPage struct {
	Sessions []Session
	HasMore  bool
	Cursor   string
}

// GetSessions lists a user's sessions newest first, served from the page
// cache when fresh.
func (m *Manager) GetSessions(ctx context.Context, userID string, limit int, cursor string) (*SessionPage, error) {
	if userID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "chat", "GetSessions", "userID cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	page, err := m.reader.GetPaginated(ctx, CollectionSessions, query.Params{
		Collection: CollectionSessions,
		Filters:    map[string]any{"userId": userID},
		Limit:      limit,
		Cursor:     cursor,
		Descending: true,
	}, query.Options{UseCache: true, TTL: sessionListTTL})
	if err != nil {
		return nil, err
	}

	out := &SessionPage{
		Sessions: make([]Session, 0, len(page.Docs)),
		HasMore:  page.HasMore,
		Cursor:   page.Cursor,
	}
	for _, doc := range page.Docs {
		out.Sessions = append(out.Sessions, sessionFromDoc(doc))
	}
	return out, nil
}

// DeleteSession removes a session and all its messages. Messages are
// deleted in sequential chunks, each committed directly against the
// store, with the session document going out in the final chunk. The
// first failing chunk aborts the loop and surfaces its error; chunks
// already committed stay deleted, which is safe because deletion is
// idempotent and callers retry the whole operation.
func (m *Manager) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if sessionID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "chat", "DeleteSession", "sessionID cannot be empty")
	}

	// Pending queued writes may still reference this session.
	if err := m.writer.Flush(ctx); err != nil {
		return errors.Wrap(err, "chat", "DeleteSession", "flush pending writes")
	}

	for {
		res, err := m.store.Query(ctx, store.Query{
			Collection: CollectionMessages,
			Filters:    map[string]any{"sessionId": sessionID},
			Limit:      m.deleteChunk,
		})
		if err != nil {
			return errors.Wrap(err, "chat", "DeleteSession", "list session messages")
		}

		ops := make([]store.BatchOp, 0, len(res.Docs)+1)
		for _, doc := range res.Docs {
			ops = append(ops, store.BatchOp{
				Kind:       store.OpDelete,
				Collection: CollectionMessages,
				ID:         doc.ID,
				Payload:    map[string]any{"sessionId": sessionID},
			})
		}

		// A full chunk means more messages may remain; the session
		// document rides along once the message stream is drained.
		done := len(res.Docs) < m.deleteChunk
		if done {
			ops = append(ops, store.BatchOp{
				Kind:       store.OpDelete,
				Collection: CollectionSessions,
				ID:         sessionID,
				Payload:    map[string]any{"userId": userID},
			})
		}

		if len(ops) > 0 {
			if err := m.store.CommitBatch(ctx, ops); err != nil {
				return errors.Wrap(err, "chat", "DeleteSession", "commit delete chunk")
			}
		}
		if done {
			break
		}
	}

	m.invalidate(ctx, sessionID, userID)
	m.logger.Info("session deleted", "session", sessionID, "user", userID)
	return nil
}

// OnCommit is the batch writer's commit callback. It derives the entity
// ids touched by the committed ops and invalidates local caches, then
// fans the ids out to other instances.
func (m *Manager) OnCommit(ops []store.BatchOp) {
	seen := make(map[string]struct{}, len(ops))
	ids := make([]string, 0, len(ops))
	add := func(id string) {
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, op := range ops {
		add(op.ID)
		if sid, ok := op.Payload["sessionId"].(string); ok {
			add(sid)
		}
		if uid, ok := op.Payload["userId"].(string); ok {
			add(uid)
		}
	}
	m.invalidate(context.Background(), ids...)
}

func (m *Manager) invalidate(ctx context.Context, ids ...string) {
	for _, id := range ids {
		m.reader.InvalidateByEntity(id)
	}
	if m.notifier == nil || len(ids) == 0 {
		return
	}
	if err := m.notifier.PublishInvalidation(ctx, ids...); err != nil {
		m.logger.Warn("invalidation publish failed", "error", err)
	}
}
