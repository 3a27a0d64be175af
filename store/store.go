// Package store defines the remote document store port consumed by the
// data-access layer, plus an in-memory implementation used in tests and
// local development.
package store

import (
	"context"
	"time"
)

// OpKind enumerates the mutation kinds a batch can carry.
type OpKind string

// Batch operation kinds
const (
	OpCreate    OpKind = "create"    // set full document, fails if it exists
	OpUpdate    OpKind = "update"    // merge fields into an existing document
	OpDelete    OpKind = "delete"    // remove a document
	OpIncrement OpKind = "increment" // apply a numeric delta to one field
)

// BatchOp is one pending mutation against the remote document store.
type BatchOp struct {
	Kind       OpKind         `json:"kind"`
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Payload    map[string]any `json:"payload,omitempty"` // create/update fields
	Field      string         `json:"field,omitempty"`   // increment target
	Delta      int64          `json:"delta,omitempty"`   // increment amount
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Document is a stored document with its id and field map.
type Document struct {
	ID        string         `json:"id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Query describes a filtered, ordered, cursor-paginated read.
// Implementations order results by document update time; Filters are
// equality-only.
type Query struct {
	Collection string         `json:"collection"`
	Filters    map[string]any `json:"filters,omitempty"`
	Descending bool           `json:"descending"`
	Limit      int            `json:"limit"`
	Cursor     string         `json:"cursor,omitempty"` // opaque continuation token
}

// Result is one page of query results. Cursor continues the query when
// passed back; it is set whenever the page is non-empty.
type Result struct {
	Docs   []Document `json:"docs"`
	Cursor string     `json:"cursor,omitempty"`
}

// Store is the narrow port to the remote document store. Implementations
// must support atomic multi-document batch commits and cursor-based
// pagination; nothing else is assumed about the backend.
type Store interface {
	// Get retrieves one document. Returns errors.ErrNotFound (wrapped) if
	// the document does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Query runs a filtered, cursor-paginated read.
	Query(ctx context.Context, q Query) (*Result, error)

	// CommitBatch applies all operations as one all-or-nothing transaction.
	CommitBatch(ctx context.Context, ops []BatchOp) error
}
