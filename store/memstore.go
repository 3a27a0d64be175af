package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
)

// memDoc is a stored document plus the monotonic sequence used for stable
// ordering and cursoring.
type memDoc struct {
	data      map[string]any
	updatedAt time.Time
	seq       int64
}

// Mem is an in-memory Store used by tests and local development. Batches
// are atomic: every operation is validated and staged before anything
// becomes visible. A commit hook can inject failures to exercise requeue
// and retry paths.
type Mem struct {
	mu          sync.Mutex
	collections map[string]map[string]*memDoc
	seq         int64
	commitHook  func(ops []BatchOp) error
	commits     [][]BatchOp
}

// NewMem creates an empty in-memory store.
func NewMem() *Mem {
	return &Mem{collections: make(map[string]map[string]*memDoc)}
}

// SetCommitHook installs a hook called at the start of every CommitBatch.
// Returning an error fails the whole batch without applying anything.
func (m *Mem) SetCommitHook(hook func(ops []BatchOp) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitHook = hook
}

// Commits returns a copy of every batch committed so far, in order.
func (m *Mem) Commits() [][]BatchOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]BatchOp, len(m.commits))
	for i, batch := range m.commits {
		out[i] = append([]BatchOp(nil), batch...)
	}
	return out
}

// Get retrieves one document.
func (m *Mem) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, errors.Wrap(errors.ErrNotFound, "memstore", "Get",
			fmt.Sprintf("get %s/%s", collection, id))
	}
	return &Document{ID: id, Data: copyData(doc.data), UpdatedAt: doc.updatedAt}, nil
}

// Query runs a filtered, cursor-paginated read ordered by write sequence.
func (m *Mem) Query(_ context.Context, q Query) (*Result, error) {
	if q.Limit <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "memstore", "Query", "limit must be positive")
	}

	var afterSeq int64 = -1
	if q.Cursor != "" {
		parsed, err := strconv.ParseInt(q.Cursor, 10, 64)
		if err != nil {
			return nil, errors.WrapInvalid(err, "memstore", "Query", "parse cursor")
		}
		afterSeq = parsed
	}

	m.mu.Lock()
	type scored struct {
		id  string
		doc *memDoc
	}
	var matched []scored
	for id, doc := range m.collections[q.Collection] {
		if !matchFilters(doc.data, q.Filters) {
			continue
		}
		matched = append(matched, scored{id: id, doc: doc})
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if q.Descending {
			return matched[i].doc.seq > matched[j].doc.seq
		}
		return matched[i].doc.seq < matched[j].doc.seq
	})

	result := &Result{}
	for _, s := range matched {
		if afterSeq >= 0 {
			// Cursor is exclusive: skip until strictly past it
			if q.Descending && s.doc.seq >= afterSeq {
				continue
			}
			if !q.Descending && s.doc.seq <= afterSeq {
				continue
			}
		}
		result.Docs = append(result.Docs, Document{
			ID:        s.id,
			Data:      copyData(s.doc.data),
			UpdatedAt: s.doc.updatedAt,
		})
		result.Cursor = strconv.FormatInt(s.doc.seq, 10)
		if len(result.Docs) == q.Limit {
			break
		}
	}

	return result, nil
}

// CommitBatch applies all operations atomically: the batch is validated and
// staged against copies first, then swapped in.
func (m *Mem) CommitBatch(_ context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitHook != nil {
		if err := m.commitHook(ops); err != nil {
			return errors.Wrap(err, "memstore", "CommitBatch", "commit hook")
		}
	}

	// Stage: copy only the collections the batch touches
	staged := make(map[string]map[string]*memDoc)
	for _, op := range ops {
		if _, ok := staged[op.Collection]; ok {
			continue
		}
		col := make(map[string]*memDoc, len(m.collections[op.Collection]))
		for id, doc := range m.collections[op.Collection] {
			col[id] = doc
		}
		staged[op.Collection] = col
	}

	now := time.Now()
	seq := m.seq
	for _, op := range ops {
		col := staged[op.Collection]
		seq++
		switch op.Kind {
		case OpCreate:
			// create translates to a full set
			col[op.ID] = &memDoc{data: copyData(op.Payload), updatedAt: now, seq: seq}
		case OpUpdate:
			// update merges fields, upserting if the document is missing
			merged := make(map[string]any)
			docSeq := seq
			if existing, exists := col[op.ID]; exists {
				merged = copyData(existing.data)
				docSeq = existing.seq
			}
			for k, v := range op.Payload {
				merged[k] = v
			}
			col[op.ID] = &memDoc{data: merged, updatedAt: now, seq: docSeq}
		case OpDelete:
			delete(col, op.ID)
		case OpIncrement:
			// increment applies a numeric delta, missing fields count as zero
			merged := make(map[string]any)
			docSeq := seq
			if existing, exists := col[op.ID]; exists {
				merged = copyData(existing.data)
				docSeq = existing.seq
			}
			merged[op.Field] = numericValue(merged[op.Field]) + op.Delta
			col[op.ID] = &memDoc{data: merged, updatedAt: now, seq: docSeq}
		default:
			return errors.WrapInvalid(errors.ErrInvalidData, "memstore", "CommitBatch",
				fmt.Sprintf("unknown op kind %q", op.Kind))
		}
	}

	// Commit: swap staged collections in
	for name, col := range staged {
		m.collections[name] = col
	}
	m.seq = seq
	m.commits = append(m.commits, append([]BatchOp(nil), ops...))
	return nil
}

// matchFilters reports whether data satisfies every equality filter.
func matchFilters(data, filters map[string]any) bool {
	for field, want := range filters {
		got, ok := data[field]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// numericValue coerces a stored field to int64 for increments.
// Missing or non-numeric fields count as zero.
func numericValue(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		parsed, _ := n.Int64()
		return parsed
	default:
		return 0
	}
}

// copyData shallow-copies a document field map.
func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
