// Package redisstore implements the document store port on Redis.
//
// Documents live in hashes keyed doc:{collection}:{id}, one JSON-encoded
// value per field, so numeric counters can be bumped with HINCRBY inside
// the same transaction as the documents they count. Listing order comes
// from sorted sets keyed idx:{collection} (and per-filter variants) scored
// by write time; cursor pagination rides on exclusive score ranges.
//
// CommitBatch queues every write into one MULTI/EXEC transaction, which is
// what gives the port its all-or-nothing batch guarantee.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/OwlAIhub/OwlAI-sub003/errors"
	"github.com/OwlAIhub/OwlAI-sub003/store"
)

// updatedField is the reserved hash field carrying the document update time.
const updatedField = "_updated"

// Config configures the Redis-backed store.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string `json:"addr"`

	// Password, if the server requires AUTH.
	Password string `json:"password,omitempty"`

	// DB selects the Redis logical database.
	DB int `json:"db"`

	// KeyPrefix namespaces every key this store writes.
	KeyPrefix string `json:"key_prefix"`

	// IndexFields lists, per collection, the fields that get a filter
	// index (e.g. {"messages": {"sessionId"}}). Queries may only filter on
	// indexed fields, and at most one per query.
	IndexFields map[string][]string `json:"index_fields,omitempty"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "owlai",
		IndexFields: map[string][]string{
			"sessions": {"userId"},
			"messages": {"sessionId"},
		},
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "redisstore", "Validate", "addr cannot be empty")
	}
	if c.KeyPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "redisstore", "Validate", "key_prefix cannot be empty")
	}
	return nil
}

// RedisStore implements store.Store on a Redis server.
type RedisStore struct {
	client *redis.Client
	cfg    Config
}

// New creates a Redis-backed store and verifies connectivity.
func New(ctx context.Context, cfg Config) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.WrapTransient(err, "redisstore", "New", "ping")
	}

	return &RedisStore{client: client, cfg: cfg}, nil
}

// NewFromClient wraps an existing client (used by tests with miniredis-style
// fakes and by callers sharing a connection pool).
func NewFromClient(client *redis.Client, cfg Config) *RedisStore {
	return &RedisStore{client: client, cfg: cfg}
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// DocKey returns the hash key for a document.
func (s *RedisStore) DocKey(collection, id string) string {
	return fmt.Sprintf("%s:doc:%s:%s", s.cfg.KeyPrefix, collection, id)
}

// IndexKey returns the base listing index key for a collection.
func (s *RedisStore) IndexKey(collection string) string {
	return fmt.Sprintf("%s:idx:%s", s.cfg.KeyPrefix, collection)
}

// FilterIndexKey returns the per-filter listing index key.
func (s *RedisStore) FilterIndexKey(collection, field string, value any) string {
	return fmt.Sprintf("%s:idx:%s:%s:%v", s.cfg.KeyPrefix, collection, field, value)
}

// indexed reports whether field has a filter index for collection.
func (s *RedisStore) indexed(collection, field string) bool {
	for _, f := range s.cfg.IndexFields[collection] {
		if f == field {
			return true
		}
	}
	return false
}

// Get retrieves one document.
func (s *RedisStore) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	fields, err := s.client.HGetAll(ctx, s.DocKey(collection, id)).Result()
	if err != nil {
		return nil, errors.WrapTransient(err, "redisstore", "Get", "hgetall")
	}
	if len(fields) == 0 {
		return nil, errors.Wrap(errors.ErrNotFound, "redisstore", "Get",
			fmt.Sprintf("get %s/%s", collection, id))
	}
	return s.decode(id, fields)
}

// Query runs a filtered, cursor-paginated read against the listing indexes.
func (s *RedisStore) Query(ctx context.Context, q store.Query) (*store.Result, error) {
	if q.Limit <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "redisstore", "Query", "limit must be positive")
	}
	if len(q.Filters) > 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "redisstore", "Query",
			"at most one filter per query")
	}

	indexKey := s.IndexKey(q.Collection)
	for field, value := range q.Filters {
		if !s.indexed(q.Collection, field) {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "redisstore", "Query",
				fmt.Sprintf("no index for filter field %q in %q", field, q.Collection))
		}
		indexKey = s.FilterIndexKey(q.Collection, field, value)
	}

	rng := &redis.ZRangeBy{Count: int64(q.Limit)}
	if q.Descending {
		rng.Min = "-inf"
		rng.Max = "+inf"
		if q.Cursor != "" {
			rng.Max = "(" + q.Cursor
		}
	} else {
		rng.Min = "-inf"
		rng.Max = "+inf"
		if q.Cursor != "" {
			rng.Min = "(" + q.Cursor
		}
	}

	var entries []redis.Z
	var err error
	if q.Descending {
		entries, err = s.client.ZRevRangeByScoreWithScores(ctx, indexKey, rng).Result()
	} else {
		entries, err = s.client.ZRangeByScoreWithScores(ctx, indexKey, rng).Result()
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "redisstore", "Query", "index range")
	}

	result := &store.Result{}
	for _, entry := range entries {
		id := entry.Member.(string)
		fields, err := s.client.HGetAll(ctx, s.DocKey(q.Collection, id)).Result()
		if err != nil {
			return nil, errors.WrapTransient(err, "redisstore", "Query", "hgetall")
		}
		if len(fields) == 0 {
			// Index entry orphaned by an out-of-band delete: skip
			continue
		}
		doc, err := s.decode(id, fields)
		if err != nil {
			return nil, err
		}
		result.Docs = append(result.Docs, *doc)
		result.Cursor = strconv.FormatFloat(entry.Score, 'f', -1, 64)
	}

	return result, nil
}

// CommitBatch applies all operations inside one MULTI/EXEC transaction.
//
// Delete operations clean filter indexes from their Payload: the caller
// supplies the indexed field values of the document being deleted (the
// hash cannot be read mid-transaction).
func (s *RedisStore) CommitBatch(ctx context.Context, ops []store.BatchOp) error {
	if len(ops) == 0 {
		return nil
	}

	// Pre-encode payloads so marshal errors surface before MULTI
	encoded := make([]map[string]any, len(ops))
	for i, op := range ops {
		if op.Kind == store.OpCreate || op.Kind == store.OpUpdate {
			fields, err := encodeFields(op.Payload)
			if err != nil {
				return errors.WrapInvalid(err, "redisstore", "CommitBatch",
					fmt.Sprintf("encode %s/%s", op.Collection, op.ID))
			}
			encoded[i] = fields
		}
	}

	base := time.Now().UnixMicro()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			docKey := s.DocKey(op.Collection, op.ID)
			// Per-op distinct scores keep cursor pagination stable for
			// documents written in the same batch
			score := float64(base + int64(i))

			switch op.Kind {
			case store.OpCreate:
				fields := encoded[i]
				fields[updatedField] = time.Now().UTC().Format(time.RFC3339Nano)
				pipe.HSet(ctx, docKey, fields)
				pipe.ZAdd(ctx, s.IndexKey(op.Collection), &redis.Z{Score: score, Member: op.ID})
				for _, field := range s.cfg.IndexFields[op.Collection] {
					if value, ok := op.Payload[field]; ok {
						pipe.ZAdd(ctx, s.FilterIndexKey(op.Collection, field, value),
							&redis.Z{Score: score, Member: op.ID})
					}
				}
			case store.OpUpdate:
				fields := encoded[i]
				fields[updatedField] = time.Now().UTC().Format(time.RFC3339Nano)
				pipe.HSet(ctx, docKey, fields)
			case store.OpDelete:
				pipe.Del(ctx, docKey)
				pipe.ZRem(ctx, s.IndexKey(op.Collection), op.ID)
				for _, field := range s.cfg.IndexFields[op.Collection] {
					if value, ok := op.Payload[field]; ok {
						pipe.ZRem(ctx, s.FilterIndexKey(op.Collection, field, value), op.ID)
					}
				}
			case store.OpIncrement:
				pipe.HIncrBy(ctx, docKey, op.Field, op.Delta)
			default:
				return errors.WrapInvalid(errors.ErrInvalidData, "redisstore", "CommitBatch",
					fmt.Sprintf("unknown op kind %q", op.Kind))
			}
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "redisstore", "CommitBatch", "exec transaction")
	}

	return nil
}

// encodeFields JSON-encodes each payload value for hash storage.
// Integers encode as plain digits, which is what keeps HINCRBY valid.
func encodeFields(payload map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(payload))
	for k, v := range payload {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		fields[k] = string(raw)
	}
	return fields, nil
}

// decode turns a Redis hash back into a Document.
func (s *RedisStore) decode(id string, fields map[string]string) (*store.Document, error) {
	doc := &store.Document{ID: id, Data: make(map[string]any, len(fields))}
	for k, raw := range fields {
		if k == updatedField {
			if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				doc.UpdatedAt = t
			}
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// HINCRBY leaves bare integers, which are valid JSON anyway;
			// anything else unparseable is surfaced as-is
			v = raw
		}
		doc.Data[k] = v
	}
	return doc, nil
}
