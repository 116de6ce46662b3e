package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/rs/zerolog"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/logging"
)

// schema defines every table the embedded engine needs: the temporal hub
// table, the generic spoke table, the universal relationship table, and the
// embedding table. Adapted from the teacher's notes/entities/edges schema:
// same temporal-versioning and universal-edge-table shape, generalized from
// fixed columns (entity_kind, is_entity, ...) to a schema-driven
// properties blob validated by the Schema Registry before it ever reaches
// the Store.
const schema = `
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    node_type TEXT NOT NULL,
    content TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    modified_at INTEGER NOT NULL,
    valid_from INTEGER NOT NULL,
    valid_to INTEGER,
    is_current INTEGER NOT NULL DEFAULT 1,
    change_reason TEXT,
    PRIMARY KEY (id, version)
);
CREATE INDEX IF NOT EXISTS idx_nodes_current ON nodes(id) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type) WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_nodes_history ON nodes(id, valid_from);

CREATE TABLE IF NOT EXISTS spokes (
    node_id TEXT PRIMARY KEY,
    node_type TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}'
);

-- Universal relationship table (spec §3). Indexed by (from,type) and
-- (to,type) as required by §6 "Persisted layout".
CREATE TABLE IF NOT EXISTS relationships (
    id TEXT PRIMARY KEY,
    from_id TEXT NOT NULL,
    to_id TEXT NOT NULL,
    rel_type TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rel_from_type ON relationships(from_id, rel_type);
CREATE INDEX IF NOT EXISTS idx_rel_to_type ON relationships(to_id, rel_type);

-- Embedding table (spec §3/§4.4). Vectors are stored as sqlite-vec-
-- compatible JSON text so vec_distance_cosine (registered by
-- asg017/sqlite-vec-go-bindings) can scan them directly in SQL.
CREATE TABLE IF NOT EXISTS embeddings (
    id TEXT PRIMARY KEY,
    root_id TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    total_chunks INTEGER NOT NULL,
    start_char INTEGER NOT NULL,
    end_char INTEGER NOT NULL,
    content_hash TEXT NOT NULL,
    token_count INTEGER NOT NULL,
    vector TEXT NOT NULL DEFAULT '[]',
    stale INTEGER NOT NULL DEFAULT 1,
    error_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_root ON embeddings(root_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_stale ON embeddings(stale) WHERE stale = 1;
`

// Store is the embedded document+graph DB adapter (spec §4.1). It is the
// exclusive writer of persisted state (spec §3 Ownership); Node Service and
// Embedding Service hold it by shared reference.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	bus *eventbus.Bus
	log zerolog.Logger
}

// Open creates (or opens) a Store backed by the SQLite file at dsn (use
// ":memory:" for an ephemeral store, as the teacher's tests do).
func Open(dsn string, bus *eventbus.Bus) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer serialization, per spec §5
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db, bus: bus, log: logging.Component("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// withRetry retries fn a bounded number of times on transient SQLite lock
// contention (spec §7 "Database error... Locally retry for transient
// contention (bounded)"), using the same exponential-backoff library the
// rest of the retrieved corpus (steveyegge-beads) uses for bounded retry.
func withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransientLockErr(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}

func isTransientLockErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func marshalProps(props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalProps(raw string) map[string]any {
	props := map[string]any{}
	if raw == "" {
		return props
	}
	_ = json.Unmarshal([]byte(raw), &props)
	return props
}

func publish(bus *eventbus.Bus, ev eventbus.Event) {
	if bus == nil {
		return
	}
	bus.Publish(ev)
}

