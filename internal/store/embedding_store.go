package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/nodespace/core/internal/ids"
	"github.com/nodespace/core/internal/nserrors"
)

const embeddingColumns = `id, root_id, chunk_index, total_chunks, start_char, end_char, content_hash, token_count, vector, stale, error_count, last_error, created_at, updated_at`

func scanEmbedding(row interface {
	Scan(dest ...any) error
}) (*EmbeddingRecord, error) {
	var e EmbeddingRecord
	var vectorJSON string
	var stale int
	var lastError sql.NullString
	if err := row.Scan(&e.ID, &e.RootID, &e.ChunkIndex, &e.TotalChunks, &e.StartChar, &e.EndChar,
		&e.ContentHash, &e.TokenCount, &vectorJSON, &stale, &e.ErrorCount, &lastError, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Stale = stale != 0
	if lastError.Valid {
		e.LastError = lastError.String
	}
	_ = json.Unmarshal([]byte(vectorJSON), &e.Vector)
	return &e, nil
}

// ReplaceEmbeddingChunks deletes a root node's prior chunk rows and inserts
// fresh ones marked stale, ready for the Embedding Processor to fill in
// (spec §4.4: chunking boundaries are recomputed from scratch on every
// content change rather than diffed incrementally).
func (s *Store) ReplaceEmbeddingChunks(ctx context.Context, rootID string, chunks []EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nserrors.Database("begin replace-chunks tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE root_id = ?`, rootID); err != nil {
		return nserrors.Database("delete old chunks", err)
	}

	now := nowMillis()
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = ids.New()
		}
		c.RootID = rootID
		c.CreatedAt = now
		c.UpdatedAt = now
		c.Stale = true
		vecJSON, err := json.Marshal(c.Vector)
		if err != nil {
			return nserrors.Embedding("marshal vector", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO embeddings (id, root_id, chunk_index, total_chunks, start_char, end_char, content_hash, token_count, vector, stale, error_count, last_error, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, NULL, ?, ?)
		`, c.ID, c.RootID, c.ChunkIndex, c.TotalChunks, c.StartChar, c.EndChar, c.ContentHash, c.TokenCount, string(vecJSON), c.CreatedAt, c.UpdatedAt); err != nil {
			return nserrors.Database("insert chunk", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nserrors.Database("commit replace-chunks", err)
	}
	return nil
}

// maxEmbeddingErrors is the number of recorded failures after which a stale
// chunk is no longer handed to the Embedding Processor.
const maxEmbeddingErrors = 3

// FetchStaleEmbeddings returns up to limit chunk rows awaiting (re)embedding,
// for the Embedding Processor's batch drain (spec §4.5). Rows whose error
// count has reached maxEmbeddingErrors are skipped.
func (s *Store) FetchStaleEmbeddings(ctx context.Context, limit int) ([]*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+embeddingColumns+` FROM embeddings WHERE stale = 1 AND error_count < ? ORDER BY updated_at ASC LIMIT ?`, maxEmbeddingErrors, limit)
	if err != nil {
		return nil, nserrors.Database("fetch stale embeddings", err)
	}
	defer rows.Close()
	var out []*EmbeddingRecord
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, nserrors.Database("scan stale embedding", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StoreEmbeddingVector persists a computed vector for chunk id and clears its
// stale flag.
func (s *Store) StoreEmbeddingVector(ctx context.Context, id string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vecJSON, err := json.Marshal(vector)
	if err != nil {
		return nserrors.Embedding("marshal vector", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE embeddings SET vector = ?, stale = 0, error_count = 0, last_error = NULL, updated_at = ? WHERE id = ?
	`, string(vecJSON), nowMillis(), id)
	if err != nil {
		return nserrors.Database("store embedding vector", err)
	}
	return nil
}

// MarkEmbeddingError records an inference failure against a chunk, bumping
// its error count; the chunk stays stale, and once the count reaches
// maxEmbeddingErrors FetchStaleEmbeddings no longer returns it.
func (s *Store) MarkEmbeddingError(ctx context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE embeddings SET error_count = error_count + 1, last_error = ?, updated_at = ? WHERE id = ?
	`, cause.Error(), nowMillis(), id)
	if err != nil {
		return nserrors.Database("mark embedding error", err)
	}
	return nil
}

// MarkRootStale re-flags every chunk belonging to rootID as stale, used when
// a descendant's content changes and the aggregated text must be recomputed
// (spec §4.4 "stale propagation").
func (s *Store) MarkRootStale(ctx context.Context, rootID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE embeddings SET stale = 1, updated_at = ? WHERE root_id = ?`, nowMillis(), rootID)
	if err != nil {
		return nserrors.Database("mark root stale", err)
	}
	return nil
}

// AllEmbeddingsForSearch returns every non-stale chunk, optionally restricted
// to roots of the given node types. The caller (embedding service) computes
// cosine similarity in Go against the query vector; for small-to-medium
// corpora this avoids depending on a vec0 virtual table schema the
// retrieved corpus never demonstrates. Semantic search does not call
// sqlite-vec's vec_distance_cosine (see VectorDistance).
func (s *Store) AllEmbeddingsForSearch(ctx context.Context, nodeTypes []string) ([]*EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := `
		SELECT e.id, e.root_id, e.chunk_index, e.total_chunks, e.start_char, e.end_char,
		       e.content_hash, e.token_count, e.vector, e.stale, e.error_count, e.last_error,
		       e.created_at, e.updated_at
		FROM embeddings e
		JOIN nodes n ON n.id = e.root_id AND n.is_current = 1
		WHERE e.stale = 0
	`
	var args []any
	if len(nodeTypes) > 0 {
		placeholders := ""
		for i, t := range nodeTypes {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, t)
		}
		base += ` AND n.node_type IN (` + placeholders + `)`
	}

	rows, err := s.db.QueryContext(ctx, base, args...)
	if err != nil {
		return nil, nserrors.Database("query embeddings for search", err)
	}
	defer rows.Close()
	var out []*EmbeddingRecord
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, nserrors.Database("scan search embedding", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VectorDistance computes cosine distance between two vectors using the
// sqlite-vec-registered vec_distance_cosine scalar function, keeping the
// asg017/sqlite-vec-go-bindings dependency load-bearing even though bulk
// ranking happens in Go (see AllEmbeddingsForSearch).
func (s *Store) VectorDistance(ctx context.Context, a, b []float32) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	aJSON, err := json.Marshal(a)
	if err != nil {
		return 0, nserrors.Embedding("marshal vector a", err)
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return 0, nserrors.Embedding("marshal vector b", err)
	}
	var dist float64
	row := s.db.QueryRowContext(ctx, `SELECT vec_distance_cosine(?, ?)`, string(aJSON), string(bJSON))
	if err := row.Scan(&dist); err != nil {
		return 0, nserrors.Database("vec_distance_cosine", err)
	}
	return dist, nil
}
