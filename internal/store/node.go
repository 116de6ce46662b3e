package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/ids"
	"github.com/nodespace/core/internal/nserrors"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const nodeColumns = `id, version, node_type, content, properties, created_at, modified_at, valid_from, valid_to, is_current, change_reason`

func scanNode(row interface {
	Scan(dest ...any) error
}) (*Node, error) {
	var n Node
	var props string
	var validTo sql.NullInt64
	var changeReason sql.NullString
	var isCurrent int
	if err := row.Scan(&n.ID, &n.Version, &n.Type, &n.Content, &props, &n.CreatedAt, &n.ModifiedAt,
		&n.ValidFrom, &validTo, &isCurrent, &changeReason); err != nil {
		return nil, err
	}
	n.Properties = unmarshalProps(props)
	n.IsCurrent = isCurrent != 0
	if validTo.Valid {
		v := validTo.Int64
		n.ValidTo = &v
	}
	if changeReason.Valid {
		n.ChangeReason = changeReason.String
	}
	return &n, nil
}

// CreateNode persists a brand-new node at version 1. Validation (schema
// conformance, business rules) is the Node Service's job (spec §4.3); the
// Store only enforces storage-level invariants.
func (s *Store) CreateNode(ctx context.Context, n *Node, sourceClientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = ids.New()
	}
	now := nowMillis()
	n.Version = 1
	n.CreatedAt = now
	n.ModifiedAt = now
	n.ValidFrom = now
	n.ValidTo = nil
	n.IsCurrent = true

	props, err := marshalProps(n.Properties)
	if err != nil {
		return nserrors.Validation("invalid properties: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (id, version, node_type, content, properties, created_at, modified_at, valid_from, valid_to, is_current, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, n.ID, n.Version, n.Type, n.Content, props, n.CreatedAt, n.ModifiedAt, n.ValidFrom, n.ValidTo, n.ChangeReason)
	if err != nil {
		return nserrors.Database("create node", err)
	}

	publish(s.bus, eventbus.Event{Type: eventbus.NodeCreated, NodeID: n.ID, NodeType: n.Type, SourceClientID: sourceClientID})
	return nil
}

// GetNode returns the current version of a node, or (nil, nil) if absent.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getNodeTx(ctx, s.db, id)
}

func (s *Store) getNodeTx(ctx context.Context, q queryer, id string) (*Node, error) {
	row := q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ? AND is_current = 1`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, nserrors.Database("get node", err)
	}
	return n, nil
}

// GetNodeVersion returns a specific historical version of a node.
func (s *Store) GetNodeVersion(ctx context.Context, id string, version int) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ? AND version = ?`, id, version)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, nserrors.Database("get node version", err)
	}
	return n, nil
}

// GetNodeAtTime returns whichever version was current at timestamp t.
func (s *Store) GetNodeAtTime(ctx context.Context, id string, t int64) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT `+nodeColumns+` FROM nodes
		WHERE id = ? AND valid_from <= ? AND (valid_to IS NULL OR valid_to > ?)
		ORDER BY version DESC LIMIT 1
	`, id, t, t)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, nserrors.Database("get node at time", err)
	}
	return n, nil
}

// ListNodeVersions returns every version of a node, most recent first.
func (s *Store) ListNodeVersions(ctx context.Context, id string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ? ORDER BY version DESC`, id)
	if err != nil {
		return nil, nserrors.Database("list node versions", err)
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, nserrors.Database("scan node version", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpdateNode applies patch to node id using optimistic concurrency control
// (spec §4.1): the write is rejected with VersionConflictError unless
// expectedVersion matches the current row's version.
func (s *Store) UpdateNode(ctx context.Context, id string, expectedVersion int, patch func(*Node), reason, sourceClientID string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getNodeTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nserrors.NotFound("node %s", id)
	}
	if current.Version != expectedVersion {
		return nil, nserrors.NewVersionConflict(expectedVersion, current.Version, current)
	}

	updated := *current
	patch(&updated)

	now := nowMillis()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nserrors.Database("begin update tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE nodes SET valid_to = ?, is_current = 0 WHERE id = ? AND is_current = 1`, now, id); err != nil {
		return nil, nserrors.Database("close current version", err)
	}

	props, err := marshalProps(updated.Properties)
	if err != nil {
		return nil, nserrors.Validation("invalid properties: %v", err)
	}
	updated.Version = current.Version + 1
	updated.ModifiedAt = now
	updated.ValidFrom = now
	updated.ValidTo = nil
	updated.IsCurrent = true
	updated.ChangeReason = reason

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, version, node_type, content, properties, created_at, modified_at, valid_from, valid_to, is_current, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, updated.ID, updated.Version, updated.Type, updated.Content, props, updated.CreatedAt, updated.ModifiedAt,
		updated.ValidFrom, updated.ValidTo, updated.ChangeReason); err != nil {
		return nil, nserrors.Database("insert new version", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nserrors.Database("commit update", err)
	}

	publish(s.bus, eventbus.Event{Type: eventbus.NodeUpdated, NodeID: id, NodeType: updated.Type, SourceClientID: sourceClientID})
	return &updated, nil
}

// RestoreNodeVersion creates a new current version whose content equals a
// prior version's (supplemental history feature, teacher-grounded).
func (s *Store) RestoreNodeVersion(ctx context.Context, id string, version int, sourceClientID string) (*Node, error) {
	old, err := s.GetNodeVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, nserrors.NotFound("node %s version %d", id, version)
	}
	current, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nserrors.NotFound("node %s", id)
	}
	return s.UpdateNode(ctx, id, current.Version, func(n *Node) {
		n.Content = old.Content
		n.Properties = old.Properties
	}, "restore", sourceClientID)
}

// DeleteNode removes all versions of a node, cascading to its edges and
// spoke (spec §3 invariant: "deletion cascades to edges and owned spoke
// data").
func (s *Store) DeleteNode(ctx context.Context, id string, sourceClientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getNodeTx(ctx, s.db, id)
	if err != nil {
		return err
	}
	if current == nil {
		return nserrors.NotFound("node %s", id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nserrors.Database("begin delete tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE from_id = ? OR to_id = ?`, id, id); err != nil {
		return nserrors.Database("delete edges", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spokes WHERE node_id = ?`, id); err != nil {
		return nserrors.Database("delete spoke", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE root_id = ?`, id); err != nil {
		return nserrors.Database("delete embeddings", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return nserrors.Database("delete node", err)
	}
	if err := tx.Commit(); err != nil {
		return nserrors.Database("commit delete", err)
	}

	publish(s.bus, eventbus.Event{Type: eventbus.NodeDeleted, NodeID: id, NodeType: current.Type, SourceClientID: sourceClientID})
	return nil
}

// QueryNodes applies a QueryFilter (spec §4.1).
func (s *Store) QueryNodes(ctx context.Context, f QueryFilter) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any

	where = append(where, "is_current = 1")
	if f.NodeType != "" {
		where = append(where, "node_type = ?")
		args = append(args, f.NodeType)
	}
	if f.ContentSubstring != "" {
		where = append(where, "content LIKE ?")
		args = append(args, "%"+escapeLike(f.ContentSubstring)+"%")
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE ` + joinAnd(where)

	switch f.Order {
	case OrderCreatedDesc:
		query += " ORDER BY created_at DESC"
	case OrderModifiedAsc:
		query += " ORDER BY modified_at ASC"
	case OrderModifiedDesc:
		query += " ORDER BY modified_at DESC"
	default:
		query += " ORDER BY created_at ASC"
	}

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
		if f.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nserrors.Database("query nodes", err)
	}
	defer rows.Close()

	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, nserrors.Database("scan query result", err)
		}
		out = append(out, n)
	}

	// ParentID / RootOnly / RootID filters require joining against the
	// relationship table; applied in Go after the SQL scan keeps the SQL
	// simple and lets content-substring use a plain index/LIKE scan.
	if f.RootOnly {
		out, err = s.filterRoots(ctx, out)
		if err != nil {
			return nil, err
		}
	}
	if f.ParentID != "" {
		children, err := s.GetChildren(ctx, f.ParentID)
		if err != nil {
			return nil, err
		}
		allowed := map[string]bool{}
		for _, c := range children {
			allowed[c.ID] = true
		}
		out = filterNodes(out, func(n *Node) bool { return allowed[n.ID] })
	}
	if f.RootID != "" {
		out, err = s.filterBySubtreeRoot(ctx, out, f.RootID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func filterNodes(in []*Node, keep func(*Node) bool) []*Node {
	out := in[:0:0]
	for _, n := range in {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) filterRoots(ctx context.Context, in []*Node) ([]*Node, error) {
	out := in[:0:0]
	for _, n := range in {
		isRoot, err := s.isRoot(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		if isRoot {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) isRoot(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relationships WHERE to_id = ? AND rel_type = ?`, id, RelHasChild).Scan(&count)
	if err != nil {
		return false, nserrors.Database("check root", err)
	}
	return count == 0, nil
}

func (s *Store) filterBySubtreeRoot(ctx context.Context, in []*Node, rootID string) ([]*Node, error) {
	descendants, err := s.GetDescendants(ctx, rootID)
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{rootID: true}
	for _, d := range descendants {
		allowed[d.ID] = true
	}
	return filterNodes(in, func(n *Node) bool { return allowed[n.ID] }), nil
}

func escapeLike(s string) string {
	r := ""
	for _, c := range s {
		switch c {
		case '%', '_', '\\':
			r += "\\" + string(c)
		default:
			r += string(c)
		}
	}
	return r
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

// RootOf walks has_child edges upward to find the root-of-subtree for id
// (spec §3: "A node is a 'root' iff it has no incoming has_child edge").
func (s *Store) RootOf(ctx context.Context, id string) (string, error) {
	cur := id
	for i := 0; i < 10_000; i++ { // forest invariant bounds depth; guard against corruption
		var parent string
		err := s.db.QueryRowContext(ctx, `SELECT from_id FROM relationships WHERE to_id = ? AND rel_type = ?`, cur, RelHasChild).Scan(&parent)
		if err == sql.ErrNoRows {
			return cur, nil
		}
		if err != nil {
			return "", nserrors.Database("walk root", err)
		}
		cur = parent
	}
	return "", nserrors.HierarchyViolation("cycle detected walking root of %s", id)
}
