package store

import (
	"context"
	"database/sql"
	"sort"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/ids"
	"github.com/nodespace/core/internal/nserrors"
)

func scanRelationship(row interface {
	Scan(dest ...any) error
}) (*Relationship, error) {
	var r Relationship
	var props string
	if err := row.Scan(&r.ID, &r.FromID, &r.ToID, &r.Type, &props, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Properties = unmarshalProps(props)
	return &r, nil
}

const relColumns = `id, from_id, to_id, rel_type, properties, created_at`

// CreateRelationship inserts a new typed edge (spec §3). Callers wanting
// sibling-ordered has_child edges should go through CreateChildNodeAtomic or
// MoveNode instead, which compute the order property themselves.
func (s *Store) CreateRelationship(ctx context.Context, r *Relationship, sourceClientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createRelationshipTx(ctx, s.db, r, sourceClientID)
}

func (s *Store) createRelationshipTx(ctx context.Context, q queryer, r *Relationship, sourceClientID string) error {
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = nowMillis()
	}
	props, err := marshalProps(r.Properties)
	if err != nil {
		return nserrors.Validation("invalid relationship properties: %v", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO relationships (id, from_id, to_id, rel_type, properties, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.FromID, r.ToID, r.Type, props, r.CreatedAt)
	if err != nil {
		return nserrors.Database("create relationship", err)
	}
	publish(s.bus, eventbus.Event{
		Type: eventbus.RelationshipCreated, EdgeID: r.ID, FromID: r.FromID, ToID: r.ToID,
		RelationshipType: r.Type, Properties: r.Properties, SourceClientID: sourceClientID,
	})
	return nil
}

// DeleteRelationship removes a single edge by id.
func (s *Store) DeleteRelationship(ctx context.Context, id string, sourceClientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+relColumns+` FROM relationships WHERE id = ?`, id)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nserrors.NotFound("relationship %s", id)
	}
	if err != nil {
		return nserrors.Database("get relationship for delete", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id); err != nil {
		return nserrors.Database("delete relationship", err)
	}
	publish(s.bus, eventbus.Event{
		Type: eventbus.RelationshipDeleted, EdgeID: r.ID, FromID: r.FromID, ToID: r.ToID,
		RelationshipType: r.Type, SourceClientID: sourceClientID,
	})
	return nil
}

// GetRelationships returns edges touching nodeID, optionally filtered by
// relType and direction (spec §4.1: "indexed by (from,type) and (to,type)").
func (s *Store) GetRelationships(ctx context.Context, nodeID, relType string, outboundOnly, inboundOnly bool) ([]*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var query string
	var args []any
	switch {
	case outboundOnly && relType != "":
		query = `SELECT ` + relColumns + ` FROM relationships WHERE from_id = ? AND rel_type = ?`
		args = []any{nodeID, relType}
	case outboundOnly:
		query = `SELECT ` + relColumns + ` FROM relationships WHERE from_id = ?`
		args = []any{nodeID}
	case inboundOnly && relType != "":
		query = `SELECT ` + relColumns + ` FROM relationships WHERE to_id = ? AND rel_type = ?`
		args = []any{nodeID, relType}
	case inboundOnly:
		query = `SELECT ` + relColumns + ` FROM relationships WHERE to_id = ?`
		args = []any{nodeID}
	case relType != "":
		query = `SELECT ` + relColumns + ` FROM relationships WHERE (from_id = ? OR to_id = ?) AND rel_type = ?`
		args = []any{nodeID, nodeID, relType}
	default:
		query = `SELECT ` + relColumns + ` FROM relationships WHERE from_id = ? OR to_id = ?`
		args = []any{nodeID, nodeID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nserrors.Database("get relationships", err)
	}
	defer rows.Close()

	var out []*Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, nserrors.Database("scan relationship", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetChildren returns the current nodes linked from parentID by has_child
// edges, sorted by fractional order ascending (spec §4.1).
func (s *Store) GetChildren(ctx context.Context, parentID string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getChildrenTx(ctx, s.db, parentID)
}

func (s *Store) getChildrenTx(ctx context.Context, q queryer, parentID string) ([]*Node, error) {
	refs, err := s.childRefsTx(ctx, q, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(refs))
	for _, ref := range refs {
		n, err := s.getNodeTx(ctx, q, ref.NodeID)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) childRefsTx(ctx context.Context, q queryer, parentID string) ([]ChildRef, error) {
	rows, err := q.QueryContext(ctx, `SELECT to_id, properties FROM relationships WHERE from_id = ? AND rel_type = ?`, parentID, RelHasChild)
	if err != nil {
		return nil, nserrors.Database("get child refs", err)
	}
	defer rows.Close()

	var refs []ChildRef
	for rows.Next() {
		var toID, props string
		if err := rows.Scan(&toID, &props); err != nil {
			return nil, nserrors.Database("scan child ref", err)
		}
		r := Relationship{Properties: unmarshalProps(props)}
		refs = append(refs, ChildRef{NodeID: toID, Order: r.Order()})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Order < refs[j].Order })
	return refs, nil
}

// GetDescendants returns every node transitively reachable from rootID via
// has_child edges, depth-first in sibling order (spec §4.4 subtree
// aggregation walk).
func (s *Store) GetDescendants(ctx context.Context, rootID string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Node
	var walk func(id string) error
	walk = func(id string) error {
		children, err := s.getChildrenTx(ctx, s.db, id)
		if err != nil {
			return err
		}
		for _, c := range children {
			out = append(out, c)
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootID); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChildrenTree returns the full nested subtree rooted at id.
func (s *Store) GetChildrenTree(ctx context.Context, id string) (*TreeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.childrenTreeTx(ctx, s.db, id)
}

func (s *Store) childrenTreeTx(ctx context.Context, q queryer, id string) (*TreeNode, error) {
	n, err := s.getNodeTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nserrors.NotFound("node %s", id)
	}
	tree := &TreeNode{Node: n}
	children, err := s.getChildrenTx(ctx, q, id)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		childTree, err := s.childrenTreeTx(ctx, q, c.ID)
		if err != nil {
			return nil, err
		}
		tree.Children = append(tree.Children, childTree)
	}
	return tree, nil
}

// CreateChildNodeAtomic creates a new node and links it as a child of
// parentID at position index, transactionally, computing fractional order
// and rebalancing siblings if needed (spec §4.1, §8 property 5).
func (s *Store) CreateChildNodeAtomic(ctx context.Context, n *Node, parentID string, index int, sourceClientID string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nserrors.Database("begin create-child tx", err)
	}
	defer tx.Rollback()

	siblings, err := s.childRefsTx(ctx, tx, parentID)
	if err != nil {
		return nil, err
	}

	order, rebalanceNeeded := orderForInsert(siblings, index)
	if rebalanceNeeded {
		siblings = rebalancedOrders(siblings)
		if err := s.writeOrdersTx(ctx, tx, parentID, siblings); err != nil {
			return nil, err
		}
		order, _ = orderForInsert(siblings, index)
	}

	if n.ID == "" {
		n.ID = ids.New()
	}
	now := nowMillis()
	n.Version = 1
	n.CreatedAt = now
	n.ModifiedAt = now
	n.ValidFrom = now
	n.IsCurrent = true

	props, err := marshalProps(n.Properties)
	if err != nil {
		return nil, nserrors.Validation("invalid properties: %v", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, version, node_type, content, properties, created_at, modified_at, valid_from, valid_to, is_current, change_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, 1, ?)
	`, n.ID, n.Version, n.Type, n.Content, props, n.CreatedAt, n.ModifiedAt, n.ValidFrom, n.ChangeReason); err != nil {
		return nil, nserrors.Database("insert child node", err)
	}

	edge := &Relationship{FromID: parentID, ToID: n.ID, Type: RelHasChild, Properties: map[string]any{"order": order}}
	if err := s.createRelationshipTx(ctx, tx, edge, sourceClientID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nserrors.Database("commit create-child", err)
	}

	publish(s.bus, eventbus.Event{Type: eventbus.NodeCreated, NodeID: n.ID, NodeType: n.Type, SourceClientID: sourceClientID})
	return n, nil
}

func (s *Store) writeOrdersTx(ctx context.Context, tx queryer, parentID string, refs []ChildRef) error {
	for _, ref := range refs {
		props, err := marshalProps(map[string]any{"order": ref.Order})
		if err != nil {
			return nserrors.Validation("invalid order property: %v", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE relationships SET properties = ? WHERE from_id = ? AND to_id = ? AND rel_type = ?
		`, props, parentID, ref.NodeID, RelHasChild); err != nil {
			return nserrors.Database("rebalance sibling order", err)
		}
	}
	return nil
}

// MoveNode relocates nodeID to be a child of newParentID at position index,
// rejecting moves that would create a cycle (spec §3 invariant: "the
// hierarchy forms a forest; no cycles").
func (s *Store) MoveNode(ctx context.Context, nodeID, newParentID string, index int, sourceClientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if newParentID == nodeID {
		return nserrors.HierarchyViolation("node %s cannot be its own parent", nodeID)
	}
	if err := s.rejectCycleTx(ctx, s.db, nodeID, newParentID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nserrors.Database("begin move tx", err)
	}
	defer tx.Rollback()

	var oldEdgeID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM relationships WHERE to_id = ? AND rel_type = ?`, nodeID, RelHasChild).Scan(&oldEdgeID)
	if err != nil && err != sql.ErrNoRows {
		return nserrors.Database("find existing parent edge", err)
	}
	if err == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, oldEdgeID); err != nil {
			return nserrors.Database("detach from old parent", err)
		}
	}

	siblings, err := s.childRefsTx(ctx, tx, newParentID)
	if err != nil {
		return err
	}
	order, rebalanceNeeded := orderForInsert(siblings, index)
	if rebalanceNeeded {
		siblings = rebalancedOrders(siblings)
		if err := s.writeOrdersTx(ctx, tx, newParentID, siblings); err != nil {
			return err
		}
		order, _ = orderForInsert(siblings, index)
	}

	edge := &Relationship{FromID: newParentID, ToID: nodeID, Type: RelHasChild, Properties: map[string]any{"order": order}}
	if err := s.createRelationshipTx(ctx, tx, edge, sourceClientID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return nserrors.Database("commit move", err)
	}
	return nil
}

// rejectCycleTx walks newParentID's ancestors; if nodeID appears among them,
// the move would create a cycle.
func (s *Store) rejectCycleTx(ctx context.Context, q queryer, nodeID, newParentID string) error {
	cur := newParentID
	for i := 0; i < 10_000; i++ {
		if cur == nodeID {
			return nserrors.HierarchyViolation("moving %s under %s would create a cycle", nodeID, newParentID)
		}
		var parent string
		err := q.QueryRowContext(ctx, `SELECT from_id FROM relationships WHERE to_id = ? AND rel_type = ?`, cur, RelHasChild).Scan(&parent)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return nserrors.Database("walk ancestors", err)
		}
		cur = parent
	}
	return nserrors.HierarchyViolation("cycle detected walking ancestors of %s", newParentID)
}
