package store

import "context"

// SetCollectionMembership replaces nodeID's member_of edge, if any, so it
// points at collectionID, or removes membership entirely when collectionID
// is empty (spec.md §4.4/§6 "collection_id"). A node belongs to at most one
// collection at a time.
func (s *Store) SetCollectionMembership(ctx context.Context, nodeID, collectionID, sourceClientID string) error {
	existing, err := s.GetRelationships(ctx, nodeID, RelMemberOf, true, false)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ToID == collectionID {
			return nil // already a member of the target collection
		}
		if err := s.DeleteRelationship(ctx, e.ID, sourceClientID); err != nil {
			return err
		}
	}
	if collectionID == "" {
		return nil
	}
	return s.CreateRelationship(ctx, &Relationship{FromID: nodeID, ToID: collectionID, Type: RelMemberOf}, sourceClientID)
}

// CollectionMembers returns the set of node ids currently linked to
// collectionID by a member_of edge (spec.md §4.4 "post-filter by collection
// membership").
func (s *Store) CollectionMembers(ctx context.Context, collectionID string) (map[string]bool, error) {
	edges, err := s.GetRelationships(ctx, collectionID, RelMemberOf, false, true)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(edges))
	for _, e := range edges {
		out[e.FromID] = true
	}
	return out, nil
}

// CollectionParent returns the id of the parent collection node above
// collectionID in the collection DAG (supplemental, grounded on the upstream
// collection service's path hierarchy), or "" if collectionID is top-level.
func (s *Store) CollectionParent(ctx context.Context, collectionID string) (string, error) {
	edges, err := s.GetRelationships(ctx, collectionID, RelCollectionParent, true, false)
	if err != nil {
		return "", err
	}
	if len(edges) == 0 {
		return "", nil
	}
	return edges[0].ToID, nil
}
