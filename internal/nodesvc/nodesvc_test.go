package nodesvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/embedding"
	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/nserrors"
	"github.com/nodespace/core/internal/schema"
	"github.com/nodespace/core/internal/store"
)

func newTestClient(t *testing.T) (*store.Store, *Client) {
	t.Helper()
	st, err := store.Open(":memory:", eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := schema.New(st)
	emb := embedding.New(st, embedding.NewStubEmbedder(4))
	waker := embedding.NewWaker()
	svc, err := New(st, reg, emb, waker, Config{})
	require.NoError(t, err)
	return st, svc.WithClient("test-client")
}

func TestCreateNodeWithParentRootTypeEnforced(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	_, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "image", Content: "not a root type"})
	require.Error(t, err)
	require.Equal(t, nserrors.KindHierarchyViolation, nserrors.KindOf(err))

	n, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "ok root"})
	require.NoError(t, err)
	require.NotEmpty(t, n.ID)
}

func TestCreateNodeWithParentChildInsertion(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	parent, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "parent"})
	require.NoError(t, err)

	childA, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "a", ParentID: parent.ID, Index: 0})
	require.NoError(t, err)
	childB, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "b", ParentID: parent.ID, InsertAfterNodeID: childA.ID})
	require.NoError(t, err)

	children, err := c.GetChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, childA.ID, children[0].ID)
	require.Equal(t, childB.ID, children[1].ID)
}

func TestUpdateNodeReconcilesMentions(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	target, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "target"})
	require.NoError(t, err)

	source, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "no mentions yet"})
	require.NoError(t, err)

	content := "see nodespace://" + target.ID
	_, err = c.UpdateNode(ctx, source.ID, source.Version, &content, nil, "add mention")
	require.NoError(t, err)

	rels, err := c.GetRelationships(ctx, source.ID, store.RelMentions, true, false)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, target.ID, rels[0].ToID)

	// Clearing the content removes the mention edge.
	empty := "no more references"
	updated, err := c.GetNodesBatch(ctx, []string{source.ID})
	require.NoError(t, err)
	_, err = c.UpdateNode(ctx, source.ID, updated[0].Version, &empty, nil, "remove mention")
	require.NoError(t, err)

	rels, err = c.GetRelationships(ctx, source.ID, store.RelMentions, true, false)
	require.NoError(t, err)
	require.Empty(t, rels)
}

func TestCreateNodesFromMarkdownAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	md := "# Title\n\nSome body text\n"
	roots, err := c.CreateNodesFromMarkdown(ctx, md, "", "")
	require.NoError(t, err)
	require.Len(t, roots, 1)

	out, err := c.GetMarkdownFromNodeID(ctx, roots[0].ID)
	require.NoError(t, err)
	require.Contains(t, out, "Title")
	require.Contains(t, out, "Some body text")
}

func TestUpdateContainerFromMarkdownReplacesSubtree(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	container, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "container"})
	require.NoError(t, err)
	_, err = c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "old child", ParentID: container.ID})
	require.NoError(t, err)

	require.NoError(t, c.UpdateContainerFromMarkdown(ctx, container.ID, "- [ ] new task\n"))

	children, err := c.GetChildren(ctx, container.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "new task", children[0].Content)
}

func TestUpdateNodesBatchCollectsPerItemErrors(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	n, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "v1"})
	require.NoError(t, err)

	content := "v2"
	nodes, errs := c.UpdateNodesBatch(ctx, []UpdateSpec{
		{ID: n.ID, ExpectedVersion: n.Version, Content: &content},
		{ID: n.ID, ExpectedVersion: 999, Content: &content}, // stale version: rejected
	})
	require.NoError(t, errs[0])
	require.NotNil(t, nodes[0])
	require.Error(t, errs[1])
}

func TestCreateNodeWithCollectionIDPropertyReconcilesMembership(t *testing.T) {
	ctx := context.Background()
	st, c := newTestClient(t)

	coll, err := c.EnsureCollectionPath(ctx, "engineering")
	require.NoError(t, err)

	n, err := c.CreateNodeWithParent(ctx, CreateNodeParams{
		Type: "text", Content: "a note", Properties: map[string]any{"collectionId": coll.ID},
	})
	require.NoError(t, err)

	members, err := st.CollectionMembers(ctx, coll.ID)
	require.NoError(t, err)
	require.True(t, members[n.ID])
}

func TestUpdateNodeChangingCollectionIDMovesMembership(t *testing.T) {
	ctx := context.Background()
	st, c := newTestClient(t)

	collA, err := c.EnsureCollectionPath(ctx, "engineering")
	require.NoError(t, err)
	collB, err := c.EnsureCollectionPath(ctx, "design")
	require.NoError(t, err)

	n, err := c.CreateNodeWithParent(ctx, CreateNodeParams{
		Type: "text", Content: "a note", Properties: map[string]any{"collectionId": collA.ID},
	})
	require.NoError(t, err)

	_, err = c.UpdateNode(ctx, n.ID, n.Version, nil, map[string]any{"collectionId": collB.ID}, "move collection")
	require.NoError(t, err)

	members, err := st.CollectionMembers(ctx, collA.ID)
	require.NoError(t, err)
	require.False(t, members[n.ID])
	members, err = st.CollectionMembers(ctx, collB.ID)
	require.NoError(t, err)
	require.True(t, members[n.ID])
}

func TestEnsureCollectionPathCreatesNestedChainAndReusesExisting(t *testing.T) {
	ctx := context.Background()
	st, c := newTestClient(t)

	leaf, err := c.EnsureCollectionPath(ctx, "hr:policy:vacation")
	require.NoError(t, err)
	require.Equal(t, "vacation", leaf.Content)

	parentID, err := st.CollectionParent(ctx, leaf.ID)
	require.NoError(t, err)
	require.NotEmpty(t, parentID)

	again, err := c.EnsureCollectionPath(ctx, "hr:policy:vacation")
	require.NoError(t, err)
	require.Equal(t, leaf.ID, again.ID) // reuses the existing chain, doesn't duplicate

	sibling, err := c.EnsureCollectionPath(ctx, "hr:policy")
	require.NoError(t, err)
	require.Equal(t, parentID, sibling.ID)
}

// embedAndDrain computes and persists rootID's embedding synchronously
// (mirroring the standalone embedding.Processor, which would otherwise do
// this asynchronously off the waker signal) so a test can assert on
// semantic search results without waiting on a background worker.
func embedAndDrain(t *testing.T, st *store.Store, rootID string) {
	t.Helper()
	ctx := context.Background()
	emb := embedding.New(st, embedding.NewStubEmbedder(4))
	require.NoError(t, emb.RefreshRoot(ctx, rootID))
	stale, err := st.FetchStaleEmbeddings(ctx, 10)
	require.NoError(t, err)
	for _, rec := range stale {
		if rec.RootID == rootID {
			require.NoError(t, emb.ProcessOneStale(ctx, rec))
		}
	}
}

func TestSemanticSearchCollectionPathFiltersMembership(t *testing.T) {
	ctx := context.Background()
	st, c := newTestClient(t)

	coll, err := c.EnsureCollectionPath(ctx, "engineering")
	require.NoError(t, err)

	inColl, err := c.CreateNodeWithParent(ctx, CreateNodeParams{
		Type: "text", Content: "in the collection", Properties: map[string]any{"collectionId": coll.ID},
	})
	require.NoError(t, err)
	outside, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "not in any collection"})
	require.NoError(t, err)

	embedAndDrain(t, st, inColl.ID)
	embedAndDrain(t, st, outside.ID)

	results, err := c.SemanticSearch(ctx, "note", embedding.SemanticSearchOptions{Limit: 10, Threshold: -1, CollectionPath: "engineering"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, inColl.ID, results[0].Node.ID)
}

func TestSemanticSearchCollectionPathUnresolvedReturnsNoResults(t *testing.T) {
	ctx := context.Background()
	_, c := newTestClient(t)

	_, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: "text", Content: "a note"})
	require.NoError(t, err)

	results, err := c.SemanticSearch(ctx, "note", embedding.SemanticSearchOptions{Limit: 10, Threshold: -1, CollectionPath: "nonexistent"})
	require.NoError(t, err)
	require.Empty(t, results)
}
