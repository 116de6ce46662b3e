package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/nserrors"
)

func TestCreateChildNodeAtomicAndGetChildren(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	parent := &Node{Type: "folder", Content: "root"}
	require.NoError(t, st.CreateNode(ctx, parent, ""))

	childA, err := st.CreateChildNodeAtomic(ctx, &Node{Type: "text", Content: "a"}, parent.ID, 0, "")
	require.NoError(t, err)
	childB, err := st.CreateChildNodeAtomic(ctx, &Node{Type: "text", Content: "b"}, parent.ID, 1, "")
	require.NoError(t, err)

	children, err := st.GetChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, childA.ID, children[0].ID)
	require.Equal(t, childB.ID, children[1].ID)
}

func TestMoveNodeRejectsCycle(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	root := &Node{Type: "folder", Content: "root"}
	require.NoError(t, st.CreateNode(ctx, root, ""))
	child, err := st.CreateChildNodeAtomic(ctx, &Node{Type: "folder", Content: "child"}, root.ID, 0, "")
	require.NoError(t, err)

	err = st.MoveNode(ctx, root.ID, child.ID, 0, "")
	require.Error(t, err)
	require.Equal(t, nserrors.KindHierarchyViolation, nserrors.KindOf(err))
}

func TestGetChildrenTree(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	root := &Node{Type: "folder", Content: "root"}
	require.NoError(t, st.CreateNode(ctx, root, ""))
	_, err := st.CreateChildNodeAtomic(ctx, &Node{Type: "text", Content: "leaf"}, root.ID, 0, "")
	require.NoError(t, err)

	tree, err := st.GetChildrenTree(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, root.ID, tree.Node.ID)
	require.Len(t, tree.Children, 1)
	require.Equal(t, "leaf", tree.Children[0].Node.Content)
}

func TestDeleteRelationshipNotFound(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	err := st.DeleteRelationship(ctx, "missing-id", "")
	require.Error(t, err)
	require.Equal(t, nserrors.KindNotFound, nserrors.KindOf(err))
}

func TestGetRelationshipsDirectionFilter(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	a := &Node{Type: "text", Content: "a"}
	b := &Node{Type: "text", Content: "b"}
	require.NoError(t, st.CreateNode(ctx, a, ""))
	require.NoError(t, st.CreateNode(ctx, b, ""))
	require.NoError(t, st.CreateRelationship(ctx, &Relationship{FromID: a.ID, ToID: b.ID, Type: RelMentions}, ""))

	out, err := st.GetRelationships(ctx, a.ID, "", true, false)
	require.NoError(t, err)
	require.Len(t, out, 1)

	out, err = st.GetRelationships(ctx, b.ID, "", true, false)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = st.GetRelationships(ctx, b.ID, "", false, true)
	require.NoError(t, err)
	require.Len(t, out, 1)
}
