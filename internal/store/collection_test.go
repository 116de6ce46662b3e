package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetCollectionMembershipCreatesAndReplacesEdge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	member := &Node{Type: "text", Content: "a note"}
	require.NoError(t, st.CreateNode(ctx, member, "client1"))
	collA := &Node{Type: "collection", Content: "engineering"}
	require.NoError(t, st.CreateNode(ctx, collA, "client1"))
	collB := &Node{Type: "collection", Content: "design"}
	require.NoError(t, st.CreateNode(ctx, collB, "client1"))

	require.NoError(t, st.SetCollectionMembership(ctx, member.ID, collA.ID, "client1"))
	members, err := st.CollectionMembers(ctx, collA.ID)
	require.NoError(t, err)
	require.True(t, members[member.ID])

	require.NoError(t, st.SetCollectionMembership(ctx, member.ID, collB.ID, "client1"))
	members, err = st.CollectionMembers(ctx, collA.ID)
	require.NoError(t, err)
	require.False(t, members[member.ID])
	members, err = st.CollectionMembers(ctx, collB.ID)
	require.NoError(t, err)
	require.True(t, members[member.ID])
}

func TestSetCollectionMembershipEmptyClearsEdge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	member := &Node{Type: "text", Content: "a note"}
	require.NoError(t, st.CreateNode(ctx, member, "client1"))
	coll := &Node{Type: "collection", Content: "engineering"}
	require.NoError(t, st.CreateNode(ctx, coll, "client1"))

	require.NoError(t, st.SetCollectionMembership(ctx, member.ID, coll.ID, "client1"))
	require.NoError(t, st.SetCollectionMembership(ctx, member.ID, "", "client1"))

	members, err := st.CollectionMembers(ctx, coll.ID)
	require.NoError(t, err)
	require.False(t, members[member.ID])
}

func TestCollectionParentReflectsDAGEdge(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	parent := &Node{Type: "collection", Content: "hr"}
	require.NoError(t, st.CreateNode(ctx, parent, "client1"))
	child := &Node{Type: "collection", Content: "policy"}
	require.NoError(t, st.CreateNode(ctx, child, "client1"))
	require.NoError(t, st.CreateRelationship(ctx, &Relationship{FromID: child.ID, ToID: parent.ID, Type: RelCollectionParent}, "client1"))

	got, err := st.CollectionParent(ctx, child.ID)
	require.NoError(t, err)
	require.Equal(t, parent.ID, got)

	got, err = st.CollectionParent(ctx, parent.ID)
	require.NoError(t, err)
	require.Empty(t, got)
}
