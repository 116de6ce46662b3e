package embedding

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/store"
)

func newAggStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAggregateIncludesDescendantsRegardlessOfType(t *testing.T) {
	ctx := context.Background()
	st := newAggStore(t)

	root := &store.Node{Type: "text", Content: "root content"}
	require.NoError(t, st.CreateNode(ctx, root, ""))

	// A non-embeddable-typed child's content still contributes to the
	// aggregated document once the root qualifies.
	child, err := st.CreateChildNodeAtomic(ctx, &store.Node{Type: "image", Content: "child content"}, root.ID, 0, "")
	require.NoError(t, err)

	result, err := Aggregate(ctx, st, root, DefaultAggregateLimits)
	require.NoError(t, err)
	require.Contains(t, result.Text, "root content")
	require.Contains(t, result.Text, "child content")
	require.False(t, result.Truncated)
	_ = child
}

func TestAggregateTruncatesAtMaxDescendants(t *testing.T) {
	ctx := context.Background()
	st := newAggStore(t)

	root := &store.Node{Type: "text", Content: "root"}
	require.NoError(t, st.CreateNode(ctx, root, ""))
	for i := 0; i < 3; i++ {
		_, err := st.CreateChildNodeAtomic(ctx, &store.Node{Type: "text", Content: "child"}, root.ID, i, "")
		require.NoError(t, err)
	}

	result, err := Aggregate(ctx, st, root, AggregateLimits{MaxDescendants: 1, MaxBytes: 1_000_000})
	require.NoError(t, err)
	require.True(t, result.Truncated)
}

func TestContentHashStableAndSensitiveToContent(t *testing.T) {
	h1 := ContentHash("hello world")
	h2 := ContentHash("hello world")
	h3 := ContentHash("hello world!")
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
}

func TestChunkTextOverlap(t *testing.T) {
	text := strings.Repeat("a", 100)
	chunks := ChunkText(text, ChunkParams{MaxTokens: 10, OverlapTokens: 2, CharsPerToken: 1})
	require.True(t, len(chunks) > 1)
	for i, c := range chunks {
		require.Equal(t, i, c.Index)
		require.Equal(t, len(chunks), c.TotalChunks)
	}
	// Consecutive chunks overlap by OverlapTokens*CharsPerToken characters.
	require.Equal(t, chunks[0].EndChar-2, chunks[1].StartChar)
}

func TestChunkTextEmpty(t *testing.T) {
	require.Empty(t, ChunkText("", DefaultChunkParams))
}

func TestIsEmbeddableType(t *testing.T) {
	require.True(t, IsEmbeddableType("text"))
	require.True(t, IsEmbeddableType("schema"))
	require.False(t, IsEmbeddableType("image"))
}
