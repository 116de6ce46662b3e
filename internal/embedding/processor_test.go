package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/store"
)

func TestProcessorDrainsOnWake(t *testing.T) {
	st, err := store.Open(":memory:", eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := New(st, NewStubEmbedder(4))
	waker := NewWaker()
	proc := NewProcessor(svc, st, waker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go proc.Run(ctx)
	t.Cleanup(proc.Shutdown)

	root := &store.Node{Type: "text", Content: "queued content"}
	require.NoError(t, st.CreateNode(context.Background(), root, ""))
	require.NoError(t, svc.RefreshRoot(context.Background(), root.ID))

	waker.Wake()

	require.Eventually(t, func() bool {
		stale, err := st.FetchStaleEmbeddings(context.Background(), 10)
		return err == nil && len(stale) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProcessorShutdownStopsRun(t *testing.T) {
	st, err := store.Open(":memory:", eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := New(st, NewStubEmbedder(4))
	proc := NewProcessor(svc, st, NewWaker())

	done := make(chan struct{})
	go func() {
		proc.Run(context.Background())
		close(done)
	}()

	proc.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after Shutdown")
	}
}
