package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/embedding"
	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/nodesvc"
	"github.com/nodespace/core/internal/schema"
	"github.com/nodespace/core/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(":memory:", eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := schema.New(st)
	emb := embedding.New(st, embedding.NewStubEmbedder(4))
	waker := embedding.NewWaker()
	nodes, err := nodesvc.New(st, reg, emb, waker, nodesvc.Config{})
	require.NoError(t, err)

	return NewServer(nodes, reg, nil)
}

func rpc(method string, id int, params any) []byte {
	var raw json.RawMessage
	if params != nil {
		b, _ := json.Marshal(params)
		raw = b
	}
	req := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != 0 {
		req["id"] = id
	}
	if raw != nil {
		req["params"] = raw
	}
	b, _ := json.Marshal(req)
	return b
}

func TestMethodsRejectedBeforeInitialize(t *testing.T) {
	srv := newTestServer(t)
	sess := NewSession("c1")

	resp := srv.Handle(context.Background(), sess, rpc("tools/list", 1, nil))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.NotNil(t, parsed.Error)
	require.Equal(t, CodeInvalidRequest, parsed.Error.Code)
}

func TestInitializeThenInitializedTransitionsReady(t *testing.T) {
	srv := newTestServer(t)
	sess := NewSession("c1")

	resp := srv.Handle(context.Background(), sess, rpc("initialize", 1, map[string]any{"protocolVersion": "2025-06-18"}))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.Nil(t, parsed.Error)
	require.Equal(t, StateUninitialized, sess.get())

	notif := srv.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialized"}`))
	require.Nil(t, notif)
	require.Equal(t, StateReady, sess.get())

	resp = srv.Handle(context.Background(), sess, rpc("tools/list", 2, nil))
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.Nil(t, parsed.Error)
}

func TestInitializeRejectsUnsupportedProtocolVersion(t *testing.T) {
	srv := newTestServer(t)
	sess := NewSession("c1")

	resp := srv.Handle(context.Background(), sess, rpc("initialize", 1, map[string]any{"protocolVersion": "ancient"}))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.NotNil(t, parsed.Error)
	require.Equal(t, CodeInvalidRequest, parsed.Error.Code)
}

func readySession(t *testing.T, srv *Server) *Session {
	sess := NewSession("c1")
	srv.Handle(context.Background(), sess, rpc("initialize", 1, map[string]any{"protocolVersion": "2025-06-18"}))
	srv.Handle(context.Background(), sess, []byte(`{"jsonrpc":"2.0","method":"initialized"}`))
	return sess
}

func TestToolCallCreateNodeReturnsID(t *testing.T) {
	srv := newTestServer(t)
	sess := readySession(t, srv)

	createResp := srv.Handle(context.Background(), sess, rpc("tools/call", 2, map[string]any{
		"name":      "create_node",
		"arguments": map[string]any{"nodeType": "text", "content": "hello"},
	}))
	var parsed Response
	require.NoError(t, json.Unmarshal(createResp, &parsed))
	require.Nil(t, parsed.Error)

	result, ok := parsed.Result.(map[string]any)
	require.True(t, ok)
	id, ok := result["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
}

func TestToolCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	srv := newTestServer(t)
	sess := readySession(t, srv)

	resp := srv.Handle(context.Background(), sess, rpc("tools/call", 2, map[string]any{
		"name":      "does_not_exist",
		"arguments": map[string]any{},
	}))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.NotNil(t, parsed.Error)
	require.Equal(t, CodeMethodNotFound, parsed.Error.Code)
}

func TestToolCallGetNodeMissingReportsNotFound(t *testing.T) {
	srv := newTestServer(t)
	sess := readySession(t, srv)

	resp := srv.Handle(context.Background(), sess, rpc("tools/call", 2, map[string]any{
		"name":      "get_node",
		"arguments": map[string]any{"id": "missing"},
	}))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.Nil(t, parsed.Error)
	result, ok := parsed.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, false, result["found"])
}

func TestToolCallGetChildrenTreeMissingMapsToNodeNotFoundCode(t *testing.T) {
	srv := newTestServer(t)
	sess := readySession(t, srv)

	resp := srv.Handle(context.Background(), sess, rpc("tools/call", 2, map[string]any{
		"name":      "get_children_tree",
		"arguments": map[string]any{"id": "missing"},
	}))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.NotNil(t, parsed.Error)
	require.Equal(t, CodeNodeNotFound, parsed.Error.Code)
}

func TestPingAllowedBeforeInitialize(t *testing.T) {
	srv := newTestServer(t)
	sess := NewSession("c1")

	resp := srv.Handle(context.Background(), sess, rpc("ping", 1, nil))
	var parsed Response
	require.NoError(t, json.Unmarshal(resp, &parsed))
	require.Nil(t, parsed.Error)
}

func TestResponseCallbackInvokedOnSuccess(t *testing.T) {
	srv := newTestServer(t)
	sess := readySession(t, srv)

	var gotMethod string
	srv.SetResponseCallback(func(method string, _ any) { gotMethod = method })

	srv.Handle(context.Background(), sess, rpc("tools/call", 2, map[string]any{
		"name":      "create_node",
		"arguments": map[string]any{"nodeType": "text", "content": "x"},
	}))
	require.Equal(t, "create_node", gotMethod)
}
