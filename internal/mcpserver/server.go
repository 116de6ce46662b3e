package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nodespace/core/internal/logging"
	"github.com/nodespace/core/internal/nodesvc"
	"github.com/nodespace/core/internal/nserrors"
	"github.com/nodespace/core/internal/relcache"
	"github.com/nodespace/core/internal/schema"
)

// toolHandler parses params (already raw JSON) and executes a tool call
// against a client-bound Node Service.
type toolHandler func(ctx context.Context, nc *nodesvc.Client, params json.RawMessage) (map[string]any, error)

// Server dispatches JSON-RPC 2.0 requests to the Node Service / Embedding
// Service (spec §4.7). One Server instance is shared across every
// transport and session.
type Server struct {
	nodes    *nodesvc.Service
	registry *schema.Registry
	relCache *relcache.Cache
	handlers map[string]toolHandler
	tools    []ToolDef
	callback ResponseCallback
}

// NewServer constructs a Server wired to the given Node Service, Schema
// Registry (used to build the dynamic `instructions` string at initialize
// and to serve schema-CRUD tools), and Relationship Cache (NLP discovery
// tools). relCache may be nil, in which case discovery tools report an
// empty suggestion rather than failing.
func NewServer(nodes *nodesvc.Service, registry *schema.Registry, relCache *relcache.Cache) *Server {
	s := &Server{nodes: nodes, registry: registry, relCache: relCache}
	s.registerTools()
	return s
}

// SetResponseCallback installs the optional post-handler callback (spec
// §4.7).
func (s *Server) SetResponseCallback(cb ResponseCallback) { s.callback = cb }

// Handle processes one raw JSON-RPC message and returns the raw JSON
// response, or nil for a notification that produces no response.
func (s *Server) Handle(ctx context.Context, sess *Session, raw []byte) []byte {
	log := logging.Component("mcpserver")

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := errorResponse(nil, CodeParseError, "parse error: "+err.Error(), nil)
		return mustMarshal(resp)
	}

	resp := s.dispatch(ctx, sess, &req)
	if resp == nil {
		return nil // notification handled with no reply
	}
	out, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("marshal response")
		return mustMarshal(errorResponse(req.ID, CodeInternalError, "internal error", nil))
	}
	return out
}

func (s *Server) dispatch(ctx context.Context, sess *Session, req *Request) *Response {
	if sess.get() != StateReady && !allowedBeforeReady[req.Method] {
		return errorResponse(req.ID, CodeInvalidRequest, "server not initialized", nil)
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "initialized":
		sess.transitionToReady()
		return nil // notification: no response
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": s.tools})
	case "tools/call":
		return s.handleToolCall(ctx, sess, req)
	default:
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

func (s *Server) handleInitialize(req *Request) *Response {
	var p initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "invalid initialize params", nil)
		}
	}

	supported := false
	for _, v := range SupportedProtocolVersions {
		if v == p.ProtocolVersion {
			supported = true
			break
		}
	}
	if !supported {
		return errorResponse(req.ID, CodeInvalidRequest,
			fmt.Sprintf("unsupported protocolVersion %q; supported: %v", p.ProtocolVersion, SupportedProtocolVersions), nil)
	}

	return resultResponse(req.ID, map[string]any{
		"protocolVersion": p.ProtocolVersion,
		"serverInfo":      map[string]any{"name": "nodespace-mcp", "version": "0.1.0"},
		"capabilities": map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"instructions": s.buildInstructions(),
	})
}

// buildInstructions renders a human-readable summary of the current schema
// set for the initialize reply (spec §4.7).
func (s *Server) buildInstructions() string {
	if s.registry == nil {
		return "NodeSpace MCP server. No schemas registered yet."
	}
	schemas := s.registry.All()
	if len(schemas) == 0 {
		return "NodeSpace MCP server. No schemas registered yet."
	}
	out := "NodeSpace MCP server. Registered node types:\n"
	for _, sc := range schemas {
		out += fmt.Sprintf("- %s (v%d): %s\n", sc.TypeName, sc.Version, sc.Description)
	}
	return out
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolCall(ctx context.Context, sess *Session, req *Request) *Response {
	var p toolCallParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid tools/call params", nil)
	}

	h, ok := s.handlers[p.Name]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown tool %q", p.Name), nil)
	}

	nc := s.nodes.WithClient(sess.clientID)
	result, err := h(ctx, nc, p.Arguments)
	if err != nil {
		return s.errorResponseFor(req.ID, err)
	}

	if s.callback != nil {
		s.callback(p.Name, result)
	}
	return resultResponse(req.ID, result)
}

func (s *Server) errorResponseFor(id json.RawMessage, err error) *Response {
	var vc *nserrors.VersionConflictError
	if e, ok := err.(*nserrors.VersionConflictError); ok {
		vc = e
	}
	if vc != nil {
		return errorResponse(id, CodeVersionConflict, vc.Error(), VersionConflictData{
			Type: "VersionConflict", ExpectedVersion: vc.Expected, ActualVersion: vc.Actual, CurrentNode: vc.CurrentNode,
		})
	}

	switch nserrors.KindOf(err) {
	case nserrors.KindNotFound:
		return errorResponse(id, CodeNodeNotFound, err.Error(), nil)
	case nserrors.KindValidation, nserrors.KindHierarchyViolation:
		return errorResponse(id, CodeValidationError, err.Error(), nil)
	case nserrors.KindDatabase:
		return errorResponse(id, CodeNodeUpdateFailed, err.Error(), nil)
	default:
		return errorResponse(id, CodeInternalError, err.Error(), nil)
	}
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"internal error"}}`)
	}
	return b
}
