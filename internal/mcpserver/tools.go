package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/nodespace/core/internal/embedding"
	"github.com/nodespace/core/internal/nodesvc"
	"github.com/nodespace/core/internal/store"
	"github.com/nodespace/core/pkg/pool"
)

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schemaFor(required []string, props string) json.RawMessage {
	reqJSON, _ := json.Marshal(required)
	return json.RawMessage(`{"type":"object","properties":` + props + `,"required":` + string(reqJSON) + `}`)
}

// registerTools builds the static tools/list array and the name→handler
// dispatch table (spec §4.7: "node CRUD, markdown import/export, hierarchy
// operations, batch operations, schema CRUD, relationship CRUD, NLP
// discovery, and semantic search").
func (s *Server) registerTools() {
	s.handlers = map[string]toolHandler{
		"create_node":                  handleCreateNode,
		"get_node":                     handleGetNode,
		"update_node":                  handleUpdateNode,
		"delete_node":                  handleDeleteNode,
		"query_nodes":                  handleQueryNodes,
		"get_children":                 handleGetChildren,
		"get_children_tree":           handleGetChildrenTree,
		"get_node_tree":                handleGetNodeTree,
		"move_child_to_index":          handleMoveChildToIndex,
		"create_nodes_from_markdown":   handleCreateNodesFromMarkdown,
		"get_markdown_from_node_id":    handleGetMarkdownFromNodeID,
		"update_container_from_markdown": handleUpdateContainerFromMarkdown,
		"get_nodes_batch":              handleGetNodesBatch,
		"semantic_search_nodes":        handleSemanticSearch,
		"ensure_collection_path":       handleEnsureCollectionPath,
		"list_schemas":                 s.handleListSchemas,
		"get_schema":                   s.handleGetSchema,
		"create_relationship":          handleCreateRelationship,
		"delete_relationship":          handleDeleteRelationship,
		"get_relationships":            handleGetRelationships,
		"suggest_relationship_name":    s.handleSuggestRelationshipName,
	}

	s.tools = []ToolDef{
		{Name: "create_node", Description: "Create a node, optionally as a child of parentId", InputSchema: schemaFor([]string{"nodeType", "content"},
			`{"nodeType":{"type":"string"},"content":{"type":"string"},"properties":{"type":"object"},"parentId":{"type":"string"},"insertAfterNodeId":{"type":"string"}}`)},
		{Name: "get_node", Description: "Fetch the current version of a node by id", InputSchema: schemaFor([]string{"id"}, `{"id":{"type":"string"}}`)},
		{Name: "update_node", Description: "Update a node's content/properties under optimistic concurrency control", InputSchema: schemaFor([]string{"id", "expectedVersion"},
			`{"id":{"type":"string"},"expectedVersion":{"type":"integer"},"content":{"type":"string"},"properties":{"type":"object"},"reason":{"type":"string"}}`)},
		{Name: "delete_node", Description: "Delete a node and cascade to its edges and spoke", InputSchema: schemaFor([]string{"id"}, `{"id":{"type":"string"}}`)},
		{Name: "query_nodes", Description: "Query nodes by type, parent, root, or content substring", InputSchema: emptySchema},
		{Name: "get_children", Description: "List a node's children in sibling order", InputSchema: schemaFor([]string{"parentId"}, `{"parentId":{"type":"string"}}`)},
		{Name: "get_children_tree", Description: "Fetch the full nested subtree rooted at id", InputSchema: schemaFor([]string{"id"}, `{"id":{"type":"string"}}`)},
		{Name: "get_node_tree", Description: "Alias of get_children_tree", InputSchema: schemaFor([]string{"id"}, `{"id":{"type":"string"}}`)},
		{Name: "move_child_to_index", Description: "Move a node to a new parent at a given sibling index", InputSchema: schemaFor([]string{"childId", "parentId", "index"},
			`{"childId":{"type":"string"},"parentId":{"type":"string"},"index":{"type":"integer"}}`)},
		{Name: "create_nodes_from_markdown", Description: "Parse markdown into a node hierarchy and insert it", InputSchema: schemaFor([]string{"markdown"},
			`{"markdown":{"type":"string"},"title":{"type":"string"},"parentId":{"type":"string"}}`)},
		{Name: "get_markdown_from_node_id", Description: "Export a subtree as markdown", InputSchema: schemaFor([]string{"rootId"}, `{"rootId":{"type":"string"}}`)},
		{Name: "update_container_from_markdown", Description: "Replace a container's subtree with freshly parsed markdown", InputSchema: schemaFor([]string{"containerId", "markdown"},
			`{"containerId":{"type":"string"},"markdown":{"type":"string"}}`)},
		{Name: "get_nodes_batch", Description: "Fetch multiple nodes by id", InputSchema: schemaFor([]string{"ids"}, `{"ids":{"type":"array","items":{"type":"string"}}}`)},
		{Name: "semantic_search_nodes", Description: "Vector-similarity search over node content with breadth-boosted scoring, optionally post-filtered to one collection", InputSchema: schemaFor([]string{"query"},
			`{"query":{"type":"string"},"limit":{"type":"integer"},"threshold":{"type":"number"},"collectionId":{"type":"string"},"collectionPath":{"type":"string"}}`)},
		{Name: "ensure_collection_path", Description: "Resolve a colon-delimited collection path to its leaf collection node, creating any missing level", InputSchema: schemaFor([]string{"path"},
			`{"path":{"type":"string"}}`)},
		{Name: "list_schemas", Description: "List every registered node-type schema", InputSchema: emptySchema},
		{Name: "get_schema", Description: "Fetch one registered schema by type name", InputSchema: schemaFor([]string{"typeName"}, `{"typeName":{"type":"string"}}`)},
		{Name: "create_relationship", Description: "Create a typed edge between two nodes", InputSchema: schemaFor([]string{"fromId", "toId", "type"},
			`{"fromId":{"type":"string"},"toId":{"type":"string"},"type":{"type":"string"},"properties":{"type":"object"}}`)},
		{Name: "delete_relationship", Description: "Delete an edge by id", InputSchema: schemaFor([]string{"id"}, `{"id":{"type":"string"}}`)},
		{Name: "get_relationships", Description: "List a node's relationships, optionally filtered by type and direction", InputSchema: schemaFor([]string{"nodeId"},
			`{"nodeId":{"type":"string"},"type":{"type":"string"},"outboundOnly":{"type":"boolean"},"inboundOnly":{"type":"boolean"}}`)},
		{Name: "suggest_relationship_name", Description: "Suggest a relationship name from free text via the NLP discovery cache", InputSchema: schemaFor([]string{"description"}, `{"description":{"type":"string"}}`)},
	}
}

func nodeToMap(n *store.Node) map[string]any {
	m := pool.GetMap()
	m["id"] = n.ID
	m["nodeType"] = n.Type
	m["content"] = n.Content
	m["properties"] = n.Properties
	m["version"] = n.Version
	m["createdAt"] = n.CreatedAt
	m["modifiedAt"] = n.ModifiedAt
	return m
}

type createNodeParams struct {
	NodeType          string         `json:"nodeType"`
	Content           string         `json:"content"`
	Properties        map[string]any `json:"properties"`
	ParentID          string         `json:"parentId"`
	InsertAfterNodeID string         `json:"insertAfterNodeId"`
	Index             int            `json:"index"`
}

func handleCreateNode(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p createNodeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	n, err := nc.CreateNodeWithParent(ctx, nodesvc.CreateNodeParams{
		Type: p.NodeType, Content: p.Content, Properties: p.Properties,
		ParentID: p.ParentID, InsertAfterNodeID: p.InsertAfterNodeID, Index: p.Index,
	})
	if err != nil {
		return nil, err
	}
	result := nodeToMap(n)
	result["success"] = true
	return result, nil
}

type idParams struct {
	ID string `json:"id"`
}

func handleGetNode(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	nodes, err := nc.GetNodesBatch(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		m := pool.GetMap()
		m["found"] = false
		return m, nil
	}
	return nodeToMap(nodes[0]), nil
}

type updateNodeParams struct {
	ID              string         `json:"id"`
	ExpectedVersion int            `json:"expectedVersion"`
	Content         *string        `json:"content"`
	Properties      map[string]any `json:"properties"`
	Reason          string         `json:"reason"`
}

func handleUpdateNode(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p updateNodeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	n, err := nc.UpdateNode(ctx, p.ID, p.ExpectedVersion, p.Content, p.Properties, p.Reason)
	if err != nil {
		return nil, err
	}
	result := nodeToMap(n)
	result["success"] = true
	return result, nil
}

func handleDeleteNode(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := nc.DeleteNode(ctx, p.ID); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	m["success"] = true
	return m, nil
}

type queryNodesParams struct {
	NodeType         string `json:"nodeType"`
	ParentID         string `json:"parentId"`
	RootOnly         bool   `json:"rootOnly"`
	RootID           string `json:"rootId"`
	ContentSubstring string `json:"contentSubstring"`
	Limit            int    `json:"limit"`
	Offset           int    `json:"offset"`
}

func handleQueryNodes(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p queryNodesParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
	}
	nodes, err := nc.QueryNodes(ctx, store.QueryFilter{
		NodeType: p.NodeType, ParentID: p.ParentID, RootOnly: p.RootOnly, RootID: p.RootID,
		ContentSubstring: p.ContentSubstring, Limit: p.Limit, Offset: p.Offset,
	})
	if err != nil {
		return nil, err
	}
	items := pool.GetSlice()
	for _, n := range nodes {
		items = append(items, nodeToMap(n))
	}
	m := pool.GetMap()
	m["nodes"] = items
	m["count"] = len(nodes)
	return m, nil
}

type parentIDParams struct {
	ParentID string `json:"parentId"`
}

func handleGetChildren(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p parentIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	children, err := nc.GetChildren(ctx, p.ParentID)
	if err != nil {
		return nil, err
	}
	items := pool.GetSlice()
	for _, n := range children {
		items = append(items, nodeToMap(n))
	}
	m := pool.GetMap()
	m["children"] = items
	return m, nil
}

func treeToMap(t *store.TreeNode) map[string]any {
	m := nodeToMap(t.Node)
	children := pool.GetSlice()
	for _, c := range t.Children {
		children = append(children, treeToMap(c))
	}
	m["children"] = children
	return m
}

func handleGetChildrenTree(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	tree, err := nc.GetChildrenTree(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return treeToMap(tree), nil
}

func handleGetNodeTree(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	tree, err := nc.GetNodeTree(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return treeToMap(tree), nil
}

type moveChildParams struct {
	ChildID  string `json:"childId"`
	ParentID string `json:"parentId"`
	Index    int    `json:"index"`
}

func handleMoveChildToIndex(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p moveChildParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := nc.MoveChildToIndex(ctx, p.ChildID, p.ParentID, p.Index); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	m["success"] = true
	return m, nil
}

type markdownImportParams struct {
	Markdown string `json:"markdown"`
	Title    string `json:"title"`
	ParentID string `json:"parentId"`
}

func handleCreateNodesFromMarkdown(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p markdownImportParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	roots, err := nc.CreateNodesFromMarkdown(ctx, p.Markdown, p.Title, p.ParentID)
	if err != nil {
		return nil, err
	}
	items := pool.GetSlice()
	for _, n := range roots {
		items = append(items, nodeToMap(n))
	}
	m := pool.GetMap()
	m["roots"] = items
	m["success"] = true
	return m, nil
}

type rootIDParams struct {
	RootID string `json:"rootId"`
}

func handleGetMarkdownFromNodeID(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p rootIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	md, err := nc.GetMarkdownFromNodeID(ctx, p.RootID)
	if err != nil {
		return nil, err
	}
	m := pool.GetMap()
	m["markdown"] = md
	return m, nil
}

type updateContainerParams struct {
	ContainerID string `json:"containerId"`
	Markdown    string `json:"markdown"`
}

func handleUpdateContainerFromMarkdown(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p updateContainerParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := nc.UpdateContainerFromMarkdown(ctx, p.ContainerID, p.Markdown); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	m["success"] = true
	return m, nil
}

type batchIDsParams struct {
	IDs []string `json:"ids"`
}

func handleGetNodesBatch(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p batchIDsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	nodes, err := nc.GetNodesBatch(ctx, p.IDs)
	if err != nil {
		return nil, err
	}
	items := pool.GetSlice()
	for _, n := range nodes {
		items = append(items, nodeToMap(n))
	}
	m := pool.GetMap()
	m["nodes"] = items
	return m, nil
}

type semanticSearchParams struct {
	Query          string  `json:"query"`
	Limit          int     `json:"limit"`
	Threshold      float64 `json:"threshold"`
	CollectionID   string  `json:"collectionId"`
	CollectionPath string  `json:"collectionPath"`
}

func handleSemanticSearch(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p semanticSearchParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	results, err := nc.SemanticSearch(ctx, p.Query, embedding.SemanticSearchOptions{
		Limit: p.Limit, Threshold: p.Threshold, CollectionID: p.CollectionID, CollectionPath: p.CollectionPath,
	})
	if err != nil {
		return nil, err
	}
	items := pool.GetSlice()
	for _, r := range results {
		item := nodeToMap(r.Node)
		item["similarity"] = r.MaxSimilarity
		item["score"] = r.Score
		item["matchingChunks"] = r.MatchingChunks
		items = append(items, item)
	}
	collectionID := p.CollectionID
	if collectionID == "" {
		collectionID = p.CollectionPath
	}
	m := pool.GetMap()
	m["nodes"] = items
	m["count"] = len(results)
	m["query"] = p.Query
	m["threshold"] = p.Threshold
	m["collection_id"] = collectionID
	return m, nil
}

type collectionPathParams struct {
	Path string `json:"path"`
}

func handleEnsureCollectionPath(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p collectionPathParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	n, err := nc.EnsureCollectionPath(ctx, p.Path)
	if err != nil {
		return nil, err
	}
	result := nodeToMap(n)
	result["success"] = true
	return result, nil
}

func (s *Server) handleListSchemas(_ context.Context, _ *nodesvc.Client, _ json.RawMessage) (map[string]any, error) {
	items := pool.GetSlice()
	if s.registry != nil {
		for _, sc := range s.registry.All() {
			item := pool.GetMap()
			item["typeName"] = sc.TypeName
			item["version"] = sc.Version
			item["description"] = sc.Description
			items = append(items, item)
		}
	}
	m := pool.GetMap()
	m["schemas"] = items
	return m, nil
}

func (s *Server) handleGetSchema(_ context.Context, _ *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p struct {
		TypeName string `json:"typeName"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	if s.registry == nil {
		m["found"] = false
		return m, nil
	}
	sc, ok := s.registry.Get(p.TypeName)
	if !ok {
		m["found"] = false
		return m, nil
	}
	m["found"] = true
	m["typeName"] = sc.TypeName
	m["version"] = sc.Version
	m["description"] = sc.Description
	return m, nil
}

type createRelationshipParams struct {
	FromID     string         `json:"fromId"`
	ToID       string         `json:"toId"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

func handleCreateRelationship(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p createRelationshipParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	r := &store.Relationship{FromID: p.FromID, ToID: p.ToID, Type: p.Type, Properties: p.Properties}
	if err := nc.CreateRelationship(ctx, r); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	m["success"] = true
	m["id"] = r.ID
	return m, nil
}

func handleDeleteRelationship(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p idParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if err := nc.DeleteRelationship(ctx, p.ID); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	m["success"] = true
	return m, nil
}

type getRelationshipsParams struct {
	NodeID       string `json:"nodeId"`
	Type         string `json:"type"`
	OutboundOnly bool   `json:"outboundOnly"`
	InboundOnly  bool   `json:"inboundOnly"`
}

func relationshipToMap(r *store.Relationship) map[string]any {
	m := pool.GetMap()
	m["id"] = r.ID
	m["fromId"] = r.FromID
	m["toId"] = r.ToID
	m["type"] = r.Type
	m["properties"] = r.Properties
	m["createdAt"] = r.CreatedAt
	return m
}

func handleGetRelationships(ctx context.Context, nc *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p getRelationshipsParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	rels, err := nc.GetRelationships(ctx, p.NodeID, p.Type, p.OutboundOnly, p.InboundOnly)
	if err != nil {
		return nil, err
	}
	items := pool.GetSlice()
	for _, r := range rels {
		items = append(items, relationshipToMap(r))
	}
	m := pool.GetMap()
	m["relationships"] = items
	return m, nil
}

func (s *Server) handleSuggestRelationshipName(_ context.Context, _ *nodesvc.Client, raw json.RawMessage) (map[string]any, error) {
	var p struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	m := pool.GetMap()
	if s.relCache == nil {
		m["suggestion"] = ""
		return m, nil
	}
	m["suggestion"] = s.relCache.SuggestRelationshipName(p.Description)
	return m, nil
}
