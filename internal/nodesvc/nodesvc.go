// Package nodesvc implements the Node Service (spec §4.3): the business
// rule layer above the Store — OCC writes, root/hierarchy invariants,
// markdown import/export, batch operations, mention extraction, and
// collection membership.
package nodesvc

import (
	"context"

	"github.com/nodespace/core/internal/collection"
	"github.com/nodespace/core/internal/embedding"
	"github.com/nodespace/core/internal/logging"
	"github.com/nodespace/core/internal/markdown"
	"github.com/nodespace/core/internal/mention"
	"github.com/nodespace/core/internal/nserrors"
	"github.com/nodespace/core/internal/schema"
	"github.com/nodespace/core/internal/store"
)

// Service is the Node Service. It holds the Store, Schema Registry, and
// Embedding Service by shared reference (spec §3 Ownership).
type Service struct {
	st        *store.Store
	registry  *schema.Registry
	emb       *embedding.Service
	waker     *embedding.Waker
	mentions  *mention.Extractor
	rootTypes map[string]bool
}

// Config parametrizes which node types may be roots (spec §4.3: "Only
// certain node types may be roots (text, header, date — configurable
// set)").
type Config struct {
	RootTypes []string
}

// DefaultRootTypes matches the spec's named example set.
var DefaultRootTypes = []string{"text", "header", "date"}

// New constructs a Node Service.
func New(st *store.Store, registry *schema.Registry, emb *embedding.Service, waker *embedding.Waker, cfg Config) (*Service, error) {
	ext, err := mention.New()
	if err != nil {
		return nil, err
	}
	rootTypes := cfg.RootTypes
	if len(rootTypes) == 0 {
		rootTypes = DefaultRootTypes
	}
	rt := make(map[string]bool, len(rootTypes))
	for _, t := range rootTypes {
		rt[t] = true
	}
	return &Service{st: st, registry: registry, emb: emb, waker: waker, mentions: ext, rootTypes: rt}, nil
}

// Client is a Node Service bound to a caller identity, so every event it
// produces carries source_client_id (spec §4.3 "Client identity").
type Client struct {
	svc      *Service
	clientID string
}

// WithClient returns a Client that tags every write with clientID (spec §9
// "Client identity for echo suppression").
func (s *Service) WithClient(clientID string) *Client {
	return &Client{svc: s, clientID: clientID}
}

// CreateNodeParams parametrizes CreateNodeWithParent.
type CreateNodeParams struct {
	Type              string
	Content           string
	Properties        map[string]any
	ParentID          string // empty for root creation
	InsertAfterNodeID string // optional sibling to insert after
	Index             int    // used when InsertAfterNodeID is empty and ParentID is set
}

// CreateNodeWithParent performs single atomic child (or root) creation,
// enforcing the root/hierarchy rules of spec §4.3.
func (c *Client) CreateNodeWithParent(ctx context.Context, p CreateNodeParams) (*store.Node, error) {
	if p.ParentID == "" {
		if !c.svc.rootTypes[p.Type] {
			return nil, nserrors.HierarchyViolation("type %q may not be a root", p.Type)
		}
		n := &store.Node{Type: p.Type, Content: p.Content, Properties: p.Properties}
		if err := c.svc.validate(n); err != nil {
			return nil, err
		}
		if err := c.svc.st.CreateNode(ctx, n, c.clientID); err != nil {
			return nil, err
		}
		c.svc.afterWrite(ctx, n)
		return n, nil
	}

	parent, err := c.svc.st.GetNode(ctx, p.ParentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, nserrors.NotFound("parent %s", p.ParentID)
	}

	index := p.Index
	if p.InsertAfterNodeID != "" {
		siblings, err := c.svc.st.GetChildren(ctx, p.ParentID)
		if err != nil {
			return nil, err
		}
		index = len(siblings)
		for i, sib := range siblings {
			if sib.ID == p.InsertAfterNodeID {
				index = i + 1
				break
			}
		}
	}

	n := &store.Node{Type: p.Type, Content: p.Content, Properties: p.Properties}
	if err := c.svc.validate(n); err != nil {
		return nil, err
	}

	created, err := c.svc.st.CreateChildNodeAtomic(ctx, n, p.ParentID, index, c.clientID)
	if err != nil {
		return nil, err
	}
	c.svc.afterWrite(ctx, created)
	return created, nil
}

func (s *Service) validate(n *store.Node) error {
	if s.registry == nil {
		return nil
	}
	if _, ok := s.registry.Get(n.Type); !ok {
		return nil // no schema registered yet for this type: permissive until bootstrapped
	}
	return s.registry.Validate(n)
}

// afterWrite runs the mention diff and stale-embedding propagation shared by
// every content-mutating path (spec §4.3 "Mention handling", "Stale
// embedding propagation").
func (s *Service) afterWrite(ctx context.Context, n *store.Node) {
	if err := s.reconcileMentions(ctx, n); err != nil {
		return // best-effort: mention reconciliation failures never block the write
	}
	_ = s.reconcileCollectionMembership(ctx, n)
	rootID, err := s.st.RootOf(ctx, n.ID)
	if err != nil {
		return
	}
	_ = s.st.MarkRootStale(ctx, rootID)
	if s.waker != nil {
		s.waker.Wake()
	}
}

// reconcileCollectionMembership reads the collectionId property (spec.md
// §4.4/§6 "collection_id") off n and ensures the node's member_of edge
// matches it, creating or replacing the edge as needed. A node with no
// collectionId property is left alone; an explicitly empty collectionId
// clears membership. Failures are best-effort, matching mention
// reconciliation: a bad collection id never blocks the write.
func (s *Service) reconcileCollectionMembership(ctx context.Context, n *store.Node) error {
	raw, ok := n.Properties["collectionId"]
	if !ok {
		return nil
	}
	collectionID, _ := raw.(string)
	return s.st.SetCollectionMembership(ctx, n.ID, collectionID, "")
}

// reconcileMentions parses n's content for nodespace://<id> tokens and
// diffs the resulting target set against existing `mentions` edges,
// creating/deleting edges to match (spec §4.3). Target ids that do not
// exist are ignored with a warning rather than failing the write.
func (s *Service) reconcileMentions(ctx context.Context, n *store.Node) error {
	wanted := map[string]bool{}
	for _, id := range s.mentions.ExtractIDs(n.Content) {
		wanted[id] = true
	}

	existing, err := s.st.GetRelationships(ctx, n.ID, store.RelMentions, true, false)
	if err != nil {
		return err
	}
	have := map[string]*store.Relationship{}
	for _, e := range existing {
		have[e.ToID] = e
	}

	for id := range wanted {
		if _, ok := have[id]; ok {
			continue
		}
		target, err := s.st.GetNode(ctx, id)
		if err != nil || target == nil {
			log := logging.Component("nodesvc")
			log.Warn().Str("node", n.ID).Str("target", id).Msg("unresolvable mention target ignored")
			continue
		}
		_ = s.st.CreateRelationship(ctx, &store.Relationship{FromID: n.ID, ToID: id, Type: store.RelMentions}, "")
	}
	for id, edge := range have {
		if !wanted[id] {
			_ = s.st.DeleteRelationship(ctx, edge.ID, "")
		}
	}
	return nil
}

// UpdateNode applies a content/property patch under OCC (spec §4.3).
func (c *Client) UpdateNode(ctx context.Context, id string, expectedVersion int, content *string, properties map[string]any, reason string) (*store.Node, error) {
	updated, err := c.svc.st.UpdateNode(ctx, id, expectedVersion, func(n *store.Node) {
		if content != nil {
			n.Content = *content
		}
		if properties != nil {
			n.Properties = properties
		}
	}, reason, c.clientID)
	if err != nil {
		return nil, err
	}
	c.svc.afterWrite(ctx, updated)
	return updated, nil
}

// UpdateSpec is one entry in a batch update.
type UpdateSpec struct {
	ID              string
	ExpectedVersion int
	Content         *string
	Properties      map[string]any
	Reason          string
}

// UpdateNodesBatch applies each update independently, collecting per-item
// errors rather than aborting the whole batch on the first failure.
func (c *Client) UpdateNodesBatch(ctx context.Context, updates []UpdateSpec) ([]*store.Node, []error) {
	nodes := make([]*store.Node, len(updates))
	errs := make([]error, len(updates))
	for i, u := range updates {
		n, err := c.UpdateNode(ctx, u.ID, u.ExpectedVersion, u.Content, u.Properties, u.Reason)
		nodes[i] = n
		errs[i] = err
	}
	return nodes, errs
}

// GetNodesBatch fetches multiple nodes by id, skipping any that are absent.
func (c *Client) GetNodesBatch(ctx context.Context, ids []string) ([]*store.Node, error) {
	out := make([]*store.Node, 0, len(ids))
	for _, id := range ids {
		n, err := c.svc.st.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// QueryNodes passes through to the Store's filtered listing (spec §4.1).
func (c *Client) QueryNodes(ctx context.Context, f store.QueryFilter) ([]*store.Node, error) {
	return c.svc.st.QueryNodes(ctx, f)
}

// DeleteNode removes a node and cascades to its edges and embedding rows
// (spec §4.3).
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	return c.svc.st.DeleteNode(ctx, id, c.clientID)
}

// GetChildren, GetChildrenTree pass through to the Store.
func (c *Client) GetChildren(ctx context.Context, parentID string) ([]*store.Node, error) {
	return c.svc.st.GetChildren(ctx, parentID)
}

func (c *Client) GetChildrenTree(ctx context.Context, id string) (*store.TreeNode, error) {
	return c.svc.st.GetChildrenTree(ctx, id)
}

// GetNodeTree is an alias exposed for the MCP tool surface naming (spec
// §4.3 lists both get_children_tree and get_node_tree as distinct tool
// names over the same underlying operation).
func (c *Client) GetNodeTree(ctx context.Context, id string) (*store.TreeNode, error) {
	return c.svc.st.GetChildrenTree(ctx, id)
}

// MoveChildToIndex recomputes the target fractional order from the current
// children list and moves child under parent at index (spec §4.3).
func (c *Client) MoveChildToIndex(ctx context.Context, childID, parentID string, index int) error {
	return c.svc.st.MoveNode(ctx, childID, parentID, index, c.clientID)
}

// CreateNodesFromMarkdown parses markdown into a hierarchical sequence and
// batch-inserts it under parentID (or as new roots if parentID is empty),
// preserving order (spec §4.3).
func (c *Client) CreateNodesFromMarkdown(ctx context.Context, md, title, parentID string) ([]*store.Node, error) {
	parsed := markdown.Parse(md)

	var roots []*store.Node
	var insert func(nodes []*markdown.ParsedNode, parent string) error
	insert = func(nodes []*markdown.ParsedNode, parent string) error {
		for i, pn := range nodes {
			var created *store.Node
			var err error
			if parent == "" {
				created, err = c.CreateNodeWithParent(ctx, CreateNodeParams{Type: pn.Type, Content: pn.Content, Properties: pn.Properties})
			} else {
				created, err = c.CreateNodeWithParent(ctx, CreateNodeParams{Type: pn.Type, Content: pn.Content, Properties: pn.Properties, ParentID: parent, Index: i})
			}
			if err != nil {
				return err
			}
			if parent == "" {
				roots = append(roots, created)
			}
			if err := insert(pn.Children, created.ID); err != nil {
				return err
			}
		}
		return nil
	}

	targetParent := parentID
	if title != "" && parentID == "" {
		titleNode, err := c.CreateNodeWithParent(ctx, CreateNodeParams{Type: markdown.TypeHeader, Content: title})
		if err != nil {
			return nil, err
		}
		roots = append(roots, titleNode)
		targetParent = titleNode.ID
	}

	if err := insert(parsed, targetParent); err != nil {
		return nil, err
	}
	return roots, nil
}

// GetMarkdownFromNodeID renders rootID's subtree as markdown, the inverse of
// CreateNodesFromMarkdown (spec §4.3). Nesting is reproduced as heading
// levels only; children of non-header nodes are written without list
// indentation.
func (c *Client) GetMarkdownFromNodeID(ctx context.Context, rootID string) (string, error) {
	tree, err := c.svc.st.GetChildrenTree(ctx, rootID)
	if err != nil {
		return "", err
	}
	return markdown.Render([]*markdown.ExportNode{toExportNode(tree)}), nil
}

func toExportNode(t *store.TreeNode) *markdown.ExportNode {
	e := &markdown.ExportNode{Type: t.Node.Type, Content: t.Node.Content, Properties: t.Node.Properties}
	for _, c := range t.Children {
		e.Children = append(e.Children, toExportNode(c))
	}
	return e
}

// UpdateContainerFromMarkdown replaces containerID's entire subtree with a
// freshly parsed import of md (spec Open Question, resolved always-replace
// — see DESIGN.md).
func (c *Client) UpdateContainerFromMarkdown(ctx context.Context, containerID, md string) error {
	descendants, err := c.svc.st.GetDescendants(ctx, containerID)
	if err != nil {
		return err
	}
	for _, d := range descendants {
		if err := c.svc.st.DeleteNode(ctx, d.ID, c.clientID); err != nil {
			return err
		}
	}
	if _, err := c.CreateNodesFromMarkdown(ctx, md, "", containerID); err != nil {
		return err
	}
	return nil
}

// CreateRelationship, DeleteRelationship, GetRelationships pass through to
// the Store for the MCP relationship-CRUD tool surface (spec §4.2, §4.7).
func (c *Client) CreateRelationship(ctx context.Context, r *store.Relationship) error {
	return c.svc.st.CreateRelationship(ctx, r, c.clientID)
}

func (c *Client) DeleteRelationship(ctx context.Context, id string) error {
	return c.svc.st.DeleteRelationship(ctx, id, c.clientID)
}

func (c *Client) GetRelationships(ctx context.Context, nodeID, relType string, outboundOnly, inboundOnly bool) ([]*store.Relationship, error) {
	return c.svc.st.GetRelationships(ctx, nodeID, relType, outboundOnly, inboundOnly)
}

// SemanticSearch delegates to the Embedding Service (spec §4.4), resolving a
// colon-delimited CollectionPath to the concrete collection id the Embedding
// Service filters on, per the upstream collection path filter (supplemental,
// original_source collection_service.rs).
func (c *Client) SemanticSearch(ctx context.Context, query string, opts embedding.SemanticSearchOptions) ([]embedding.SearchResult, error) {
	if opts.CollectionID == "" && opts.CollectionPath != "" {
		p, err := collection.ParsePath(opts.CollectionPath)
		if err != nil {
			return nil, err
		}
		node, err := c.svc.findCollectionPath(ctx, p)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, nil // path names no existing collection: it has no members
		}
		opts.CollectionID = node.ID
	}
	return c.svc.emb.SemanticSearch(ctx, query, opts)
}

// EnsureCollectionPath resolves the nested chain of "collection"-typed nodes
// named by a colon-delimited path, creating any missing level, and returns
// the leaf collection node (supplemental feature grounded on
// original_source's collection_service.rs path model and
// collection_node.rs's type="collection" wrapper).
func (c *Client) EnsureCollectionPath(ctx context.Context, path string) (*store.Node, error) {
	p, err := collection.ParsePath(path)
	if err != nil {
		return nil, err
	}

	var parentID string
	var node *store.Node
	for _, seg := range p.Segments {
		found, err := c.svc.findCollectionByName(ctx, seg.NormalizedName, parentID)
		if err != nil {
			return nil, err
		}
		if found == nil {
			n := &store.Node{Type: "collection", Content: seg.Name}
			if err := c.svc.st.CreateNode(ctx, n, c.clientID); err != nil {
				return nil, err
			}
			if parentID != "" {
				edge := &store.Relationship{FromID: n.ID, ToID: parentID, Type: store.RelCollectionParent}
				if err := c.svc.st.CreateRelationship(ctx, edge, c.clientID); err != nil {
					return nil, err
				}
			}
			found = n
		}
		node = found
		parentID = node.ID
	}
	return node, nil
}

// findCollectionPath walks a parsed path level by level, returning nil, nil
// if any level is missing (the path names no existing collection).
func (s *Service) findCollectionPath(ctx context.Context, p collection.Path) (*store.Node, error) {
	var parentID string
	var node *store.Node
	for _, seg := range p.Segments {
		found, err := s.findCollectionByName(ctx, seg.NormalizedName, parentID)
		if err != nil {
			return nil, err
		}
		if found == nil {
			return nil, nil
		}
		node = found
		parentID = node.ID
	}
	return node, nil
}

// findCollectionByName looks up a "collection"-typed node whose content
// matches normalizedName case-insensitively and whose collection_parent
// points at parentID (or that has no collection_parent at all, when
// parentID is empty).
func (s *Service) findCollectionByName(ctx context.Context, normalizedName, parentID string) (*store.Node, error) {
	candidates, err := s.st.QueryNodes(ctx, store.QueryFilter{NodeType: "collection", ContentSubstring: normalizedName})
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		if collection.Normalize(cand.Content) != normalizedName {
			continue
		}
		actualParent, err := s.st.CollectionParent(ctx, cand.ID)
		if err != nil {
			return nil, err
		}
		if actualParent == parentID {
			return cand, nil
		}
	}
	return nil, nil
}
