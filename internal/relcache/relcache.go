// Package relcache implements the Relationship Cache (spec §4.6): an
// inbound-relationship index over schemas, used by NLP discovery to answer
// "what relationship types may point at a node of type T". Modeled per spec
// §9 as a reader/writer-locked value with an atomic dirty flag, the same
// shared-mutable-cache shape the teacher's discovery registry
// (pkg/scanner/discovery/registry.go) uses for its candidate tracking,
// generalized here from an unsynchronized single-writer map to a
// concurrent-read cache with TTL-based invalidation.
package relcache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orsinium-labs/stopwords"

	"github.com/nodespace/core/internal/schema"
)

// InboundRelationship describes one relationship definition that may target
// a given node type (spec §4.6).
type InboundRelationship struct {
	SourceType         string
	Name               string
	ReverseName        string
	Cardinality        string
	ReverseCardinality string
	EdgeTable          string
	Description        string
}

// DefaultTTL is the cache's time-based invalidation window (spec §4.6
// default 60s).
const DefaultTTL = 60 * time.Second

// Cache holds the target_type → []InboundRelationship index, rebuilt from
// the Schema Registry on demand.
type Cache struct {
	mu       sync.RWMutex
	registry *schema.Registry
	ttl      time.Duration
	builtAt  time.Time
	index    map[string][]InboundRelationship

	dirty    int32 // atomic bool: set on schema mutation notifications
	rebuildL sync.Mutex

	stopwordChecker *stopwords.Stopwords
}

// New creates an empty cache over registry. The first InboundFor (or
// Refresh) call builds the index.
func New(registry *schema.Registry) *Cache {
	return &Cache{
		registry:        registry,
		ttl:             DefaultTTL,
		index:           map[string][]InboundRelationship{},
		stopwordChecker: stopwords.MustGet("en"),
	}
}

// Invalidate marks the cache dirty, forcing a rebuild on the next access
// (spec §4.6: "by an explicit invalidate-flag set whenever a schema node is
// created/updated/deleted").
func (c *Cache) Invalidate() {
	atomic.StoreInt32(&c.dirty, 1)
}

func (c *Cache) expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.builtAt) > c.ttl
}

// ensureFresh rebuilds the index exactly once if dirty or TTL-expired;
// concurrent callers past the first rebuild see the already-fresh cache
// (spec: "Cache misses trigger at-most-one concurrent rebuild; subsequent
// readers await").
func (c *Cache) ensureFresh() {
	if atomic.LoadInt32(&c.dirty) == 0 && !c.expired() {
		return
	}
	c.rebuildL.Lock()
	defer c.rebuildL.Unlock()
	// Re-check: another goroutine may have rebuilt while we waited.
	if atomic.LoadInt32(&c.dirty) == 0 && !c.expired() {
		return
	}

	built := make(map[string][]InboundRelationship)
	for _, sc := range c.registry.All() {
		for _, rel := range sc.Relationships {
			built[rel.TargetType] = append(built[rel.TargetType], InboundRelationship{
				SourceType:         sc.TypeName,
				Name:               rel.Name,
				ReverseName:        rel.ReverseName,
				Cardinality:        rel.Cardinality,
				ReverseCardinality: rel.ReverseCardinality,
				EdgeTable:          rel.EdgeTable,
				Description:        rel.Description,
			})
		}
	}

	c.mu.Lock()
	c.index = built
	c.builtAt = time.Now()
	c.mu.Unlock()
	atomic.StoreInt32(&c.dirty, 0)
}

// InboundFor returns the relationship definitions that may target nodeType,
// rebuilding first if the cache is dirty or expired.
func (c *Cache) InboundFor(nodeType string) []InboundRelationship {
	c.ensureFresh()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]InboundRelationship(nil), c.index[nodeType]...)
}

// SuggestRelationshipName proposes a relationship name for free text
// (e.g. from a user-authored schema description), backing the MCP
// suggest_relationship_name tool: lowercases, strips stopwords, and joins
// the remaining tokens with underscores.
func (c *Cache) SuggestRelationshipName(description string) string {
	var kept []string
	for _, tok := range strings.Fields(strings.ToLower(description)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if tok == "" {
			continue
		}
		if c.stopwordChecker != nil && c.stopwordChecker.Contains(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, "_")
}

// Refresh forces an immediate rebuild regardless of dirty/TTL state, used at
// startup once the registry has loaded (context reserved for future
// Store-backed invalidation triggers).
func (c *Cache) Refresh(_ context.Context) {
	c.Invalidate()
	c.ensureFresh()
}
