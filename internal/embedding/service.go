// Package embedding implements subtree aggregation, chunking, vector
// generation, and chunk-aggregated semantic search (spec §4.4), plus the
// event-driven background worker that drains stale embeddings (spec §4.5).
package embedding

import (
	"context"
	"math"
	"sort"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/nserrors"
	"github.com/nodespace/core/internal/store"
)

// BreadthBoost is the default weight in the composite score formula (spec
// §4.4).
const BreadthBoost = 0.3

// Service is the Embedding Service (spec §4.4). It holds the Store and a
// pluggable Embedder by shared reference (spec §3 Ownership).
type Service struct {
	st       *store.Store
	embedder Embedder
	limits   AggregateLimits
	chunking ChunkParams
}

// New constructs an Embedding Service.
func New(st *store.Store, embedder Embedder) *Service {
	return &Service{st: st, embedder: embedder, limits: DefaultAggregateLimits, chunking: DefaultChunkParams}
}

// RefreshRoot recomputes and persists the embedding chunks for rootID if its
// content has changed (spec §4.4 "change detection"). It is a no-op if
// rootID's type is not embeddable, except that it clears any existing
// embedding rows (spec: "a node changing type from embeddable to
// non-embeddable deletes its embedding rows").
func (s *Service) RefreshRoot(ctx context.Context, rootID string) error {
	root, err := s.st.GetNode(ctx, rootID)
	if err != nil {
		return err
	}
	if root == nil {
		return nserrors.NotFound("node %s", rootID)
	}

	if !IsEmbeddableType(root.Type) {
		return s.st.ReplaceEmbeddingChunks(ctx, rootID, nil)
	}

	agg, err := Aggregate(ctx, s.st, root, s.limits)
	if err != nil {
		return err
	}
	hash := ContentHash(agg.Text)

	current, err := s.currentChunk0Hash(ctx, rootID)
	if err != nil {
		return err
	}
	if current == hash {
		return nil // unchanged; spec §4.4 "if the previously stored hash for chunk 0 matches"
	}

	chunks := ChunkText(agg.Text, s.chunking)
	records := make([]store.EmbeddingRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.EmbeddingRecord{
			ChunkIndex:  c.Index,
			TotalChunks: c.TotalChunks,
			StartChar:   c.StartChar,
			EndChar:     c.EndChar,
			ContentHash: hash,
			TokenCount:  c.TokenCount,
			Vector:      make([]float32, s.embedder.Dimension()),
		}
	}
	return s.st.ReplaceEmbeddingChunks(ctx, rootID, records)
}

func (s *Service) currentChunk0Hash(ctx context.Context, rootID string) (string, error) {
	all, err := s.st.AllEmbeddingsForSearch(ctx, nil)
	if err != nil {
		return "", err
	}
	for _, e := range all {
		if e.RootID == rootID && e.ChunkIndex == 0 {
			return e.ContentHash, nil
		}
	}
	return "", nil
}

// ProcessOneStale embeds and persists a single stale chunk row, or records a
// failure (spec §4.5 "process each (aggregate + chunk + embed + persist)").
func (s *Service) ProcessOneStale(ctx context.Context, rec *store.EmbeddingRecord) error {
	root, err := s.st.GetNode(ctx, rec.RootID)
	if err != nil {
		return err
	}
	if root == nil {
		return s.st.MarkEmbeddingError(ctx, rec.ID, nserrors.NotFound("root node %s", rec.RootID))
	}

	agg, err := Aggregate(ctx, s.st, root, s.limits)
	if err != nil {
		return s.st.MarkEmbeddingError(ctx, rec.ID, err)
	}
	chunks := ChunkText(agg.Text, s.chunking)
	if rec.ChunkIndex >= len(chunks) {
		return s.st.MarkEmbeddingError(ctx, rec.ID, nserrors.Embedding("chunk index out of range", nil))
	}
	text := DocumentPrefix + chunks[rec.ChunkIndex].Text

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return s.st.MarkEmbeddingError(ctx, rec.ID, err)
	}
	return s.st.StoreEmbeddingVector(ctx, rec.ID, vec)
}

// SearchResult is one ranked node from semantic_search_nodes.
type SearchResult struct {
	Node            *store.Node
	Score           float64
	MaxSimilarity   float64
	MatchingChunks  int
}

// SemanticSearchOptions parametrizes the search (spec §4.4).
type SemanticSearchOptions struct {
	Limit          int
	Threshold      float64
	NodeTypes      []string // restrict candidate roots to these node types
	CollectionID   string   // post-filter results to members of this collection (spec §4.4, §6)
	CollectionPath string   // path form of CollectionID, resolved by the Node Service before reaching here
}

// SemanticSearch embeds query with the query prefix, scans the embedding
// table, groups by root node, and scores with the breadth-boost formula
// (spec §4.4): score = max_similarity × (1 + BREADTH_BOOST × log10(matching_chunks)).
func (s *Service) SemanticSearch(ctx context.Context, query string, opts SemanticSearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	fetchLimit := opts.Limit
	if opts.CollectionID != "" {
		fetchLimit *= 3 // over-fetch for post-filtering, per spec §4.4
	}

	qvec, err := s.embedder.Embed(ctx, QueryPrefix+query)
	if err != nil {
		return nil, err
	}

	candidates, err := s.st.AllEmbeddingsForSearch(ctx, opts.NodeTypes)
	if err != nil {
		return nil, err
	}

	type agg struct {
		maxSim  float64
		count   int
		rootID  string
	}
	byRoot := map[string]*agg{}
	for _, c := range candidates {
		sim := cosineSimilarity(qvec, c.Vector)
		if sim < opts.Threshold {
			continue
		}
		a, ok := byRoot[c.RootID]
		if !ok {
			a = &agg{rootID: c.RootID}
			byRoot[c.RootID] = a
		}
		a.count++
		if sim > a.maxSim {
			a.maxSim = sim
		}
	}

	var results []SearchResult
	for rootID, a := range byRoot {
		n, err := s.st.GetNode(ctx, rootID)
		if err != nil {
			return nil, err
		}
		if n == nil {
			continue
		}
		score := a.maxSim
		if a.count > 1 {
			score = a.maxSim * (1 + BreadthBoost*math.Log10(float64(a.count)))
		}
		results = append(results, SearchResult{Node: n, Score: score, MaxSimilarity: a.maxSim, MatchingChunks: a.count})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > fetchLimit {
		results = results[:fetchLimit]
	}

	if opts.CollectionID != "" {
		members, err := s.st.CollectionMembers(ctx, opts.CollectionID)
		if err != nil {
			return nil, err
		}
		filtered := results[:0:0]
		for _, r := range results {
			if members[r.Node.ID] {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Waker lets the Node Service signal the Embedding Processor without
// blocking (spec §4.5, §9 "event-driven worker vs polling").
type Waker struct {
	ch chan struct{}
}

// NewWaker creates a waker with a small coalescing buffer.
func NewWaker() *Waker {
	return &Waker{ch: make(chan struct{}, 1)}
}

// Wake signals the processor. Any number of wakes between drain cycles
// coalesce into exactly one cycle.
func (w *Waker) Wake() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *Waker) channel() <-chan struct{} { return w.ch }

// HookEventBus subscribes to the bus and wakes the processor on every
// mutation (supplemental convenience; Node Service may also call Wake
// directly after a batch of writes).
func HookEventBus(bus *eventbus.Bus, waker *Waker) *eventbus.Subscription {
	sub := bus.Subscribe()
	go func() {
		for range sub.Events() {
			waker.Wake()
		}
	}()
	return sub
}
