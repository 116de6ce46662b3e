package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/nodespace/core/internal/store"
)

// Limits on subtree aggregation (spec §4.4): "Cap the traversal at a
// configured descendant count and byte size; if exceeded, truncate and
// record the truncation."
type AggregateLimits struct {
	MaxDescendants int
	MaxBytes       int
}

// DefaultAggregateLimits matches the spec's implied defaults for a
// conservative, always-bounded traversal.
var DefaultAggregateLimits = AggregateLimits{MaxDescendants: 5000, MaxBytes: 2_000_000}

// embeddableTypes gates which root node types ever generate embedding rows
// (spec §4.4: "Only nodes with embeddable types ... generate embeddings").
// Descendant content is included regardless of its own type once the root
// qualifies — see DESIGN.md open-question resolution.
var embeddableTypes = map[string]bool{
	"text":       true,
	"header":     true,
	"code-block": true,
	"schema":     true,
}

// IsEmbeddableType reports whether nodeType may be an embedding root.
func IsEmbeddableType(nodeType string) bool { return embeddableTypes[nodeType] }

// AggregateResult is the outcome of walking a root's subtree into one
// aggregated document.
type AggregateResult struct {
	Text      string
	Truncated bool
}

// Aggregate concatenates a root's content with every descendant's content,
// depth-first in sibling order, newline-separated (spec §4.4).
func Aggregate(ctx context.Context, st *store.Store, root *store.Node, limits AggregateLimits) (AggregateResult, error) {
	var b strings.Builder
	b.WriteString(root.Content)
	count := 0
	truncated := false

	var walk func(id string) error
	walk = func(id string) error {
		children, err := st.GetChildren(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if count >= limits.MaxDescendants || b.Len() >= limits.MaxBytes {
				truncated = true
				return nil
			}
			b.WriteString("\n")
			b.WriteString(c.Content)
			count++
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root.ID); err != nil {
		return AggregateResult{}, err
	}

	text := b.String()
	if len(text) > limits.MaxBytes {
		text = text[:limits.MaxBytes]
		truncated = true
	}
	return AggregateResult{Text: text, Truncated: truncated}, nil
}

// ContentHash computes a stable hash used for change detection (spec §4.4
// "compute a stable hash of the aggregated content").
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkParams parametrizes Chunk (spec §4.4 defaults).
type ChunkParams struct {
	MaxTokens     int
	OverlapTokens int
	CharsPerToken int
}

// DefaultChunkParams matches the spec's stated defaults.
var DefaultChunkParams = ChunkParams{MaxTokens: 512, OverlapTokens: 100, CharsPerToken: 3}

// Chunk is one overlapping slice of aggregated text awaiting embedding.
type Chunk struct {
	Index       int
	TotalChunks int
	StartChar   int
	EndChar     int
	Text        string
	TokenCount  int
}

// ChunkText splits text into overlapping chunks sized by an estimated
// characters-per-token ratio (spec §4.4).
func ChunkText(text string, p ChunkParams) []Chunk {
	if p.MaxTokens <= 0 {
		p = DefaultChunkParams
	}
	maxChars := p.MaxTokens * p.CharsPerToken
	overlapChars := p.OverlapTokens * p.CharsPerToken
	if maxChars <= 0 {
		return nil
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	if len(text) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + maxChars
		if end > len(text) {
			end = len(text)
		}
		chunkText := text[start:end]
		chunks = append(chunks, Chunk{
			StartChar:  start,
			EndChar:    end,
			Text:       chunkText,
			TokenCount: estimateTokens(chunkText, p.CharsPerToken),
		})
		if end >= len(text) {
			break
		}
		start = end - overlapChars
		if start < 0 {
			start = 0
		}
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

func estimateTokens(s string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultChunkParams.CharsPerToken
	}
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
