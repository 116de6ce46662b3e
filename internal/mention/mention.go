// Package mention extracts nodespace://<id> reference tokens from node
// content (spec §4.3 "Mention handling"). The marker itself is located with
// an Aho-Corasick automaton rather than a plain substring scan, the same
// multi-pattern-matching approach the teacher's implicit-matcher package
// uses for dictionary scanning (pkg/implicit-matcher/dictionary.go),
// generalized from a large entity-alias dictionary down to a single literal
// marker so the id that follows can be sliced out directly.
package mention

import (
	"github.com/coregx/ahocorasick"

	"github.com/nodespace/core/internal/nserrors"
)

const marker = "nodespace://"

// Extractor locates nodespace:// reference tokens in text.
type Extractor struct {
	ac *ahocorasick.Automaton
}

// New builds an Extractor. Construction can fail only if the underlying
// automaton build fails, which does not happen for a single literal
// pattern; callers may safely ignore the error in practice but it is
// surfaced for completeness.
func New() (*Extractor, error) {
	automaton, err := ahocorasick.NewBuilder().
		AddStrings([]string{marker}).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, nserrors.Validation("build mention automaton: %v", err)
	}
	return &Extractor{ac: automaton}, nil
}

// ExtractIDs returns the deduplicated set of node ids referenced via
// nodespace://<id> tokens in content, in first-seen order.
func (e *Extractor) ExtractIDs(content string) []string {
	if e.ac == nil {
		return nil
	}
	haystack := []byte(content)
	matches := e.ac.FindAllOverlapping(haystack)

	seen := map[string]bool{}
	var ids []string
	for _, m := range matches {
		start := m.End
		end := start
		for end < len(content) && isIDChar(content[end]) {
			end++
		}
		if end <= start {
			continue
		}
		id := content[start:end]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func isIDChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
