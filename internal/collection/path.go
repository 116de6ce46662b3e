// Package collection implements collection-path parsing for NodeSpace's
// path-based collection membership filter (spec.md §4.4, §6 "collection_id"),
// grounded on the upstream collection service's colon-delimited path model
// (original_source packages/core/src/services/collection_service.rs):
// collections form a DAG, names are looked up case-insensitively, and a
// path is a colon-delimited chain of segments from root to leaf.
package collection

import (
	"strings"

	"github.com/nodespace/core/internal/nserrors"
)

// PathDelimiter separates segments in a collection path ("hr:policy:vacation").
const PathDelimiter = ':'

// MaxDepth bounds how many segments a single collection path may carry.
const MaxDepth = 10

// Segment is one level of a collection path.
type Segment struct {
	Name           string // original-case name
	NormalizedName string // lowercased, for case-insensitive lookup
}

func newSegment(name string) Segment {
	return Segment{Name: name, NormalizedName: strings.ToLower(name)}
}

// Path is a parsed collection path, ordered root to leaf.
type Path struct {
	Segments []Segment
	Original string
}

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.Segments) }

// Final returns the leaf segment.
func (p Path) Final() Segment { return p.Segments[len(p.Segments)-1] }

// Parent returns the path with its leaf segment removed. ok is false when p
// has only one segment (no parent).
func (p Path) Parent() (parent Path, ok bool) {
	if len(p.Segments) <= 1 {
		return Path{}, false
	}
	segs := p.Segments[:len(p.Segments)-1]
	names := make([]string, len(segs))
	for i, s := range segs {
		names[i] = s.Name
	}
	return Path{Segments: segs, Original: strings.Join(names, string(PathDelimiter))}, true
}

// IsAncestorOf reports whether p is a strict prefix of other.
func (p Path) IsAncestorOf(other Path) bool {
	if len(p.Segments) >= len(other.Segments) {
		return false
	}
	for i, s := range p.Segments {
		if s.NormalizedName != other.Segments[i].NormalizedName {
			return false
		}
	}
	return true
}

// IsDescendantOf reports whether p is a strict extension of other.
func (p Path) IsDescendantOf(other Path) bool { return other.IsAncestorOf(p) }

// ParsePath validates and parses a colon-delimited collection path, mirroring
// the upstream collection service's rules: the path cannot be empty, cannot
// start or end with the delimiter, no segment may be empty, and depth is
// capped at MaxDepth.
func ParsePath(path string) (Path, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Path{}, nserrors.Validation("collection path cannot be empty")
	}
	if strings.HasPrefix(trimmed, string(PathDelimiter)) {
		return Path{}, nserrors.Validation("collection path cannot start with %q", string(PathDelimiter))
	}
	if strings.HasSuffix(trimmed, string(PathDelimiter)) {
		return Path{}, nserrors.Validation("collection path cannot end with %q", string(PathDelimiter))
	}

	raw := strings.Split(trimmed, string(PathDelimiter))
	if len(raw) > MaxDepth {
		return Path{}, nserrors.Validation("collection path %q exceeds max depth %d", trimmed, MaxDepth)
	}

	segments := make([]Segment, 0, len(raw))
	for i, r := range raw {
		name := strings.TrimSpace(r)
		if name == "" {
			return Path{}, nserrors.Validation("empty segment at position %d in path %q", i+1, trimmed)
		}
		segments = append(segments, newSegment(name))
	}
	return Path{Segments: segments, Original: trimmed}, nil
}

// ValidateName validates a single collection name (not a path): non-empty,
// trimmed, and free of the path delimiter.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", nserrors.Validation("collection name cannot be empty")
	}
	if strings.ContainsRune(trimmed, PathDelimiter) {
		return "", nserrors.Validation("collection name %q cannot contain %q (use it in paths only)", trimmed, string(PathDelimiter))
	}
	return trimmed, nil
}

// Normalize lowercases and trims name for case-insensitive lookup.
func Normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
