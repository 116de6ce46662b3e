// Package markdown implements the import/export conventions of spec §6: a
// deliberately small markdown dialect mapped onto NodeSpace's node types.
// No third-party markdown library in the retrieved corpus offers node-level
// AST control over this exact mapping (heading depth → nesting depth,
// task-checkbox → node property, code-fence language → node property), so
// this is a direct line-oriented scan built on the standard library —
// documented as a stdlib exception in DESIGN.md.
package markdown

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeType tags for the dialect's target node types (spec §6).
const (
	TypeHeader    = "header"
	TypeTask      = "task"
	TypeCodeBlock = "code-block"
	TypeQuote     = "quote-block"
	TypeOrdered   = "ordered-list"
	TypeText      = "text"
)

// ParsedNode is one line (or block) of parsed markdown, prior to insertion.
type ParsedNode struct {
	Type       string
	Content    string
	Depth      int // heading depth for header nodes; 0 for all other nodes
	Properties map[string]any
	Children   []*ParsedNode
}

// Parse converts markdown source into a forest of ParsedNode, nesting list
// items and body paragraphs under the nearest preceding heading of lesser
// depth (spec §4.3 create_nodes_from_markdown: "heading depth → nesting").
func Parse(src string) []*ParsedNode {
	lines := strings.Split(src, "\n")

	var roots []*ParsedNode
	// stack[d] is the most recent header node at depth d; stack[0] is a
	// sentinel "document" level so top-level content has somewhere to attach.
	stack := map[int]*ParsedNode{}

	var codeBuf []string
	inCode := false
	var codeLang string

	attach := func(n *ParsedNode, depth int) {
		parent := deepestAncestor(stack, depth)
		if parent == nil {
			roots = append(roots, n)
			return
		}
		parent.Children = append(parent.Children, n)
	}

	for _, raw := range lines {
		line := raw

		if inCode {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				n := &ParsedNode{
					Type:       TypeCodeBlock,
					Content:    strings.Join(codeBuf, "\n"),
					Properties: map[string]any{"language": codeLang},
				}
				attach(n, currentHeaderDepth(stack)+1)
				inCode = false
				codeBuf = nil
				continue
			}
			codeBuf = append(codeBuf, line)
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "```") {
			inCode = true
			codeLang = strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			continue
		}

		if depth, text, ok := parseHeading(trimmed); ok {
			n := &ParsedNode{Type: TypeHeader, Content: text, Depth: depth}
			attach(n, depth)
			// Drop any deeper headers that are no longer the nesting target.
			for d := range stack {
				if d >= depth {
					delete(stack, d)
				}
			}
			stack[depth] = n
			continue
		}

		if status, text, ok := parseTask(trimmed); ok {
			n := &ParsedNode{Type: TypeTask, Content: text, Properties: map[string]any{"status": status}}
			attach(n, currentHeaderDepth(stack)+1)
			continue
		}

		if text, ok := parseOrdered(trimmed); ok {
			n := &ParsedNode{Type: TypeOrdered, Content: text}
			attach(n, currentHeaderDepth(stack)+1)
			continue
		}

		if text, ok := parseQuote(trimmed); ok {
			n := &ParsedNode{Type: TypeQuote, Content: text}
			attach(n, currentHeaderDepth(stack)+1)
			continue
		}

		n := &ParsedNode{Type: TypeText, Content: trimmed}
		attach(n, currentHeaderDepth(stack)+1)
	}

	return roots
}

func currentHeaderDepth(stack map[int]*ParsedNode) int {
	max := 0
	for d := range stack {
		if d > max {
			max = d
		}
	}
	return max
}

func deepestAncestor(stack map[int]*ParsedNode, depth int) *ParsedNode {
	var best *ParsedNode
	bestDepth := -1
	for d, n := range stack {
		if d < depth && d > bestDepth {
			best = n
			bestDepth = d
		}
	}
	return best
}

func parseHeading(line string) (depth int, text string, ok bool) {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(line) || line[i] != ' ' {
		return 0, "", false
	}
	return i, strings.TrimSpace(line[i+1:]), true
}

func parseTask(line string) (status, text string, ok bool) {
	for _, marker := range []string{"- [ ] ", "- [x] ", "- [X] "} {
		if strings.HasPrefix(line, marker) {
			status = "open"
			if strings.Contains(marker, "x") || strings.Contains(marker, "X") {
				status = "done"
			}
			return status, strings.TrimSpace(line[len(marker):]), true
		}
	}
	return "", "", false
}

func parseOrdered(line string) (text string, ok bool) {
	dot := strings.Index(line, ". ")
	if dot <= 0 || dot > 3 {
		return "", false
	}
	if _, err := strconv.Atoi(line[:dot]); err != nil {
		return "", false
	}
	return strings.TrimSpace(line[dot+2:]), true
}

func parseQuote(line string) (text string, ok bool) {
	if !strings.HasPrefix(line, "> ") && line != ">" {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, ">")), true
}

// ExportNode is one node of the tree that Render turns back into markdown,
// the inverse of Parse (spec §4.3 get_markdown_from_node_id): a node's type,
// content, properties, and children in order. Render reproduces nesting as
// heading levels only; children of non-header nodes are written at the same
// level as their parent, without list indentation.
type ExportNode struct {
	Type       string
	Content    string
	Properties map[string]any
	Children   []*ExportNode
}

// Render walks an ExportNode tree and produces markdown text.
func Render(roots []*ExportNode) string {
	var b strings.Builder
	for _, r := range roots {
		renderNode(&b, r, 1)
	}
	return b.String()
}

func renderNode(b *strings.Builder, n *ExportNode, headerDepth int) {
	switch n.Type {
	case TypeHeader:
		depth := headerDepth
		fmt.Fprintf(b, "%s %s\n\n", strings.Repeat("#", depth), n.Content)
		for _, c := range n.Children {
			renderNode(b, c, depth+1)
		}
		return
	case TypeTask:
		box := "[ ]"
		if status, _ := n.Properties["status"].(string); status == "done" {
			box = "[x]"
		}
		fmt.Fprintf(b, "- %s %s\n", box, n.Content)
	case TypeCodeBlock:
		lang, _ := n.Properties["language"].(string)
		fmt.Fprintf(b, "```%s\n%s\n```\n\n", lang, n.Content)
	case TypeQuote:
		fmt.Fprintf(b, "> %s\n", n.Content)
	case TypeOrdered:
		fmt.Fprintf(b, "1. %s\n", n.Content)
	default:
		fmt.Fprintf(b, "%s\n\n", n.Content)
	}
	for _, c := range n.Children {
		renderNode(b, c, headerDepth)
	}
}
