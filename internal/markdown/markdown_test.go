package markdown

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeadingNesting(t *testing.T) {
	src := "# Title\n\nSome text\n\n## Sub\n\nMore text\n"
	roots := Parse(src)
	require.Len(t, roots, 1)

	title := roots[0]
	require.Equal(t, TypeHeader, title.Type)
	require.Equal(t, "Title", title.Content)
	require.Len(t, title.Children, 2)
	require.Equal(t, TypeText, title.Children[0].Type)
	require.Equal(t, TypeHeader, title.Children[1].Type)
	require.Equal(t, "Sub", title.Children[1].Content)
	require.Len(t, title.Children[1].Children, 1)
	require.Equal(t, "More text", title.Children[1].Children[0].Content)
}

func TestParseTaskStatus(t *testing.T) {
	roots := Parse("# T\n\n- [ ] open item\n- [x] done item\n")
	tasks := roots[0].Children
	require.Len(t, tasks, 2)
	require.Equal(t, "open", tasks[0].Properties["status"])
	require.Equal(t, "done", tasks[1].Properties["status"])
}

func TestParseCodeBlockLanguage(t *testing.T) {
	src := "# T\n\n```go\nfmt.Println(1)\n```\n"
	roots := Parse(src)
	require.Len(t, roots[0].Children, 1)
	block := roots[0].Children[0]
	require.Equal(t, TypeCodeBlock, block.Type)
	require.Equal(t, "go", block.Properties["language"])
	require.Equal(t, "fmt.Println(1)", block.Content)
}

func TestParseQuoteAndOrdered(t *testing.T) {
	roots := Parse("# T\n\n> a quote\n1. first item\n")
	require.Len(t, roots[0].Children, 2)
	require.Equal(t, TypeQuote, roots[0].Children[0].Type)
	require.Equal(t, "a quote", roots[0].Children[0].Content)
	require.Equal(t, TypeOrdered, roots[0].Children[1].Type)
	require.Equal(t, "first item", roots[0].Children[1].Content)
}

func TestRenderRoundTrip(t *testing.T) {
	tree := []*ExportNode{
		{
			Type:    TypeHeader,
			Content: "Title",
			Children: []*ExportNode{
				{Type: TypeTask, Content: "do thing", Properties: map[string]any{"status": "done"}},
			},
		},
	}
	out := Render(tree)
	require.Contains(t, out, "# Title")
	require.Contains(t, out, "- [x] do thing")
}
