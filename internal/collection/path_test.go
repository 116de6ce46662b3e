package collection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/nserrors"
)

func TestParsePathValidMultiSegment(t *testing.T) {
	p, err := ParsePath("hr:policy:vacation")
	require.NoError(t, err)
	require.Equal(t, 3, p.Depth())
	require.Equal(t, "vacation", p.Final().Name)
	require.Equal(t, "hr", p.Segments[0].NormalizedName)
}

func TestParsePathSingleSegment(t *testing.T) {
	p, err := ParsePath("Engineering")
	require.NoError(t, err)
	require.Equal(t, 1, p.Depth())
	require.Equal(t, "engineering", p.Final().NormalizedName)
}

func TestParsePathRejectsEmpty(t *testing.T) {
	_, err := ParsePath("")
	require.Error(t, err)
	require.Equal(t, nserrors.KindValidation, nserrors.KindOf(err))
}

func TestParsePathRejectsEmptySegment(t *testing.T) {
	_, err := ParsePath("hr::policy")
	require.Error(t, err)
}

func TestParsePathRejectsLeadingDelimiter(t *testing.T) {
	_, err := ParsePath(":hr:policy")
	require.Error(t, err)
}

func TestParsePathRejectsTrailingDelimiter(t *testing.T) {
	_, err := ParsePath("hr:policy:")
	require.Error(t, err)
}

func TestParsePathRejectsExcessiveDepth(t *testing.T) {
	deep := "a:b:c:d:e:f:g:h:i:j:k" // 11 segments
	_, err := ParsePath(deep)
	require.Error(t, err)
}

func TestPathParentAndAncestry(t *testing.T) {
	child, err := ParsePath("hr:policy:vacation")
	require.NoError(t, err)
	parent, ok := child.Parent()
	require.True(t, ok)
	require.Equal(t, "hr:policy", parent.Original)

	ancestor, err := ParsePath("hr")
	require.NoError(t, err)
	require.True(t, ancestor.IsAncestorOf(child))
	require.True(t, child.IsDescendantOf(ancestor))
	require.False(t, child.IsAncestorOf(ancestor))
}

func TestPathSingleSegmentHasNoParent(t *testing.T) {
	p, err := ParsePath("engineering")
	require.NoError(t, err)
	_, ok := p.Parent()
	require.False(t, ok)
}

func TestValidateNameRejectsDelimiter(t *testing.T) {
	_, err := ValidateName("hr:policy")
	require.Error(t, err)
}

func TestValidateNameTrims(t *testing.T) {
	name, err := ValidateName("  engineering  ")
	require.NoError(t, err)
	require.Equal(t, "engineering", name)
}
