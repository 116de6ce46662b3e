package nserrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfIdentifiesEachConstructor(t *testing.T) {
	require.Equal(t, KindValidation, KindOf(Validation("bad %s", "input")))
	require.Equal(t, KindNotFound, KindOf(NotFound("node %s", "id1")))
	require.Equal(t, KindHierarchyViolation, KindOf(HierarchyViolation("cycle")))
	require.Equal(t, KindDatabase, KindOf(Database("op", errors.New("boom"))))
	require.Equal(t, KindEmbedding, KindOf(Embedding("op", errors.New("boom"))))
	require.Equal(t, KindProtocol, KindOf(Protocol("bad request")))
	require.Equal(t, KindVersionConflict, KindOf(NewVersionConflict(1, 2, nil)))
}

func TestKindOfUnrelatedErrorIsEmpty(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("plain error")))
}

func TestIsChecksKind(t *testing.T) {
	err := NotFound("missing")
	require.True(t, Is(err, KindNotFound))
	require.False(t, Is(err, KindValidation))
}

func TestErrorUnwrapsUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Database("write node", cause)
	require.ErrorIs(t, err, cause)
}

func TestVersionConflictErrorMessage(t *testing.T) {
	err := NewVersionConflict(3, 5, nil)
	require.Contains(t, err.Error(), "expected version 3")
	require.Contains(t, err.Error(), "actual 5")
}
