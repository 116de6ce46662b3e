package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodespace/core/internal/eventbus"
	"github.com/nodespace/core/internal/store"
)

func newTestRegistry(t *testing.T) (*store.Store, *Registry) {
	t.Helper()
	st, err := store.Open(":memory:", eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st, New(st)
}

func seedSchemaNode(t *testing.T, ctx context.Context, st *store.Store, typeName string, version int, extensible bool, fields []any) {
	t.Helper()
	n := &store.Node{
		Type:    "schema",
		Content: typeName,
		Properties: map[string]any{
			"isCore":      true,
			"version":     float64(version),
			"description": "",
			"extensible":  extensible,
			"fields":      fields,
		},
	}
	require.NoError(t, st.CreateNode(ctx, n, ""))
}

func TestRegistryLoadAndGet(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "task", 1, false, []any{
		map[string]any{"name": "status", "type": "enum", "protection": "core", "coreEnum": []any{"todo", "done"}},
	})

	require.NoError(t, reg.Load(ctx))

	sc, ok := reg.Get("task")
	require.True(t, ok)
	require.Equal(t, 1, sc.Version)
	require.Len(t, sc.Fields, 1)
	require.Equal(t, []string{"todo", "done"}, sc.EnumValues("status"))
}

func TestValidateRequiredAndEnum(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "task", 1, false, []any{
		map[string]any{"name": "status", "type": "enum", "protection": "core", "coreEnum": []any{"todo", "done"}},
	})
	require.NoError(t, reg.Load(ctx))

	// Missing required core field is rejected.
	err := reg.Validate(&store.Node{Type: "task", Properties: map[string]any{}})
	require.Error(t, err)

	// Enum value outside core∪user set is rejected.
	err = reg.Validate(&store.Node{Type: "task", Properties: map[string]any{"status": "archived"}})
	require.Error(t, err)

	// Valid enum value passes.
	err = reg.Validate(&store.Node{Type: "task", Properties: map[string]any{"status": "done"}})
	require.NoError(t, err)
}

func TestValidateUnknownFieldRejectedWhenNotExtensible(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "note", 1, false, nil)
	require.NoError(t, reg.Load(ctx))

	err := reg.Validate(&store.Node{Type: "note", Properties: map[string]any{"surprise": "field"}})
	require.Error(t, err)
}

func TestValidateUnknownFieldAllowedWhenExtensible(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "note", 1, true, nil)
	require.NoError(t, reg.Load(ctx))

	err := reg.Validate(&store.Node{Type: "note", Properties: map[string]any{"surprise": "field"}})
	require.NoError(t, err)
}

func TestApplyLazyMigrations(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "task", 2, true, nil)
	require.NoError(t, reg.Load(ctx))

	reg.RegisterMigration("task", 0, func(props map[string]any) (map[string]any, error) {
		props["migratedFrom0"] = true
		return props, nil
	})
	reg.RegisterMigration("task", 1, func(props map[string]any) (map[string]any, error) {
		props["migratedFrom1"] = true
		return props, nil
	})

	n := &store.Node{Type: "task", Properties: map[string]any{}}
	migrated, err := reg.ApplyLazyMigrations(n)
	require.NoError(t, err)
	require.Equal(t, true, migrated.Properties["migratedFrom0"])
	require.Equal(t, true, migrated.Properties["migratedFrom1"])
	require.Equal(t, float64(2), migrated.Properties["_schema_version"])
}

func TestApplyLazyMigrationsMissingHopErrors(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "task", 1, true, nil)
	require.NoError(t, reg.Load(ctx))

	_, err := reg.ApplyLazyMigrations(&store.Node{Type: "task", Properties: map[string]any{}})
	require.Error(t, err)
}

func TestEnumPrefixSearch(t *testing.T) {
	ctx := context.Background()
	st, reg := newTestRegistry(t)

	seedSchemaNode(t, ctx, st, "task", 1, false, []any{
		map[string]any{"name": "status", "type": "enum", "protection": "core", "coreEnum": []any{"todo", "doing", "done"}},
	})
	require.NoError(t, reg.Load(ctx))

	matches := reg.EnumPrefixSearch("task", "status", "do")
	require.ElementsMatch(t, []string{"doing", "done"}, matches)
}

func TestCanMutateAndDeleteField(t *testing.T) {
	require.True(t, CanMutateField(ProtectionUser))
	require.False(t, CanMutateField(ProtectionCore))
	require.False(t, CanMutateField(ProtectionSystem))
	require.True(t, CanDeleteField(ProtectionUser))
	require.False(t, CanDeleteField(ProtectionCore))
}
