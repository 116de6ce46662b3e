// Package schema implements the Schema Registry (spec §4.2): typed field
// and relationship definitions for every node type, protection-level
// enforcement, enum value resolution, and lazy per-node migration.
//
// Schemas are themselves nodes of type "schema" (spec §3), so the registry
// is a read-mostly cache over the Store rather than a separate table —
// mirrored on the teacher's pattern of treating registry state as derived,
// rebuildable data rather than a hand-maintained index.
package schema

import (
	"context"
	"fmt"
	"sync"

	"github.com/derekparker/trie/v3"

	"github.com/nodespace/core/internal/nserrors"
	"github.com/nodespace/core/internal/store"
)

// FieldType tags the declared shape of a schema field's values.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "bool"
	FieldEnum   FieldType = "enum"
	FieldArray  FieldType = "array"
	FieldNested FieldType = "nested"
)

// Protection tags who may add, mutate, or delete a field (spec §4.2).
type Protection string

const (
	ProtectionCore   Protection = "core"
	ProtectionSystem Protection = "system"
	ProtectionUser   Protection = "user"
)

// FieldDef describes one property a node of a given type may carry.
type FieldDef struct {
	Name       string     `json:"name"`
	Type       FieldType  `json:"type"`
	Protection Protection `json:"protection"`
	CoreEnum   []string   `json:"coreEnum,omitempty"`
	UserEnum   []string   `json:"userEnum,omitempty"`
	ItemType   FieldType  `json:"itemType,omitempty"` // for FieldArray
	Indexed    bool       `json:"indexed"`
}

// RelationshipDef describes one outbound relationship a node of a given
// type may carry.
type RelationshipDef struct {
	Name               string `json:"name"`
	TargetType         string `json:"targetType"`
	Cardinality        string `json:"cardinality"`
	ReverseName        string `json:"reverseName,omitempty"`
	ReverseCardinality string `json:"reverseCardinality,omitempty"`
	EdgeTable          string `json:"edgeTable"`
	Description        string `json:"description,omitempty"`
}

// Schema is the parsed, queryable form of a "schema"-typed node.
type Schema struct {
	TypeName      string
	IsCore        bool
	Version       int
	Description   string
	Extensible    bool
	Fields        []FieldDef
	Relationships []RelationshipDef
}

func (s *Schema) field(name string) (*FieldDef, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// EnumValues returns core∪user values for an enum field.
func (s *Schema) EnumValues(fieldName string) []string {
	f, ok := s.field(fieldName)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(f.CoreEnum)+len(f.UserEnum))
	out = append(out, f.CoreEnum...)
	out = append(out, f.UserEnum...)
	return out
}

// MigrationFunc transforms a node's properties from schema version v to v+1.
type MigrationFunc func(props map[string]any) (map[string]any, error)

type migKey struct {
	typeName string
	from     int
}

// Registry is the read-mostly Schema Registry cache.
type Registry struct {
	mu         sync.RWMutex
	st         *store.Store
	schemas    map[string]*Schema
	enumTrie   *trie.Trie[string] // indexed "<typeName>.<field>.<value>" -> value, for prefix autocompletion
	migrations map[migKey]MigrationFunc
}

// New creates an empty registry bound to st. Call Load before use.
func New(st *store.Store) *Registry {
	return &Registry{
		st:         st,
		schemas:    make(map[string]*Schema),
		enumTrie:   trie.New[string](),
		migrations: make(map[migKey]MigrationFunc),
	}
}

// RegisterMigration adds a (typeName, fromVersion) → fromVersion+1 hop to
// the lazy-migration chain (spec §4.2).
func (r *Registry) RegisterMigration(typeName string, fromVersion int, fn MigrationFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations[migKey{typeName, fromVersion}] = fn
}

// Load scans every "schema" node from the Store and rebuilds the in-memory
// cache, including the enum-value prefix trie that EnumPrefixSearch reads.
func (r *Registry) Load(ctx context.Context) error {
	nodes, err := r.st.QueryNodes(ctx, store.QueryFilter{NodeType: "schema"})
	if err != nil {
		return nserrors.Database("load schemas", err)
	}

	schemas := make(map[string]*Schema, len(nodes))
	t := trie.New[string]()
	for _, n := range nodes {
		sc, err := fromNode(n)
		if err != nil {
			return nserrors.Validation("parse schema node %s: %v", n.ID, err)
		}
		schemas[sc.TypeName] = sc
		for _, f := range sc.Fields {
			if f.Type != FieldEnum {
				continue
			}
			for _, v := range append(append([]string{}, f.CoreEnum...), f.UserEnum...) {
				key := fmt.Sprintf("%s.%s.%s", sc.TypeName, f.Name, v)
				t.Add(key, v)
			}
		}
	}

	r.mu.Lock()
	r.schemas = schemas
	r.enumTrie = t
	r.mu.Unlock()
	return nil
}

// Get returns the schema governing typeName.
func (r *Registry) Get(typeName string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[typeName]
	return s, ok
}

// All returns every registered schema.
func (r *Registry) All() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	return out
}

// EnumPrefixSearch returns enum values for typeName.field starting with
// prefix, via the trie's prefix index.
func (r *Registry) EnumPrefixSearch(typeName, field, prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	full := fmt.Sprintf("%s.%s.%s", typeName, field, prefix)
	keys := r.enumTrie.PrefixSearch(full)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := r.enumTrie.Find(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks a candidate node's properties against its schema (spec
// §4.2 contract): required fields present, declared types conformed to,
// enum membership in core∪user, array element types, unknown fields
// rejected unless the schema is extensible.
func (r *Registry) Validate(n *store.Node) error {
	r.mu.RLock()
	sc, ok := r.schemas[n.Type]
	r.mu.RUnlock()
	if !ok {
		return nserrors.Validation("no schema registered for type %q", n.Type)
	}

	for _, f := range sc.Fields {
		v, present := n.Properties[f.Name]
		if !present {
			if f.Protection == ProtectionCore || f.Protection == ProtectionSystem {
				return nserrors.Validation("field %q is required for type %q", f.Name, n.Type)
			}
			continue
		}
		if err := validateFieldValue(f, v); err != nil {
			return nserrors.Validation("field %q on type %q: %v", f.Name, n.Type, err)
		}
	}

	if !sc.Extensible {
		known := make(map[string]bool, len(sc.Fields))
		for _, f := range sc.Fields {
			known[f.Name] = true
		}
		for k := range n.Properties {
			if k == "_schema_version" {
				continue
			}
			if !known[k] {
				return nserrors.Validation("unknown field %q on non-extensible type %q", k, n.Type)
			}
		}
	}
	return nil
}

func validateFieldValue(f FieldDef, v any) error {
	switch f.Type {
	case FieldString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case FieldNumber:
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("expected number, got %T", v)
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
	case FieldEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected enum string, got %T", v)
		}
		allowed := append(append([]string{}, f.CoreEnum...), f.UserEnum...)
		for _, a := range allowed {
			if a == s {
				return nil
			}
		}
		return fmt.Errorf("value %q not in enum set %v", s, allowed)
	case FieldArray:
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
		for _, item := range arr {
			if err := validateFieldValue(FieldDef{Type: f.ItemType}, item); err != nil {
				return fmt.Errorf("array element: %w", err)
			}
		}
	case FieldNested:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected nested object, got %T", v)
		}
	}
	return nil
}

// CanMutateField reports whether a field with the given protection level may
// be mutated by a regular (non-bootstrap) caller (spec §4.2 protection
// rules).
func CanMutateField(p Protection) bool { return p == ProtectionUser }

// CanDeleteField reports whether a field may be removed.
func CanDeleteField(p Protection) bool { return p == ProtectionUser }

// ApplyLazyMigrations brings a node's properties up to the registry's
// current schema version for its type by composing registered migration
// hops (spec §4.2 "lazy migration"). It does not write back to the Store;
// callers persist the result through the normal update path if desired.
func (r *Registry) ApplyLazyMigrations(n *store.Node) (*store.Node, error) {
	r.mu.RLock()
	sc, ok := r.schemas[n.Type]
	r.mu.RUnlock()
	if !ok {
		return n, nil
	}

	version := 0
	if v, ok := n.Properties["_schema_version"]; ok {
		if f, ok := v.(float64); ok {
			version = int(f)
		}
	}
	if version >= sc.Version {
		return n, nil
	}

	migrated := *n
	props := cloneProps(n.Properties)
	for v := version; v < sc.Version; v++ {
		r.mu.RLock()
		fn, ok := r.migrations[migKey{n.Type, v}]
		r.mu.RUnlock()
		if !ok {
			return nil, nserrors.Validation("no migration chain from %s v%d to v%d for type %q", n.Type, v, v+1, n.Type)
		}
		next, err := fn(props)
		if err != nil {
			return nil, nserrors.Validation("migration %s v%d->v%d: %v", n.Type, v, v+1, err)
		}
		props = next
	}
	props["_schema_version"] = float64(sc.Version)
	migrated.Properties = props
	return &migrated, nil
}

func cloneProps(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fromNode parses a "schema"-typed Node's properties into a Schema.
func fromNode(n *store.Node) (*Schema, error) {
	sc := &Schema{TypeName: n.Content}

	if v, ok := n.Properties["isCore"].(bool); ok {
		sc.IsCore = v
	}
	if v, ok := n.Properties["version"].(float64); ok {
		sc.Version = int(v)
	}
	if v, ok := n.Properties["description"].(string); ok {
		sc.Description = v
	}
	if v, ok := n.Properties["extensible"].(bool); ok {
		sc.Extensible = v
	}

	if raw, ok := n.Properties["fields"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sc.Fields = append(sc.Fields, parseFieldDef(m))
		}
	}
	if raw, ok := n.Properties["relationships"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			sc.Relationships = append(sc.Relationships, parseRelationshipDef(m))
		}
	}
	return sc, nil
}

func parseFieldDef(m map[string]any) FieldDef {
	f := FieldDef{
		Name:       str(m, "name"),
		Type:       FieldType(str(m, "type")),
		Protection: Protection(str(m, "protection")),
		ItemType:   FieldType(str(m, "itemType")),
		Indexed:    boolVal(m, "indexed"),
	}
	f.CoreEnum = strSlice(m, "coreEnum")
	f.UserEnum = strSlice(m, "userEnum")
	return f
}

func parseRelationshipDef(m map[string]any) RelationshipDef {
	return RelationshipDef{
		Name:               str(m, "name"),
		TargetType:         str(m, "targetType"),
		Cardinality:        str(m, "cardinality"),
		ReverseName:        str(m, "reverseName"),
		ReverseCardinality: str(m, "reverseCardinality"),
		EdgeTable:          str(m, "edgeTable"),
		Description:        str(m, "description"),
	}
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolVal(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func strSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
