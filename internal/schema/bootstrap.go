package schema

import (
	"context"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nodespace/core/internal/nserrors"
	"github.com/nodespace/core/internal/store"
)

// seedField/seedRelationship/seedSchema mirror FieldDef/RelationshipDef/
// Schema with yaml tags, the on-disk shape of the schema seed file
// (~/.nodespace/schemas.seed.yaml by default).
type seedField struct {
	Name       string   `yaml:"name"`
	Type       string   `yaml:"type"`
	Protection string   `yaml:"protection"`
	CoreEnum   []string `yaml:"coreEnum,omitempty"`
	UserEnum   []string `yaml:"userEnum,omitempty"`
	ItemType   string   `yaml:"itemType,omitempty"`
	Indexed    bool     `yaml:"indexed"`
}

type seedRelationship struct {
	Name               string `yaml:"name"`
	TargetType         string `yaml:"targetType"`
	Cardinality        string `yaml:"cardinality"`
	ReverseName        string `yaml:"reverseName,omitempty"`
	ReverseCardinality string `yaml:"reverseCardinality,omitempty"`
	EdgeTable          string `yaml:"edgeTable"`
	Description        string `yaml:"description,omitempty"`
}

type seedSchema struct {
	TypeName      string             `yaml:"typeName"`
	IsCore        bool               `yaml:"isCore"`
	Description   string             `yaml:"description"`
	Extensible    bool               `yaml:"extensible"`
	Fields        []seedField        `yaml:"fields"`
	Relationships []seedRelationship `yaml:"relationships"`
}

// LoadSeedFile reads a YAML schema-seed file (spec SPEC_FULL.md domain
// stack: gopkg.in/yaml.v3 bootstraps core schemas) from path. A missing file
// is not an error: a fresh database starts with zero registered schemas and
// relies on `schema` nodes being created through the MCP tool surface.
func LoadSeedFile(path string) ([]seedSchema, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, nserrors.Validation("read schema seed %s: %v", path, err)
	}
	var defs []seedSchema
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, nserrors.Validation("parse schema seed %s: %v", path, err)
	}
	return defs, nil
}

// Bootstrap ensures every core schema named in seedPath exists as a
// "schema" node in st, creating it at version 1 if absent. Existing schema
// nodes (system/user edits already applied) are left untouched: bootstrap
// never overwrites live schema state (spec §4.2 "system fields are mutable
// only by the registry itself during startup bootstrap" — here, bootstrap
// only ever fills gaps, it does not clobber).
func Bootstrap(ctx context.Context, st *store.Store, seedPath string) error {
	defs, err := LoadSeedFile(seedPath)
	if err != nil {
		return err
	}
	for _, d := range defs {
		existing, err := st.QueryNodes(ctx, store.QueryFilter{NodeType: "schema", ContentSubstring: d.TypeName})
		if err != nil {
			return err
		}
		if hasExactMatch(existing, d.TypeName) {
			continue
		}

		fields := make([]any, 0, len(d.Fields))
		for _, f := range d.Fields {
			fields = append(fields, map[string]any{
				"name":       f.Name,
				"type":       f.Type,
				"protection": f.Protection,
				"coreEnum":   toAnySlice(f.CoreEnum),
				"userEnum":   toAnySlice(f.UserEnum),
				"itemType":   f.ItemType,
				"indexed":    f.Indexed,
			})
		}
		rels := make([]any, 0, len(d.Relationships))
		for _, r := range d.Relationships {
			rels = append(rels, map[string]any{
				"name":               r.Name,
				"targetType":         r.TargetType,
				"cardinality":        r.Cardinality,
				"reverseName":        r.ReverseName,
				"reverseCardinality": r.ReverseCardinality,
				"edgeTable":          r.EdgeTable,
				"description":        r.Description,
			})
		}

		n := &store.Node{
			Type:    "schema",
			Content: d.TypeName,
			Properties: map[string]any{
				"isCore":        d.IsCore,
				"version":       float64(1),
				"description":   d.Description,
				"extensible":    d.Extensible,
				"fields":        fields,
				"relationships": rels,
			},
		}
		if err := st.CreateNode(ctx, n, "schema-bootstrap"); err != nil {
			return err
		}
	}
	return nil
}

func hasExactMatch(nodes []*store.Node, typeName string) bool {
	for _, n := range nodes {
		if n.Content == typeName {
			return true
		}
	}
	return false
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
