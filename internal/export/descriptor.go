package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/godata/exporter/internal/docpath"
	"github.com/godata/exporter/internal/docstore"
)

// Descriptor describes the exportable shape of one collection. Labels are
// translatable tokens. It is immutable for the duration of an export.
type Descriptor struct {
	Collection string `json:"collection" yaml:"collection"`
	// Labels maps field paths (top-level or dotted) to label tokens.
	Labels map[string]string `json:"labels" yaml:"labels"`
	// ArrayFields lists the array-typed fields and the child fields exported
	// for every element. A child with an empty Field exports the element itself.
	ArrayFields map[string][]ChildField `json:"array_fields,omitempty" yaml:"array_fields,omitempty"`
	// LocationFields are template paths ("addresses[].locationId") holding
	// location ids.
	LocationFields []string            `json:"location_fields,omitempty" yaml:"location_fields,omitempty"`
	FieldOrder     []string            `json:"field_order,omitempty" yaml:"field_order,omitempty"`
	FieldGroups    map[string][]string `json:"field_groups,omitempty" yaml:"field_groups,omitempty"`
	// QuestionnaireField holds answers keyed by question variable.
	QuestionnaireField string     `json:"questionnaire_field,omitempty" yaml:"questionnaire_field,omitempty"`
	Questionnaire      []Question `json:"questionnaire,omitempty" yaml:"questionnaire,omitempty"`
	// BaseScope is a where document every export of this collection is
	// restricted to.
	BaseScope map[string]any `json:"base_scope,omitempty" yaml:"base_scope,omitempty"`
}

// ChildField is one exported field of an array element.
type ChildField struct {
	Field string `json:"field" yaml:"field"`
	Label string `json:"label" yaml:"label"`
}

// LoadDescriptor reads a descriptor from a .json, .yaml or .yml file.
func LoadDescriptor(path string) (*Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("export: read descriptor: %w", err)
	}
	var d Descriptor
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(raw, &d)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &d)
	default:
		return nil, fmt.Errorf("export: descriptor %s: unknown extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("export: decode descriptor: %w", err)
	}
	return &d, nil
}

// Validate checks the descriptor is complete enough to plan columns from.
func (d *Descriptor) Validate() error {
	if err := docstore.ValidateName(d.Collection); err != nil {
		return &ConfigError{Field: "descriptor.collection", Reason: "bad collection name", Err: err}
	}
	if len(d.Labels) == 0 && len(d.ArrayFields) == 0 && d.QuestionnaireField == "" {
		return configErr("descriptor", "no exportable fields")
	}
	for field := range d.Labels {
		if _, err := docpath.Parse(field); err != nil {
			return &ConfigError{Field: "descriptor.labels", Reason: field, Err: err}
		}
	}
	for field, children := range d.ArrayFields {
		p, err := docpath.Parse(field)
		if err != nil {
			return &ConfigError{Field: "descriptor.array_fields", Reason: field, Err: err}
		}
		if _, err := p.Fields(); err != nil {
			return &ConfigError{Field: "descriptor.array_fields", Reason: field, Err: err}
		}
		if len(children) == 0 {
			return configErr("descriptor.array_fields", "array field %s has no enumerable child fields", field)
		}
		seen := make(map[string]struct{}, len(children))
		for _, c := range children {
			if _, dup := seen[c.Field]; dup {
				return configErr("descriptor.array_fields", "array field %s lists child %q twice", field, c.Field)
			}
			seen[c.Field] = struct{}{}
		}
	}
	for _, loc := range d.LocationFields {
		if _, err := docpath.Parse(loc); err != nil {
			return &ConfigError{Field: "descriptor.location_fields", Reason: loc, Err: err}
		}
	}
	for group, fields := range d.FieldGroups {
		for _, f := range fields {
			if !d.hasField(f) {
				return configErr("descriptor.field_groups", "group %s references unknown field %s", group, f)
			}
		}
	}
	if d.QuestionnaireField != "" {
		if err := docstore.ValidateName(d.QuestionnaireField); err != nil {
			return &ConfigError{Field: "descriptor.questionnaire_field", Reason: d.QuestionnaireField, Err: err}
		}
	}
	return nil
}

func (d *Descriptor) hasField(f string) bool {
	if _, ok := d.Labels[f]; ok {
		return true
	}
	if _, ok := d.ArrayFields[f]; ok {
		return true
	}
	return f == d.QuestionnaireField && f != ""
}

// fields returns the exportable top-level entries in output order: the
// explicit FieldOrder first, the remainder sorted by path.
func (d *Descriptor) fields() []string {
	all := make(map[string]struct{})
	for f := range d.Labels {
		all[f] = struct{}{}
	}
	for f := range d.ArrayFields {
		all[f] = struct{}{}
	}
	if d.QuestionnaireField != "" {
		all[d.QuestionnaireField] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, f := range d.FieldOrder {
		if _, ok := all[f]; ok {
			out = append(out, f)
			delete(all, f)
		}
	}
	rest := make([]string, 0, len(all))
	for f := range all {
		rest = append(rest, f)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// selectFields restricts fields to the union of the named groups.
func (d *Descriptor) selectFields(groups []string) ([]string, error) {
	fields := d.fields()
	if len(groups) == 0 {
		return fields, nil
	}
	keep := make(map[string]struct{})
	for _, g := range groups {
		members, ok := d.FieldGroups[g]
		if !ok {
			return nil, configErr("field_groups", "unknown field group %q", g)
		}
		for _, m := range members {
			keep[m] = struct{}{}
		}
	}
	out := fields[:0:0]
	for _, f := range fields {
		if _, ok := keep[f]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// label returns the label token of field, or the field path itself.
func (d *Descriptor) label(field string) string {
	if l, ok := d.Labels[field]; ok && l != "" {
		return l
	}
	return field
}

// labelTokens lists every label token the descriptor can render.
func (d *Descriptor) labelTokens() []string {
	var out []string
	for _, l := range d.Labels {
		out = append(out, l)
	}
	for _, children := range d.ArrayFields {
		for _, c := range children {
			out = append(out, c.Label)
		}
	}
	return out
}
