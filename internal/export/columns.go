package export

import (
	"fmt"

	"github.com/godata/exporter/internal/docpath"
	"github.com/godata/exporter/internal/export/sink"
)

// Column is one output column. Columns are planned once, before the first
// row is written, and never change during an export.
type Column struct {
	// Label is the translated display label before disambiguation.
	Label string
	// Header is the unique header written to the output.
	Header string
	// Path addresses the raw value inside a record.
	Path docpath.Path
	// Template is Path without indices; anonymization rules match on it.
	Template string
	// Format turns the raw value into the cell value. Nil keeps it as is.
	Format func(raw any, ok bool) any
	// Anonymize replaces every cell of the column with the placeholder.
	Anonymize bool
	// Translate marks cells whose strings may be label tokens.
	Translate bool
}

// ColumnPlan is everything the column builder needs. Maxima come from the
// materialized view aggregation, location widths from the resolver cache.
type ColumnPlan struct {
	Descriptor  *Descriptor
	Flat        bool
	FieldGroups []string
	Anonymize   []string
	Questions   []FlatQuestion
	Maxima      map[string]int
	Refs        *Resolver
	Placeholder string
}

type columnBuilder struct {
	plan      ColumnPlan
	locations map[string]struct{}
	rules     []string
	idWidth   int
	depth     int
	out       []Column
}

// BuildColumns deterministically enumerates the output columns.
func BuildColumns(plan ColumnPlan) ([]Column, error) {
	d := plan.Descriptor
	fields, err := d.selectFields(plan.FieldGroups)
	if err != nil {
		return nil, err
	}
	rules, err := normalizeRules(plan.Anonymize)
	if err != nil {
		return nil, err
	}
	b := &columnBuilder{plan: plan, rules: rules, locations: make(map[string]struct{})}
	for _, l := range d.LocationFields {
		b.locations[docpath.MustParse(l).WithoutIndices()] = struct{}{}
	}
	if plan.Refs != nil {
		b.idWidth, b.depth = plan.Refs.LocationWidths()
	}

	for _, f := range fields {
		switch {
		case f == d.QuestionnaireField:
			b.questionnaire(f)
		case len(d.ArrayFields[f]) > 0:
			if err := b.array(f, d.ArrayFields[f]); err != nil {
				return nil, err
			}
		default:
			p, err := docpath.Parse(f)
			if err != nil {
				return nil, &ConfigError{Field: "descriptor.labels", Reason: f, Err: err}
			}
			b.scalar(p, b.tr(d.label(f)))
		}
	}
	disambiguate(b.out)
	return b.out, nil
}

// normalizeRules canonicalizes anonymization paths to their template form.
func normalizeRules(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, raw := range paths {
		p, err := docpath.Parse(raw)
		if err != nil {
			return nil, &ConfigError{Field: "anonymize", Reason: raw, Err: err}
		}
		out = append(out, p.WithoutIndices())
	}
	return out, nil
}

func (b *columnBuilder) tr(token string) string {
	if b.plan.Refs == nil {
		return token
	}
	return b.plan.Refs.Translate(token)
}

func (b *columnBuilder) anonymized(template string) bool {
	for _, r := range b.rules {
		if docpath.Covers(r, template) {
			return true
		}
	}
	return false
}

func (b *columnBuilder) add(c Column) {
	c.Header = c.Label
	c.Template = c.Path.WithoutIndices()
	c.Anonymize = b.anonymized(c.Template)
	b.out = append(b.out, c)
}

func (b *columnBuilder) isLocation(template string) bool {
	_, ok := b.locations[template]
	return ok
}

// scalar emits the column of a single-valued path, with the location block
// when the path holds a location id.
func (b *columnBuilder) scalar(p docpath.Path, label string) {
	if !b.isLocation(p.WithoutIndices()) {
		b.add(Column{Label: label, Path: p, Translate: true})
		return
	}
	if !b.plan.Flat {
		b.add(Column{Label: label, Path: p, Format: b.locationObject})
		return
	}
	b.add(Column{Label: label, Path: p, Format: b.locationName})
	for i := 0; i < b.idWidth; i++ {
		b.add(Column{Label: fmt.Sprintf("%s [Identifier %d]", label, i+1), Path: p, Format: b.locationIdentifier(i)})
	}
	for i := 0; i < b.depth; i++ {
		b.add(Column{Label: fmt.Sprintf("%s [Level %d]", label, i+1), Path: p, Format: b.locationLevel(i)})
	}
}

func (b *columnBuilder) array(field string, children []ChildField) error {
	base, err := docpath.Parse(field)
	if err != nil {
		return &ConfigError{Field: "descriptor.array_fields", Reason: field, Err: err}
	}
	label := b.tr(b.plan.Descriptor.label(field))
	if !b.plan.Flat {
		b.add(Column{Label: label, Path: base, Format: b.nestedArray(base, children), Translate: true})
		return nil
	}
	n := b.plan.Maxima[arrayCounter(field)]
	for i := 0; i < n; i++ {
		for _, c := range children {
			p := base.At(i)
			cl := label
			if c.Field != "" {
				sub, err := docpath.Parse(c.Field)
				if err != nil {
					return &ConfigError{Field: "descriptor.array_fields", Reason: c.Field, Err: err}
				}
				p = append(p, sub...)
				cl = label + " " + b.tr(c.Label)
			}
			b.scalar(p, fmt.Sprintf("%s [%d]", cl, i+1))
		}
	}
	return nil
}

func (b *columnBuilder) questionnaire(field string) {
	qs := b.plan.Questions
	if len(qs) == 0 {
		return
	}
	if !b.plan.Flat {
		b.add(Column{Label: b.tr(b.plan.Descriptor.label(field)), Path: docpath.Field(field), Format: b.nestedAnswers(qs), Translate: true})
		return
	}
	for _, q := range qs {
		text := b.tr(q.Text)
		entries := b.plan.Maxima[answerCounter(q.Variable)]
		selections := b.plan.Maxima[multipleCounter(q.Variable)]
		for i := 0; i < entries; i++ {
			entry := answersPath(field, q.Variable).At(i)
			b.add(Column{Label: fmt.Sprintf("%s [MD %d]", text, i+1), Path: entry.Child("date"), Translate: false})
			if !q.Multiple() {
				b.add(Column{Label: fmt.Sprintf("%s [MV %d]", text, i+1), Path: entry.Child("value"), Format: answerLabel(q), Translate: true})
				continue
			}
			for j := 0; j < selections; j++ {
				b.add(Column{Label: fmt.Sprintf("%s [MV %d] %d", text, i+1, j+1), Path: entry.Child("value").At(j), Format: answerLabel(q), Translate: true})
			}
		}
	}
}

// disambiguate appends the path to every header shared by several columns.
func disambiguate(cols []Column) {
	count := make(map[string]int, len(cols))
	for _, c := range cols {
		count[c.Header]++
	}
	for i := range cols {
		if count[cols[i].Header] > 1 {
			cols[i].Header = cols[i].Header + " (" + cols[i].Path.String() + ")"
		}
	}
}

// Headers returns the output headers in column order.
func Headers(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Header
	}
	return out
}

// ── Formatters ───────────────────────────────────────────────────────────────

func (b *columnBuilder) location(raw any, ok bool) (*Location, bool) {
	id, isStr := raw.(string)
	if !ok || !isStr || id == "" || b.plan.Refs == nil {
		return nil, false
	}
	return b.plan.Refs.Location(id)
}

// locationName renders the location name; unknown ids render empty.
func (b *columnBuilder) locationName(raw any, ok bool) any {
	loc, found := b.location(raw, ok)
	if !found {
		return nil
	}
	return loc.Name
}

func (b *columnBuilder) locationIdentifier(i int) func(any, bool) any {
	return func(raw any, ok bool) any {
		loc, found := b.location(raw, ok)
		if !found || i >= len(loc.Identifiers) {
			return nil
		}
		return loc.Identifiers[i]
	}
}

func (b *columnBuilder) locationLevel(i int) func(any, bool) any {
	return func(raw any, ok bool) any {
		loc, found := b.location(raw, ok)
		if !found || i >= len(loc.Chain) {
			return nil
		}
		if parent, ok := b.plan.Refs.Location(loc.Chain[i]); ok {
			return parent.Name
		}
		return nil
	}
}

// locationObject is the nested rendering used by hierarchical formats.
func (b *columnBuilder) locationObject(raw any, ok bool) any {
	loc, found := b.location(raw, ok)
	if !found {
		return nil
	}
	obj := sink.NewObject()
	obj.Set("id", loc.ID)
	obj.Set("name", loc.Name)
	ids := make([]any, len(loc.Identifiers))
	for i, v := range loc.Identifiers {
		ids[i] = v
	}
	obj.Set("identifiers", ids)
	chain := make([]any, 0, len(loc.Chain))
	for _, pid := range loc.Chain {
		if parent, ok := b.plan.Refs.Location(pid); ok {
			chain = append(chain, parent.Name)
		}
	}
	obj.Set("parents", chain)
	levels := make([]any, len(loc.Levels))
	for i, v := range loc.Levels {
		levels[i] = v
	}
	obj.Set("levels", levels)
	return obj
}

// answerLabel substitutes choice values with their answer label token.
func answerLabel(q FlatQuestion) func(any, bool) any {
	return func(raw any, ok bool) any {
		if !ok || !q.Choice() {
			return raw
		}
		if s, isStr := raw.(string); isStr {
			if l, found := q.Labels[s]; found {
				return l
			}
		}
		return raw
	}
}

// nestedArray renders every element of an array field as an object keyed by
// the translated child labels.
func (b *columnBuilder) nestedArray(base docpath.Path, children []ChildField) func(any, bool) any {
	type child struct {
		key      string
		path     docpath.Path
		template string
	}
	prefix := base.WithoutIndices() + "[]"
	kids := make([]child, 0, len(children))
	for _, c := range children {
		k := child{key: b.tr(c.Label), template: prefix}
		if c.Field != "" {
			k.path = docpath.MustParse(c.Field)
			k.template = prefix + "." + k.path.WithoutIndices()
		}
		kids = append(kids, k)
	}
	return func(raw any, ok bool) any {
		if !ok || raw == nil {
			return nil
		}
		elems, isArr := raw.([]any)
		if !isArr {
			return raw
		}
		out := make([]any, 0, len(elems))
		for _, el := range elems {
			if len(kids) == 1 && kids[0].path == nil {
				out = append(out, b.leaf(kids[0].template, el, true))
				continue
			}
			obj := sink.NewObject()
			for _, k := range kids {
				var v any
				found := true
				if k.path != nil {
					v, found = k.path.Get(el)
				} else {
					v = el
				}
				obj.Set(k.key, b.leaf(k.template, v, found))
			}
			out = append(out, obj)
		}
		return out
	}
}

// leaf applies anonymization and location rendering to a nested value.
func (b *columnBuilder) leaf(template string, v any, ok bool) any {
	if b.anonymized(template) {
		return b.plan.Placeholder
	}
	if !ok {
		return nil
	}
	if b.isLocation(template) {
		return b.locationObject(v, ok)
	}
	return v
}

// nestedAnswers renders the questionnaire as question text -> answer list.
func (b *columnBuilder) nestedAnswers(qs []FlatQuestion) func(any, bool) any {
	field := b.plan.Descriptor.QuestionnaireField
	return func(raw any, ok bool) any {
		answers, isMap := raw.(map[string]any)
		if !ok || !isMap {
			return nil
		}
		obj := sink.NewObject()
		for _, q := range qs {
			entries, _ := answers[q.Variable].([]any)
			if len(entries) == 0 {
				continue
			}
			template := field + "." + q.Variable + "[]"
			format := answerLabel(q)
			list := make([]any, 0, len(entries))
			for _, e := range entries {
				m, _ := e.(map[string]any)
				entry := sink.NewObject()
				entry.Set("date", b.leaf(template+".date", m["date"], m != nil))
				value, has := m["value"]
				switch {
				case b.anonymized(template + ".value"):
					entry.Set("value", b.plan.Placeholder)
				case q.Multiple():
					vs, _ := value.([]any)
					labels := make([]any, len(vs))
					for i, v := range vs {
						labels[i] = format(v, true)
					}
					entry.Set("value", labels)
				default:
					entry.Set("value", format(value, has))
				}
				list = append(list, entry)
			}
			obj.Set(b.tr(q.Text), list)
		}
		return obj
	}
}
