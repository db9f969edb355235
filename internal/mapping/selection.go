package mapping

import (
	"sort"
	"strings"

	"tabledep/internal/model"
)

// Binding ties a model property to the table column it is populated from.
type Binding struct {
	Property Property
	Column   model.TableColumnInfo
}

// Selection is the set of columns tracked by one dependency instance.
type Selection struct {
	Columns  model.Catalog
	Bindings []Binding
}

// ColumnNames returns the interested column names in wire order.
func (s Selection) ColumnNames() []string {
	return s.Columns.Names()
}

// Select intersects the model (or, when m is nil, the mapper alone) with the
// table catalog. An empty mapper with a nil model selects every column.
// Untagged properties without a matching column are skipped; a tagged one is
// a mapping error, like an explicit mapping to a missing column.
func Select(table string, catalog model.Catalog, m *Model, mapper *Mapper) (Selection, error) {
	if err := mapper.Validate(catalog); err != nil {
		return Selection{}, err
	}
	if m == nil {
		return selectDynamic(table, catalog, mapper)
	}

	for _, p := range mapper.Properties() {
		if _, ok := m.Lookup(p); !ok {
			c, _ := mapper.Column(p)
			return Selection{}, &model.MappingError{Property: p, Column: c, Reason: "not a property of " + m.Name}
		}
	}

	var sel Selection
	claimed := make(map[string]string)
	for _, p := range m.Properties {
		if p.Excluded {
			continue
		}
		col, ok := catalog.Lookup(resolveColumn(p, mapper))
		if !ok {
			if _, explicit := mapper.Column(p.Name); !explicit && p.Column != "" {
				return Selection{}, &model.MappingError{Property: p.Name, Column: p.Column, Reason: "tagged column does not exist in table"}
			}
			continue
		}
		key := strings.ToLower(col.Name)
		if other, dup := claimed[key]; dup {
			return Selection{}, &model.MappingError{Property: p.Name, Column: col.Name, Reason: "column already bound to property " + other}
		}
		claimed[key] = p.Name
		sel.Bindings = append(sel.Bindings, Binding{Property: p, Column: col})
		sel.Columns = append(sel.Columns, col)
	}
	if len(sel.Columns) == 0 {
		return Selection{}, &model.NoInterestedColumnsError{Table: table}
	}
	sortByOrdinal(sel.Columns)
	return sel, nil
}

func selectDynamic(table string, catalog model.Catalog, mapper *Mapper) (Selection, error) {
	var sel Selection
	if mapper.Len() == 0 {
		sel.Columns = append(model.Catalog(nil), catalog...)
	} else {
		for _, p := range mapper.Properties() {
			c, _ := mapper.Column(p)
			col, _ := catalog.Lookup(c)
			sel.Columns = append(sel.Columns, col)
		}
	}
	if len(sel.Columns) == 0 {
		return Selection{}, &model.NoInterestedColumnsError{Table: table}
	}
	sortByOrdinal(sel.Columns)
	return sel, nil
}

// ResolveUpdateOf turns property references into column names. Each reference
// resolves through the explicit mapping, then the declared tag, then the name.
func ResolveUpdateOf(updateOf []string, trigger model.TriggerType, catalog model.Catalog, m *Model, mapper *Mapper) ([]string, error) {
	if len(updateOf) == 0 {
		return nil, nil
	}
	if !trigger.Has(model.TriggerUpdate) {
		return nil, &model.DmlTriggerTypeError{TriggerType: trigger}
	}

	out := make([]string, 0, len(updateOf))
	seen := make(map[string]struct{}, len(updateOf))
	for _, ref := range updateOf {
		name := ref
		if c, ok := mapper.Column(ref); ok {
			name = c
		} else if m != nil {
			if p, ok := m.Lookup(ref); ok {
				name = resolveColumn(p, mapper)
			}
		}
		col, ok := catalog.Lookup(name)
		if !ok {
			return nil, &model.MappingError{Property: ref, Column: name, Reason: "update-of column does not exist in table"}
		}
		key := strings.ToLower(col.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, col.Name)
	}
	return out, nil
}

func resolveColumn(p Property, mapper *Mapper) string {
	if c, ok := mapper.Column(p.Name); ok {
		return c
	}
	if p.Column != "" {
		return p.Column
	}
	return p.Name
}

func sortByOrdinal(cols model.Catalog) {
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Ordinal < cols[j].Ordinal })
}
