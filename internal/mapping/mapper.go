package mapping

import (
	"sort"
	"strings"

	"tabledep/internal/model"
)

// Mapper maps model property identifiers to table column names. It is filled
// once before the dependency is constructed and only read afterwards.
type Mapper struct {
	columns map[string]string
	order   []string
}

func NewMapper() *Mapper {
	return &Mapper{columns: make(map[string]string)}
}

// FromMap builds a Mapper from property -> column pairs.
func FromMap(pairs map[string]string) (*Mapper, error) {
	props := make([]string, 0, len(pairs))
	for p := range pairs {
		props = append(props, p)
	}
	sort.Strings(props)

	m := NewMapper()
	for _, p := range props {
		if err := m.Add(p, pairs[p]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Add registers one property mapping. Properties are unique; columns are
// unique ignoring case.
func (m *Mapper) Add(property, column string) error {
	property = strings.TrimSpace(property)
	column = strings.TrimSpace(column)
	if property == "" || column == "" {
		return &model.MappingError{Property: property, Column: column, Reason: "empty property or column name"}
	}
	if _, dup := m.columns[property]; dup {
		return &model.MappingError{Property: property, Column: column, Reason: "property already mapped"}
	}
	for p, c := range m.columns {
		if strings.EqualFold(c, column) {
			return &model.MappingError{Property: property, Column: column, Reason: "column already mapped by " + p}
		}
	}
	m.columns[property] = column
	m.order = append(m.order, property)
	return nil
}

// Column returns the explicit column for property.
func (m *Mapper) Column(property string) (string, bool) {
	if m == nil {
		return "", false
	}
	c, ok := m.columns[property]
	return c, ok
}

// Len returns the number of mapped properties; a nil Mapper is empty.
func (m *Mapper) Len() int {
	if m == nil {
		return 0
	}
	return len(m.columns)
}

// Properties returns mapped properties in registration order.
func (m *Mapper) Properties() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Validate checks that every mapped column exists in catalog.
func (m *Mapper) Validate(catalog model.Catalog) error {
	if m == nil {
		return nil
	}
	for _, p := range m.order {
		c := m.columns[p]
		if _, ok := catalog.Lookup(c); !ok {
			return &model.MappingError{Property: p, Column: c, Reason: "column does not exist in table"}
		}
	}
	return nil
}
