package mapping

import (
	"fmt"
	"reflect"
	"strings"
)

// TagName is the struct tag declaring a property's column. A value of "-"
// excludes the property. Use a pointer field to tell SQL NULL from the zero
// value: NULL leaves pointers nil and other fields untouched.
const TagName = "column"

// Property is one settable field of a target model.
type Property struct {
	Name     string
	Column   string
	Excluded bool
	Index    []int
	Type     reflect.Type
}

// Model is the pre-computed property table of a struct type.
type Model struct {
	Name       string
	Type       reflect.Type
	Properties []Property
}

// Lookup finds a property by case-insensitive name.
func (m *Model) Lookup(name string) (Property, bool) {
	for _, p := range m.Properties {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Property{}, false
}

// ModelOf inspects T once and returns its property table.
func ModelOf[T any]() (*Model, error) {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model %s must be a struct, got %s", t, t.Kind())
	}
	m := &Model{Name: t.Name(), Type: t}
	collect(t, nil, &m.Properties)
	return m, nil
}

func collect(t reflect.Type, parent []int, out *[]Property) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		index := append(append([]int(nil), parent...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && f.Tag.Get(TagName) == "" {
			collect(f.Type, index, out)
			continue
		}
		if !f.IsExported() {
			continue
		}
		tag := strings.TrimSpace(f.Tag.Get(TagName))
		name, _, _ := strings.Cut(tag, ",")
		p := Property{
			Name:  f.Name,
			Index: index,
			Type:  f.Type,
		}
		if name == "-" {
			p.Excluded = true
		} else {
			p.Column = name
		}
		*out = append(*out, p)
	}
}
