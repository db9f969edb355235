package materializer

import (
	"fmt"
	"reflect"
	"strings"

	"tabledep/internal/codec"
	"tabledep/internal/mapping"
	"tabledep/internal/model"
)

// Materializer turns one MessageBag into a change payload. Implementations
// only read the bag; they never query the source table.
type Materializer[P any] interface {
	Materialize(bag *model.MessageBag) (P, error)
}

// Dynamic builds column name -> text maps.
type Dynamic struct {
	codec      *codec.Codec
	includeOld bool
}

func NewDynamic(c *codec.Codec, includeOld bool) *Dynamic {
	return &Dynamic{codec: c, includeOld: includeOld}
}

func (d *Dynamic) Materialize(bag *model.MessageBag) (model.ColumnValues, error) {
	out := model.ColumnValues{
		ColumnValues:    make(map[string]string, len(bag.Messages)),
		ColumnOldValues: make(map[string]string),
	}
	wantOld := d.includeOld && bag.ChangeType == model.ChangeUpdate
	for _, m := range bag.Messages {
		if m.IsOldValue && !wantOld {
			continue
		}
		text, err := d.codec.Decode(m.Body)
		if err != nil {
			return model.ColumnValues{}, &model.MessageDecodeError{Reason: "column " + m.Recipient, Err: err}
		}
		if m.IsOldValue {
			out.ColumnOldValues[m.Recipient] = text
		} else {
			out.ColumnValues[m.Recipient] = text
		}
	}
	return out, nil
}

type binding struct {
	property mapping.Property
	convert  converter
}

// Typed populates instances of T through a pre-computed property binding.
// Non-NULL values go through the same decoding as Dynamic. A NULL column
// leaves a pointer field nil and any other field at its zero value; the
// literal "null" of the dynamic payload is never written into a field.
type Typed[T any] struct {
	codec      *codec.Codec
	includeOld bool
	bindings   map[string]binding
}

// NewTyped prepares converters for every bound property. A property whose
// type cannot be populated from text is a mapping error.
func NewTyped[T any](c *codec.Codec, sel mapping.Selection, includeOld bool) (*Typed[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("typed materializer needs a struct type, got %T", zero)
	}
	t := &Typed[T]{
		codec:      c,
		includeOld: includeOld,
		bindings:   make(map[string]binding, len(sel.Bindings)),
	}
	for _, b := range sel.Bindings {
		conv, ok := converterFor(b.Property.Type, c)
		if !ok {
			return nil, &model.MappingError{
				Property: b.Property.Name,
				Column:   b.Column.Name,
				Reason:   fmt.Sprintf("unsupported property type %s", b.Property.Type),
			}
		}
		t.bindings[strings.ToLower(b.Column.Name)] = binding{property: b.Property, convert: conv}
	}
	return t, nil
}

func (t *Typed[T]) Materialize(bag *model.MessageBag) (model.Record[T], error) {
	var rec model.Record[T]
	wantOld := t.includeOld && bag.ChangeType == model.ChangeUpdate && bag.HasOldValues()
	var old T
	for _, m := range bag.Messages {
		if m.IsOldValue && !wantOld {
			continue
		}
		target := &rec.Entity
		if m.IsOldValue {
			target = &old
		}
		if err := t.set(target, m); err != nil {
			return model.Record[T]{}, err
		}
	}
	if wantOld {
		rec.OldEntity = &old
	}
	return rec, nil
}

func (t *Typed[T]) set(target *T, m model.Message) error {
	b, ok := t.bindings[strings.ToLower(m.Recipient)]
	if !ok || m.Body == nil {
		return nil
	}
	text, err := t.codec.Decode(m.Body)
	if err != nil {
		return &model.MessageDecodeError{Reason: "column " + m.Recipient, Err: err}
	}
	v, err := b.convert(text)
	if err != nil {
		return &model.MessageDecodeError{Reason: fmt.Sprintf("column %s into %s", m.Recipient, b.property.Name), Err: err}
	}
	reflect.ValueOf(target).Elem().FieldByIndex(b.property.Index).Set(v)
	return nil
}
