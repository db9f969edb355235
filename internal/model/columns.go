package model

import "strings"

// TableColumnInfo describes one column of the watched table. Columns are
// identified by name compared case-insensitively.
type TableColumnInfo struct {
	Name    string
	Ordinal int
	SQLType string
}

// Catalog is the ordered column list of a table.
type Catalog []TableColumnInfo

// Lookup finds a column by case-insensitive name.
func (c Catalog) Lookup(name string) (TableColumnInfo, bool) {
	for _, col := range c {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return TableColumnInfo{}, false
}

// Names returns the column names in catalog order.
func (c Catalog) Names() []string {
	out := make([]string, len(c))
	for i, col := range c {
		out[i] = col.Name
	}
	return out
}

// Message is one column value of one change event.
type Message struct {
	Recipient  string
	Body       []byte
	IsOldValue bool
}

// MessageBag is one complete row change.
type MessageBag struct {
	ChangeType ChangeType
	Messages   []Message
	Encoding   string
}

// HasOldValues reports whether any message is tagged as a pre-change value.
func (b *MessageBag) HasOldValues() bool {
	for _, m := range b.Messages {
		if m.IsOldValue {
			return true
		}
	}
	return false
}
