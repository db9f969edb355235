package model

import (
	"fmt"
	"strings"
)

// TriggerType is a bit set of the DML operations that fire notifications.
type TriggerType uint8

const (
	TriggerInsert TriggerType = 1 << iota
	TriggerUpdate
	TriggerDelete

	TriggerAll = TriggerInsert | TriggerUpdate | TriggerDelete
)

// Has reports whether every bit of other is set in t.
func (t TriggerType) Has(other TriggerType) bool {
	return t&other == other
}

func (t TriggerType) String() string {
	if t == TriggerAll {
		return "all"
	}
	parts := make([]string, 0, 3)
	if t.Has(TriggerInsert) {
		parts = append(parts, "insert")
	}
	if t.Has(TriggerUpdate) {
		parts = append(parts, "update")
	}
	if t.Has(TriggerDelete) {
		parts = append(parts, "delete")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// ParseTriggerType accepts "all" or a comma separated list of insert, update, delete.
func ParseTriggerType(s string) (TriggerType, error) {
	var t TriggerType
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "all", "*":
			t |= TriggerAll
		case "insert":
			t |= TriggerInsert
		case "update":
			t |= TriggerUpdate
		case "delete":
			t |= TriggerDelete
		case "":
		default:
			return 0, fmt.Errorf("unknown trigger type %q", part)
		}
	}
	if t == 0 {
		return 0, fmt.Errorf("empty trigger type")
	}
	return t, nil
}
