package transformer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"tabledep/internal/model"
)

// Transformer turns dynamic change events into bus envelopes with a
// deterministic EventID derived from naming:sequence:schema.table:row.
type Transformer struct {
	source string
}

func NewTransformer(source string) *Transformer {
	return &Transformer{source: source}
}

func (t *Transformer) Transform(evt model.ChangedEvent[model.ColumnValues]) (*model.Envelope, error) {
	op := lowerOp(evt.ChangeType)
	if op == "unknown" {
		return nil, fmt.Errorf("unknown change type %q", evt.ChangeType)
	}

	key := strings.Join([]string{
		evt.NamingConvention,
		strconv.FormatUint(evt.Sequence, 10),
		evt.Schema + "." + evt.Table,
		rowFragment(evt.Payload.ColumnValues),
	}, ":")

	env := &model.Envelope{
		EventID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String(),
		EventType:        "tabledep." + op,
		Source:           t.source,
		Timestamp:        evt.ReceivedAt,
		Server:           evt.Server,
		Database:         evt.Database,
		Schema:           evt.Schema,
		Table:            evt.Table,
		Operation:        string(evt.ChangeType),
		NamingConvention: evt.NamingConvention,
	}
	// A delete carries the removed row.
	if evt.ChangeType == model.ChangeDelete {
		env.Before = evt.Payload.ColumnValues
	} else {
		env.After = evt.Payload.ColumnValues
		if len(evt.Payload.ColumnOldValues) > 0 {
			env.Before = evt.Payload.ColumnOldValues
		}
	}
	return env, nil
}

func lowerOp(ct model.ChangeType) string {
	switch ct {
	case model.ChangeInsert:
		return "insert"
	case model.ChangeUpdate:
		return "update"
	case model.ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// rowFragment builds a sorted key=value list of the row values.
func rowFragment(values map[string]string) string {
	if len(values) == 0 {
		return "empty"
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+values[k])
	}
	return strings.Join(parts, ",")
}
