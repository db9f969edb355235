package model

import "time"

// ChangeType identifies the DML operation carried by a MessageBag.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Identity ties a notification to the producing dependency instance.
type Identity struct {
	Server           string
	Database         string
	Schema           string
	Table            string
	NamingConvention string
}

// ColumnValues is the dynamic change payload. ColumnOldValues is never nil.
type ColumnValues struct {
	ColumnValues    map[string]string
	ColumnOldValues map[string]string
}

// Record is the typed change payload. OldEntity is set only for updates when
// old values are tracked.
type Record[T any] struct {
	Entity    T
	OldEntity *T
}

// ChangedEvent is delivered to change subscribers, one per MessageBag.
// Sequence starts at 1 for each Start and increases by one per event.
type ChangedEvent[P any] struct {
	Identity
	Sequence   uint64
	ChangeType ChangeType
	Payload    P
	ReceivedAt time.Time
}

// StatusEvent is delivered on every lifecycle transition.
type StatusEvent struct {
	Identity
	Status Status
}

// ErrorEvent carries a runtime failure observed by the listen loop.
type ErrorEvent struct {
	Identity
	Err   error
	Fatal bool
}

// Envelope is the serialized form of a change published to the message bus.
type Envelope struct {
	EventID          string            `json:"event_id"`
	EventType        string            `json:"event_type"`
	Source           string            `json:"source"`
	Timestamp        time.Time         `json:"timestamp"`
	Server           string            `json:"server"`
	Database         string            `json:"database"`
	Schema           string            `json:"schema"`
	Table            string            `json:"table"`
	Operation        string            `json:"operation"`
	NamingConvention string            `json:"naming_convention"`
	After            map[string]string `json:"after,omitempty"`
	Before           map[string]string `json:"before,omitempty"`
}
