package engine

import (
	"context"
	"time"

	"tabledep/internal/model"
)

// ObjectSpec describes the server-side objects of one dependency instance.
type ObjectSpec struct {
	NamingConvention string
	Schema           string
	Table            string
	Columns          model.Catalog
	TriggerType      model.TriggerType
	UpdateOf         []string
	IncludeOldValues bool
	Encoding         string
	Timeout          time.Duration
	WatchdogTimeout  time.Duration
}

// SchemaProvisioner reads the table catalog and owns the change-detection objects.
type SchemaProvisioner interface {
	Columns(ctx context.Context, schema, table string) (model.Catalog, error)
	TableExists(ctx context.Context, schema, table string) (bool, error)
	CreateChangeObjects(ctx context.Context, spec ObjectSpec) ([]string, error)
	DropChangeObjects(ctx context.Context, schema, namingConvention string) error
}

// NotificationTransport delivers raw MessageBag payloads for the objects of
// one ObjectSpec. AwaitNext returns model.ErrTimedOut when timeout expires
// with nothing to deliver.
type NotificationTransport interface {
	Open(ctx context.Context, spec ObjectSpec) error
	AwaitNext(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close(ctx context.Context) error
}

// Validator checks permissions or connectivity before any object is created.
type Validator interface {
	Validate(ctx context.Context, schema, table string) error
}

// Registry records live naming conventions so objects left behind by a dead
// process can be found and dropped.
type Registry interface {
	Register(ctx context.Context, namingConvention, schema string, ttl time.Duration) error
	Heartbeat(ctx context.Context, namingConvention string, ttl time.Duration) error
	Unregister(ctx context.Context, namingConvention string) error
}
