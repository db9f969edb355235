package engine

import (
	"go.uber.org/zap"

	"tabledep/internal/codec"
	"tabledep/internal/mapping"
	"tabledep/internal/metrics"
	"tabledep/internal/model"
)

const defaultSchema = "public"

// Options configures a dependency instance.
type Options struct {
	Schema           string
	Table            string
	TriggerType      model.TriggerType // zero means TriggerAll
	UpdateOf         []string
	IncludeOldValues bool
	Mapper           *mapping.Mapper
	Codec            *codec.Codec

	// Server and Database identify the source in every notification.
	Server   string
	Database string

	Validators []Validator
	Registry   Registry
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

func (o Options) withDefaults() (Options, error) {
	if o.Table == "" {
		return o, &model.ArgumentError{Name: "table", Reason: "must not be empty"}
	}
	if o.Schema == "" {
		o.Schema = defaultSchema
	}
	if o.TriggerType == 0 {
		o.TriggerType = model.TriggerAll
	}
	if o.TriggerType&^model.TriggerAll != 0 {
		return o, &model.ArgumentError{Name: "trigger type", Reason: "unknown bits set"}
	}
	if o.Codec == nil {
		o.Codec = codec.MustNew("UTF8", "")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.GlobalMetrics
	}
	return o, nil
}
