package transformer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabledep/internal/model"
)

func changed(ct model.ChangeType, seq uint64, values, old map[string]string) model.ChangedEvent[model.ColumnValues] {
	if old == nil {
		old = map[string]string{}
	}
	return model.ChangedEvent[model.ColumnValues]{
		Identity: model.Identity{
			Server:           "db1:5432",
			Database:         "shop",
			Schema:           "public",
			Table:            "payments",
			NamingConvention: "tabledep_abc",
		},
		Sequence:   seq,
		ChangeType: ct,
		Payload:    model.ColumnValues{ColumnValues: values, ColumnOldValues: old},
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestTransform_DeterministicEventID(t *testing.T) {
	tr := NewTransformer("shop")
	evt := changed(model.ChangeInsert, 1, map[string]string{"Name": "A", "Amount": "1.00"}, nil)

	a, err := tr.Transform(evt)
	require.NoError(t, err)
	b, err := tr.Transform(evt)
	require.NoError(t, err)
	assert.Equal(t, a.EventID, b.EventID)

	evt.Sequence = 2
	c, err := tr.Transform(evt)
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, c.EventID)
}

func TestTransform_Envelope(t *testing.T) {
	tr := NewTransformer("shop")

	env, err := tr.Transform(changed(model.ChangeUpdate, 3,
		map[string]string{"Name": "B"}, map[string]string{"Name": "A"}))
	require.NoError(t, err)
	assert.Equal(t, "tabledep.update", env.EventType)
	assert.Equal(t, "UPDATE", env.Operation)
	assert.Equal(t, "shop", env.Database)
	assert.Equal(t, "db1:5432", env.Server)
	assert.Equal(t, map[string]string{"Name": "B"}, env.After)
	assert.Equal(t, map[string]string{"Name": "A"}, env.Before)

	env, err = tr.Transform(changed(model.ChangeInsert, 4, map[string]string{"Name": "C"}, nil))
	require.NoError(t, err)
	assert.Nil(t, env.Before)

	env, err = tr.Transform(changed(model.ChangeDelete, 5, map[string]string{"Name": "C"}, nil))
	require.NoError(t, err)
	assert.Equal(t, "tabledep.delete", env.EventType)
	assert.Nil(t, env.After)
	assert.Equal(t, map[string]string{"Name": "C"}, env.Before)
}

func TestTransform_UnknownChangeType(t *testing.T) {
	_, err := NewTransformer("shop").Transform(changed("TRUNCATE", 1, nil, nil))
	assert.Error(t, err)
}

func TestRowFragmentIsSorted(t *testing.T) {
	assert.Equal(t, "a=1,b=2", rowFragment(map[string]string{"b": "2", "a": "1"}))
	assert.Equal(t, "empty", rowFragment(nil))
}

func BenchmarkTransform(b *testing.B) {
	tr := NewTransformer("shop")
	evt := changed(model.ChangeUpdate, 1,
		map[string]string{"id": "1", "name": "test", "email": "test@example.com"},
		map[string]string{"id": "1", "name": "old", "email": "old@example.com"})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := tr.Transform(evt); err != nil {
			b.Fatal(err)
		}
	}
}
