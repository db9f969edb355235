package materializer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabledep/internal/codec"
	"tabledep/internal/mapping"
	"tabledep/internal/model"
)

var catalog = model.Catalog{
	{Name: "Id", Ordinal: 1, SQLType: "integer"},
	{Name: "Name", Ordinal: 2, SQLType: "text"},
	{Name: "Amount", Ordinal: 3, SQLType: "numeric(10,2)"},
	{Name: "PaidAt", Ordinal: 4, SQLType: "timestamp with time zone"},
	{Name: "Note", Ordinal: 5, SQLType: "text"},
}

type payment struct {
	ID     int `column:"-"`
	Name   string
	Amount decimal.Decimal
	PaidAt *time.Time
	Note   *string
}

func updateBag() *model.MessageBag {
	return &model.MessageBag{
		ChangeType: model.ChangeUpdate,
		Messages: []model.Message{
			{Recipient: "Name", Body: []byte("B")},
			{Recipient: "Amount", Body: []byte("10.00")},
			{Recipient: "Name", Body: []byte("A"), IsOldValue: true},
		},
	}
}

func TestDynamic_UpdateWithOldValues(t *testing.T) {
	d := NewDynamic(codec.MustNew("UTF8", ""), true)

	got, err := d.Materialize(updateBag())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Name": "B", "Amount": "10.00"}, got.ColumnValues)
	assert.Equal(t, map[string]string{"Name": "A"}, got.ColumnOldValues)
}

func TestDynamic_OldValuesDisabled(t *testing.T) {
	d := NewDynamic(codec.MustNew("UTF8", ""), false)

	got, err := d.Materialize(updateBag())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Name": "B", "Amount": "10.00"}, got.ColumnValues)
	require.NotNil(t, got.ColumnOldValues)
	assert.Empty(t, got.ColumnOldValues)
}

func TestDynamic_NullIsLiteral(t *testing.T) {
	d := NewDynamic(codec.MustNew("UTF8", ""), false)

	got, err := d.Materialize(&model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages:   []model.Message{{Recipient: "Note"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "null", got.ColumnValues["Note"])
}

func newTypedPayment(t *testing.T, c *codec.Codec, includeOld bool) *Typed[payment] {
	t.Helper()
	m, err := mapping.ModelOf[payment]()
	require.NoError(t, err)
	sel, err := mapping.Select("payments", catalog, m, nil)
	require.NoError(t, err)
	typed, err := NewTyped[payment](c, sel, includeOld)
	require.NoError(t, err)
	return typed
}

func TestTyped_PopulatesMappedProperties(t *testing.T) {
	typed := newTypedPayment(t, codec.MustNew("UTF8", ""), true)

	bag := updateBag()
	bag.Messages = append(bag.Messages,
		model.Message{Recipient: "Id", Body: []byte("7")},
		model.Message{Recipient: "PaidAt", Body: []byte("2024-03-01 10:30:00+00")},
		model.Message{Recipient: "Note"},
		model.Message{Recipient: "Unknown", Body: []byte("ignored")},
	)

	rec, err := typed.Materialize(bag)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Entity.ID)
	assert.Equal(t, "B", rec.Entity.Name)
	assert.True(t, decimal.RequireFromString("10").Equal(rec.Entity.Amount))
	require.NotNil(t, rec.Entity.PaidAt)
	assert.True(t, rec.Entity.PaidAt.Equal(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
	assert.Nil(t, rec.Entity.Note)

	require.NotNil(t, rec.OldEntity)
	assert.Equal(t, "A", rec.OldEntity.Name)
	assert.True(t, rec.OldEntity.Amount.IsZero())
}

func TestTyped_AbsentPropertyKeepsZeroValue(t *testing.T) {
	typed := newTypedPayment(t, codec.MustNew("UTF8", ""), false)

	rec, err := typed.Materialize(&model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages:   []model.Message{{Recipient: "name", Body: []byte("only name")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "only name", rec.Entity.Name)
	assert.True(t, rec.Entity.Amount.IsZero())
	assert.Nil(t, rec.Entity.PaidAt)
	assert.Nil(t, rec.OldEntity)
}

func TestTyped_NullKeepsZeroValue(t *testing.T) {
	typed := newTypedPayment(t, codec.MustNew("UTF8", ""), false)

	rec, err := typed.Materialize(&model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages: []model.Message{
			{Recipient: "Name"},
			{Recipient: "Amount"},
			{Recipient: "Note"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "", rec.Entity.Name)
	assert.True(t, rec.Entity.Amount.IsZero())
	assert.Nil(t, rec.Entity.Note)
}

func TestTyped_LocaleDecimal(t *testing.T) {
	typed := newTypedPayment(t, codec.MustNew("UTF8", "de-DE"), false)

	rec, err := typed.Materialize(&model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages:   []model.Message{{Recipient: "Amount", Body: []byte("12,50")}},
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(rec.Entity.Amount))
}

func TestTyped_ConversionFailureIsDecodeError(t *testing.T) {
	typed := newTypedPayment(t, codec.MustNew("UTF8", ""), false)

	_, err := typed.Materialize(&model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages:   []model.Message{{Recipient: "Amount", Body: []byte("ten")}},
	})
	var decErr *model.MessageDecodeError
	require.ErrorAs(t, err, &decErr)
	assert.False(t, model.IsFatal(err))
}

type unsupported struct {
	Name chan int
}

func TestNewTyped_UnsupportedPropertyType(t *testing.T) {
	m, err := mapping.ModelOf[unsupported]()
	require.NoError(t, err)
	sel, err := mapping.Select("payments", catalog, m, nil)
	require.NoError(t, err)

	_, err = NewTyped[unsupported](codec.MustNew("UTF8", ""), sel, false)
	var mapErr *model.MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.True(t, model.IsConsistency(err))
}
