package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"tabledep/internal/model"
)

var columns = []string{"Name", "Amount"}

func TestBag_RoundTripUpdateWithOldValues(t *testing.T) {
	c := MustNew("UTF8", "")
	bag := &model.MessageBag{
		ChangeType: model.ChangeUpdate,
		Messages: []model.Message{
			{Recipient: "Name", Body: []byte("B")},
			{Recipient: "Amount", Body: []byte("10.00")},
			{Recipient: "Name", Body: []byte("A"), IsOldValue: true},
			{Recipient: "Amount", Body: []byte("10.00"), IsOldValue: true},
		},
	}
	payload, err := c.EncodeBag(bag, columns)
	require.NoError(t, err)
	assert.Equal(t, byte('U'), payload[0])
	assert.Equal(t, byte(flagOldValues), payload[1])

	got, err := c.DecodeBag(payload, columns)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeUpdate, got.ChangeType)
	assert.Equal(t, "UTF8", got.Encoding)
	assert.Equal(t, bag.Messages, got.Messages)
}

func TestBag_NullBlock(t *testing.T) {
	c := MustNew("UTF8", "")
	bag := &model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages:   []model.Message{{Recipient: "Name", Body: []byte("x")}},
	}
	payload, err := c.EncodeBag(bag, columns)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, payload[len(payload)-4:])

	got, err := c.DecodeBag(payload, columns)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Nil(t, got.Messages[1].Body)
	text, err := c.Decode(got.Messages[1].Body)
	require.NoError(t, err)
	assert.Equal(t, "null", text)
}

func TestBag_DecodeMalformed(t *testing.T) {
	c := MustNew("UTF8", "")
	valid, err := c.EncodeBag(&model.MessageBag{
		ChangeType: model.ChangeDelete,
		Messages: []model.Message{
			{Recipient: "Name", Body: []byte("gone")},
			{Recipient: "Amount", Body: []byte("1")},
		},
	}, columns)
	require.NoError(t, err)

	negative := []byte{'I', 0}
	negative = binary.BigEndian.AppendUint32(negative, uint32(0xfffffff0))

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "header only kind", payload: []byte{'I'}},
		{name: "unknown kind", payload: []byte{'X', 0}},
		{name: "unknown flag", payload: []byte{'U', 0x80}},
		{name: "old values on insert", payload: []byte{'I', flagOldValues}},
		{name: "truncated prefix", payload: []byte{'I', 0, 0, 0}},
		{name: "truncated body", payload: valid[:len(valid)-1]},
		{name: "trailing bytes", payload: append(append([]byte(nil), valid...), 0)},
		{name: "negative length", payload: negative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.DecodeBag(tt.payload, columns)
			var decErr *model.MessageDecodeError
			require.ErrorAs(t, err, &decErr)
		})
	}
}

func TestBag_EncodeRejectsOldValuesOutsideUpdate(t *testing.T) {
	c := MustNew("UTF8", "")
	_, err := c.EncodeBag(&model.MessageBag{
		ChangeType: model.ChangeInsert,
		Messages:   []model.Message{{Recipient: "Name", Body: []byte("x"), IsOldValue: true}},
	}, columns)
	require.Error(t, err)
}

func TestBag_RoundTripProperty(t *testing.T) {
	c := MustNew("UTF8", "")
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "columns")
		cols := make([]string, n)
		for i := range cols {
			cols[i] = string(rune('a' + i))
		}
		kind := rapid.SampledFrom([]model.ChangeType{model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete}).Draw(t, "kind")
		withOld := kind == model.ChangeUpdate && rapid.Bool().Draw(t, "old")

		bag := &model.MessageBag{ChangeType: kind, Encoding: "UTF8"}
		add := func(old bool) {
			for _, col := range cols {
				var body []byte
				if !rapid.Bool().Draw(t, "null") {
					body = []byte(rapid.String().Draw(t, "value"))
				}
				bag.Messages = append(bag.Messages, model.Message{Recipient: col, Body: body, IsOldValue: old})
			}
		}
		add(false)
		if withOld {
			add(true)
		}

		payload, err := c.EncodeBag(bag, cols)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := c.DecodeBag(payload, cols)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ChangeType != kind || len(got.Messages) != len(bag.Messages) {
			t.Fatalf("shape mismatch: %+v", got)
		}
		for i, m := range got.Messages {
			want := bag.Messages[i]
			if m.Recipient != want.Recipient || m.IsOldValue != want.IsOldValue || (m.Body == nil) != (want.Body == nil) || string(m.Body) != string(want.Body) {
				t.Fatalf("message %d mismatch: got %+v want %+v", i, m, want)
			}
		}
	})
}
