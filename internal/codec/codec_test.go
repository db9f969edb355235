package codec

import (
	"testing"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCodec_NullDecodesToLiteral(t *testing.T) {
	c := MustNew("UTF8", "")
	got, err := c.Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", got)

	body, err := c.EncodeValue(nil)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestCodec_EmptyStringIsNotNull(t *testing.T) {
	c := MustNew("UTF8", "")
	body, err := c.EncodeValue("")
	require.NoError(t, err)
	require.NotNil(t, body)

	got, err := c.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestCodec_RoundTripUTF8(t *testing.T) {
	c := MustNew("UTF8", "")
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		body, err := c.EncodeValue(s)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := c.Decode(body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	})
}

func TestCodec_RoundTripLatin1(t *testing.T) {
	c := MustNew("latin1", "")
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.StringOf(rapid.RuneFrom(nil, unicode.Latin1)).Draw(t, "s")
		body, err := c.EncodeValue(s)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(body) != len([]rune(s)) {
			t.Fatalf("latin1 should be one byte per rune: %d bytes for %d runes", len(body), len([]rune(s)))
		}
		got, err := c.Decode(body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got != s {
			t.Fatalf("round trip mismatch: got %q want %q", got, s)
		}
	})
}

func TestCodec_Latin1RejectsUnrepresentable(t *testing.T) {
	c := MustNew("LATIN1", "")
	_, err := c.EncodeValue("price in €")
	require.Error(t, err)

	c = MustNew("WIN1252", "")
	body, err := c.EncodeValue("price in €")
	require.NoError(t, err)
	got, err := c.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "price in €", got)
}

func TestCodec_FormatText(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want string
	}{
		{in: 42, want: "42"},
		{in: int64(-7), want: "-7"},
		{in: 10.5, want: "10.5"},
		{in: true, want: "true"},
		{in: decimal.New(1050, -2), want: "10.5"},
		{in: ts, want: "2024-03-01T10:30:00Z"},
		{in: []byte{0xde, 0xad}, want: `\xdead`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatText(tt.in))
	}
}

func TestCodec_LocaleDecimalSeparator(t *testing.T) {
	en := MustNew("UTF8", "en-US")
	assert.Equal(t, ".", en.DecimalSeparator())
	assert.Equal(t, "10.00", en.NormalizeNumber("10.00"))

	de := MustNew("UTF8", "de-DE")
	assert.Equal(t, ",", de.DecimalSeparator())
	assert.Equal(t, "10.50", de.NormalizeNumber("10,50"))
	assert.Equal(t, "10.50", de.NormalizeNumber("10.50"))
}

func TestCodec_RejectsUnknownEncoding(t *testing.T) {
	_, err := New("EBCDIC", "")
	require.Error(t, err)
	_, err = New("UTF8", "not a locale!")
	require.Error(t, err)
}
