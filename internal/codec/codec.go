package codec

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// NullText is what a NULL column value decodes to.
const NullText = "null"

var encodings = map[string]encoding.Encoding{
	"UTF8":    unicode.UTF8,
	"LATIN1":  charmap.ISO8859_1,
	"WIN1252": charmap.Windows1252,
}

// Codec converts single column values to and from their textual wire form.
type Codec struct {
	name       string
	enc        encoding.Encoding
	locale     language.Tag
	decimalSep string
}

// New returns a Codec for a server encoding name (UTF8, LATIN1, WIN1252) and
// a BCP 47 locale used for number parsing. Empty values mean UTF8 and "en".
func New(encodingName, locale string) (*Codec, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(encodingName), "-", ""))
	if name == "" {
		name = "UTF8"
	}
	enc, ok := encodings[name]
	if !ok {
		return nil, fmt.Errorf("unsupported text encoding %q", encodingName)
	}
	tag := language.English
	if locale != "" {
		parsed, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("parse locale %q: %w", locale, err)
		}
		tag = parsed
	}
	return &Codec{
		name:       name,
		enc:        enc,
		locale:     tag,
		decimalSep: decimalSeparator(tag),
	}, nil
}

// MustNew is New for static configuration in tests and defaults.
func MustNew(encodingName, locale string) *Codec {
	c, err := New(encodingName, locale)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Codec) Name() string         { return c.name }
func (c *Codec) Locale() language.Tag { return c.locale }

// DecimalSeparator is the locale's fractional separator.
func (c *Codec) DecimalSeparator() string { return c.decimalSep }

// EncodeValue serializes v as its text representation in the configured
// encoding. A nil value yields a nil body.
func (c *Codec) EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	text := FormatText(v)
	body, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode %q as %s: %w", text, c.name, err)
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

// Decode returns the text carried by body. A nil body decodes to "null".
func (c *Codec) Decode(body []byte) (string, error) {
	if body == nil {
		return NullText, nil
	}
	out, err := c.enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", c.name, err)
	}
	return string(out), nil
}

// NormalizeNumber rewrites the locale decimal separator to '.'.
func (c *Codec) NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if c.decimalSep == "." || !strings.Contains(s, c.decimalSep) {
		return s
	}
	return strings.Replace(s, c.decimalSep, ".", 1)
}

// FormatText renders a scalar the way the server's text cast would.
func FormatText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return `\x` + hex.EncodeToString(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func decimalSeparator(tag language.Tag) string {
	s := message.NewPrinter(tag).Sprint(number.Decimal(1.5))
	i := strings.IndexRune(s, '1')
	j := strings.LastIndex(s, "5")
	if i < 0 || j <= i+1 {
		return "."
	}
	return s[i+1 : j]
}
