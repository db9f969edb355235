package materializer

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tabledep/internal/codec"
)

type converter func(text string) (reflect.Value, error)

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	bytesType   = reflect.TypeOf([]byte(nil))
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

func converterFor(t reflect.Type, c *codec.Codec) (converter, bool) {
	switch t {
	case timeType:
		return func(s string) (reflect.Value, error) {
			ts, err := parseTime(s)
			return reflect.ValueOf(ts), err
		}, true
	case decimalType:
		return func(s string) (reflect.Value, error) {
			d, err := decimal.NewFromString(c.NormalizeNumber(s))
			return reflect.ValueOf(d), err
		}, true
	case bytesType:
		return func(s string) (reflect.Value, error) {
			if rest, ok := strings.CutPrefix(s, `\x`); ok {
				b, err := hex.DecodeString(rest)
				return reflect.ValueOf(b), err
			}
			return reflect.ValueOf([]byte(s)), nil
		}, true
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, ok := converterFor(t.Elem(), c)
		if !ok {
			return nil, false
		}
		return func(s string) (reflect.Value, error) {
			v, err := elem(s)
			if err != nil {
				return reflect.Value{}, err
			}
			p := reflect.New(t.Elem())
			p.Elem().Set(v)
			return p, nil
		}, true
	case reflect.String:
		return func(s string) (reflect.Value, error) {
			return reflect.ValueOf(s).Convert(t), nil
		}, true
	case reflect.Bool:
		return func(s string) (reflect.Value, error) {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			return reflect.ValueOf(b).Convert(t), err
		}, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(s string) (reflect.Value, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, t.Bits())
			return reflect.ValueOf(n).Convert(t), err
		}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(s string) (reflect.Value, error) {
			n, err := strconv.ParseUint(strings.TrimSpace(s), 10, t.Bits())
			return reflect.ValueOf(n).Convert(t), err
		}, true
	case reflect.Float32, reflect.Float64:
		return func(s string) (reflect.Value, error) {
			f, err := strconv.ParseFloat(c.NormalizeNumber(s), t.Bits())
			return reflect.ValueOf(f).Convert(t), err
		}, true
	}
	return nil, false
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
