package metastore

import (
	"fmt"
	"math"
	"strconv"
)

// Kind tells which of the two scalar spaces a Value lives in.
type Kind uint8

const (
	// KindNone is the kind of the zero Value, which doubles as the erase marker.
	KindNone Kind = iota
	KindString
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

// IsNumeric reports whether values of this kind are stored in the numeric space.
func (k Kind) IsNumeric() bool {
	return k == KindNumber
}

func kindOf(isNumeric bool) Kind {
	if isNumeric {
		return KindNumber
	}
	return KindString
}

// Value is a string or a number. Values are comparable and can be used as map
// keys. The zero Value is Erase.
type Value struct {
	kind Kind
	s    string
	n    float64
}

// Erase, used as an attribute value in Define, removes the attribute.
var Erase = Value{}

func Str(s string) Value {
	return Value{kind: KindString, s: s}
}

func Num(n float64) Value {
	if n == 0 {
		n = 0 // fold -0 so both zeroes intern to the same row
	}
	return Value{kind: KindNumber, n: n}
}

func Int(n int64) Value {
	return Num(float64(n))
}

// ParseValue converts an untyped Go scalar. nil becomes Erase.
func ParseValue(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Erase, nil
	case Value:
		return v, nil
	case string:
		return Str(v), nil
	case []byte:
		return Str(string(v)), nil
	case float64:
		return Num(v), nil
	case float32:
		return Num(float64(v)), nil
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint:
		return Num(float64(v)), nil
	case uint8:
		return Num(float64(v)), nil
	case uint16:
		return Num(float64(v)), nil
	case uint32:
		return Num(float64(v)), nil
	case uint64:
		return Num(float64(v)), nil
	case bool:
		if v {
			return Int(1), nil
		}
		return Int(0), nil
	default:
		return Erase, fmt.Errorf("metastore: unsupported value type %T", v)
	}
}

func MustParseValue(v any) Value {
	return must(ParseValue(v))
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsErase() bool {
	return v.kind == KindNone
}

func (v Value) IsNumeric() bool {
	return v.kind == KindNumber
}

// Text returns the string payload; empty for numbers.
func (v Value) Text() string {
	return v.s
}

// Number returns the numeric payload; zero for strings.
func (v Value) Number() float64 {
	return v.n
}

// Interface returns string, float64 or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return v.n
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNumber:
		return formatNumber(v.n)
	default:
		return "<erase>"
	}
}

// GoString quotes strings so that logs tell "1" from 1.
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.s)
	case KindNumber:
		return formatNumber(v.n)
	default:
		return "Erase"
	}
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// sqlArg is the representation handed to the SQL driver.
func (v Value) sqlArg() any {
	return v.Interface()
}
