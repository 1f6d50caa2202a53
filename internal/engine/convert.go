package engine

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// TypeTag names the target type of a conversion. The zero value means
// pass-through.
type TypeTag string

// Recognised type tags.
const (
	TypeNone   TypeTag = ""
	TypeBool   TypeTag = "bool"
	TypeString TypeTag = "str"
	TypeInt    TypeTag = "int"
	TypeFloat  TypeTag = "float"
	TypeBytes  TypeTag = "bytes"
)

// typeAliases maps every accepted spelling to its canonical tag.
var typeAliases = map[string]TypeTag{
	"":              TypeNone,
	"none":          TypeNone,
	"bool":          TypeBool,
	"boolean":       TypeBool,
	"str":           TypeString,
	"string":        TypeString,
	"int":           TypeInt,
	"integer":       TypeInt,
	"float":         TypeFloat,
	"double":        TypeFloat,
	"bytes":         TypeBytes,
	"byte-sequence": TypeBytes,
}

// ParseTypeTag returns the canonical tag for name (case-insensitive).
func ParseTypeTag(name string) (TypeTag, error) {
	tag, ok := typeAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return TypeNone, fmt.Errorf("unknown type %q", name)
	}
	return tag, nil
}

// ConversionFailure is the sentinel placed in a record field whose
// conversion failed. Outputs render it with String.
type ConversionFailure struct {
	Value  any
	Target TypeTag
}

// ConversionFailureMarker is the text rendering of a ConversionFailure.
const ConversionFailureMarker = "#CONVERSION_ERROR"

func (ConversionFailure) String() string { return ConversionFailureMarker }

// errNotNumeric and friends describe why a conversion failed.
var (
	errNotNumeric  = errors.New("not numeric")
	errNotIntegral = errors.New("not an integral value")
	errNotBoolean  = errors.New("not a boolean literal")
	errUnsupported = errors.New("unsupported value type")
	errOutOfRange  = errors.New("out of int64 range")
	errUnknownTag  = errors.New("unknown type tag")
)

// int64Bound is 2^63, the first float64 outside the int64 range.
const int64Bound = 1 << 63

// converters is the closed set of conversion functions keyed by tag.
var converters = map[TypeTag]func(any) (any, error){
	TypeBool:   toBool,
	TypeString: toString,
	TypeInt:    toInt,
	TypeFloat:  toFloat,
	TypeBytes:  toBytes,
}

// Convert converts v to the type named by tag.
//
// nil is returned unchanged for every tag, and TypeNone returns v
// unchanged. Conversions never truncate or guess: a value that does not
// represent the target type exactly returns an error.
func Convert(v any, tag TypeTag) (any, error) {
	v = Normalize(v)
	if v == nil || tag == TypeNone {
		return v, nil
	}
	fn, ok := converters[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownTag, tag)
	}
	return fn(v)
}

// Normalize maps Go numeric types onto the engine's value domain
// (int64, float64). Other values are returned unchanged.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return uint64ToValue(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return uint64ToValue(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

func uint64ToValue(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}
	return int64(u)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		switch x {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case float64:
		switch x {
		case 1:
			return true, nil
		case 0:
			return false, nil
		}
	case string:
		return parseBool(x)
	case []byte:
		return parseBool(string(x))
	default:
		return nil, errUnsupported
	}
	return nil, errNotBoolean
}

func parseBool(s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return nil, errNotBoolean
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return floatToInt(x)
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return parseInt(x)
	case []byte:
		return parseInt(string(x))
	default:
		return nil, errUnsupported
	}
}

func parseInt(s string) (any, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, errNotNumeric
	}
	return floatToInt(f)
}

func floatToInt(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, errNotIntegral
	}
	if f >= int64Bound || f < -int64Bound {
		return nil, errOutOfRange
	}
	return int64(f), nil
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return 1.0, nil
		}
		return 0.0, nil
	case string:
		return parseFloat(x)
	case []byte:
		return parseFloat(string(x))
	default:
		return nil, errUnsupported
	}
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, errNotNumeric
	}
	return f, nil
}

func toString(v any) (any, error) {
	switch v.(type) {
	case bool, int64, float64, string, []byte:
		return FormatValue(v), nil
	default:
		return nil, errUnsupported
	}
}

func toBytes(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		return []byte(x), nil
	case bool, int64, float64:
		return []byte(FormatValue(x)), nil
	default:
		return nil, errUnsupported
	}
}

// FormatValue returns the canonical text form of a value.
//
// Floats use the shortest representation that round-trips and keep a
// trailing ".0" when integral, so 1.0 renders as "1.0" and never as "1".
// nil renders as the empty string.
func FormatValue(v any) string {
	switch x := Normalize(v).(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(s, ".eEnN") { // n and N cover Inf and NaN
		return s
	}
	return s + ".0"
}
