package record

import (
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"
)

// Value is a sealed interface over the cell values a location cache can hold.
// Only Null, String, Int, Float, Bool, Bytes, Array, and Object implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents a SQL NULL or an empty export cell.
type Null struct{}

func (Null) value() {}

// String represents a text cell.
type String string

func (String) value() {}

// Int represents an integer cell.
type Int int64

func (Int) value() {}

// Float represents a real-valued cell.
type Float float64

func (Float) value() {}

// Bool represents a boolean value. Only produced when building payloads.
type Bool bool

func (Bool) value() {}

// Bytes represents a BLOB cell.
type Bytes []byte

func (Bytes) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Object maps string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// FromDriver converts a database/sql driver value into a Value.
//
// mattn/go-sqlite3 yields int64, float64, string, []byte, bool, time.Time or nil.
// time.Time only appears when a column's declared type is DATE/DATETIME/TIMESTAMP;
// it is mapped back to the Unix seconds the driver decoded it from.
func FromDriver(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case int64:
		return Int(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case float32:
		return Float(val), nil
	case string:
		return String(val), nil
	case []byte:
		// Copy: the driver may reuse its buffer on the next scan.
		return Bytes(slices.Clone(val)), nil
	case bool:
		return Bool(val), nil
	case time.Time:
		return Int(val.Unix()), nil
	default:
		return nil, fmt.Errorf("unsupported driver value type: %T", v)
	}
}

// Numeric returns v as a float64. Strings are parsed; Null reports ok=false
// with a nil error; anything else non-numeric returns an error.
func Numeric(v Value) (f float64, ok bool, err error) {
	switch val := v.(type) {
	case nil, Null:
		return 0, false, nil
	case Int:
		return float64(val), true, nil
	case Float:
		return float64(val), true, nil
	case String:
		if val == "" {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			return 0, false, fmt.Errorf("not a number: %q", string(val))
		}
		return f, true, nil
	default:
		return 0, false, fmt.Errorf("not a number: %T", v)
	}
}

// Text renders v as plain text. The rendering is locale independent and
// stable across runs: floats use the shortest representation that round-trips,
// blobs are hex encoded, and Null renders as the empty string.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Bytes:
		return hex.EncodeToString(val)
	case Array, Object:
		b, err := MarshalCanonical(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
