package props

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the scalar types a property bag may hold.
// Only Null, String, Int, Float and Bool implement it. Containers are
// rejected: property bags are flat key -> scalar maps.
type Value interface {
	propValue() // Sealed - only these types implement it
}

// Null represents an explicit JSON null.
// Using an explicit type keeps every bag entry non-nil.
type Null struct{}

func (Null) propValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string property.
type String string

func (String) propValue() {}

// Int is an integer property. Always int64.
type Int int64

func (Int) propValue() {}

// Float is a floating point property. NaN and infinities are rejected at
// serialization time.
type Float float64

func (Float) propValue() {}

// Bool is a boolean property.
type Bool bool

func (Bool) propValue() {}

// Kind returns the dictionary kind name for a value: "null", "string",
// "int", "float" or "bool".
func Kind(v Value) string {
	switch v.(type) {
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Bag is a property bag: string keys to scalar values.
// Use SortedKeys() for deterministic iteration.
type Bag map[string]Value

// Pair is a key-value pair for typed Bag construction.
type Pair struct {
	Key   string
	Value Value
}

// P is a shorthand for Pair.
// Example: NewBag(P("submitter_id", String("case-1")), P("age", Int(42)))
func P(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewBag creates a Bag from typed key-value pairs.
func NewBag(pairs ...Pair) Bag {
	b := make(Bag, len(pairs))
	for _, p := range pairs {
		b[p.Key] = p.Value
	}
	return b
}

// Clone returns a shallow copy. Values are immutable scalars so a shallow
// copy is a full copy.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge returns a new bag with patch overlaid on b. A Null in patch is
// stored as Null, not removed.
func (b Bag) Merge(patch Bag) Bag {
	out := b.Clone()
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// Equal reports whether two bags hold the same keys and values.
func (b Bag) Equal(other Bag) bool {
	if len(b) != len(other) {
		return false
	}
	for k, v := range b {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for astral planes.
func (b Bag) SortedKeys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

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

// UnmarshalJSON implements json.Unmarshaler for Bag.
// Numbers with a fraction or exponent become Float, other numbers Int.
func (b *Bag) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*b = make(Bag, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
		(*b)[k] = val
	}
	return nil
}

// MarshalJSON implements json.Marshaler with sorted keys. The output is
// the canonical form.
func (b Bag) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(b)
}

func unmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		var v bool
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return Bool(v), nil

	case 'n':
		return Null{}, nil

	case '[', '{':
		return nil, fmt.Errorf("nested values are not allowed in a property bag")

	default:
		return parseNumber(string(data))
	}
}

// parseNumber returns Int for integral literals and Float otherwise.
func parseNumber(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return Int(n), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %q", s)
	}
	return Float(f), nil
}

// FromAny converts a decoded YAML/JSON value to a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("non-finite number %v", val)
		}
		return Float(val), nil
	case float32:
		return FromAny(float64(val))
	case json.Number:
		return parseNumber(string(val))
	default:
		return nil, fmt.Errorf("unsupported property type %T", v)
	}
}

// BagFromMap converts a decoded map into a Bag.
func BagFromMap(m map[string]any) (Bag, error) {
	b := make(Bag, len(m))
	for k, v := range m {
		val, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		b[k] = val
	}
	return b, nil
}

// ToAny converts a Value back to a plain Go value.
func ToAny(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	default:
		return nil
	}
}

// ToMap converts a Bag into a plain map, e.g. for output formatting.
func (b Bag) ToMap() map[string]any {
	m := make(map[string]any, len(b))
	for k, v := range b {
		m[k] = ToAny(v)
	}
	return m
}
