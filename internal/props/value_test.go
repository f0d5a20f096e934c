package props

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBag_UnmarshalJSON_Scalars(t *testing.T) {
	var b Bag
	err := json.Unmarshal([]byte(`{"s":"x","i":42,"f":1.5,"e":2e3,"t":true,"n":null}`), &b)
	require.NoError(t, err)

	assert.Equal(t, String("x"), b["s"])
	assert.Equal(t, Int(42), b["i"])
	assert.Equal(t, Float(1.5), b["f"])
	assert.Equal(t, Float(2000), b["e"])
	assert.Equal(t, Bool(true), b["t"])
	assert.Equal(t, Null{}, b["n"])
}

func TestBag_UnmarshalJSON_RejectsNested(t *testing.T) {
	var b Bag
	err := json.Unmarshal([]byte(`{"tags":["a","b"]}`), &b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tags")

	err = json.Unmarshal([]byte(`{"obj":{"a":1}}`), &b)
	require.Error(t, err)
}

func TestBag_UnmarshalJSON_LargeInt(t *testing.T) {
	var b Bag
	err := json.Unmarshal([]byte(`{"big":9007199254740993}`), &b)
	require.NoError(t, err)
	assert.Equal(t, Int(9007199254740993), b["big"])
}

func TestBag_SortedKeys_UTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) and sorts before U+FF21
	// in UTF-16, but after it in UTF-8.
	b := NewBag(P("\uFF21", Int(1)), P("\U0001F600", Int(2)), P("a", Int(3)))
	assert.Equal(t, []string{"a", "\U0001F600", "\uFF21"}, b.SortedKeys())
}

func TestBag_Merge(t *testing.T) {
	base := NewBag(P("a", Int(1)), P("b", String("x")))
	merged := base.Merge(NewBag(P("b", Null{}), P("c", Bool(true))))

	assert.Equal(t, NewBag(P("a", Int(1)), P("b", Null{}), P("c", Bool(true))), merged)
	// base is untouched
	assert.Equal(t, String("x"), base["b"])
}

func TestBag_Equal(t *testing.T) {
	a := NewBag(P("x", Int(1)), P("y", Float(2.5)))
	b := NewBag(P("y", Float(2.5)), P("x", Int(1)))
	assert.True(t, a.Equal(b))

	b["x"] = Float(1)
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(Bag{}))
}

func TestFromAny(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"string", "s", String("s")},
		{"int", 7, Int(7)},
		{"int64", int64(-3), Int(-3)},
		{"float", 0.25, Float(0.25)},
		{"bool", false, Bool(false)},
		{"nil", nil, Null{}},
		{"json number int", json.Number("12"), Int(12)},
		{"json number float", json.Number("1.25"), Float(1.25)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromAny_Rejects(t *testing.T) {
	_, err := FromAny([]any{1})
	assert.Error(t, err)

	_, err = FromAny(map[string]any{"a": 1})
	assert.Error(t, err)

	_, err = FromAny(math.Inf(1))
	assert.Error(t, err)
}

func TestBagFromMap(t *testing.T) {
	b, err := BagFromMap(map[string]any{"id": "c1", "age": 40})
	require.NoError(t, err)
	assert.Equal(t, NewBag(P("id", String("c1")), P("age", Int(40))), b)

	_, err = BagFromMap(map[string]any{"bad": []string{"x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "string", Kind(String("")))
	assert.Equal(t, "int", Kind(Int(0)))
	assert.Equal(t, "float", Kind(Float(0)))
	assert.Equal(t, "bool", Kind(Bool(false)))
	assert.Equal(t, "null", Kind(Null{}))
}
