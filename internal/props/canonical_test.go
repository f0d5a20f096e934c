package props

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortedCompact(t *testing.T) {
	b := NewBag(P("z", Int(1)), P("a", String("x")), P("m", Bool(false)))

	got, err := MarshalCanonical(b)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","m":false,"z":1}`, string(got))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := MarshalCanonical(NewBag(P("k", String("<a&b>"))))
	require.NoError(t, err)
	assert.Equal(t, `{"k":"<a&b>"}`, string(got))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	got, err := MarshalCanonical(NewBag(P("k", String("e\u0301"))))
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"\u00e9\"}", string(got))
}

func TestMarshalCanonical_LineSeparatorsLiteral(t *testing.T) {
	got, err := MarshalCanonical(NewBag(P("k", String("a\u2028b"))))
	require.NoError(t, err)
	assert.Equal(t, "{\"k\":\"a\u2028b\"}", string(got))

	// An escaped backslash followed by the text u2028 stays escaped.
	got, err = MarshalCanonical(NewBag(P("k", String(`\u2028`))))
	require.NoError(t, err)
	assert.Equal(t, `{"k":"\\u2028"}`, string(got))
}

func TestMarshalValue_Floats(t *testing.T) {
	tests := []struct {
		in   Float
		want string
	}{
		{1.5, "1.5"},
		{100, "100.0"},
		{-0.001, "-0.001"},
		{1e21, "1e+21"},
	}
	for _, tt := range tests {
		got, err := MarshalValue(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}

	_, err := MarshalValue(Float(math.NaN()))
	assert.Error(t, err)
}

func TestMarshalCanonical_RoundTripKeepsKinds(t *testing.T) {
	in := NewBag(P("f", Float(3)), P("i", Int(3)), P("n", Null{}))
	data, err := MarshalCanonical(in)
	require.NoError(t, err)

	var out Bag
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := NewBag(P("x", Int(1)), P("y", Int(2)))
	b := NewBag(P("y", Int(2)), P("x", Int(1)))

	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)
}

func TestDigest_Distinct(t *testing.T) {
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
}
