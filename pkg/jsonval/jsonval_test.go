package jsonval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_Scalars(t *testing.T) {
	assert.Nil(t, Serialize(nil))
	assert.Equal(t, true, Serialize(true))
	assert.Equal(t, "hello", Serialize("hello"))
	assert.Equal(t, 3.5, Serialize(3.5))
}

func TestSerialize_BigIntegers(t *testing.T) {
	assert.Equal(t, "123456789012345", Serialize(int64(123456789012345)))
	assert.Equal(t, "-7", Serialize(-7))
	assert.Equal(t, "18446744073709551615", Serialize(uint64(18446744073709551615)))
}

func TestSerialize_ArraysOfBigIntegers(t *testing.T) {
	in := []any{int64(1), int64(2), int64(9223372036854775807)}
	out := Serialize(in)
	require.Equal(t, []Value{"1", "2", "9223372036854775807"}, out)
}

func TestSerialize_NestedObjects(t *testing.T) {
	in := map[string]any{
		"a": int64(1),
		"b": map[string]any{"c": "x", "d": nil},
		"e": []any{true, int64(2)},
	}
	out := Serialize(in).(map[string]Value)
	assert.Equal(t, "1", out["a"])
	nested := out["b"].(map[string]Value)
	assert.Equal(t, "x", nested["c"])
	assert.Nil(t, nested["d"])
	arr := out["e"].([]Value)
	assert.Equal(t, true, arr[0])
	assert.Equal(t, "2", arr[1])
}

func TestSerialize_UnsupportedBecomesNil(t *testing.T) {
	ch := make(chan int)
	assert.Nil(t, Serialize(ch))
}

func TestSerialize_Idempotent(t *testing.T) {
	in := map[string]any{
		"n": int64(42),
		"l": []any{int64(1), "x", nil, true},
	}
	once := Serialize(in)
	twice := Serialize(once)
	assert.True(t, DeepEqual(once, twice))
}

func TestOrderedMap_PreservesInsertionOrder(t *testing.T) {
	m := NewOrderedMap()
	m.Set("z", 1)
	m.Set("a", 2)
	m.Set("z", 3) // overwrite keeps position
	assert.Equal(t, []string{"z", "a"}, m.Keys())

	out := Serialize(m).(map[string]Value)
	assert.Equal(t, "3", out["z"])
}

func TestDeepEqual(t *testing.T) {
	a := Serialize(map[string]any{"x": int64(1), "y": []any{"a", "b"}})
	b := Serialize(map[string]any{"x": int64(1), "y": []any{"a", "b"}})
	c := Serialize(map[string]any{"x": int64(2), "y": []any{"a", "b"}})

	assert.True(t, DeepEqual(a, b))
	assert.False(t, DeepEqual(a, c))
}
