package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNativeScalars(t *testing.T) {
	tbl := []struct {
		in   any
		want Value
	}{
		{nil, Nil{}},
		{true, Bool(true)},
		{42, Int(42)},
		{int32(-7), Int(-7)},
		{uint16(9), Int(9)},
		{1.5, Double(1.5)},
		{float32(0.25), Double(0.25)},
		{"Acme", String("Acme")},
		{[]byte{1, 2}, Bytes{1, 2}},
		{time.Date(2024, 3, 5, 10, 4, 5, 0, time.UTC), String("2024-03-05 10:04:05")},
		{Int(3), Int(3)},
	}
	for _, tt := range tbl {
		got, err := FromNative(tt.in)
		require.NoError(t, err, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestFromNativeCollections(t *testing.T) {
	t.Run("slice is array", func(t *testing.T) {
		got, err := FromNative([]any{1, "ok"})
		require.NoError(t, err)
		assert.Equal(t, Array{Int(1), String("ok")}, got)
	})

	t.Run("typed slice is array", func(t *testing.T) {
		got, err := FromNative([]int64{4, 5})
		require.NoError(t, err)
		assert.Equal(t, Array{Int(4), Int(5)}, got)
	})

	t.Run("empty slice is struct", func(t *testing.T) {
		got, err := FromNative([]any{})
		require.NoError(t, err)
		assert.Equal(t, &Struct{}, got)

		got, err = FromNative([]string{})
		require.NoError(t, err)
		assert.Equal(t, &Struct{}, got)
	})

	t.Run("empty map is struct", func(t *testing.T) {
		got, err := FromNative(map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, &Struct{}, got)

		got, err = FromNative(map[int]any{})
		require.NoError(t, err)
		assert.Equal(t, &Struct{}, got)
	})

	t.Run("string keys sorted", func(t *testing.T) {
		got, err := FromNative(map[string]any{"name": "Acme", "active": true})
		require.NoError(t, err)
		assert.Equal(t, NewStruct(
			Member{Name: "active", Value: Bool(true)},
			Member{Name: "name", Value: String("Acme")},
		), got)
	})

	t.Run("contiguous int keys are array", func(t *testing.T) {
		got, err := FromNative(map[int]any{1: "b", 0: "a", 2: "c"})
		require.NoError(t, err)
		assert.Equal(t, Array{String("a"), String("b"), String("c")}, got)
	})

	t.Run("sparse int keys are struct", func(t *testing.T) {
		got, err := FromNative(map[int]string{0: "a", 2: "c"})
		require.NoError(t, err)
		assert.Equal(t, NewStruct(
			Member{Name: "0", Value: String("a")},
			Member{Name: "2", Value: String("c")},
		), got)
	})

	t.Run("interface keys", func(t *testing.T) {
		got, err := FromNative(map[any]any{1: "b", 0: "a", uint8(2): "c"})
		require.NoError(t, err)
		assert.Equal(t, Array{String("a"), String("b"), String("c")}, got)

		got, err = FromNative(map[any]any{"a": 1, 2: true})
		require.NoError(t, err)
		assert.Equal(t, NewStruct(
			Member{Name: "2", Value: Bool(true)},
			Member{Name: "a", Value: Int(1)},
		), got)

		got, err = FromNative(map[any]any{0: "a", 2: "c"})
		require.NoError(t, err)
		assert.Equal(t, NewStruct(
			Member{Name: "0", Value: String("a")},
			Member{Name: "2", Value: String("c")},
		), got)

		got, err = FromNative(map[any]any{})
		require.NoError(t, err)
		assert.Equal(t, &Struct{}, got)

		_, err = FromNative(map[any]any{1: "x", "1": "y"})
		assert.Error(t, err)
	})

	t.Run("nested", func(t *testing.T) {
		got, err := FromNative([]any{map[string]any{"name": "Acme", "tags": []any{1, 2}}})
		require.NoError(t, err)
		assert.Equal(t, Array{NewStruct(
			Member{Name: "name", Value: String("Acme")},
			Member{Name: "tags", Value: Array{Int(1), Int(2)}},
		)}, got)
	})
}

func TestFromNativeErrors(t *testing.T) {
	_, err := FromNative(struct{ A int }{A: 1})
	assert.Error(t, err)

	_, err = FromNative(map[float64]any{1: "x"})
	assert.Error(t, err)

	_, err = FromNative(uint64(1 << 63))
	assert.Error(t, err)

	_, err = FromNative([]any{1, make(chan int)})
	assert.ErrorContains(t, err, "item 1")
}

func TestToNative(t *testing.T) {
	v := NewStruct(
		Member{Name: "id", Value: Int(7)},
		Member{Name: "ratio", Value: Double(0.5)},
		Member{Name: "tags", Value: Array{String("a"), Bool(false)}},
		Member{Name: "parent", Value: Nil{}},
		Member{Name: "blob", Value: Bytes("raw")},
	)
	assert.Equal(t, map[string]any{
		"id":     int64(7),
		"ratio":  0.5,
		"tags":   []any{"a", false},
		"parent": nil,
		"blob":   []byte("raw"),
	}, ToNative(v))
}

func TestStructAccess(t *testing.T) {
	s := NewStruct()
	assert.Equal(t, 0, s.Len())

	s.Set("a", Int(1)).Set("b", Int(2)).Set("a", Int(3))
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, Int(3), v)

	_, ok = s.Get("missing")
	assert.False(t, ok)

	var empty *Struct
	assert.Equal(t, 0, empty.Len())
	_, ok = empty.Get("a")
	assert.False(t, ok)
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(Int(2)))
	assert.True(t, Truthy(String("x")))
	assert.True(t, Truthy(Array{Nil{}}))
	assert.False(t, Truthy(Int(0)))
	assert.False(t, Truthy(Bool(false)))
	assert.False(t, Truthy(Nil{}))
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(&Struct{}))
}

func TestCallLabel(t *testing.T) {
	c := Call{Model: "res.partner", Method: "create"}
	assert.Equal(t, "res.partner.create", c.Label())
	assert.Equal(t, "struct", KindStruct.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
