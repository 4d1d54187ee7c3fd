package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringList_MarshalNeverNull(t *testing.T) {
	var nilList StringList
	b, err := json.Marshal(nilList)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))

	b, err = json.Marshal(StringList{"a", "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(b))
}

func TestStringList_ScanNormalizes(t *testing.T) {
	var s StringList
	require.NoError(t, s.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, StringList{"a", "b"}, s)

	// Double-encoded: a JSON string that itself holds the array
	var d StringList
	require.NoError(t, d.Scan(`"[\"a\",\"b\"]"`))
	assert.Equal(t, StringList{"a", "b"}, d)

	var empty StringList
	require.NoError(t, empty.Scan(nil))
	assert.Empty(t, empty)

	var bad StringList
	assert.Error(t, bad.Scan(42))
}

func TestStringList_UnmarshalBothShapes(t *testing.T) {
	var s StringList
	require.NoError(t, json.Unmarshal([]byte(`["x"]`), &s))
	assert.Equal(t, StringList{"x"}, s)

	var d StringList
	require.NoError(t, json.Unmarshal([]byte(`"[\"x\",\"y\"]"`), &d))
	assert.Equal(t, StringList{"x", "y"}, d)
}

func TestStringList_SetHelpers(t *testing.T) {
	s := StringList{"a", "b", "c"}
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("z"))
	assert.True(t, s.ContainsAll(StringList{"a", "c"}))
	assert.False(t, s.ContainsAll(StringList{"a", "z"}))
	assert.Equal(t, StringList{"b"}, s.Without(StringList{"a", "c"}))
	assert.Equal(t, StringList{"a", "b", "c"}, s.Without(nil))
}
