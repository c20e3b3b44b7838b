package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeObservations(t *testing.T) {
	existing := []string{"likes coffee", "works remotely"}

	merged, added := mergeObservations(existing, []string{"works remotely", "plays chess", "likes coffee", "plays chess"})

	assert.Equal(t, []string{"likes coffee", "works remotely", "plays chess"}, merged)
	assert.Equal(t, []string{"plays chess"}, added)
}

func TestMergeObservations_NothingNew(t *testing.T) {
	merged, added := mergeObservations([]string{"a", "b"}, []string{"b", "a"})

	assert.Equal(t, []string{"a", "b"}, merged)
	assert.Empty(t, added)
}

func TestSubtractObservations(t *testing.T) {
	remaining := subtractObservations([]string{"a", "b", "c"}, []string{"b", "missing"})
	assert.Equal(t, []string{"a", "c"}, remaining)

	assert.Empty(t, subtractObservations([]string{"a"}, []string{"a"}))
}

func TestDedupeStrings_PreservesFirstOccurrenceOrder(t *testing.T) {
	assert.Equal(t, []string{"x", "y", "z"}, dedupeStrings([]string{"x", "y", "x", "z", "y"}))
}

func TestMetadata_RoundTrip(t *testing.T) {
	m := Metadata{
		"source":   String("conversation"),
		"weight":   Number(0.75),
		"verified": Bool(true),
		"tags":     Array([]Value{String("work"), String("go")}),
		"nested":   Object(map[string]Value{"depth": Number(2)}),
		"none":     Null(),
	}

	packed, err := m.encode()
	require.NoError(t, err)

	decoded, err := decodeMetadata(packed)
	require.NoError(t, err)

	s, ok := decoded["source"].AsString()
	assert.True(t, ok)
	assert.Equal(t, "conversation", s)

	n, ok := decoded["weight"].AsNumber()
	assert.True(t, ok)
	assert.InDelta(t, 0.75, n, 1e-9)

	b, ok := decoded["verified"].AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	arr, ok := decoded["tags"].AsArray()
	assert.True(t, ok)
	require.Len(t, arr, 2)

	obj, ok := decoded["nested"].AsObject()
	assert.True(t, ok)
	depth, _ := obj["depth"].AsNumber()
	assert.InDelta(t, 2.0, depth, 1e-9)

	assert.Equal(t, KindNull, decoded["none"].Kind())
}

func TestMetadata_EmptyEncodesToBlank(t *testing.T) {
	packed, err := Metadata{}.encode()
	require.NoError(t, err)
	assert.Empty(t, packed)

	decoded, err := decodeMetadata("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestMetadata_RejectsUnsupportedShape(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`"ok"`), &v)
	require.NoError(t, err)
	s, _ := v.AsString()
	assert.Equal(t, "ok", s)

	_, err = decodeMetadata(`{"broken":`)
	assert.Error(t, err)
}

func TestEntity_IsCurrent(t *testing.T) {
	e := Entity{}
	assert.True(t, e.IsCurrent())

	now := e.CreatedAt
	e.ValidTo = &now
	assert.False(t, e.IsCurrent())
}

func TestRelationInput_Defaults(t *testing.T) {
	assert.InDelta(t, 0.9, DefaultStrength, 1e-9)
	assert.InDelta(t, 0.95, DefaultConfidence, 1e-9)
}
