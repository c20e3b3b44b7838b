package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDecay_HalvesAtHalfLife(t *testing.T) {
	now := time.Now()
	relations := []Relation{{
		RelationType: "knows",
		Confidence:   0.8,
		CreatedAt:    now.AddDate(0, 0, -30),
	}}

	applyDecay(relations, DecayOptions{HalfLifeDays: 30, MinFloor: 0.1}, now)

	assert.InDelta(t, 0.4, relations[0].Confidence, 1e-6)
	require.NotNil(t, relations[0].DecayMetadata)
	assert.InDelta(t, 0.8, relations[0].DecayMetadata.OriginalConfidence, 1e-9)
	assert.InDelta(t, 30, relations[0].DecayMetadata.AgeDays, 0.01)
}

func TestApplyDecay_ClampsToFloor(t *testing.T) {
	now := time.Now()
	relations := []Relation{{
		Confidence: 0.9,
		CreatedAt:  now.AddDate(-2, 0, 0),
	}}

	applyDecay(relations, DecayOptions{HalfLifeDays: 30, MinFloor: 0.1}, now)

	assert.InDelta(t, 0.1, relations[0].Confidence, 1e-9)
}

func TestApplyDecay_FreshRelationUntouched(t *testing.T) {
	now := time.Now()
	relations := []Relation{{
		Confidence: 0.95,
		CreatedAt:  now,
	}}

	applyDecay(relations, DecayOptions{HalfLifeDays: 30, MinFloor: 0.1}, now)

	assert.InDelta(t, 0.95, relations[0].Confidence, 1e-9)
	assert.Zero(t, relations[0].DecayMetadata.AgeDays)
}

func TestApplyDecay_FutureCreatedAtTreatedAsZeroAge(t *testing.T) {
	now := time.Now()
	relations := []Relation{{
		Confidence: 0.5,
		CreatedAt:  now.Add(time.Hour),
	}}

	applyDecay(relations, DecayOptions{HalfLifeDays: 30, MinFloor: 0.1}, now)

	assert.InDelta(t, 0.5, relations[0].Confidence, 1e-9)
}
