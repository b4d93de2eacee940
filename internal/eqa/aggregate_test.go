package eqa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(ind int, rel float64, pred []float64) StepRecord {
	return StepRecord{
		Step:       ind,
		SmxVLMPred: pred,
		SmxVLMRel:  []float64{rel, 1 - rel},
	}
}

func TestAggregate_WeightedRule(t *testing.T) {
	steps := []StepRecord{
		step(0, 0.2, []float64{0.1, 0.1, 0.1, 0.7}),
		step(1, 0.9, []float64{0.6, 0.1, 0.1, 0.2}),
	}

	v := Aggregate(steps, "A")

	// Elementwise max of the relevance-scaled rows:
	// step 0 scaled: [0.02, 0.02, 0.02, 0.14]
	// step 1 scaled: [0.54, 0.09, 0.09, 0.18]
	assert.Equal(t, "A", v.PredWeighted)
	assert.True(t, v.Summary.SuccessWeighted)
}

func TestAggregate_MaxRelevanceRule(t *testing.T) {
	steps := []StepRecord{
		step(0, 0.2, []float64{0.1, 0.1, 0.1, 0.7}),
		step(1, 0.9, []float64{0.6, 0.1, 0.1, 0.2}),
	}

	v := Aggregate(steps, "A")

	require.NotEmpty(t, v.RelevanceOrder)
	assert.Equal(t, 1, v.RelevanceOrder[0])
	assert.Equal(t, "A", v.PredMax)
	assert.True(t, v.Summary.SuccessMax)
}

func TestAggregate_RulesCanDisagree(t *testing.T) {
	// The highest-relevance step answers D, but a slightly less relevant
	// step's strong B dominates the elementwise maximum.
	steps := []StepRecord{
		step(0, 0.8, []float64{0.05, 0.9, 0.03, 0.02}),
		step(1, 0.9, []float64{0.1, 0.1, 0.1, 0.7}),
	}

	v := Aggregate(steps, "B")

	assert.Equal(t, "B", v.PredWeighted)
	assert.Equal(t, "D", v.PredMax)
	assert.True(t, v.Summary.SuccessWeighted)
	assert.False(t, v.Summary.SuccessMax)
}

func TestAggregate_RelevanceTieGoesToEarliestStep(t *testing.T) {
	steps := []StepRecord{
		step(0, 0.5, []float64{0.7, 0.1, 0.1, 0.1}),
		step(1, 0.5, []float64{0.1, 0.7, 0.1, 0.1}),
	}

	v := Aggregate(steps, "A")

	assert.Equal(t, 0, v.RelevanceOrder[0])
	assert.Equal(t, "A", v.PredMax)
}

func TestAggregate_FallbackOnlyEpisode(t *testing.T) {
	steps := []StepRecord{
		{Step: 0, SmxVLMPred: FallbackPred(), SmxVLMRel: FallbackRel()},
	}

	v := Aggregate(steps, "C")

	// A uniform prediction argmaxes to the first letter.
	assert.Equal(t, "A", v.PredWeighted)
	assert.Equal(t, "A", v.PredMax)
	assert.False(t, v.Summary.SuccessWeighted)
	assert.False(t, v.Summary.SuccessMax)
}

func TestAggregate_EmptySteps(t *testing.T) {
	v := Aggregate(nil, "A")
	assert.Empty(t, v.PredWeighted)
	assert.False(t, v.Summary.SuccessWeighted)
}

func TestTopRelevances(t *testing.T) {
	steps := []StepRecord{
		step(0, 0.1, FallbackPred()),
		step(1, 0.9, FallbackPred()),
		step(2, 0.5, FallbackPred()),
	}
	v := Aggregate(steps, "A")

	top := v.TopRelevances(steps, 2)
	require.Len(t, top, 2)
	assert.Equal(t, 1, top[0].Step)
	assert.InDelta(t, 0.9, top[0].Relevance, 1e-12)
	assert.Equal(t, 2, top[1].Step)

	all := v.TopRelevances(steps, 10)
	assert.Len(t, all, 3)
}
