package eqa

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Verdict is the outcome of answer aggregation across an episode's steps.
type Verdict struct {
	Summary Summary
	// PredWeighted/PredMax are the answer letters chosen by each rule.
	PredWeighted string
	PredMax      string
	// RelevanceOrder lists step indices by descending relevance, ties
	// broken by earliest step; used for the top-3 diagnostic log line.
	RelevanceOrder []int
}

// Aggregate combines the per-step evidence into the two final answers.
//
// Weighted rule: scale each step's prediction distribution by the step's
// relevance, take the elementwise maximum over all steps, and answer with
// the argmax letter. Max-relevance rule: answer with the argmax of the
// single highest-relevance step's scaled distribution. The two rules are
// scored independently; disagreement is expected, not an error.
func Aggregate(steps []StepRecord, answer string) Verdict {
	var v Verdict
	if len(steps) == 0 {
		return v
	}

	n := len(AnswerLetters)
	maxVec := make([]float64, n)
	scaled := make([][]float64, len(steps))
	for i, s := range steps {
		rel := s.Relevance()
		row := make([]float64, n)
		for j := 0; j < n && j < len(s.SmxVLMPred); j++ {
			row[j] = rel * s.SmxVLMPred[j]
		}
		scaled[i] = row
		for j := range maxVec {
			if row[j] > maxVec[j] {
				maxVec[j] = row[j]
			}
		}
	}
	v.PredWeighted = AnswerLetters[floats.MaxIdx(maxVec)]
	v.Summary.SuccessWeighted = v.PredWeighted == answer

	v.RelevanceOrder = make([]int, len(steps))
	for i := range v.RelevanceOrder {
		v.RelevanceOrder[i] = i
	}
	// Stable sort keeps the earliest step first among equal relevances,
	// which makes the max-relevance rule deterministic under ties.
	sort.SliceStable(v.RelevanceOrder, func(a, b int) bool {
		return steps[v.RelevanceOrder[a]].Relevance() > steps[v.RelevanceOrder[b]].Relevance()
	})
	top := v.RelevanceOrder[0]
	v.PredMax = AnswerLetters[floats.MaxIdx(scaled[top])]
	v.Summary.SuccessMax = v.PredMax == answer
	return v
}

// TopRelevances returns up to k (step index, relevance) pairs in the
// aggregation's relevance order, for logging.
func (v Verdict) TopRelevances(steps []StepRecord, k int) []struct {
	Step      int
	Relevance float64
} {
	if k > len(v.RelevanceOrder) {
		k = len(v.RelevanceOrder)
	}
	out := make([]struct {
		Step      int
		Relevance float64
	}, k)
	for i := 0; i < k; i++ {
		out[i].Step = v.RelevanceOrder[i]
		out[i].Relevance = steps[v.RelevanceOrder[i]].Relevance()
	}
	return out
}
