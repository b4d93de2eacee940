package eqa

// AnswerLetters are the candidate labels for every question; the dataset
// always offers four choices.
var AnswerLetters = []string{"A", "B", "C", "D"}

// RelevanceLabels are the candidate labels for the "confident enough to
// answer now?" query; index 0 is the confident case.
var RelevanceLabels = []string{"Yes", "No"}

// FallbackPred is the prediction distribution recorded when a step's
// observation is invalid and scoring is skipped.
func FallbackPred() []float64 { return []float64{0.25, 0.25, 0.25, 0.25} }

// FallbackRel is the low-confidence relevance distribution recorded for
// skipped steps; it can never trigger the early stop.
func FallbackRel() []float64 { return []float64{0.01, 0.99} }

// Meta describes one episode's question.
type Meta struct {
	QuestionInd int    `json:"question_ind"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Scene       string `json:"scene"`
	Floor       string `json:"floor"`
	MaxSteps    int    `json:"max_steps"`
}

// StepRecord is the evidence of one exploration step. Records are
// append-only: once written they change only through the documented
// fallback on skipped steps.
type StepRecord struct {
	Step  int        `json:"step"`
	Pts   [3]float64 `json:"pts"` // simulator-frame position
	Angle float64    `json:"angle"`
	// SmxVLMPred is the scorer's distribution over the answer letters.
	SmxVLMPred []float64 `json:"smx_vlm_pred"`
	// SmxVLMRel is the scorer's confidence distribution; index 0 is the
	// probability the current view suffices to answer.
	SmxVLMRel []float64 `json:"smx_vlm_rel"`
}

// Relevance returns the step's confident probability.
func (s StepRecord) Relevance() float64 {
	if len(s.SmxVLMRel) == 0 {
		return 0
	}
	return s.SmxVLMRel[0]
}

// Summary holds the two independent success verdicts for an episode.
type Summary struct {
	SuccessWeighted bool `json:"success_weighted"`
	SuccessMax      bool `json:"success_max"`
}

// EpisodeResult is the full record of one question-answering attempt.
type EpisodeResult struct {
	Meta    Meta         `json:"meta"`
	Steps   []StepRecord `json:"step"`
	Summary Summary      `json:"summary"`
	// Error is set when the episode failed before producing a verdict,
	// e.g. when the navigation mesh was unavailable.
	Error string `json:"error,omitempty"`
}
