// Package scorer defines the vision-language scoring collaborator: given an
// image, a prompt, and a candidate label set, produce a probability
// distribution over the candidates, order-aligned with the input.
package scorer

import (
	"context"
	"image"
)

// Scorer scores candidate labels against an image and prompt. The returned
// slice has one probability per candidate, in candidate order, summing
// to 1. Calls block until the service responds; there is no retry.
type Scorer interface {
	Score(ctx context.Context, img image.Image, prompt string, candidates []string) ([]float64, error)
}

// Uniform is a Scorer that spreads probability evenly, used when semantic
// scoring is disabled and as a stand-in during dry runs.
type Uniform struct{}

// Score returns the uniform distribution over the candidates.
func (Uniform) Score(_ context.Context, _ image.Image, _ string, candidates []string) ([]float64, error) {
	out := make([]float64, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	p := 1 / float64(len(candidates))
	for i := range out {
		out[i] = p
	}
	return out, nil
}
