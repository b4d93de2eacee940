package scorer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// floorLogProb substitutes for candidates absent from the returned top
// log-probs; far enough below any real token that they get negligible mass.
const floorLogProb = -20.0

// OpenAI scores candidates with an OpenAI-compatible vision chat model by
// requesting one completion token with log-probs and reading the candidate
// letters' probabilities out of the top-log-prob list.
type OpenAI struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// Config holds the scoring service settings.
type Config struct {
	APIKey  string
	BaseURL string // empty for the default endpoint
	Model   string
	Logger  *zap.Logger
}

// NewOpenAI creates a vision scorer against an OpenAI-compatible API.
func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}
}

// Score implements Scorer.
func (s *OpenAI) Score(ctx context.Context, img image.Image, prompt string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to score")
	}

	dataURL, err := encodeDataURL(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   1,
		Temperature: 0,
		LogProbs:    true,
		TopLogProbs: 20,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
				},
			},
		}},
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("scoring request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].LogProbs == nil || len(resp.Choices[0].LogProbs.Content) == 0 {
		return nil, fmt.Errorf("scoring response carries no log-probs")
	}

	first := resp.Choices[0].LogProbs.Content[0]
	logps := make([]float64, len(candidates))
	for i, cand := range candidates {
		logps[i] = floorLogProb
		for _, tp := range first.TopLogProbs {
			if tokenMatches(tp.Token, cand) && tp.LogProb > logps[i] {
				logps[i] = tp.LogProb
			}
		}
	}
	// The completion token itself may not be in its own top list.
	for i, cand := range candidates {
		if tokenMatches(first.Token, cand) && first.LogProb > logps[i] {
			logps[i] = first.LogProb
		}
	}

	dist := softmax(logps)
	s.logger.Debug("scored candidates",
		zap.Strings("candidates", candidates),
		zap.Float64s("distribution", dist))
	return dist, nil
}

// tokenMatches compares a sampled token against a candidate label,
// ignoring leading whitespace and case so " a" matches "A".
func tokenMatches(token, candidate string) bool {
	return strings.EqualFold(strings.TrimSpace(token), candidate)
}

func softmax(logps []float64) []float64 {
	maxL := math.Inf(-1)
	for _, l := range logps {
		if l > maxL {
			maxL = l
		}
	}
	out := make([]float64, len(logps))
	sum := 0.0
	for i, l := range logps {
		out[i] = math.Exp(l - maxL)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func encodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
