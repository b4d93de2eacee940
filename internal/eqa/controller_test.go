package eqa

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/zmling22/MemoryEQA/internal/config"
	"github.com/zmling22/MemoryEQA/internal/fsutil"
	"github.com/zmling22/MemoryEQA/internal/sim"
)

// scriptScorer answers by prompt kind: a fixed prediction for the answer
// prompt, a scripted per-call relevance sequence, and uniform scores for
// the exploration prompts. Calls and prompts are recorded.
type scriptScorer struct {
	mu      sync.Mutex
	rels    []float64 // consumed one per relevance prompt; last value repeats
	relCnt  int
	prompts []string
}

func (s *scriptScorer) Score(_ context.Context, _ image.Image, prompt string, candidates []string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)

	switch {
	case strings.Contains(prompt, "confident about answering"):
		rel := 0.1
		if len(s.rels) > 0 {
			i := s.relCnt
			if i >= len(s.rels) {
				i = len(s.rels) - 1
			}
			rel = s.rels[i]
			s.relCnt++
		}
		return []float64{rel, 1 - rel}, nil
	case strings.Contains(prompt, "option's letter"):
		return []float64{0.7, 0.1, 0.1, 0.1}, nil
	default:
		out := make([]float64, len(candidates))
		for i := range out {
			out[i] = 1 / float64(len(candidates))
		}
		return out, nil
	}
}

func (s *scriptScorer) promptCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// writeSceneFiles lays out a 10x10 metre square room for scene "sq" floor
// "0" under dir, in the layout NewEpisode expects.
func writeSceneFiles(t *testing.T, dir string) {
	t.Helper()
	rows := []string{
		"##########",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"##########",
	}
	doc := map[string]any{
		"cell_size": 1.0,
		"origin":    [2]float64{0, 0},
		"floor_z":   0.0,
		"ceil_z":    2.6,
		"rows":      rows,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	sceneDir := filepath.Join(dir, "sq")
	require.NoError(t, os.MkdirAll(sceneDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sceneDir, "0.scene.json"), data, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sceneDir, "0.navmesh.json"), data, 0o644))
}

func testConfig(t *testing.T, sceneDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ImgWidth = 64
	cfg.ImgHeight = 48
	cfg.HFOV = 90
	cfg.TSDFGridSize = 0.2
	cfg.SceneDataPath = sceneDir
	cfg.OutputParentDir = "out"
	cfg.ExpName = "test"
	cfg.SaveObs = false
	// Room area is 64 m2, so the budget is floor(8 * ratio).
	cfg.MaxStepRoomSizeRatio = 0.5
	require.NoError(t, cfg.Validate())
	return cfg
}

func testQuestion() Question {
	return Question{
		Scene:    "sq",
		Floor:    "0",
		Question: "What color is the floor?",
		Choices:  []string{"red", "blue", "green", "gray"},
		Answer:   "A",
	}
}

// centerPose starts the agent mid-room. InitPose is in the simulator
// frame, where the vertical axis is y and z points backward.
func centerPose() InitPose {
	return InitPose{Pos: r3.Vec{X: 5, Y: 0, Z: -5}, Angle: 0}
}

func newTestDeps(t *testing.T, cfg config.Config, sc *scriptScorer) Deps {
	t.Helper()
	return Deps{
		Cfg:        cfg,
		SimFactory: sim.SynthFactory,
		Scorer:     sc,
		Logger:     zaptest.NewLogger(t),
		FS:         fsutil.NewMemoryFileSystem(),
	}
}

func TestEpisodeRun_EarlyStopOnRelevance(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)
	cfg.MaxStepRoomSizeRatio = 1.25 // budget 10
	cfg.UseActive = false
	require.NoError(t, cfg.Validate())

	sc := &scriptScorer{rels: []float64{0.2, 0.2, 0.9}}
	deps := newTestDeps(t, cfg, sc)

	ep, err := NewEpisode(deps, 0, testQuestion(), centerPose(), cfg.OutputDir("0"))
	require.NoError(t, err)
	defer ep.Close()
	require.Equal(t, 10, ep.Budget())

	res, err := ep.Run(context.Background())
	require.NoError(t, err)

	// The confident step is recorded before the loop stops.
	require.Len(t, res.Steps, 3)
	assert.Equal(t, 2, res.Steps[2].Step)
	assert.InDelta(t, 0.9, res.Steps[2].Relevance(), 1e-12)
	assert.Equal(t, 10, res.Meta.MaxSteps)
	assert.Equal(t, "A", res.Meta.Answer)
	assert.True(t, res.Summary.SuccessWeighted)
	assert.True(t, res.Summary.SuccessMax)
}

func TestEpisodeRun_ExhaustsBudgetWhenNeverConfident(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)
	cfg.UseActive = false

	sc := &scriptScorer{rels: []float64{0.1}}
	deps := newTestDeps(t, cfg, sc)

	ep, err := NewEpisode(deps, 0, testQuestion(), centerPose(), cfg.OutputDir("0"))
	require.NoError(t, err)
	defer ep.Close()

	res, err := ep.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Steps, ep.Budget())
	for i, s := range res.Steps {
		assert.Equal(t, i, s.Step)
	}
}

func TestEpisodeRun_BlackFramesRecordFallback(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)

	sc := &scriptScorer{rels: []float64{0.99}}
	deps := newTestDeps(t, cfg, sc)

	// Start far outside the room: the first frame renders black, so the
	// step is recorded with fallback distributions and nothing is scored
	// or fused. The planner may later walk the agent back onto the floor
	// through the assumed-free start clearance, after which scoring
	// resumes.
	pose := InitPose{Pos: r3.Vec{X: 100, Y: 0, Z: -100}, Angle: 0}
	ep, err := NewEpisode(deps, 0, testQuestion(), pose, cfg.OutputDir("0"))
	require.NoError(t, err)
	defer ep.Close()

	res, err := ep.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, res.Steps)
	assert.Equal(t, FallbackPred(), res.Steps[0].SmxVLMPred)
	assert.Equal(t, FallbackRel(), res.Steps[0].SmxVLMRel)

	scored := 0
	for _, s := range res.Steps {
		if s.Relevance() > FallbackRel()[0] {
			scored++
		}
	}
	assert.Equal(t, scored, sc.promptCount("option's letter"),
		"one prediction prompt per valid frame, none for black frames")
	if scored > 0 {
		// The scripted scorer is maximally confident, so the first
		// valid frame ends the episode.
		last := res.Steps[len(res.Steps)-1]
		assert.InDelta(t, 0.99, last.Relevance(), 1e-12)
	} else {
		assert.Len(t, res.Steps, ep.Budget())
	}
}

func TestEpisodeRun_ActivePromptingScoresDirections(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)
	cfg.MaxStepRoomSizeRatio = 1 // budget 8
	cfg.UseActive = true
	cfg.UseLSV = true
	cfg.UseGSV = true
	cfg.VisualPrompt.MinNumPromptPoints = 1
	require.NoError(t, cfg.Validate())

	sc := &scriptScorer{rels: []float64{0.1}}
	deps := newTestDeps(t, cfg, sc)

	ep, err := NewEpisode(deps, 0, testQuestion(), centerPose(), cfg.OutputDir("0"))
	require.NoError(t, err)
	defer ep.Close()

	_, err = ep.Run(context.Background())
	require.NoError(t, err)

	// Mid-room with a fresh map, frontier is abundant: at least one step
	// must have prompted for a direction and for global worth.
	assert.Greater(t, sc.promptCount("Which direction"), 0)
	assert.Greater(t, sc.promptCount("worth exploring"), 0)
}

func TestEpisodeRun_SavesDiagnostics(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)
	cfg.UseActive = false
	cfg.SaveObs = true

	sc := &scriptScorer{rels: []float64{0.99}}
	deps := newTestDeps(t, cfg, sc)

	ep, err := NewEpisode(deps, 0, testQuestion(), centerPose(), cfg.OutputDir("0"))
	require.NoError(t, err)
	defer ep.Close()

	_, err = ep.Run(context.Background())
	require.NoError(t, err)

	fs := deps.FS
	obsPath := filepath.Join(config.EpisodeDir(cfg.OutputDir("0"), 0), "0.png")
	assert.True(t, fs.Exists(obsPath), "expected %s", obsPath)
}

func TestEpisodeRun_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)
	cfg.UseActive = false

	sc := &scriptScorer{}
	deps := newTestDeps(t, cfg, sc)

	ep, err := NewEpisode(deps, 0, testQuestion(), centerPose(), cfg.OutputDir("0"))
	require.NoError(t, err)
	defer ep.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ep.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewEpisode_MissingNavMesh(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "sq", "0.navmesh.json")))
	cfg := testConfig(t, dir)

	deps := newTestDeps(t, cfg, &scriptScorer{})
	_, err := NewEpisode(deps, 0, testQuestion(), centerPose(), cfg.OutputDir("0"))
	assert.ErrorIs(t, err, ErrNavMeshUnavailable)
}

func TestWorkerRun_WritesResultsAndCheckpoints(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)
	cfg.UseActive = false
	cfg.SaveFreq = 1

	sc := &scriptScorer{rels: []float64{0.99}}
	deps := newTestDeps(t, cfg, sc)

	questions := []Question{testQuestion(), testQuestion()}
	poses := map[string]InitPose{"sq_0": centerPose()}

	w := NewWorker(0, 1, "0", deps)
	require.NoError(t, w.Run(context.Background(), questions, poses))

	outputDir := cfg.OutputDir("0")
	assert.True(t, deps.FS.Exists(filepath.Join(outputDir, "results_0_1.json")))
	assert.True(t, deps.FS.Exists(filepath.Join(outputDir, "results_0_2.json")))

	data, err := deps.FS.ReadFile(filepath.Join(outputDir, "results.json"))
	require.NoError(t, err)
	var results []EpisodeResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Meta.QuestionInd)
	assert.Equal(t, 1, results[1].Meta.QuestionInd)
	assert.Empty(t, results[0].Error)
}

func TestWorkerRun_RecordsNavMeshFailureAndContinues(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	require.NoError(t, os.Remove(filepath.Join(dir, "sq", "0.navmesh.json")))
	cfg := testConfig(t, dir)
	cfg.UseActive = false

	deps := newTestDeps(t, cfg, &scriptScorer{})
	questions := []Question{testQuestion()}
	poses := map[string]InitPose{"sq_0": centerPose()}

	w := NewWorker(0, 1, "0", deps)
	require.NoError(t, w.Run(context.Background(), questions, poses))

	data, err := deps.FS.ReadFile(filepath.Join(cfg.OutputDir("0"), "results.json"))
	require.NoError(t, err)
	var results []EpisodeResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error)
	assert.Empty(t, results[0].Steps)
}

func TestWorkerRun_MissingInitPoseRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	writeSceneFiles(t, dir)
	cfg := testConfig(t, dir)

	deps := newTestDeps(t, cfg, &scriptScorer{})
	w := NewWorker(0, 1, "0", deps)
	require.NoError(t, w.Run(context.Background(), []Question{testQuestion()}, nil))

	data, err := deps.FS.ReadFile(filepath.Join(cfg.OutputDir("0"), "results.json"))
	require.NoError(t, err)
	var results []EpisodeResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "no init pose")
}
