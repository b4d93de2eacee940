package eqa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShardBounds returns the half-open question range [start, end) assigned
// to shard index out of count shards over n questions. The split uses
// float division with truncation, so earlier shards may be one question
// larger; the union of all shards covers [0, n) exactly once.
func ShardBounds(index, count, n int) (start, end int) {
	part := float64(n) / float64(count)
	start = int(part * float64(index))
	end = int(part * float64(index+1))
	if index == count-1 {
		end = n
	}
	return start, end
}

// CheckpointFileName names the periodic results file for a worker. The
// final write after the shard completes uses "results.json" instead.
func CheckpointFileName(gpuID string, completed int) string {
	return fmt.Sprintf("results_%s_%d.json", gpuID, completed)
}

// Worker runs one shard of the question set sequentially. Workers share
// nothing: each has its own output directory, logger, and simulator
// lifecycle, so several can run in parallel goroutines or processes.
type Worker struct {
	Index int    // shard index in [0, Count)
	Count int    // total shard count
	GPUID string // device id, used only for naming outputs
	Deps  Deps
	// RunID tags this worker's log lines so interleaved runs over the
	// same output tree can be told apart.
	RunID uuid.UUID
}

// NewWorker assigns a shard to a device.
func NewWorker(index, count int, gpuID string, deps Deps) *Worker {
	return &Worker{
		Index: index,
		Count: count,
		GPUID: gpuID,
		Deps:  deps,
		RunID: uuid.New(),
	}
}

// Run executes every question in the worker's shard and writes the
// accumulated results to the worker's output directory. A question whose
// navigation mesh is unavailable is recorded as a failed result and the
// shard continues; any other setup error aborts the shard. Results are
// checkpointed every SaveFreq episodes and always written once at the
// end, even when the context is cancelled partway.
func (w *Worker) Run(ctx context.Context, questions []Question, poses map[string]InitPose) error {
	cfg := w.Deps.Cfg
	log := w.Deps.Logger.With(
		zap.Int("shard", w.Index),
		zap.String("gpu", w.GPUID),
		zap.String("run_id", w.RunID.String()))

	outputDir := cfg.OutputDir(w.GPUID)
	if err := w.Deps.FS.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	start, end := ShardBounds(w.Index, w.Count, len(questions))
	log.Info("shard assigned",
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("total", len(questions)),
		zap.Int64("seed", cfg.Seed))

	var results []EpisodeResult
	var runErr error
	for ind := start; ind < end; ind++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		q := questions[ind]
		pose, ok := poses[q.SceneFloor()]
		if !ok {
			log.Warn("no init pose for scene floor, skipping question",
				zap.Int("question_ind", ind),
				zap.String("scene_floor", q.SceneFloor()))
			results = append(results, FailedResult(ind, q, 0,
				fmt.Errorf("no init pose for %s", q.SceneFloor())))
			continue
		}

		res, err := w.runEpisode(ctx, ind, q, pose, outputDir)
		if err != nil {
			runErr = fmt.Errorf("question %d: %w", ind, err)
			break
		}
		results = append(results, res)

		if cfg.SaveFreq > 0 && len(results)%cfg.SaveFreq == 0 {
			path := filepath.Join(outputDir, CheckpointFileName(w.GPUID, len(results)))
			if err := w.writeResults(path, results); err != nil {
				log.Warn("checkpoint write failed", zap.String("path", path), zap.Error(err))
			}
		}
	}

	finalPath := filepath.Join(outputDir, "results.json")
	if err := w.writeResults(finalPath, results); err != nil {
		if runErr == nil {
			runErr = err
		}
		log.Error("final results write failed", zap.String("path", finalPath), zap.Error(err))
	}
	log.Info("shard done",
		zap.Int("completed", len(results)),
		zap.Bool("aborted", runErr != nil))
	return runErr
}

// runEpisode isolates one episode's lifecycle so the simulator is always
// closed before the next one opens.
func (w *Worker) runEpisode(ctx context.Context, ind int, q Question, pose InitPose,
	outputDir string) (EpisodeResult, error) {
	ep, err := NewEpisode(w.Deps, ind, q, pose, outputDir)
	if err != nil {
		if errors.Is(err, ErrNavMeshUnavailable) {
			w.Deps.Logger.Warn("navmesh unavailable, recording failure",
				zap.Int("question_ind", ind),
				zap.String("scene_floor", q.SceneFloor()))
			return FailedResult(ind, q, 0, err), nil
		}
		return EpisodeResult{}, err
	}
	defer ep.Close()
	return ep.Run(ctx)
}

func (w *Worker) writeResults(path string, results []EpisodeResult) error {
	if results == nil {
		results = []EpisodeResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return w.Deps.FS.WriteFile(path, data, 0o644)
}
