package eqa

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/zmling22/MemoryEQA/internal/geom"
	"github.com/zmling22/MemoryEQA/internal/mapviz"
	"github.com/zmling22/MemoryEQA/internal/sim"
	"github.com/zmling22/MemoryEQA/internal/tsdf"
)

// Run executes the exploration loop for this episode and returns its
// result. The loop observes, fuses, scores, and plans once per step until
// the relevance score reports confidence above 0.5 or the step budget is
// exhausted; the relevance check runs after the current step is recorded,
// so every episode records at least one step. Scorer and simulator errors
// abort the episode and propagate.
func (e *Episode) Run(ctx context.Context) (EpisodeResult, error) {
	cfg := e.deps.Cfg
	log := e.deps.Logger

	result := EpisodeResult{
		Meta: Meta{
			QuestionInd: e.ind,
			Question:    e.q.PromptQuestion(),
			Answer:      e.q.Answer,
			Scene:       e.q.Scene,
			Floor:       e.q.Floor,
			MaxSteps:    e.budget,
		},
	}

	promptParams := tsdf.PromptParams{
		MaxPoints:    cfg.VisualPrompt.MaxPromptPoints,
		MinPointDist: cfg.VisualPrompt.MinPointDist,
		GainRadius:   cfg.VisualPrompt.GainRadius,
	}
	plannerParams := tsdf.PlannerParams{
		MinDist:          cfg.Planner.MinDistFromCur,
		MaxDist:          cfg.Planner.MaxDistFromCur,
		EvalRadius:       cfg.Planner.EvalRadius,
		UnexploredWeight: cfg.Planner.UnexploredWeight,
		SemanticWeight:   cfg.Planner.SemanticWeight,
	}

	var pathPix [][2]float64
	for cntStep := 0; cntStep < e.budget; cntStep++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		e.sim.PlaceAgent(e.pts, e.angle)
		camPose := e.sim.SensorPose()

		obs, err := e.sim.Observe(ctx)
		if err != nil {
			return result, fmt.Errorf("step %d: observation failed: %w", cntStep, err)
		}
		if cfg.SaveObs {
			path := filepath.Join(e.dataDir, fmt.Sprintf("%d.png", cntStep))
			if err := mapviz.SaveObservation(e.deps.FS, path, obs); err != nil {
				log.Warn("failed to save observation", zap.Int("step", cntStep), zap.Error(err))
			}
		}

		rec := StepRecord{
			Step:  cntStep,
			Angle: e.angle,
		}
		hab := geom.PosNormalToHabitat(e.pts)
		rec.Pts = [3]float64{hab.X, hab.Y, hab.Z}

		blackThreshold := cfg.BlackPixelRatio * float64(cfg.ImgWidth*cfg.ImgHeight)
		if float64(obs.BlackPixelCount()) >= blackThreshold {
			// Agent is off the floor or the sensor failed: the frame
			// would corrupt the map, and scoring it is meaningless.
			log.Info("skipping black observation", zap.Int("step", cntStep))
			rec.SmxVLMPred = FallbackPred()
			rec.SmxVLMRel = FallbackRel()
		} else {
			if err := e.fuseAndScore(ctx, &rec, obs, camPose, promptParams, cntStep); err != nil {
				return result, fmt.Errorf("step %d: %w", cntStep, err)
			}
		}

		result.Steps = append(result.Steps, rec)

		if cntStep < e.budget-1 {
			np := e.grid.FindNextPose(e.pts, e.angle, camPose,
				cntStep < cfg.MinRandomInitSteps, plannerParams)
			pathPix = append(pathPix, np.Pix)
			if cfg.SaveObs {
				snap := e.grid.Snapshot(e.pts)
				snap.Next = [2]int{int(np.Pix[0]), int(np.Pix[1])}
				snap.HasNext = np.Moved
				if err := mapviz.SaveMap(e.deps.FS, filepath.Join(e.dataDir, "map.png"), snap, pathPix); err != nil {
					log.Warn("failed to save map figure", zap.Int("step", cntStep), zap.Error(err))
				}
			}
			e.pts = np.Pos
			e.angle = np.Heading
		}

		if rec.Relevance() > 0.5 {
			log.Info("early stop on relevance",
				zap.Int("step", cntStep),
				zap.Float64("relevance", rec.Relevance()))
			break
		}
	}

	verdict := Aggregate(result.Steps, e.q.Answer)
	result.Summary = verdict.Summary

	log.Info("episode summary",
		zap.Int("question_ind", e.ind),
		zap.String("scene", e.q.Scene),
		zap.String("floor", e.q.Floor),
		zap.String("pred_weighted", verdict.PredWeighted),
		zap.String("pred_max", verdict.PredMax),
		zap.Bool("success_weighted", verdict.Summary.SuccessWeighted),
		zap.Bool("success_max", verdict.Summary.SuccessMax),
		zap.Any("top_relevance", verdict.TopRelevances(result.Steps, 3)))
	return result, nil
}

// fuseAndScore handles the valid-observation path of one step: TSDF
// fusion, answer and relevance scoring, and optional semantic fusion via
// frontier prompt points.
func (e *Episode) fuseAndScore(ctx context.Context, rec *StepRecord, obs *sim.Observation,
	camPose geom.Transform, promptParams tsdf.PromptParams, cntStep int) error {
	cfg := e.deps.Cfg

	marginH := int(cfg.MarginHRatio * float64(cfg.ImgHeight))
	marginW := int(cfg.MarginWRatio * float64(cfg.ImgWidth))
	if err := e.grid.Integrate(obs.Color, obs.Depth, obs.Width, obs.Height,
		e.intrinsics(), camPose, 1.0, marginH, marginW); err != nil {
		return fmt.Errorf("tsdf fusion failed: %w", err)
	}

	predPrompt := e.q.PromptQuestion() +
		"\nAnswer with the option's letter from the given choices directly."
	pred, err := e.deps.Scorer.Score(ctx, obs.Color, predPrompt, AnswerLetters)
	if err != nil {
		return fmt.Errorf("prediction scoring failed: %w", err)
	}
	rec.SmxVLMPred = pred

	relPrompt := fmt.Sprintf(
		"\nConsider the question: '%s'. Are you confident about answering the question with the current view? Answer with Yes or No.",
		e.q.Question)
	rel, err := e.deps.Scorer.Score(ctx, obs.Color, relPrompt, RelevanceLabels)
	if err != nil {
		return fmt.Errorf("relevance scoring failed: %w", err)
	}
	rec.SmxVLMRel = rel

	if !cfg.UseActive {
		return nil
	}

	points := e.grid.FindPromptPointsWithinView(e.pts, obs.Width, obs.Height,
		e.intrinsics(), camPose, promptParams)
	if len(points) < cfg.VisualPrompt.MinNumPromptPoints {
		// Too little frontier in view to prompt with; skip semantic
		// fusion for this step.
		return nil
	}

	pix := make([][2]float64, len(points))
	for i, p := range points {
		pix[i] = p.Pix
	}
	overlay := mapviz.DrawPromptPoints(obs.Color, pix, AnswerLetters[:len(points)],
		cfg.VisualPrompt.CircleRadius)
	if cfg.SaveObs {
		path := filepath.Join(e.dataDir, fmt.Sprintf("%d_draw.png", cntStep))
		drawObs := &sim.Observation{Color: overlay, Depth: obs.Depth, Width: obs.Width, Height: obs.Height}
		if err := mapviz.SaveObservation(e.deps.FS, path, drawObs); err != nil {
			e.deps.Logger.Warn("failed to save prompt overlay", zap.Error(err))
		}
	}

	lsv := make([]float64, len(points))
	if cfg.UseLSV {
		lsvPrompt := fmt.Sprintf(
			"\nConsider the question: '%s', and you will explore the environment for answering it.\nWhich direction (black letters on the image) would you explore then? Answer with a single letter.",
			e.q.Question)
		dist, err := e.deps.Scorer.Score(ctx, overlay, lsvPrompt, AnswerLetters[:len(points)])
		if err != nil {
			return fmt.Errorf("direction scoring failed: %w", err)
		}
		scale := float64(len(points)) / 3
		for i, p := range dist {
			lsv[i] = p * scale
		}
	} else {
		for i := range lsv {
			lsv[i] = 1 / float64(len(points))
		}
	}

	gsv := 1.0
	if cfg.UseGSV {
		gsvPrompt := fmt.Sprintf(
			"\nConsider the question: '%s', and you will explore the environment for answering it. Is there any direction shown in the image worth exploring? Answer with Yes or No.",
			e.q.Question)
		dist, err := e.deps.Scorer.Score(ctx, obs.Color, gsvPrompt, RelevanceLabels)
		if err != nil {
			return fmt.Errorf("exploration scoring failed: %w", err)
		}
		gsv = math.Exp(dist[0]/cfg.GSVT) / cfg.GSVF
	}

	sv := make([]float64, len(points))
	for i := range sv {
		sv[i] = lsv[i] * gsv
	}
	if err := e.grid.IntegrateSem(sv, cfg.Planner.SemRadius, 1.0); err != nil {
		return fmt.Errorf("semantic fusion failed: %w", err)
	}
	return nil
}

func (e *Episode) intrinsics() geom.Intrinsics {
	return geom.IntrinsicsFromHFOV(e.deps.Cfg.HFOV, e.deps.Cfg.ImgWidth, e.deps.Cfg.ImgHeight)
}
