package eqa

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/zmling22/MemoryEQA/internal/config"
	"github.com/zmling22/MemoryEQA/internal/fsutil"
	"github.com/zmling22/MemoryEQA/internal/geom"
	"github.com/zmling22/MemoryEQA/internal/scorer"
	"github.com/zmling22/MemoryEQA/internal/sim"
	"github.com/zmling22/MemoryEQA/internal/tsdf"
)

// ErrNavMeshUnavailable marks an episode that could not start because the
// scene's navigation mesh failed to load. Planning without a navigability
// guarantee produces results that look valid but are not, so the episode
// is failed explicitly rather than run degraded.
var ErrNavMeshUnavailable = errors.New("navigation mesh unavailable")

// Deps are the collaborators an episode borrows from its worker.
type Deps struct {
	Cfg        config.Config
	SimFactory sim.Factory
	Scorer     scorer.Scorer
	Logger     *zap.Logger
	FS         fsutil.FileSystem
}

// Episode owns the per-question resources: the simulator instance, the
// volumetric map, and the in-flight result. Construction acquires them;
// Close releases them on every exit path. Episodes are strictly
// sequential within a worker; none of this is safe for concurrent use.
type Episode struct {
	deps    Deps
	q       Question
	ind     int
	dataDir string

	sim    sim.Simulator
	grid   *tsdf.Grid
	floorZ float64
	budget int

	pts   r3.Vec // current agent position, normal frame
	angle float64

	closed bool
}

// NewEpisode loads the scene and navigation mesh, allocates the map, and
// prepares the episode's data directory. The returned episode must be
// closed. A scene that fails to load is a hard error (the worker dies); a
// navigation mesh that fails to load returns ErrNavMeshUnavailable and the
// caller records a failed episode and moves on.
func NewEpisode(deps Deps, ind int, q Question, pose InitPose, outputDir string) (*Episode, error) {
	cfg := deps.Cfg
	scenePath := filepath.Join(cfg.SceneDataPath, q.Scene, q.Floor+".scene.json")
	navmeshPath := filepath.Join(cfg.SceneDataPath, q.Scene, q.Floor+".navmesh.json")

	st := sim.Settings{
		Width:        cfg.ImgWidth,
		Height:       cfg.ImgHeight,
		HFOV:         cfg.HFOV,
		SensorHeight: cfg.CameraHeight,
		Tilt:         cfg.CameraTiltDeg * math.Pi / 180,
	}
	simulator, err := deps.SimFactory(scenePath, navmeshPath, st)
	if err != nil {
		if simulator == nil {
			return nil, fmt.Errorf("failed to create simulator for %s: %w", q.SceneFloor(), err)
		}
		// Simulator is usable but has no navigation mesh.
		deps.Logger.Warn("navigation mesh failed to load; failing episode",
			zap.String("scene_floor", q.SceneFloor()),
			zap.Error(err))
		_ = simulator.Close()
		return nil, fmt.Errorf("%s: %w", q.SceneFloor(), ErrNavMeshUnavailable)
	}
	nav := simulator.NavMesh()
	if nav == nil {
		_ = simulator.Close()
		return nil, fmt.Errorf("%s: %w", q.SceneFloor(), ErrNavMeshUnavailable)
	}

	minB, maxB := nav.Bounds()
	area := nav.Area()
	budget := int(math.Sqrt(area) * cfg.MaxStepRoomSizeRatio)
	if budget < 1 {
		budget = 1
	}

	initPos := geom.PosHabitatToNormal(pose.Pos)
	grid := tsdf.NewGrid(
		tsdf.Bounds{Min: minB, Max: maxB},
		tsdf.DefaultParams(cfg.TSDFGridSize),
		initPos.Z,
		initPos,
		cfg.InitClearance*2,
		nav,
	)

	dataDir := config.EpisodeDir(outputDir, ind)
	if err := deps.FS.MkdirAll(dataDir, 0o755); err != nil {
		_ = simulator.Close()
		return nil, fmt.Errorf("failed to create episode dir: %w", err)
	}

	deps.Logger.Info("episode start",
		zap.Int("question_ind", ind),
		zap.String("scene", q.Scene),
		zap.String("floor", q.Floor),
		zap.Float64("area", area),
		zap.Int("max_steps", budget))

	return &Episode{
		deps:    deps,
		q:       q,
		ind:     ind,
		dataDir: dataDir,
		sim:     simulator,
		grid:    grid,
		floorZ:  initPos.Z,
		budget:  budget,
		pts:     initPos,
		angle:   pose.Angle,
	}, nil
}

// Grid exposes the map for diagnostics and tests.
func (e *Episode) Grid() *tsdf.Grid { return e.grid }

// Budget returns the episode's step budget.
func (e *Episode) Budget() int { return e.budget }

// Close tears down the simulator. Safe to call more than once.
func (e *Episode) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.sim.Close()
}

// FailedResult builds the result recorded for an episode that could not
// run, such as one whose navigation mesh was unavailable.
func FailedResult(ind int, q Question, budget int, err error) EpisodeResult {
	return EpisodeResult{
		Meta: Meta{
			QuestionInd: ind,
			Question:    q.PromptQuestion(),
			Answer:      q.Answer,
			Scene:       q.Scene,
			Floor:       q.Floor,
			MaxSteps:    budget,
		},
		Error: err.Error(),
	}
}
