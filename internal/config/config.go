// Package config defines the statically validated run configuration.
//
// Every recognized option is an explicit field with a default; unknown keys
// in the YAML file are rejected at load time rather than silently ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an exploration run. The zero value
// is not usable; start from Default and override from a YAML file.
type Config struct {
	// Camera / sensor model.
	CameraTiltDeg float64 `yaml:"camera_tilt_deg"` // negative looks down
	ImgHeight     int     `yaml:"img_height"`
	ImgWidth      int     `yaml:"img_width"`
	HFOV          float64 `yaml:"hfov"`          // horizontal field of view, degrees
	CameraHeight  float64 `yaml:"camera_height"` // sensor height above agent origin, metres

	// Volumetric map.
	TSDFGridSize  float64 `yaml:"tsdf_grid_size"` // voxel edge length, metres
	InitClearance float64 `yaml:"init_clearance"` // free radius assumed around the start pose

	// Episode loop.
	MaxStepRoomSizeRatio float64 `yaml:"max_step_room_size_ratio"` // step budget = floor(sqrt(area) * ratio)
	BlackPixelRatio      float64 `yaml:"black_pixel_ratio"`        // skip threshold for invalid frames
	MarginHRatio         float64 `yaml:"margin_h_ratio"`           // fused image border exclusion
	MarginWRatio         float64 `yaml:"margin_w_ratio"`
	MinRandomInitSteps   int     `yaml:"min_random_init_steps"` // warm-up steps ignoring semantic value

	// Semantic exploration.
	UseActive bool    `yaml:"use_active"` // sample frontier prompt points at all
	UseLSV    bool    `yaml:"use_lsv"`    // score per-direction local semantic values
	UseGSV    bool    `yaml:"use_gsv"`    // score the global view-worth scalar
	GSVT      float64 `yaml:"gsv_T"`      // temperature applied to the global score
	GSVF      float64 `yaml:"gsv_F"`      // normalization divisor for the global score

	VisualPrompt VisualPrompt `yaml:"visual_prompt"`
	Planner      Planner      `yaml:"planner"`

	// Outputs.
	SaveObs         bool   `yaml:"save_obs"`
	SaveFreq        int    `yaml:"save_freq"` // checkpoint every N completed episodes
	Seed            int64  `yaml:"seed"`
	OutputParentDir string `yaml:"output_parent_dir"`
	ExpName         string `yaml:"exp_name"`

	// Inputs.
	QuestionDataPath string `yaml:"question_data_path"`
	InitPoseDataPath string `yaml:"init_pose_data_path"`
	SceneDataPath    string `yaml:"scene_data_path"`

	VLM VLM `yaml:"vlm"`
}

// VisualPrompt configures frontier prompt-point sampling.
type VisualPrompt struct {
	MinNumPromptPoints int     `yaml:"min_num_prompt_points"` // below this, semantic fusion is skipped
	MaxPromptPoints    int     `yaml:"max_prompt_points"`     // at most this many returned (answer letters)
	CircleRadius       float64 `yaml:"circle_radius"`         // overlay marker radius, pixels
	MinPointDist       float64 `yaml:"min_point_dist"`        // spatial dedup spacing, metres
	GainRadius         float64 `yaml:"gain_radius"`           // radius for unexplored-gain ranking, metres
}

// Planner configures next-pose selection.
type Planner struct {
	MinDistFromCur   float64 `yaml:"min_dist_from_cur"` // metres
	MaxDistFromCur   float64 `yaml:"max_dist_from_cur"` // metres
	EvalRadius       float64 `yaml:"eval_radius"`       // candidate scoring neighbourhood, metres
	UnexploredWeight float64 `yaml:"unexplored_weight"`
	SemanticWeight   float64 `yaml:"val_weight"`
	SemRadius        float64 `yaml:"sem_radius"` // semantic fusion radius, metres
}

// VLM configures the external scoring service.
type VLM struct {
	Provider string `yaml:"provider"` // "openai" or "uniform"
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"` // env var holding the key, never the key itself
}

// Default returns the configuration defaults. These mirror the reference
// experiment settings for HM3D scenes.
func Default() Config {
	return Config{
		CameraTiltDeg:        -30,
		ImgHeight:            480,
		ImgWidth:             640,
		HFOV:                 120,
		CameraHeight:         1.5,
		TSDFGridSize:         0.1,
		InitClearance:        0.5,
		MaxStepRoomSizeRatio: 3,
		BlackPixelRatio:      0.7,
		MarginHRatio:         0.04,
		MarginWRatio:         0.19,
		MinRandomInitSteps:   2,
		UseActive:            true,
		UseLSV:               true,
		UseGSV:               true,
		GSVT:                 0.5,
		GSVF:                 3,
		VisualPrompt: VisualPrompt{
			MinNumPromptPoints: 2,
			MaxPromptPoints:    4,
			CircleRadius:       18,
			MinPointDist:       0.6,
			GainRadius:         1.5,
		},
		Planner: Planner{
			MinDistFromCur:   0.5,
			MaxDistFromCur:   1.5,
			EvalRadius:       1.5,
			UnexploredWeight: 1,
			SemanticWeight:   2,
			SemRadius:        1.0,
		},
		SaveObs:         false,
		SaveFreq:        5,
		Seed:            42,
		OutputParentDir: "results",
		ExpName:         "exp",
		VLM:             VLM{Provider: "uniform"},
	}
}

// Load reads a YAML config file over the defaults. Unknown keys are an
// error so misspelled options fail fast instead of silently reverting to
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return cfg, fmt.Errorf("config file must have .yaml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", cleanPath, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that YAML decoding cannot.
func (c Config) Validate() error {
	if c.ImgWidth <= 0 || c.ImgHeight <= 0 {
		return fmt.Errorf("image size must be positive, got %dx%d", c.ImgWidth, c.ImgHeight)
	}
	if c.MarginHRatio < 0 || c.MarginHRatio >= 0.5 || c.MarginWRatio < 0 || c.MarginWRatio >= 0.5 {
		return fmt.Errorf("margin ratios must be in [0, 0.5), got h=%v w=%v",
			c.MarginHRatio, c.MarginWRatio)
	}
	if c.HFOV <= 0 || c.HFOV >= 180 {
		return fmt.Errorf("hfov must be in (0, 180), got %v", c.HFOV)
	}
	if c.TSDFGridSize <= 0 {
		return fmt.Errorf("tsdf_grid_size must be positive, got %v", c.TSDFGridSize)
	}
	if c.BlackPixelRatio < 0 || c.BlackPixelRatio > 1 {
		return fmt.Errorf("black_pixel_ratio must be in [0, 1], got %v", c.BlackPixelRatio)
	}
	if c.MaxStepRoomSizeRatio <= 0 {
		return fmt.Errorf("max_step_room_size_ratio must be positive, got %v", c.MaxStepRoomSizeRatio)
	}
	if c.SaveFreq <= 0 {
		return fmt.Errorf("save_freq must be positive, got %d", c.SaveFreq)
	}
	if c.VisualPrompt.MaxPromptPoints < 1 || c.VisualPrompt.MaxPromptPoints > 4 {
		return fmt.Errorf("visual_prompt.max_prompt_points must be in [1, 4], got %d",
			c.VisualPrompt.MaxPromptPoints)
	}
	if c.VisualPrompt.MinNumPromptPoints > c.VisualPrompt.MaxPromptPoints {
		return fmt.Errorf("visual_prompt.min_num_prompt_points %d exceeds max_prompt_points %d",
			c.VisualPrompt.MinNumPromptPoints, c.VisualPrompt.MaxPromptPoints)
	}
	if c.Planner.MaxDistFromCur < c.Planner.MinDistFromCur {
		return fmt.Errorf("planner.max_dist_from_cur %v below min_dist_from_cur %v",
			c.Planner.MaxDistFromCur, c.Planner.MinDistFromCur)
	}
	if c.GSVT <= 0 || c.GSVF <= 0 {
		return fmt.Errorf("gsv_T and gsv_F must be positive, got %v and %v", c.GSVT, c.GSVF)
	}
	return nil
}

// OutputDir returns the result directory for one worker:
// <output_parent_dir>/<exp_name>/<exp_name>_gpu<id>.
func (c Config) OutputDir(gpuID string) string {
	return filepath.Join(c.OutputParentDir, c.ExpName, fmt.Sprintf("%s_gpu%s", c.ExpName, gpuID))
}

// EpisodeDir returns the per-question data directory under a worker dir.
func EpisodeDir(outputDir string, questionInd int) string {
	return filepath.Join(outputDir, fmt.Sprintf("%d", questionInd))
}
