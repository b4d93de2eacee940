package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTemp(t, "run.yaml", `
img_width: 320
img_height: 240
exp_name: smoke
planner:
  max_dist_from_cur: 2.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ImgWidth != 320 || cfg.ImgHeight != 240 {
		t.Fatalf("image size override lost: %dx%d", cfg.ImgWidth, cfg.ImgHeight)
	}
	if cfg.ExpName != "smoke" {
		t.Fatalf("exp_name override lost: %q", cfg.ExpName)
	}
	if cfg.Planner.MaxDistFromCur != 2.5 {
		t.Fatalf("nested override lost: %v", cfg.Planner.MaxDistFromCur)
	}
	// Untouched fields keep their defaults.
	if cfg.HFOV != Default().HFOV {
		t.Fatalf("default hfov lost: %v", cfg.HFOV)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeTemp(t, "run.yaml", "tsdf_gridsize: 0.2\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	} else if !strings.Contains(err.Error(), "tsdf_gridsize") {
		t.Fatalf("error should name the unknown key, got: %v", err)
	}
}

func TestLoad_RejectsNonYAMLExtension(t *testing.T) {
	path := writeTemp(t, "run.json", "{}")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected extension error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero width", func(c *Config) { c.ImgWidth = 0 }, false},
		{"hfov too wide", func(c *Config) { c.HFOV = 180 }, false},
		{"negative voxel", func(c *Config) { c.TSDFGridSize = -0.1 }, false},
		{"black ratio above one", func(c *Config) { c.BlackPixelRatio = 1.5 }, false},
		{"min prompt points above max", func(c *Config) {
			c.VisualPrompt.MinNumPromptPoints = 5
		}, false},
		{"planner range inverted", func(c *Config) {
			c.Planner.MaxDistFromCur = 0.1
		}, false},
		{"zero save freq", func(c *Config) { c.SaveFreq = 0 }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestOutputDir(t *testing.T) {
	cfg := Default()
	cfg.OutputParentDir = "results"
	cfg.ExpName = "run1"
	got := cfg.OutputDir("2")
	want := filepath.Join("results", "run1", "run1_gpu2")
	if got != want {
		t.Fatalf("OutputDir = %q, want %q", got, want)
	}
}
