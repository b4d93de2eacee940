// Command eqa runs embodied question-answering experiments: it shards a
// question set over one or more workers, explores each question's scene
// with a synthetic simulator, and writes per-worker result files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zmling22/MemoryEQA/internal/config"
	"github.com/zmling22/MemoryEQA/internal/eqa"
	"github.com/zmling22/MemoryEQA/internal/fsutil"
	"github.com/zmling22/MemoryEQA/internal/scorer"
	"github.com/zmling22/MemoryEQA/internal/sim"
)

func main() {
	cfgPath := flag.String("cfg", "", "path to the experiment YAML config")
	gpus := flag.String("gpus", "0", "comma-separated device ids, one worker per id")
	flag.Parse()

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "usage: eqa -cfg <config.yaml> [-gpus 0,1,...]")
		os.Exit(2)
	}
	if err := run(*cfgPath, *gpus); err != nil {
		fmt.Fprintf(os.Stderr, "eqa: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, gpus string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	gpuIDs := strings.Split(gpus, ",")
	for i, id := range gpuIDs {
		gpuIDs[i] = strings.TrimSpace(id)
		if gpuIDs[i] == "" {
			return fmt.Errorf("empty gpu id in -gpus %q", gpus)
		}
	}

	questions, err := eqa.LoadQuestions(cfg.QuestionDataPath)
	if err != nil {
		return err
	}
	poses, err := eqa.LoadInitPoses(cfg.InitPoseDataPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := &fsutil.OSFileSystem{}
	var wg sync.WaitGroup
	errs := make([]error, len(gpuIDs))
	for i, gpuID := range gpuIDs {
		outputDir := cfg.OutputDir(gpuID)
		if err := fs.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir %s: %w", outputDir, err)
		}
		logger, closeLog, err := workerLogger(filepath.Join(outputDir, fmt.Sprintf("log_%s.log", gpuID)))
		if err != nil {
			return err
		}

		w := eqa.NewWorker(i, len(gpuIDs), gpuID, eqa.Deps{
			Cfg:        cfg,
			SimFactory: sim.SynthFactory,
			Scorer:     newScorer(cfg, logger),
			Logger:     logger,
			FS:         fs,
		})

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer closeLog()
			errs[i] = w.Run(ctx, questions, poses)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("worker %s: %w", gpuIDs[i], err)
		}
	}
	return nil
}

// workerLogger builds a logger that writes both to the console and to the
// worker's log file. The returned func flushes and closes the file.
func workerLogger(path string) (*zap.Logger, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr), zapcore.InfoLevel)

	logger := zap.New(zapcore.NewTee(fileCore, consoleCore))
	return logger, func() {
		_ = logger.Sync()
		_ = f.Close()
	}, nil
}

// newScorer binds the configured scoring backend. The uniform scorer
// keeps the pipeline runnable without API access.
func newScorer(cfg config.Config, logger *zap.Logger) scorer.Scorer {
	if cfg.VLM.Provider != "openai" {
		return scorer.Uniform{}
	}
	key := os.Getenv(cfg.VLM.APIKeyEnv)
	if key == "" {
		logger.Warn("api key env unset, falling back to uniform scorer",
			zap.String("env", cfg.VLM.APIKeyEnv))
		return scorer.Uniform{}
	}
	return scorer.NewOpenAI(scorer.Config{
		APIKey:  key,
		BaseURL: cfg.VLM.BaseURL,
		Model:   cfg.VLM.Model,
		Logger:  logger,
	})
}
