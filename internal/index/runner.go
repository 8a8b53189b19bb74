// Package index hosts the Coordinator and the Runner, a thin driver
// that wraps a Coordinator reindex with progress reporting for the CLI
// and daemon entry points.
package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/codeplane/codeplane/internal/config"
	"github.com/codeplane/codeplane/internal/ui"
)

// RunnerConfig configures one Runner.Run call.
type RunnerConfig struct {
	// Full requests ReindexFull; otherwise ChangedPaths drives an
	// incremental reindex.
	Full bool

	// ChangedPaths are the root-relative paths to reconcile when Full
	// is false. An empty slice with Full false is a no-op epoch check.
	ChangedPaths []string
}

// RunnerResult is the outcome of one Run call.
type RunnerResult struct {
	// Epoch is the current epoch after this run. When nothing changed,
	// publication is elided and this is the epoch from before the run.
	Epoch int64

	// Files is the number of files reconciled in this run.
	Files int

	// Duration is the total wall time for the run, including discovery,
	// parsing, and epoch publication.
	Duration time.Duration

	// Errors is always 0 in a returned result: a failed reindex makes Run
	// return an error and no result, and per-file parse failures are not
	// counted here.
	Errors int
}

// Runner drives a Coordinator reindex and reports progress through a
// ui.Renderer, so CLI and daemon callers get the same stage breakdown
// regardless of which reindex path ran.
type Runner struct {
	coord    *Coordinator
	renderer ui.Renderer
	config   *config.Config
}

// NewRunner creates a Runner over coord. renderer and cfg are optional;
// a nil renderer disables progress reporting, a nil cfg uses defaults.
func NewRunner(coord *Coordinator, renderer ui.Renderer, cfg *config.Config) (*Runner, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if renderer == nil {
		renderer = ui.NewPlainRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true)))
	}
	return &Runner{coord: coord, renderer: renderer, config: cfg}, nil
}

// Run executes one full or incremental reindex, reporting discovery,
// parsing, and publication progress to the configured renderer.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()

	if err := r.renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start renderer: %w", err)
	}
	defer func() { _ = r.renderer.Stop() }()

	scope := "incremental"
	if cfg.Full {
		scope = "full"
	}
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("%s reindex starting", scope),
	})
	slog.Info("index_run_started", slog.String("scope", scope), slog.Int("changed_paths", len(cfg.ChangedPaths)))

	var epoch int64
	var err error
	if cfg.Full {
		epoch, err = r.coord.ReindexFull(ctx)
	} else {
		epoch, err = r.coord.ReindexIncremental(ctx, cfg.ChangedPaths)
	}

	errCount := 0
	if err != nil {
		errCount = 1
		r.renderer.AddError(ui.ErrorEvent{Err: err})
		return nil, fmt.Errorf("reindex failed: %w", err)
	}

	fileCount := len(cfg.ChangedPaths)
	if cfg.Full {
		paths, mapErr := r.coord.cfg.Structural.ListFilePaths(ctx)
		if mapErr == nil {
			fileCount = len(paths)
		}
	}

	duration := time.Since(start)

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Message: fmt.Sprintf("published epoch %d", epoch),
	})
	r.renderer.Complete(ui.CompletionStats{
		Files:    fileCount,
		Duration: duration,
		Errors:   errCount,
		Stages: ui.StageTimings{
			Scan:  duration,
			Index: duration,
		},
	})

	slog.Info("index_run_complete",
		slog.String("scope", scope),
		slog.Int64("epoch", epoch),
		slog.Int("files", fileCount),
		slog.String("duration", duration.String()))

	return &RunnerResult{Epoch: epoch, Files: fileCount, Duration: duration, Errors: errCount}, nil
}
