package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/config"
	"github.com/codeplane/codeplane/internal/daemon"
	"github.com/codeplane/codeplane/internal/index"
	"github.com/codeplane/codeplane/internal/logging"
	"github.com/codeplane/codeplane/internal/watcher"
)

func newUpCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "up [path]",
		Short: "Start the index daemon",
		Long: `Start the index daemon, running 'init' first if the project hasn't
been indexed yet.

The daemon exposes the Query API over a loopback TCP port (see 'codeplane
status' for the port and PID once running). By default it detaches into
the background; use --foreground to run inline for debugging.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runUp(cmd, path, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func runUp(cmd *cobra.Command, path string, foreground bool) error {
	root, err := resolveProjectRoot(path)
	if err != nil {
		return err
	}
	dataDir := filepath.Join(root, ".codeplane")

	cfg := daemon.DefaultConfig(dataDir)
	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is already running")
		return nil
	}

	if _, err := os.Stat(filepath.Join(dataDir, "structural.db")); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No index found, running initial reindex...")
		initCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := runInit(initCtx, cmd, path, false)
		stop()
		if err != nil {
			return fmt.Errorf("initial index failed: %w", err)
		}
	}

	if foreground {
		return runDaemonForeground(cmd, root, cfg)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "up", path, "--foreground")
	bgCmd.Dir = root
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 50; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}
		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid: %d)\n", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

func runDaemonForeground(cmd *cobra.Command, root string, cfg daemon.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = true
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	if err := cfg.EnsureDir(); err != nil {
		return err
	}

	lock := cfg.StartupLock()
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("a daemon is already running for %s", root)
	}
	defer func() { _ = lock.Unlock() }()

	coord, cleanup, err := openCoordinator(ctx, root)
	if err != nil {
		return err
	}
	defer cleanup()

	pidFile := daemon.NewPIDFile(cfg.PIDPath())
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = pidFile.Remove() }()

	handler := index.NewDaemonHandler(coord)
	srv := daemon.NewServer(cfg, handler)

	watchCfg, err := config.Load(root)
	if err != nil {
		watchCfg = config.NewConfig()
	}
	stopWatch := startBackgroundIndexing(ctx, root, coord, watchCfg)
	defer stopWatch()

	fmt.Fprintln(cmd.OutOrStdout(), "Starting daemon in foreground...")
	slog.Info("daemon starting", slog.String("root", root))

	return srv.ListenAndServe(ctx)
}

// startBackgroundIndexing wires the file watcher, HEAD tripwire, and
// safety-net checker to the coordinator, keeping the index current
// while the daemon runs. Returns a function that stops all three.
func startBackgroundIndexing(ctx context.Context, root string, coord *index.Coordinator, cfg *config.Config) func() {
	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: 500 * time.Millisecond,
	}.WithDefaults())
	if err != nil {
		slog.Warn("failed to start file watcher, relying on safety net only", slog.String("error", err.Error()))
		w = nil
	}

	headInterval := time.Duration(cfg.Watcher.HeadTripwireIntervalS) * time.Second
	if headInterval <= 0 {
		headInterval = 2 * time.Second
	}
	tripwire := watcher.NewHeadTripwire(root, headInterval)

	safetyInterval := time.Duration(cfg.Watcher.SafetyNetIntervalS) * time.Second
	if safetyInterval <= 0 {
		safetyInterval = 60 * time.Second
	}
	safetyNet := index.NewSafetyNetChecker(root, coord.StructuralStore(), coord)
	safetyNetStop := make(chan struct{})

	go tripwire.Run(ctx)
	go runSafetyNet(ctx, safetyNet, safetyInterval, safetyNetStop)

	if w != nil {
		go func() {
			if err := w.Start(ctx, root); err != nil && ctx.Err() == nil {
				slog.Warn("file watcher stopped", slog.String("error", err.Error()))
			}
		}()
		go pumpWatcherEvents(ctx, coord, w)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-tripwire.Changed():
				slog.Info("HEAD changed, running full reconciliation")
				if _, err := coord.ReindexFull(ctx); err != nil {
					slog.Warn("reconciliation after HEAD change failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return func() {
		tripwire.Stop()
		close(safetyNetStop)
		if w != nil {
			_ = w.Stop()
		}
	}
}

// runSafetyNet periodically hashes every indexable file on disk
// against the structural store's recorded hashes and repairs any
// drift it finds, catching changes the watcher missed.
func runSafetyNet(ctx context.Context, checker *index.SafetyNetChecker, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			result, err := checker.Check(ctx)
			if err != nil {
				slog.Warn("safety net check failed", slog.String("error", err.Error()))
				continue
			}
			if len(result.Drifts) == 0 {
				continue
			}
			slog.Info("safety net found drift", slog.Int("count", len(result.Drifts)))
			if _, err := checker.Repair(ctx, result.Drifts); err != nil {
				slog.Warn("safety net repair failed", slog.String("error", err.Error()))
			}
		}
	}
}

// pumpWatcherEvents drains batched file events from w and drives
// incremental (or, for gitignore/config changes, full) reindexes.
func pumpWatcherEvents(ctx context.Context, coord *index.Coordinator, w *watcher.HybridWatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.Events():
			if !ok {
				return
			}
			fullReindex := false
			paths := make([]string, 0, len(events))
			for _, e := range events {
				if e.Operation == watcher.OpGitignoreChange || e.Operation == watcher.OpConfigChange {
					fullReindex = true
					continue
				}
				paths = append(paths, e.Path)
			}

			if fullReindex {
				if _, err := coord.ReindexFull(ctx); err != nil {
					slog.Warn("full reindex after config/gitignore change failed", slog.String("error", err.Error()))
				}
				continue
			}
			if len(paths) == 0 {
				continue
			}
			if _, err := coord.ReindexIncremental(ctx, paths); err != nil {
				slog.Warn("incremental reindex failed", slog.String("error", err.Error()))
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			slog.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}
