package cmd

import (
	"fmt"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/daemon"
)

func newDownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down [path]",
		Short: "Stop the index daemon",
		Long: `Request a graceful shutdown of the index daemon and remove its
run-state files (PID file, port file, auth token).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runDown(cmd, path)
		},
	}
	return cmd
}

func runDown(cmd *cobra.Command, path string) error {
	root, err := resolveProjectRoot(path)
	if err != nil {
		return err
	}
	dataDir := filepath.Join(root, ".codeplane")
	cfg := daemon.DefaultConfig(dataDir)

	pidFile := daemon.NewPIDFile(cfg.PIDPath())
	pid, readErr := pidFile.Read()
	if readErr != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
		return cfg.CleanupRunFiles()
	}

	if !pidFile.IsRunning() {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running (stale PID file)")
		return cfg.CleanupRunFiles()
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
	}

	deadline := time.Now().Add(cfg.ShutdownGracePeriod)
	for time.Now().Before(deadline) {
		if !pidFile.IsRunning() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if pidFile.IsRunning() {
		return fmt.Errorf("daemon (pid %d) did not stop within %s", pid, cfg.ShutdownGracePeriod)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Daemon stopped (pid: %d)\n", pid)
	return cfg.CleanupRunFiles()
}
