package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/config"
	"github.com/codeplane/codeplane/internal/index"
	"github.com/codeplane/codeplane/internal/logging"
	"github.com/codeplane/codeplane/internal/ui"
)

func newIndexCmd() *cobra.Command {
	var (
		noTUI bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Build a structural and lexical index of a directory",
		Long: `Index a directory, discovering its files, parsing them into def,
reference, import, and call facts, and publishing a new epoch over the
structural and lexical stores.

Use --force to drop the existing index data and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd, path, noTUI, force)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")

	cmd.AddCommand(newIndexInfoCmd())

	return cmd
}

// clearIndexData removes all index-related files from the data directory.
// This preserves the .codeplane.yaml config file (which is at project root, not in dataDir).
func clearIndexData(dataDir string) error {
	indexFiles := []string{
		filepath.Join(dataDir, "structural.db"),
		filepath.Join(dataDir, "structural.db-shm"),
		filepath.Join(dataDir, "structural.db-wal"),
	}
	for _, path := range indexFiles {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return os.RemoveAll(filepath.Join(dataDir, "lexical"))
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, noTUI bool, force bool) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	root, err := resolveProjectRoot(path)
	if err != nil {
		return err
	}

	dataDir := filepath.Join(root, ".codeplane")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if force {
		if err := clearIndexData(dataDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...\n")
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	coord, cleanup, err := openCoordinator(ctx, root)
	if err != nil {
		return err
	}
	defer cleanup()

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)

	runner, err := index.NewRunner(coord, renderer, cfg)
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}

	result, err := runner.Run(ctx, index.RunnerConfig{Full: true})
	if err != nil {
		return err
	}

	slog.Info("cli_index_complete",
		slog.Int64("epoch", result.Epoch),
		slog.Int("files", result.Files))
	return nil
}
