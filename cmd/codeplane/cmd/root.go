// Package cmd provides the CLI commands for CodePlane.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/logging"
	"github.com/codeplane/codeplane/internal/preflight"
	"github.com/codeplane/codeplane/internal/profiling"
	"github.com/codeplane/codeplane/pkg/version"
)

var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codeplane CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "codeplane",
		Short: "Local structural and lexical code index engine",
		Long: `CodePlane builds and serves a structural and lexical index of a
codebase: definitions, references, imports, and call relationships,
plus full-text search, kept current through epoch-based incremental
reindexing.

Run 'codeplane init' to build the initial index, 'codeplane up' to
start the query daemon, and 'codeplane status' to check on it.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), cmd, offline, skipCheck)
		},
	}

	cmd.SetVersionTemplate("codeplane version {{.Version}}\n")

	cmd.Flags().BoolVar(&offline, "offline", false, "Reserved for offline operation")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codeplane/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newUpCmd())
	cmd.AddCommand(newDownCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, logErr := logging.Setup(logging.DebugConfig())
		if logErr != nil {
			return fmt.Errorf("failed to setup debug logging: %w", logErr)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled", slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}
	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}
	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}
	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault is invoked when codeplane is run with no subcommand: if
// no index exists yet it builds one, then prints status. It never starts
// a long-running process on its own - use 'codeplane up' for that.
func runSmartDefault(ctx context.Context, cmd *cobra.Command, offline bool, skipCheck bool) error {
	root, err := resolveProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".codeplane")

	if !skipCheck && preflight.NeedsCheck(dataDir) {
		checker := preflight.New(
			preflight.WithOffline(offline),
			preflight.WithOutput(io.Discard),
		)
		results := checker.RunAll(ctx, root)

		if checker.HasCriticalFailures(results) {
			checker.PrintResults(results)
			return fmt.Errorf("system check failed - run 'codeplane doctor' for diagnostics")
		}
		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Debug("failed to mark preflight as passed", slog.String("error", err.Error()))
		}
	}

	if _, err := os.Stat(filepath.Join(dataDir, "structural.db")); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No index found, running 'codeplane init'...")
		if err := runInit(ctx, cmd, root, false); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}

	return runStatus(ctx, cmd, root, false)
}
