package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show daemon and index status",
		Long: `Report whether the index daemon is running, its port and PID, and the
current index epoch.

If the daemon isn't running, this falls back to reading the on-disk
structural store directly, and then also reports file statistics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runStatus(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// statusReport is the shape rendered by the status command, in both
// human and JSON form.
type statusReport struct {
	Running     bool   `json:"running"`
	PID         int    `json:"pid,omitempty"`
	Port        int    `json:"port,omitempty"`
	Epoch       int64  `json:"epoch"`
	Total       int    `json:"files_total"`
	Indexed     int    `json:"files_indexed"`
	ParseFailed int    `json:"files_parse_failed"`
	Source      string `json:"source"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	root, err := resolveProjectRoot(path)
	if err != nil {
		return err
	}
	dataDir := filepath.Join(root, ".codeplane")

	cfg := daemon.DefaultConfig(dataDir)
	client := daemon.NewClient(cfg)

	report, err := statusFromDaemon(ctx, cfg, client)
	if err != nil {
		report, err = statusFromDisk(ctx, root, dataDir)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return printStatusHuman(cmd, report)
}

func statusFromDaemon(ctx context.Context, cfg daemon.Config, client *daemon.Client) (statusReport, error) {
	if !client.IsRunning() {
		return statusReport{}, fmt.Errorf("daemon not running")
	}

	result, err := client.Status(ctx)
	if err != nil {
		return statusReport{}, err
	}

	data, err := os.ReadFile(cfg.ServerFilePath())
	var info daemon.ServerInfo
	if err == nil {
		_ = json.Unmarshal(data, &info)
	}

	return statusReport{
		Running: true,
		PID:     result.PID,
		Port:    info.Port,
		Epoch:   result.Epoch,
		Source:  "daemon",
	}, nil
}

func statusFromDisk(ctx context.Context, root, dataDir string) (statusReport, error) {
	if _, err := os.Stat(filepath.Join(dataDir, "structural.db")); os.IsNotExist(err) {
		return statusReport{}, fmt.Errorf("no index found at %s\nRun 'codeplane init %s' to create one", dataDir, root)
	}

	coord, cleanup, err := openCoordinator(ctx, root)
	if err != nil {
		return statusReport{}, err
	}
	defer cleanup()

	stats, err := coord.GetFileStats(ctx)
	if err != nil {
		return statusReport{}, fmt.Errorf("failed to read file stats: %w", err)
	}

	return statusReport{
		Running:     false,
		Epoch:       coord.CurrentEpoch(),
		Total:       stats.Total,
		Indexed:     stats.Indexed,
		ParseFailed: stats.ParseFailed,
		Source:      "disk",
	}, nil
}

func printStatusHuman(cmd *cobra.Command, report statusReport) error {
	out := cmd.OutOrStdout()

	if report.Running {
		fmt.Fprintln(out, "Daemon:  running")
		fmt.Fprintf(out, "  PID:   %d\n", report.PID)
		fmt.Fprintf(out, "  Port:  %d\n", report.Port)
	} else {
		fmt.Fprintln(out, "Daemon:  not running")
	}
	fmt.Fprintf(out, "Epoch:   %d\n", report.Epoch)
	if report.Source == "disk" {
		fmt.Fprintf(out, "Files:   %d total, %d indexed, %d parse failures\n",
			report.Total, report.Indexed, report.ParseFailed)
	}
	return nil
}
