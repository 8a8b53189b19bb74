package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/structural"
)

func newIndexInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Show index configuration and statistics",
		Long: `Display detailed information about the structural and lexical index:
schema version, current epoch, context, file and public-definition
counts, and the on-disk size of each store.

This command helps you:
- Check which epoch the index is currently at
- Verify an index was built after a reindex
- Compare index sizes across projects`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runIndexInfo(cmd.Context(), cmd, path, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

// IndexInfo summarizes the structural and lexical index state for the
// info command.
type IndexInfo struct {
	Location      string
	ProjectRoot   string
	SchemaVersion string
	Epoch         int64
	FileCount     int
	DefCount      int
	ContextCount  int
	StructuralSizeBytes int64
	LexicalSizeBytes    int64
}

func runIndexInfo(ctx context.Context, cmd *cobra.Command, path string, jsonOutput bool) error {
	root, err := resolveProjectRoot(path)
	if err != nil {
		return err
	}

	dataDir := filepath.Join(root, ".codeplane")
	structuralPath := filepath.Join(dataDir, "structural.db")

	if _, err := os.Stat(structuralPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s\nRun 'codeplane index %s' to create one", dataDir, path)
	}

	store, err := structural.Open(structuralPath)
	if err != nil {
		return fmt.Errorf("failed to open structural store: %w", err)
	}
	defer func() { _ = store.Close() }()

	epoch, err := store.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current epoch: %w", err)
	}
	schemaVersion, _ := store.GetMetadata(ctx, structural.MetadataKeySchemaVersion)
	contexts, err := store.GetContexts(ctx)
	if err != nil {
		return fmt.Errorf("failed to read contexts: %w", err)
	}
	paths, err := store.ListFilePaths(ctx)
	if err != nil {
		return fmt.Errorf("failed to read file list: %w", err)
	}
	defs, err := store.GetPublicDefs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read public defs: %w", err)
	}

	info := &IndexInfo{
		Location:            dataDir,
		ProjectRoot:          root,
		SchemaVersion:        schemaVersion,
		Epoch:                epoch,
		FileCount:            len(paths),
		DefCount:             len(defs),
		ContextCount:         len(contexts),
		StructuralSizeBytes:  fileSizeOrZero(structuralPath),
		LexicalSizeBytes:     dirSizeOrZero(filepath.Join(dataDir, "lexical")),
	}

	if jsonOutput {
		return outputIndexInfoJSON(cmd, info)
	}
	return outputIndexInfoHuman(cmd, info)
}

func fileSizeOrZero(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func dirSizeOrZero(dir string) int64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

func outputIndexInfoJSON(cmd *cobra.Command, info *IndexInfo) error {
	output := map[string]interface{}{
		"location":       info.Location,
		"project":        info.ProjectRoot,
		"schema_version": info.SchemaVersion,
		"epoch":          info.Epoch,
		"statistics": map[string]interface{}{
			"files":                  info.FileCount,
			"contexts":               info.ContextCount,
			"public_defs":            info.DefCount,
			"structural_size_bytes":  info.StructuralSizeBytes,
			"lexical_size_bytes":     info.LexicalSizeBytes,
		},
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func outputIndexInfoHuman(cmd *cobra.Command, info *IndexInfo) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Index Information")
	fmt.Fprintln(out, "=================")
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Location:       %s\n", info.Location)
	fmt.Fprintf(out, "Project:        %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "Schema Version: %s\n", info.SchemaVersion)
	fmt.Fprintf(out, "Current Epoch:  %d\n", info.Epoch)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Index Statistics:")
	fmt.Fprintf(out, "  Contexts:        %d\n", info.ContextCount)
	fmt.Fprintf(out, "  Files:           %d\n", info.FileCount)
	fmt.Fprintf(out, "  Public defs:     %d\n", info.DefCount)
	fmt.Fprintf(out, "  Structural size: %s\n", formatBytes(info.StructuralSizeBytes))
	fmt.Fprintf(out, "  Lexical size:    %s\n", formatBytes(info.LexicalSizeBytes))

	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
