package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeplane/codeplane/internal/config"
	"github.com/codeplane/codeplane/internal/index"
	"github.com/codeplane/codeplane/internal/output"
	"github.com/codeplane/codeplane/internal/ui"
	"github.com/codeplane/codeplane/pkg/version"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a CodePlane index for a project",
		Long: `Initialize CodePlane for a project.

This command:
1. Creates the .codeplane state directory
2. Writes a .codeplane.yaml configuration template (if absent)
3. Runs an initial full reindex

Use --force to discard an existing index and rebuild it. An existing
.codeplane.yaml or .codeplane.yml is kept as it is.`,
		Example: `  # Initialize in current project
  codeplane init

  # Force reinitialize (rebuild index from scratch)
  codeplane init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runInit(ctx, cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Discard existing index data and rebuild the index")

	return cmd
}

// codeplaneStartMarker is the HTML comment that marks the beginning of the codeplane guide section.
const codeplaneStartMarker = "<!-- codeplane:start -->"

// codeplaneGuideContent is the usage guide added to CLAUDE.md.
const codeplaneGuideContent = `<!-- codeplane:start -->
## CodePlane Index (Use by Default)

CodePlane maintains a structural and lexical index of this repository.
Prefer its queries over ad-hoc grepping when you need definitions,
references, or a semantic-ish search across the codebase:

| Need | Query |
|------|-------|
| Find a definition by name | ` + "`get_def`" + ` |
| Find callers/usages of a definition | ` + "`get_references`" + ` |
| Search by text/identifier | ` + "`search`" + ` |
| List all defs in a file | ` + "`get_all_defs`" + ` |
| Repo overview (entry points, public API) | ` + "`map_repo`" + ` |

Run ` + "`codeplane up`" + ` to start the daemon, then ` + "`codeplane status`" + `
to see its port and current epoch.
<!-- codeplane:end -->
`

// hasCodePlaneGuide checks if CLAUDE.md contains the codeplane guide section.
func hasCodePlaneGuide(path string) (bool, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading CLAUDE.md: %w", err)
	}
	return strings.Contains(string(content), codeplaneStartMarker), nil
}

// hasCodePlaneIgnore checks if .codeplane is already in .gitignore.
// Handles variations: .codeplane, .codeplane/, /.codeplane, /.codeplane/
func hasCodePlaneIgnore(content string) bool {
	patterns := []string{".codeplane", ".codeplane/", "/.codeplane", "/.codeplane/"}

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, pattern := range patterns {
			if line == pattern {
				return true
			}
		}
	}
	return false
}

// ensureGitignore adds .codeplane to .gitignore if not present.
// Returns (true, nil) if added, (false, nil) if already present.
func ensureGitignore(projectRoot string) (bool, error) {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	if hasCodePlaneIgnore(string(content)) {
		return false, nil
	}

	lineEnding := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		lineEnding = "\r\n"
	}
	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, []byte(lineEnding)...)
	}

	var entry string
	if len(content) == 0 {
		entry = fmt.Sprintf("# CodePlane index data (auto-generated)%s.codeplane/%s", lineEnding, lineEnding)
	} else {
		entry = fmt.Sprintf("%s# CodePlane index data (auto-generated)%s.codeplane/%s", lineEnding, lineEnding, lineEnding)
	}
	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}
	return true, nil
}

// ensureCodePlaneGuide adds the guide section to CLAUDE.md if not present.
func ensureCodePlaneGuide(path string) (bool, error) {
	fileExists := true
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fileExists = false
	}

	if fileExists {
		hasGuide, err := hasCodePlaneGuide(path)
		if err != nil {
			return false, err
		}
		if hasGuide {
			return false, nil
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return false, fmt.Errorf("opening CLAUDE.md: %w", err)
		}
		defer f.Close()
		if _, err := f.WriteString("\n\n" + codeplaneGuideContent); err != nil {
			return false, fmt.Errorf("appending to CLAUDE.md: %w", err)
		}
		return true, nil
	}

	if err := os.WriteFile(path, []byte(codeplaneGuideContent), 0644); err != nil {
		return false, fmt.Errorf("creating CLAUDE.md: %w", err)
	}
	return true, nil
}

// generateProjectYAML creates a template .codeplane.yaml if neither it
// nor .codeplane.yml already exists.
func generateProjectYAML(out *output.Writer, projectRoot string) error {
	yamlPath := filepath.Join(projectRoot, ".codeplane.yaml")

	if _, err := os.Stat(yamlPath); err == nil {
		out.Status("i", "Existing .codeplane.yaml preserved")
		return nil
	}
	ymlPath := filepath.Join(projectRoot, ".codeplane.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		out.Status("i", "Existing .codeplane.yml found, skipping template")
		return nil
	}

	if err := config.NewConfig().WriteYAML(yamlPath); err != nil {
		return fmt.Errorf("failed to write .codeplane.yaml: %w", err)
	}

	out.Status("+", "Created .codeplane.yaml (project configuration)")
	return nil
}

func runInit(ctx context.Context, cmd *cobra.Command, path string, force bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf(">", "codeplane %s - initializing...", version.Version)
	out.Newline()

	root, err := resolveProjectRoot(path)
	if err != nil {
		return err
	}
	out.Statusf("#", "Project: %s", root)

	dataDir := filepath.Join(root, ".codeplane")
	structuralPath := filepath.Join(dataDir, "structural.db")

	if !force {
		if _, err := os.Stat(structuralPath); err == nil {
			out.Warning("Project already initialized (.codeplane/structural.db exists)")
			out.Status(">", "Use --force to reinitialize")
			return nil
		}
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if force {
		if err := clearIndexData(dataDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
	}

	out.Newline()
	if err := generateProjectYAML(out, root); err != nil {
		out.Warningf("Could not create .codeplane.yaml: %v", err)
	}

	claudeMDPath := filepath.Join(root, "CLAUDE.md")
	added, err := ensureCodePlaneGuide(claudeMDPath)
	if err != nil {
		out.Warningf("Could not update CLAUDE.md: %v", err)
	} else if added {
		out.Status("+", "Added codeplane usage guide to CLAUDE.md")
	}

	added, err = ensureGitignore(root)
	if err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Status("+", "Added .codeplane to .gitignore")
	}

	out.Newline()
	out.Status(">", "Building initial index...")

	coord, cleanup, err := openCoordinator(ctx, root)
	if err != nil {
		return err
	}
	defer cleanup()

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	runner, err := index.NewRunner(coord, renderer, cfg)
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}

	startTime := time.Now()
	result, err := runner.Run(ctx, index.RunnerConfig{Full: true})
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	duration := time.Since(startTime)

	out.Newline()
	out.Statusf("~", "Indexed %d files at epoch %d in %.1fs", result.Files, result.Epoch, duration.Seconds())

	out.Newline()
	out.Success("Initialization complete!")
	out.Newline()
	out.Status(">", "Next steps:")
	out.Status("", "  1. codeplane up      - start the query daemon")
	out.Status("", "  2. codeplane status  - check daemon and index status")

	if !config.UserConfigExists() {
		out.Newline()
		out.Status(">", "For machine-specific settings, run 'codeplane config init'")
	}

	return nil
}
