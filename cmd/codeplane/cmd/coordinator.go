package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/codeplane/codeplane/internal/config"
	"github.com/codeplane/codeplane/internal/discovery"
	"github.com/codeplane/codeplane/internal/ignore"
	"github.com/codeplane/codeplane/internal/index"
	"github.com/codeplane/codeplane/internal/lexical"
	"github.com/codeplane/codeplane/internal/structural"
)

// openCoordinator opens the structural and lexical stores under root's
// .codeplane state directory, starts a Coordinator over them (running
// crash recovery), and returns a cleanup func that closes both stores.
func openCoordinator(ctx context.Context, root string) (*index.Coordinator, func(), error) {
	dataDir := filepath.Join(root, ".codeplane")

	structStore, err := structural.Open(filepath.Join(dataDir, "structural.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open structural store: %w", err)
	}

	lexStore, err := lexical.Open(filepath.Join(dataDir, "lexical"), lexical.DefaultConfig())
	if err != nil {
		_ = structStore.Close()
		return nil, nil, fmt.Errorf("failed to open lexical store: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	resolver := ignore.NewResolver(root)
	walker := discovery.New(resolver)

	coord := index.NewCoordinator(index.CoordinatorConfig{
		RootDir:      root,
		Structural:   structStore,
		Lexical:      lexStore,
		Resolver:     resolver,
		Walker:       walker,
		MaxFileSize:  cfg.Performance.MaxParseBytes,
		ParseWorkers: cfg.Performance.ParseWorkers,
	})
	if err := coord.Start(ctx); err != nil {
		_ = lexStore.Close()
		_ = structStore.Close()
		return nil, nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	cleanup := func() {
		_ = lexStore.Close()
		_ = structStore.Close()
	}
	return coord, cleanup, nil
}

// resolveProjectRoot resolves path to an absolute project root,
// falling back to path itself when no manifest marker is found.
func resolveProjectRoot(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		return absPath, nil
	}
	return root, nil
}
