package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/codeplane/codeplane/internal/structural"
)

// DriftKind categorizes a detected disagreement between the filesystem
// and the structural store's last-known content hash.
type DriftKind int

const (
	// DriftModified means the on-disk hash no longer matches the
	// structural store's record for a file the watcher believes unchanged.
	DriftModified DriftKind = iota
	// DriftRemoved means a tracked file no longer exists on disk.
	DriftRemoved
	// DriftUntracked means an indexable file exists on disk with no
	// structural record at all.
	DriftUntracked
)

func (k DriftKind) String() string {
	switch k {
	case DriftModified:
		return "modified"
	case DriftRemoved:
		return "removed"
	case DriftUntracked:
		return "untracked"
	default:
		return "unknown"
	}
}

// Drift is one path whose on-disk state disagrees with the structural
// store's record.
type Drift struct {
	Path string
	Kind DriftKind
}

// CheckResult is the outcome of a safety-net sweep.
type CheckResult struct {
	Checked  int
	Drifts   []Drift
	Duration time.Duration
}

// SafetyNetChecker runs the infrequent full-filesystem comparison
// described for the watcher's safety net tier: it hashes every
// indexable file on disk and compares against the structural store's
// last-indexed hash, catching drift a missed or coalesced watcher event
// let through. Hashes decide; the watcher only hints.
type SafetyNetChecker struct {
	rootDir    string
	structural structural.Store
	coord      *Coordinator
}

// NewSafetyNetChecker creates a checker over the given coordinator.
func NewSafetyNetChecker(rootDir string, store structural.Store, coord *Coordinator) *SafetyNetChecker {
	return &SafetyNetChecker{rootDir: rootDir, structural: store, coord: coord}
}

// Check walks the repository, hashes every tracked and discoverable
// file, and reports every path whose state disagrees with the
// structural store.
func (s *SafetyNetChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	tracked, err := s.structural.GetFilesForReconciliation(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(tracked))
	var drifts []Drift

	resultCh, err := s.coord.cfg.Walker.Scan(ctx, s.coord.scanOptions())
	if err != nil {
		return nil, err
	}
	for res := range resultCh {
		if res.Error != nil {
			slog.Warn("safety net scan error", "error", res.Error)
			continue
		}
		path := res.File.Path
		seen[path] = true

		hash, hashErr := hashFile(filepath.Join(s.rootDir, path))
		if hashErr != nil {
			continue
		}

		f, tracked := tracked[path]
		switch {
		case !tracked:
			drifts = append(drifts, Drift{Path: path, Kind: DriftUntracked})
		case f.ContentHash != hash:
			drifts = append(drifts, Drift{Path: path, Kind: DriftModified})
		}
	}

	for path := range tracked {
		if !seen[path] {
			drifts = append(drifts, Drift{Path: path, Kind: DriftRemoved})
		}
	}

	return &CheckResult{Checked: len(seen), Drifts: drifts, Duration: time.Since(start)}, nil
}

// Repair folds every drifted path into one incremental reindex,
// publishing a new epoch that reconciles them with the filesystem.
func (s *SafetyNetChecker) Repair(ctx context.Context, drifts []Drift) (int64, error) {
	if len(drifts) == 0 {
		return s.coord.CurrentEpoch(), nil
	}
	paths := make([]string, 0, len(drifts))
	for _, d := range drifts {
		paths = append(paths, d.Path)
	}
	return s.coord.ReindexIncremental(ctx, paths)
}

func hashFile(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
