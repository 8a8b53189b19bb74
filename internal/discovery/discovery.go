package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/codeplane/codeplane/internal/ignore"
)

// generatedFileMarkers are content prefixes that mark a file as
// machine-generated; such files are still indexed. The result is
// reported only as FileInfo.IsGenerated: the coordinator does not store
// it and map_repo does not filter on it.
var generatedFileMarkers = []string{
	"// Code generated",
	"// DO NOT EDIT",
	"/* DO NOT EDIT",
	"# Generated by",
	"<!-- AUTO-GENERATED -->",
	"// Generated by",
	"/* Generated by",
}

// Walker discovers indexable files under a repository root, consulting
// an ignore.Resolver for exclusion decisions and resolving symlinks
// safely: symlinked directories are never followed, and a symlinked
// file is only indexed when its canonical target resolves inside the
// root.
type Walker struct {
	resolver *ignore.Resolver
}

// New creates a Walker backed by resolver.
func New(resolver *ignore.Resolver) *Walker {
	return &Walker{resolver: resolver}
}

// Scan discovers all indexable files under opts.RootDir, streaming
// results on the returned channel (closed when the walk completes or
// ctx is cancelled).
func (w *Walker) Scan(ctx context.Context, opts *ScanOptions) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("discovery: absolute path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("discovery: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery: root is not a directory: %s", absRoot)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, workers*10)
	go func() {
		defer close(results)
		w.walk(ctx, absRoot, absRoot, opts, maxFileSize, results)
	}()
	return results, nil
}

// ScanSubtree scans only relSubtree (root-relative) but still yields
// paths relative to the repository root. Used by the coordinator for
// incremental reconciliation of a changed directory without a full
// walk.
func (w *Walker) ScanSubtree(ctx context.Context, opts *ScanOptions, relSubtree string) (<-chan ScanResult, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("discovery: absolute path: %w", err)
	}

	relSubtree = strings.Trim(relSubtree, "/")
	if relSubtree == "" {
		return w.Scan(ctx, opts)
	}

	absSubtree := filepath.Join(absRoot, relSubtree)
	if !isWithinRoot(absRoot, absSubtree) {
		return nil, fmt.Errorf("discovery: subtree escapes root: %s", relSubtree)
	}

	info, err := os.Stat(absSubtree)
	if err != nil {
		if os.IsNotExist(err) {
			results := make(chan ScanResult)
			close(results)
			return results, nil
		}
		return nil, fmt.Errorf("discovery: stat subtree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("discovery: subtree is not a directory: %s", absSubtree)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make(chan ScanResult, workers*10)
	go func() {
		defer close(results)
		w.walk(ctx, absRoot, absSubtree, opts, maxFileSize, results)
	}()
	return results, nil
}

// Dirs returns every indexable directory under opts.RootDir, relative to
// the root, for manifest-based context detection. Symlinked directories
// are skipped on the same terms as Scan.
func (w *Walker) Dirs(ctx context.Context, opts *ScanOptions) ([]string, error) {
	if opts == nil {
		opts = &ScanOptions{}
	}
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("discovery: absolute path: %w", err)
	}

	var dirs []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil || !d.IsDir() {
			return nil
		}
		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.Type()&fs.ModeSymlink != 0 {
			return filepath.SkipDir
		}
		if ok, _ := w.resolver.IsIndexable(relPath, true); !ok {
			return filepath.SkipDir
		}
		dirs = append(dirs, relPath)
		return nil
	})
	if err != nil && err != context.Canceled {
		return dirs, err
	}
	return dirs, nil
}

func isWithinRoot(absRoot, candidate string) bool {
	rel, err := filepath.Rel(absRoot, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// walk performs the directory traversal starting at walkFrom, emitting
// paths relative to absRoot.
func (w *Walker) walk(ctx context.Context, absRoot, walkFrom string, opts *ScanOptions, maxFileSize int64, results chan<- ScanResult) {
	err := filepath.WalkDir(walkFrom, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil || relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			// Never descend into a symlinked directory.
			if d.Type()&fs.ModeSymlink != 0 {
				return filepath.SkipDir
			}
			if ok, _ := w.resolver.IsIndexable(relPath, true); !ok {
				return filepath.SkipDir
			}
			for _, pattern := range opts.ExcludePatterns {
				if matchFilePattern(d.Name(), relPath, pattern) {
					return filepath.SkipDir
				}
			}
			return nil
		}

		realPath := path
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := filepath.EvalSymlinks(path)
			if err != nil || !isWithinRoot(absRoot, target) {
				return nil
			}
			realPath = target
		}

		if ok, _ := w.resolver.IsIndexable(relPath, false); !ok {
			return nil
		}
		for _, pattern := range opts.ExcludePatterns {
			if matchFilePattern(filepath.Base(relPath), relPath, pattern) {
				return nil
			}
		}
		if len(opts.IncludePatterns) > 0 && !matchesAnyPattern(relPath, opts.IncludePatterns) {
			return nil
		}

		info, err := os.Stat(realPath)
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}
		if isBinaryFile(realPath) {
			return nil
		}

		language := DetectLanguage(relPath)
		fileInfo := &FileInfo{
			Path:        relPath,
			AbsPath:     realPath,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentType: DetectContentType(language),
			Language:    language,
			IsGenerated: isGeneratedFile(realPath),
		}

		select {
		case results <- ScanResult{File: fileInfo}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled {
		select {
		case results <- ScanResult{Error: err}:
		case <-ctx.Done():
		}
	}
}

// matchFilePattern reports whether relPath/baseName matches a simple
// glob exclude pattern (*, prefix*, *suffix, *mid*, dir/**).
func matchFilePattern(baseName, relPath, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(baseName, middle)
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	return baseName == pattern || relPath == pattern
}

func matchesAnyPattern(relPath string, patterns []string) bool {
	base := filepath.Base(relPath)
	for _, p := range patterns {
		if matchFilePattern(base, relPath, p) {
			return true
		}
	}
	return false
}

func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}

func isGeneratedFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return false
	}
	content := string(buf[:n])
	for _, marker := range generatedFileMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
