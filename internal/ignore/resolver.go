package ignore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// matcherCacheSize bounds the per-directory matcher cache so long-running
// daemons watching large monorepos don't grow this unbounded.
const matcherCacheSize = 1000

// alwaysPrunedDirs are never descended into, regardless of .cplignore /
// .gitignore content. A negation pattern cannot re-include them.
var alwaysPrunedDirs = map[string]bool{
	".git":          true,
	".codeplane":    true,
	"node_modules":  true,
	"vendor":        true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

// sensitiveFilePatterns are never indexed even when a .cplignore negation
// pattern would otherwise re-include them.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

// Reason explains why a path was excluded from indexing.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonAlwaysPruned  Reason = "always_pruned_dir"
	ReasonSensitiveFile Reason = "sensitive_file"
	ReasonIgnoreFile    Reason = "ignore_pattern"
)

// Diagnostic records a line from an ignore file that failed to compile.
// It never fails the resolver; the line is simply treated as a no-op.
type Diagnostic struct {
	Path string
	Line string
	Err  error
}

// Resolver decides whether a path under a repository root should be
// considered for discovery and indexing.
type Resolver struct {
	root string

	mu          sync.RWMutex
	rootMatcher *Matcher
	cache       *lru.Cache[string, *Matcher]
	diagnostics []Diagnostic
}

// NewResolver creates a Resolver rooted at root. Callers load the root
// ignore file (and any nested ones discovered during the walk) with
// LoadFile.
func NewResolver(root string) *Resolver {
	cache, _ := lru.New[string, *Matcher](matcherCacheSize)
	return &Resolver{
		root:        root,
		rootMatcher: NewWithPolicy(alwaysPrunedDirs, sensitiveFilePatterns),
		cache:       cache,
	}
}

// LoadFile reads an ignore file (.cplignore or .gitignore) and adds its
// patterns scoped to base (a root-relative directory, "" for the root).
// Malformed lines are recorded as diagnostics, never returned as errors.
func (r *Resolver) LoadFile(path, base string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ignore: read %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range ParsePatterns(string(data)) {
		r.addPatternSafe(path, line, base)
	}
	r.invalidateLocked(base)
	return nil
}

// addPatternSafe compiles a pattern, recording a Diagnostic instead of
// panicking/erroring on malformed input (regexp.MustCompile inside
// AddPatternWithBase can panic on pathological input from patternToRegex,
// which never happens for patterns produced by ParsePatterns, but external
// callers may feed arbitrary lines via LoadFile).
func (r *Resolver) addPatternSafe(path, line, base string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.diagnostics = append(r.diagnostics, Diagnostic{
				Path: path,
				Line: line,
				Err:  fmt.Errorf("ignore: malformed pattern: %v", rec),
			})
		}
	}()
	r.rootMatcher.AddPatternWithBase(line, base)
}

// invalidateLocked drops every cached per-directory matcher rooted at or
// under base, since a change to base's ignore file can change the effective
// rule set for base itself and every directory beneath it. Callers must
// hold r.mu.
func (r *Resolver) invalidateLocked(base string) {
	for _, key := range r.cache.Keys() {
		if key == base || strings.HasPrefix(key, base+"/") {
			r.cache.Remove(key)
		}
	}
}

// effectiveMatcher returns the Matcher that applies to paths under dir: the
// policy exclusions plus every loaded rule whose base is dir or an ancestor
// of dir. It's built once per directory and cached, so repeated lookups
// under a directory with many loaded ignore files don't rescan rules scoped
// to unrelated subtrees.
func (r *Resolver) effectiveMatcher(dir string) *Matcher {
	r.mu.RLock()
	if m, ok := r.cache.Get(dir); ok {
		r.mu.RUnlock()
		return m
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache.Get(dir); ok {
		return m
	}

	sub := &Matcher{
		alwaysPrunedDirs: r.rootMatcher.alwaysPrunedDirs,
		sensitiveRules:   r.rootMatcher.sensitiveRules,
	}
	for _, rule := range r.rootMatcher.rules {
		if rule.base == "" || rule.base == dir || strings.HasPrefix(dir, rule.base+"/") {
			sub.rules = append(sub.rules, rule)
		}
	}
	r.cache.Add(dir, sub)
	return sub
}

// InvalidateDir drops the cached matchers for dir and every directory
// beneath it, used when dir's ignore file changes without requiring a
// full rebuild.
func (r *Resolver) InvalidateDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked(dir)
}

// InvalidateAll drops every cached matcher.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Purge()
}

// Diagnostics returns malformed-pattern diagnostics accumulated so far.
func (r *Resolver) Diagnostics() []Diagnostic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Diagnostic, len(r.diagnostics))
	copy(out, r.diagnostics)
	return out
}

// IsIndexable reports whether relPath (root-relative, slash-separated)
// should be discovered and indexed. Always-pruned directory names and
// sensitive file patterns are enforced by the matcher itself ahead of any
// loaded .cplignore/.gitignore rule, so no negation pattern can re-include
// them.
func (r *Resolver) IsIndexable(relPath string, isDir bool) (bool, Reason) {
	dir := filepath.Dir(filepath.ToSlash(relPath))
	if dir == "." {
		dir = ""
	}

	m := r.effectiveMatcher(dir)
	ignored, reason := m.MatchReason(relPath, isDir)
	if ignored {
		return false, reason
	}
	return true, ReasonNone
}
