package index

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/codeplane/codeplane/internal/structural"
)

// SearchMode selects which facets a search call draws on. Lexical-only
// mode skips the structural join entirely.
type SearchMode string

const (
	SearchModeLexical SearchMode = "lexical"
	SearchModeHybrid  SearchMode = "hybrid"
)

// SearchScope narrows a search to a fact kind and/or enclosing def.
type SearchScope struct {
	Kind         structural.FactKind
	EnclosingDef string
}

// SearchHit is one result from Search, with the structural facts that
// back it when the query resolved to recognizable defs.
type SearchHit struct {
	Path         string
	Score        float64
	MatchedTerms []string
	Defs         []*structural.DefFact
}

// Search runs a lexical lookup, optionally narrowed by scope to files
// containing defs of a given kind or the def whose ID is EnclosingDef, and
// returns the hits plus the set of files touched.
func (c *Coordinator) Search(ctx context.Context, query string, mode SearchMode, scope *SearchScope, limit int) ([]*SearchHit, []string, error) {
	if c.cfg.Lexical == nil {
		return nil, nil, nil
	}
	results, err := c.cfg.Lexical.Search(ctx, query, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	idToPath, err := c.fileIDToPath(ctx)
	if err != nil {
		return nil, nil, err
	}

	touched := make([]string, 0, len(results))
	hits := make([]*SearchHit, 0, len(results))
	for _, r := range results {
		var defs []*structural.DefFact
		if mode != SearchModeLexical {
			defs, err = c.cfg.Structural.GetDefsByFile(ctx, r.DocID)
			if err != nil {
				return nil, nil, err
			}
			if scope != nil {
				defs = filterDefs(defs, scope)
				if len(defs) == 0 {
					continue
				}
			}
		}
		path := idToPath[r.DocID]
		hits = append(hits, &SearchHit{Path: path, Score: r.Score, MatchedTerms: r.MatchedTerms, Defs: defs})
		touched = append(touched, path)
	}
	return hits, touched, nil
}

func filterDefs(defs []*structural.DefFact, scope *SearchScope) []*structural.DefFact {
	out := make([]*structural.DefFact, 0, len(defs))
	for _, d := range defs {
		if scope.Kind != "" && d.Kind != scope.Kind {
			continue
		}
		if scope.EnclosingDef != "" && d.ID != scope.EnclosingDef {
			continue
		}
		out = append(out, d)
	}
	return out
}

// fileIDToPath builds a reverse lookup of the structural store's file
// table, used to translate lexical hits (keyed by file id) back to
// repo-relative paths.
func (c *Coordinator) fileIDToPath(ctx context.Context) (map[string]string, error) {
	files, err := c.cfg.Structural.GetFilesForReconciliation(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(files))
	for path, f := range files {
		out[f.ID] = path
	}
	return out, nil
}

// GetDef looks up a definition by name, optionally narrowed to a file.
func (c *Coordinator) GetDef(ctx context.Context, name, path string) (*structural.DefFact, []string, error) {
	defs, err := c.cfg.Structural.GetDefsByName(ctx, name, path)
	if err != nil {
		return nil, nil, err
	}
	if len(defs) == 0 {
		return nil, nil, nil
	}
	var touched []string
	if path != "" {
		touched = append(touched, path)
	}
	return defs[0], touched, nil
}

// GetAllDefs returns every DefFact recorded for a file.
func (c *Coordinator) GetAllDefs(ctx context.Context, fileID string) ([]*structural.DefFact, error) {
	return c.cfg.Structural.GetDefsByFile(ctx, fileID)
}

// GetReferences looks up RefFacts by target def id or name.
func (c *Coordinator) GetReferences(ctx context.Context, defID, name string, limit int) ([]*structural.RefFact, error) {
	refs, err := c.cfg.Structural.GetReferences(ctx, defID, name)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return refs, nil
}

// GetFileState returns the content hash, indexed epoch, and parse
// status of a file as of the current epoch.
func (c *Coordinator) GetFileState(ctx context.Context, path string) (*structural.FileState, error) {
	return c.cfg.Structural.GetFileState(ctx, path)
}

// EntryPoint is a file recognized as a language-family main-module
// convention: a file named main.go, __main__.py, index.ts or index.js,
// wherever it sits in the tree.
type EntryPoint struct {
	Path string
}

// RepoMap is map_repo's payload: the directory tree's per-file line
// counts, detected entry points, and every publicly exported symbol.
type RepoMap struct {
	Files         []FileSummary
	EntryPoints   []EntryPoint
	PublicSymbols []*structural.DefFact
}

// FileSummary is one file's line count row in a RepoMap.
type FileSummary struct {
	Path      string
	Language  string
	LineCount int
}

// MapRepo returns the directory tree with per-file line counts, entry
// points, and publicly exported symbols, plus the files it touched.
func (c *Coordinator) MapRepo(ctx context.Context) (*RepoMap, []string, error) {
	paths, err := c.cfg.Structural.ListFilePaths(ctx)
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)

	fileRows, err := c.cfg.Structural.GetFilesForReconciliation(ctx)
	if err != nil {
		return nil, nil, err
	}

	summaries := make([]FileSummary, 0, len(paths))
	var entryPoints []EntryPoint
	for _, p := range paths {
		f, ok := fileRows[p]
		if !ok {
			continue
		}
		summaries = append(summaries, FileSummary{Path: p, Language: f.Language, LineCount: f.LineCount})
		if isEntryPoint(p) {
			entryPoints = append(entryPoints, EntryPoint{Path: p})
		}
	}

	publics, err := c.cfg.Structural.GetPublicDefs(ctx)
	if err != nil {
		return nil, nil, err
	}

	return &RepoMap{Files: summaries, EntryPoints: entryPoints, PublicSymbols: publics}, paths, nil
}

// FileStats summarizes the structural store's file table for
// get_file_stats(): how many files are tracked, how many carry facts
// from the current indexing pass, and how many failed to parse.
type FileStats struct {
	Total       int
	Indexed     int
	ParseFailed int
}

// GetFileStats reports aggregate counts over every tracked file.
func (c *Coordinator) GetFileStats(ctx context.Context) (FileStats, error) {
	files, err := c.cfg.Structural.GetFilesForReconciliation(ctx)
	if err != nil {
		return FileStats{}, err
	}
	stats := FileStats{Total: len(files)}
	for _, f := range files {
		if f.ParseFailed {
			stats.ParseFailed++
			continue
		}
		stats.Indexed++
	}
	return stats, nil
}

// isEntryPoint reports whether path matches a language-family
// main-module convention.
func isEntryPoint(path string) bool {
	base := filepath.Base(path)
	switch base {
	case "main.go", "__main__.py", "index.ts", "index.js":
		return true
	}
	return false
}
