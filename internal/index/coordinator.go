// Package index hosts the Coordinator: the single writer that owns the
// epoch model described for the lexical and structural stores, and the
// read queries layered over the current epoch.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeplane/codeplane/internal/cperrors"
	"github.com/codeplane/codeplane/internal/discovery"
	"github.com/codeplane/codeplane/internal/ignore"
	"github.com/codeplane/codeplane/internal/lexical"
	"github.com/codeplane/codeplane/internal/parse"
	"github.com/codeplane/codeplane/internal/structural"
)

// DefaultMaxFileSize is the default maximum file size to index (100MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// DefaultBatchSize bounds how many files are parsed and staged per batch
// during a full reindex, to bound memory on large repositories.
const DefaultBatchSize = 500

// CoordinatorConfig wires a Coordinator to its dependencies.
type CoordinatorConfig struct {
	// RootDir is the absolute path to the repository root.
	RootDir string

	// Structural is the relational store.
	Structural structural.Store

	// Lexical is the full-text store.
	Lexical *lexical.Store

	// Resolver decides which paths are indexable.
	Resolver *ignore.Resolver

	// Walker discovers indexable files under RootDir.
	Walker *discovery.Walker

	// MaxFileSize is the largest file, in bytes, that will be parsed.
	// Defaults to DefaultMaxFileSize if zero.
	MaxFileSize int64

	// BatchSize bounds files per parse/stage batch during a full reindex.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// ParseWorkers bounds how many files within a batch are parsed
	// concurrently. Defaults to runtime.NumCPU() if zero; staging the
	// parsed results back into the batch is always sequential, so this
	// only parallelizes the CPU-bound parse/extract step.
	ParseWorkers int

	// Logger receives structured progress and failure-isolation events.
	Logger *slog.Logger
}

// Coordinator is the single writer over the lexical and structural
// stores. It owns two locks: reconcileMu (only one full or incremental
// reindex at a time) and writerMu (only one epoch publication at a
// time). Lock order is reconcile before writer; no call path acquires
// writer without first holding reconcile.
type Coordinator struct {
	cfg CoordinatorConfig

	reconcileMu sync.Mutex
	writerMu    sync.Mutex

	epochMu   sync.Mutex
	epochCond *sync.Cond
	epoch     int64

	parserPool sync.Pool
}

// NewCoordinator creates a Coordinator. Call Start before issuing any
// reindex or read calls so crash recovery runs first.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Coordinator{cfg: cfg}
	c.epochCond = sync.NewCond(&c.epochMu)
	c.parserPool.New = func() interface{} { return parse.NewParser() }
	return c
}

// Start runs crash recovery against the journal left by any prior,
// ungracefully-terminated run, then primes the in-memory epoch cursor.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.recover(ctx); err != nil {
		return err
	}
	epoch, err := c.cfg.Structural.CurrentEpoch(ctx)
	if err != nil {
		return err
	}
	c.epochMu.Lock()
	c.epoch = epoch
	c.epochMu.Unlock()
	return nil
}

// recover implements the three crash-recovery cases from the coordinator
// epoch model: no journal row is healthy; an uncommitted lexical phase
// is simply discarded; a lexical-committed phase with no matching epoch
// row means the lexical store raced ahead of the structural truth and
// must be rolled back to it.
func (c *Coordinator) recover(ctx context.Context) error {
	entry, ok, err := c.cfg.Structural.ReadJournal(ctx)
	if err != nil {
		return cperrors.IndexConsistency(cperrors.ErrCodeJournalReplayFailed, "read epoch journal", err)
	}
	if !ok {
		return nil
	}

	if !entry.LexicalCommitted {
		c.cfg.Logger.Warn("discarding journal for uncommitted epoch", "epoch", entry.EpochID)
		return c.cfg.Structural.DeleteJournal(ctx)
	}

	structuralEpoch, err := c.cfg.Structural.CurrentEpoch(ctx)
	if err != nil {
		return cperrors.IndexConsistency(cperrors.ErrCodeJournalReplayFailed, "read structural epoch during recovery", err)
	}
	if structuralEpoch >= entry.EpochID {
		// The structural transaction did land after all; the journal row
		// is stale advisory state left over from a crash between commit
		// and its own deletion.
		return c.cfg.Structural.DeleteJournal(ctx)
	}

	c.cfg.Logger.Warn("rolling lexical store back to structural truth",
		"journal_epoch", entry.EpochID, "structural_epoch", structuralEpoch)
	if c.cfg.Lexical != nil {
		c.cfg.Lexical.Rollback()
		if err := c.cfg.Lexical.RollbackHead(structuralEpoch); err != nil {
			return cperrors.IndexConsistency(cperrors.ErrCodeJournalReplayFailed, "roll back lexical head", err)
		}
	}
	if err := c.cfg.Structural.RollbackToEpoch(ctx, structuralEpoch); err != nil {
		return cperrors.IndexConsistency(cperrors.ErrCodeJournalReplayFailed, "roll back structural epoch", err)
	}
	return c.cfg.Structural.DeleteJournal(ctx)
}

// ReindexFull runs discovery over the whole repository, routes files
// into contexts, and publishes a new epoch covering every indexable
// file. Files are processed in sorted path order for determinism.
func (c *Coordinator) ReindexFull(ctx context.Context) (int64, error) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	opts := c.scanOptions()

	dirs, err := c.cfg.Walker.Dirs(ctx, opts)
	if err != nil {
		return 0, cperrors.Discovery(cperrors.ErrCodeRootNotFound, "enumerate directories", err)
	}
	contexts, _ := discovery.DetectContexts(c.cfg.RootDir, dirs)
	structContexts := toStructuralContexts(contexts)

	resultCh, err := c.cfg.Walker.Scan(ctx, opts)
	if err != nil {
		return 0, cperrors.Discovery(cperrors.ErrCodeRootNotFound, "scan repository", err)
	}

	present := make(map[string]bool)
	for res := range resultCh {
		if res.Error != nil {
			c.cfg.Logger.Warn("discovery error during full reindex", "error", res.Error)
			continue
		}
		present[res.File.Path] = true
	}

	priorFiles, err := c.cfg.Structural.GetFilesForReconciliation(ctx)
	if err != nil {
		return 0, err
	}
	for path := range priorFiles {
		if _, ok := present[path]; !ok {
			present[path] = false
		}
	}

	return c.publish(ctx, present, structContexts)
}

// ReindexIncremental scopes the same protocol to the given repo-relative
// paths (files or directories). Files unaffected by this call retain
// their prior facts unchanged.
func (c *Coordinator) ReindexIncremental(ctx context.Context, paths []string) (int64, error) {
	c.reconcileMu.Lock()
	defer c.reconcileMu.Unlock()

	opts := c.scanOptions()
	present := make(map[string]bool)

	for _, p := range paths {
		rel := filepath.ToSlash(strings.Trim(p, "/"))
		abs := filepath.Join(c.cfg.RootDir, rel)
		info, err := os.Stat(abs)
		switch {
		case err != nil:
			present[rel] = false
		case info.IsDir():
			sub, scanErr := c.cfg.Walker.ScanSubtree(ctx, opts, rel)
			if scanErr != nil {
				return 0, cperrors.Discovery(cperrors.ErrCodeRootNotFound, "scan subtree "+rel, scanErr)
			}
			for res := range sub {
				if res.Error != nil {
					c.cfg.Logger.Warn("discovery error during incremental reindex", "error", res.Error)
					continue
				}
				present[res.File.Path] = true
			}
		default:
			ok, _ := c.cfg.Resolver.IsIndexable(rel, false)
			present[rel] = ok
		}
	}

	contexts, err := c.cfg.Structural.GetContexts(ctx)
	if err != nil {
		return 0, err
	}

	return c.publish(ctx, present, contexts)
}

// publish parses and routes every path in present (true = index it,
// false = it was removed), stages the lexical side, buffers the
// structural batch, and runs the mandatory epoch publication protocol.
// If nothing in present actually changed content relative to what's
// already published (every present file's content hash matches its prior
// record and no removal is of a file that previously existed), publication
// is elided entirely: no journal row, no lexical commit, no new epoch.
func (c *Coordinator) publish(ctx context.Context, present map[string]bool, contexts []*structural.Context) (int64, error) {
	paths := make([]string, 0, len(present))
	for p := range present {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	priorFiles, err := c.cfg.Structural.GetFilesForReconciliation(ctx)
	if err != nil {
		return 0, err
	}

	batch := &structural.Batch{Contexts: contexts}
	var lexAdds []*lexical.Document
	var lexDeletes []string
	changed := false

	extractor := parse.NewFactExtractor()

	for start := 0; start < len(paths); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batchPaths := paths[start:end]

		// Parse files in this batch concurrently; staging the results
		// below stays sequential so fact/document ordering is
		// deterministic regardless of goroutine scheduling.
		results := make([]*fileIndexResult, len(batchPaths))
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(c.cfg.ParseWorkers)
		for i, relPath := range batchPaths {
			if !present[relPath] {
				continue
			}
			i, relPath := i, relPath
			group.Go(func() error {
				id := fileID(relPath)
				file, defFacts, refFacts, importFacts, callFacts, docstrings, doc, err := c.indexOne(gctx, relPath, id, contexts, extractor)
				if err != nil {
					// Failure isolation: one file's parser failure never
					// aborts the batch. Record it as parse-failed and move on.
					c.cfg.Logger.Warn("indexing file failed", "path", relPath, "error", err)
					file = &structural.File{ID: id, Path: relPath, ParseFailed: true}
				}
				results[i] = &fileIndexResult{
					file: file, defFacts: defFacts, refFacts: refFacts,
					importFacts: importFacts, callFacts: callFacts,
					docstrings: docstrings, doc: doc,
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return 0, err
		}

		for i, relPath := range batchPaths {
			id := fileID(relPath)
			if !present[relPath] {
				if _, existed := priorFiles[relPath]; existed {
					changed = true
				}
				batch.RemovedFileIDs = append(batch.RemovedFileIDs, id)
				lexDeletes = append(lexDeletes, id)
				continue
			}

			res := results[i]
			if prior, ok := priorFiles[relPath]; !ok || prior.ContentHash != res.file.ContentHash {
				changed = true
			}
			batch.Files = append(batch.Files, res.file)
			batch.DefFacts = append(batch.DefFacts, res.defFacts...)
			batch.RefFacts = append(batch.RefFacts, res.refFacts...)
			batch.ImportFacts = append(batch.ImportFacts, res.importFacts...)
			batch.CallFacts = append(batch.CallFacts, res.callFacts...)
			batch.Docstrings = append(batch.Docstrings, res.docstrings...)
			if res.doc != nil {
				lexAdds = append(lexAdds, res.doc)
			} else {
				lexDeletes = append(lexDeletes, id)
			}
		}
	}

	if !changed {
		c.cfg.Logger.Debug("reindex produced no content changes, eliding epoch publication")
		return c.CurrentEpoch(), nil
	}

	return c.publishEpoch(ctx, batch, lexAdds, lexDeletes)
}

// fileIndexResult holds one file's parse output, so a batch's files can
// be parsed concurrently and staged back in deterministic path order.
type fileIndexResult struct {
	file        *structural.File
	defFacts    []*structural.DefFact
	refFacts    []*structural.RefFact
	importFacts []*structural.ImportFact
	callFacts   []*structural.CallFact
	docstrings  []*structural.Docstring
	doc         *lexical.Document
}

// indexOne parses one file and produces the structural facts plus its
// lexical document. A parse error is returned to the caller, which
// degrades the file to parse-failed without touching the rest of the
// batch.
func (c *Coordinator) indexOne(ctx context.Context, relPath, id string, contexts []*structural.Context, extractor *parse.FactExtractor) (
	*structural.File, []*structural.DefFact, []*structural.RefFact, []*structural.ImportFact, []*structural.CallFact, []*structural.Docstring, *lexical.Document, error,
) {
	abs := filepath.Join(c.cfg.RootDir, relPath)
	source, err := os.ReadFile(abs)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, nil, cperrors.Discovery(cperrors.ErrCodeRootNotFound, "read "+relPath, err)
	}
	if int64(len(source)) > c.cfg.MaxFileSize {
		return nil, nil, nil, nil, nil, nil, nil, cperrors.Parse(cperrors.ErrCodeFileTooLargeParse, relPath, nil)
	}

	language := discovery.DetectLanguage(relPath)
	contentHash := sha256.Sum256(source)
	lineCount := strings.Count(string(source), "\n") + 1
	ctxID := resolveContextID(contexts, relPath)

	file := &structural.File{
		ID:          id,
		Path:        relPath,
		Language:    language,
		ContentHash: hex.EncodeToString(contentHash[:]),
		LineCount:   lineCount,
	}

	if language == "" {
		return file, nil, nil, nil, nil, nil, &lexical.Document{ID: id, Path: relPath, Body: string(source)}, nil
	}

	parserIface := c.parserPool.Get()
	parser := parserIface.(*parse.Parser)
	defer c.parserPool.Put(parser)

	tree, err := parser.Parse(ctx, source, language)
	if err != nil {
		file.ParseFailed = true
		return file, nil, nil, nil, nil, nil, &lexical.Document{ID: id, Path: relPath, Body: string(source)}, nil
	}

	facts := extractor.ExtractFacts(tree, source, relPath)

	defFacts := make([]*structural.DefFact, 0, len(facts.Defs))
	docstrings := make([]*structural.Docstring, 0)
	var identifiers []string
	for _, d := range facts.Defs {
		identifiers = append(identifiers, d.Name)
		defFacts = append(defFacts, &structural.DefFact{
			ID:            d.ID,
			FileID:        id,
			ContextID:     ctxID,
			Kind:          structural.FactKind(d.Kind),
			Name:          d.Name,
			QualifiedName: d.QualifiedName,
			StartLine:     d.StartLine,
			StartCol:      d.StartCol,
			EndLine:       d.EndLine,
			EndCol:        d.EndCol,
			SignatureHash: d.SignatureHash,
			Layer:         "syntactic",
			Public:        d.Public,
			Docstring:     d.Docstring,
		})
		if d.Docstring != "" {
			docstrings = append(docstrings, &structural.Docstring{
				DefID:     d.ID,
				Content:   d.Docstring,
				StartLine: d.StartLine,
				EndLine:   d.EndLine,
			})
		}
	}

	refFacts := make([]*structural.RefFact, 0, len(facts.Refs))
	for _, r := range facts.Refs {
		identifiers = append(identifiers, r.Name)
		refFacts = append(refFacts, &structural.RefFact{
			ID:           refID(id, r),
			FileID:       id,
			ContextID:    ctxID,
			Name:         r.Name,
			StartLine:    r.StartLine,
			StartCol:     r.StartCol,
			EndLine:      r.EndLine,
			EndCol:       r.EndCol,
			Role:         structural.RefRole(r.Role),
			EnclosingDef: r.EnclosingDef,
		})
	}

	importFacts := make([]*structural.ImportFact, 0, len(facts.Imports))
	for _, imp := range facts.Imports {
		importFacts = append(importFacts, &structural.ImportFact{
			ID:        importID(id, imp),
			FileID:    id,
			ContextID: ctxID,
			Module:    imp.Module,
			Alias:     imp.Alias,
			Symbols:   imp.Symbols,
			StartLine: imp.StartLine,
			EndLine:   imp.EndLine,
		})
	}

	callFacts := make([]*structural.CallFact, 0, len(facts.Calls))
	for _, call := range facts.Calls {
		callFacts = append(callFacts, &structural.CallFact{
			ID:           callID(id, call),
			FileID:       id,
			ContextID:    ctxID,
			Callee:       call.Callee,
			StartLine:    call.StartLine,
			EndLine:      call.EndLine,
			EnclosingDef: call.EnclosingDef,
		})
	}

	doc := &lexical.Document{ID: id, Path: relPath, Identifiers: strings.Join(identifiers, " "), Body: string(source)}
	return file, defFacts, refFacts, importFacts, callFacts, docstrings, doc, nil
}

// publishEpoch runs the mandatory two-phase commit with rollback
// journal. Step order is load-bearing: it is what survives a crash
// between the lexical commit and the structural transaction.
func (c *Coordinator) publishEpoch(ctx context.Context, batch *structural.Batch, lexAdds []*lexical.Document, lexDeletes []string) (int64, error) {
	c.writerMu.Lock()
	defer c.writerMu.Unlock()

	epochID, err := c.cfg.Structural.NextEpochID(ctx)
	if err != nil {
		return 0, err
	}

	// Step 2: journal row, lexical_committed=false, fsync.
	if err := c.cfg.Structural.WriteJournal(ctx, structural.JournalEntry{EpochID: epochID, LexicalCommitted: false, StartedAt: now()}); err != nil {
		return 0, cperrors.IndexConsistency(cperrors.ErrCodeEpochPublishFailed, "write journal", err)
	}

	// Step 3: lexical commit; the new head is now durable on disk.
	if c.cfg.Lexical != nil {
		c.cfg.Lexical.Stage(lexAdds, lexDeletes)
		if _, err := c.cfg.Lexical.Commit(ctx, epochID); err != nil {
			_ = c.cfg.Structural.DeleteJournal(ctx)
			return 0, cperrors.IndexConsistency(cperrors.ErrCodeEpochPublishFailed, "lexical commit", err)
		}
	}

	// Step 4: mark the journal lexical-committed, fsync.
	if err := c.cfg.Structural.MarkLexicalCommitted(ctx, epochID); err != nil {
		return 0, cperrors.IndexConsistency(cperrors.ErrCodeEpochPublishFailed, "mark journal lexical-committed", err)
	}

	// Steps 5-6: fact writes and the epochs row, in one transaction.
	for _, f := range batch.Files {
		f.LastEpoch = epochID
	}
	if err := c.cfg.Structural.CommitBatch(ctx, epochID, batch); err != nil {
		return 0, cperrors.IndexConsistency(cperrors.ErrCodeEpochPublishFailed, "commit structural batch", err)
	}

	// Step 7: delete the now-advisory journal row.
	if err := c.cfg.Structural.DeleteJournal(ctx); err != nil {
		c.cfg.Logger.Warn("failed to delete epoch journal row", "epoch", epochID, "error", err)
	}

	c.epochMu.Lock()
	c.epoch = epochID
	c.epochCond.Broadcast()
	c.epochMu.Unlock()

	return epochID, nil
}

// AwaitEpoch blocks until the current epoch is at least e or timeout
// elapses.
func (c *Coordinator) AwaitEpoch(ctx context.Context, e int64, timeout time.Duration) error {
	reached := make(chan struct{})

	go func() {
		c.epochMu.Lock()
		defer c.epochMu.Unlock()
		for c.epoch < e {
			c.epochCond.Wait()
		}
		close(reached)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		c.wakeAwaiters()
		return ctx.Err()
	case <-timer.C:
		c.wakeAwaiters()
		return cperrors.Cancelled(cperrors.ErrCodeDeadlineExceeded, "await_epoch timed out", nil)
	}
}

// wakeAwaiters broadcasts the epoch condition so a goroutine blocked in
// AwaitEpoch's inner loop can observe cancellation and exit instead of
// leaking until the next real publish.
func (c *Coordinator) wakeAwaiters() {
	c.epochMu.Lock()
	c.epochCond.Broadcast()
	c.epochMu.Unlock()
}

// CurrentEpoch returns the coordinator's in-memory epoch cursor.
func (c *Coordinator) CurrentEpoch() int64 {
	c.epochMu.Lock()
	defer c.epochMu.Unlock()
	return c.epoch
}

// StructuralStore returns the relational store backing this
// coordinator, for callers that need to build auxiliary tooling (such
// as the watcher's safety-net checker) over the same store.
func (c *Coordinator) StructuralStore() structural.Store {
	return c.cfg.Structural
}

func (c *Coordinator) scanOptions() *discovery.ScanOptions {
	return &discovery.ScanOptions{
		RootDir:     c.cfg.RootDir,
		MaxFileSize: c.cfg.MaxFileSize,
	}
}

func fileID(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(sum[:8])
}

func refID(fileID string, r *parse.Ref) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00%s", fileID, r.Name, r.StartLine, r.StartCol, r.Role)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func importID(fileID string, imp *parse.Import) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", fileID, imp.Module, imp.StartLine)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func callID(fileID string, call *parse.Call) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", fileID, call.Callee, call.StartLine)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

func toStructuralContexts(contexts []discovery.Context) []*structural.Context {
	out := make([]*structural.Context, 0, len(contexts))
	for _, ctx := range contexts {
		out = append(out, &structural.Context{
			ID:       contextID(ctx.Root, string(ctx.Family)),
			Name:     contextName(ctx.Root),
			Family:   string(ctx.Family),
			Root:     ctx.Root,
			Manifest: ctx.Manifest,
		})
	}
	return out
}

func contextID(root, family string) string {
	sum := sha256.Sum256([]byte(root + "|" + family))
	return hex.EncodeToString(sum[:8])
}

func contextName(root string) string {
	if root == "" {
		return "."
	}
	return filepath.Base(root)
}

// resolveContextID returns the id of the context whose Root is the
// longest repo-relative prefix of relPath, defaulting to the repo-root
// context when no nested context claims the file.
func resolveContextID(contexts []*structural.Context, relPath string) string {
	var best *structural.Context
	for _, c := range contexts {
		if c.Root == "" {
			if best == nil {
				best = c
			}
			continue
		}
		if relPath == c.Root || strings.HasPrefix(relPath, c.Root+"/") {
			if best == nil || len(c.Root) > len(best.Root) {
				best = c
			}
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

// now is a seam for the journal row's StartedAt timestamp; production
// code always uses wall-clock time.
var now = time.Now
