// Package lexical is the full-text side of the index: a segment-based
// inverted index over file path, identifiers, and body text, with
// staged writes and atomic commit so the coordinator can sequence it
// against the structural store's epoch publication protocol.
package lexical

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"

	"github.com/codeplane/codeplane/internal/cperrors"
)

const (
	CodeTokenizerName = "code_tokenizer"
	CodeStopFilterName = "code_stop"
	CodeAnalyzerName   = "code_analyzer"

	headFileName = "HEAD"
)

func init() {
	_ = registry.RegisterTokenizer(CodeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(CodeStopFilterName, codeStopFilterConstructor)
}

// Document is one File's lexical projection.
type Document struct {
	ID          string // file id
	Path        string
	Identifiers string // whitespace-joined identifiers extracted by the parser
	Body        string // full source text
}

// Result is a single search hit.
type Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// Config is kept on the Store but not read by it: the analyzer always
// uses TokenizeCode and DefaultCodeStopWords, and scoring is bleve's own.
type Config struct {
	K1             float64
	B              float64
	StopWords      []string
	MinTokenLength int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75, StopWords: DefaultCodeStopWords, MinTokenLength: 2}
}

// DefaultCodeStopWords filters common keywords that add noise to ranking.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
}

// Store is a segment-based inverted index with staged writes: Stage
// registers pending adds/deletes against the current writer handle,
// Commit flushes them into a new segment and advances the on-disk HEAD,
// Rollback discards them. Readers opened via Search always see the
// state as of the last successful Commit.
type Store struct {
	mu      sync.Mutex
	index   bleve.Index
	path    string
	config  Config
	closed  bool
	pending *stagedBatch
	head    int64
}

type stagedBatch struct {
	adds    []*Document
	deletes []string
}

// Open creates or opens a lexical store at path ("" for an in-memory
// store, used by tests).
func Open(path string, config Config) (*Store, error) {
	indexMapping, err := buildMapping()
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "build lexical mapping", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, cperrors.Internal(cperrors.ErrCodeInternal, "create lexical store directory", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "open lexical store", err)
	}

	s := &Store{index: idx, path: path, config: config}
	s.head, _ = readHead(path)
	return s, nil
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(CodeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": CodeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			CodeStopFilterName,
		},
	}); err != nil {
		return nil, err
	}
	im.DefaultAnalyzer = CodeAnalyzerName
	return im, nil
}

// Head returns the current lexical head id (the epoch last committed
// through this store).
func (s *Store) Head() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head
}

// Stage registers pending adds and deletes against the current writer
// handle. Staged work is only visible to readers after Commit.
func (s *Store) Stage(adds []*Document, deleteIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = &stagedBatch{}
	}
	s.pending.adds = append(s.pending.adds, adds...)
	s.pending.deletes = append(s.pending.deletes, deleteIDs...)
}

// Commit flushes staged adds/deletes into a new segment, syncs to disk,
// advances the lexical head to headID, and returns it. A failed commit
// leaves the prior head intact and discards the staged batch.
func (s *Store) Commit(ctx context.Context, headID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, cperrors.Internal(cperrors.ErrCodeInternal, "lexical store is closed", nil)
	}
	pending := s.pending
	s.pending = nil
	if pending == nil {
		pending = &stagedBatch{}
	}

	batch := s.index.NewBatch()
	for _, id := range pending.deletes {
		batch.Delete(id)
	}
	for _, doc := range pending.adds {
		batch.Delete(doc.ID)
		if err := batch.Index(doc.ID, bleveDoc{Path: doc.Path, Identifiers: doc.Identifiers, Body: doc.Body}); err != nil {
			return 0, cperrors.IndexConsistency(cperrors.ErrCodeLexicalStructMismatch, "stage document "+doc.ID, err)
		}
	}

	if err := s.index.Batch(batch); err != nil {
		return 0, cperrors.IndexConsistency(cperrors.ErrCodeLexicalStructMismatch, "commit lexical batch", err)
	}

	if s.path != "" {
		if err := writeHead(s.path, headID); err != nil {
			return 0, cperrors.Internal(cperrors.ErrCodeInternal, "persist lexical head", err)
		}
	}

	s.head = headID
	s.pending = nil
	return s.head, nil
}

// Rollback discards the staged batch without touching the committed
// index.
func (s *Store) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// RollbackHead forces the on-disk head marker back to target without
// touching any already-committed segment. It's used by crash recovery
// when the epoch journal shows a lexical commit the structural store
// never caught up to: the stray segment content stays until the next
// reindex overwrites it, but Head (and therefore what recovery and
// readers believe is current) stops reporting the phantom epoch. A
// no-op if the store is already at or behind target.
func (s *Store) RollbackHead(target int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head <= target {
		return nil
	}
	if s.path != "" {
		if err := writeHead(s.path, target); err != nil {
			return cperrors.Internal(cperrors.ErrCodeInternal, "roll back lexical head", err)
		}
	}
	s.head = target
	return nil
}

type bleveDoc struct {
	Path        string `json:"path"`
	Identifiers string `json:"identifiers"`
	Body        string `json:"body"`
}

// Search opens a reader at the current head and returns documents
// matching query, scored by BM25-class ranking.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	s.mu.Lock()
	closed := s.closed
	idx := s.index
	s.mu.Unlock()

	if closed {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "lexical store is closed", nil)
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	disjunct := bleve.NewDisjunctionQuery(
		fieldQuery(query, "body", 1.0),
		fieldQuery(query, "identifiers", 2.0),
		fieldQuery(query, "path", 1.5),
	)

	req := bleve.NewSearchRequest(disjunct)
	req.Size = limit
	req.IncludeLocations = true

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "lexical search", err)
	}

	out := make([]*Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, &Result{DocID: hit.ID, Score: hit.Score, MatchedTerms: matchedTerms(hit)})
	}
	return out, nil
}

func fieldQuery(q, field string, boost float64) *bleve.MatchQuery {
	mq := bleve.NewMatchQuery(q)
	mq.SetField(field)
	mq.SetBoost(boost)
	return mq
}

func matchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for _, locations := range hit.Locations {
		for term := range locations {
			terms[term] = struct{}{}
		}
	}
	out := make([]string, 0, len(terms))
	for t := range terms {
		out = append(out, t)
	}
	return out
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

func readHead(path string) (int64, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(filepath.Join(path, headFileName))
	if err != nil {
		return 0, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func writeHead(path string, headID int64) error {
	tmp := filepath.Join(path, headFileName+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d", headID); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(path, headFileName))
}

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0
	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(token))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &codeStopFilter{stopWords: BuildStopWordMap(DefaultCodeStopWords)}, nil
}

type codeStopFilter struct {
	stopWords map[string]struct{}
}

func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[strings.ToLower(string(token.Term))]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
