package structural

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/codeplane/codeplane/internal/cperrors"
)

// SQLiteStore implements Store over a single SQLite database file, run in
// WAL mode for single-writer/multi-reader access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS contexts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	family TEXT NOT NULL,
	root TEXT NOT NULL,
	manifest TEXT NOT NULL,
	config_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	language TEXT,
	content_hash TEXT NOT NULL,
	line_count INTEGER NOT NULL DEFAULT 0,
	last_epoch INTEGER NOT NULL DEFAULT 0,
	parse_failed INTEGER NOT NULL DEFAULT 0,
	absent INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);

CREATE TABLE IF NOT EXISTS def_facts (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	context_id TEXT NOT NULL REFERENCES contexts(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	qualified_name TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	start_col INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_col INTEGER NOT NULL,
	signature_hash TEXT NOT NULL,
	layer TEXT NOT NULL DEFAULT 'syntactic',
	public INTEGER NOT NULL DEFAULT 0,
	docstring TEXT NOT NULL DEFAULT '',
	visible_from INTEGER NOT NULL DEFAULT 0,
	visible_until INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_def_facts_file ON def_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_def_facts_name ON def_facts(name);

CREATE TABLE IF NOT EXISTS ref_facts (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	context_id TEXT NOT NULL REFERENCES contexts(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	start_col INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	end_col INTEGER NOT NULL,
	role TEXT NOT NULL,
	enclosing_def TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ref_facts_file ON ref_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_ref_facts_name ON ref_facts(name);
CREATE INDEX IF NOT EXISTS idx_ref_facts_def ON ref_facts(enclosing_def);

CREATE TABLE IF NOT EXISTS import_facts (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	context_id TEXT NOT NULL REFERENCES contexts(id) ON DELETE CASCADE,
	module TEXT NOT NULL,
	alias TEXT NOT NULL DEFAULT '',
	symbols TEXT NOT NULL DEFAULT '',
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_import_facts_file ON import_facts(file_id);

CREATE TABLE IF NOT EXISTS call_facts (
	id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	context_id TEXT NOT NULL REFERENCES contexts(id) ON DELETE CASCADE,
	callee TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	enclosing_def TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_call_facts_file ON call_facts(file_id);

CREATE TABLE IF NOT EXISTS docstrings (
	def_id TEXT PRIMARY KEY REFERENCES def_facts(id) ON DELETE CASCADE,
	content TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS excluded_paths (
	path TEXT PRIMARY KEY,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS epochs (
	epoch_id INTEGER PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	committed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS epoch_journal (
	epoch_id INTEGER PRIMARY KEY,
	lexical_committed INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS index_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Open creates or opens a structural store at path (":memory:" for an
// in-process store, used by tests).
func Open(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" || path == ":memory:" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, cperrors.Internal(cperrors.ErrCodeInternal, "create structural store directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "open structural store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, cperrors.Internal(cperrors.ErrCodeInternal, "set pragma "+p, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "create schema", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchemaVersion() error {
	ctx := context.Background()
	v, err := s.GetMetadata(ctx, MetadataKeySchemaVersion)
	if err != nil {
		return err
	}
	if v == "" {
		return s.SetMetadata(ctx, MetadataKeySchemaVersion, fmt.Sprintf("%d", CurrentSchemaVersion))
	}
	return nil
}

// withRetry wraps a write operation in the shared exponential-backoff retry
// helper so lock-wait contention (SQLITE_BUSY) is tolerated rather than
// surfaced immediately; the coordinator guarantees a single writer, so
// contention here can only come from long-running readers.
func withRetry(ctx context.Context, fn func() error) error {
	cfg := cperrors.RetryConfig{
		MaxRetries:   5,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       true,
	}
	return cperrors.Retry(ctx, cfg, func() error {
		err := fn()
		if err != nil && isBusyError(err) {
			return cperrors.Concurrency(cperrors.ErrCodeWriterLockTimeout, "database locked", err).WithRetryable(true)
		}
		return err
	})
}

func isBusyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "locked")
}

func (s *SQLiteStore) CurrentEpoch(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var epoch sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(epoch_id) FROM epochs`).Scan(&epoch)
	if err != nil {
		return 0, cperrors.Internal(cperrors.ErrCodeInternal, "query current epoch", err)
	}
	if !epoch.Valid {
		return 0, nil
	}
	return epoch.Int64, nil
}

func (s *SQLiteStore) NextEpochID(ctx context.Context) (int64, error) {
	current, err := s.CurrentEpoch(ctx)
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (s *SQLiteStore) WriteJournal(ctx context.Context, entry JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO epoch_journal (epoch_id, lexical_committed, started_at)
			VALUES (?, ?, ?)
			ON CONFLICT(epoch_id) DO UPDATE SET lexical_committed = excluded.lexical_committed, started_at = excluded.started_at
		`, entry.EpochID, boolToInt(entry.LexicalCommitted), entry.StartedAt)
		return err
	})
}

func (s *SQLiteStore) MarkLexicalCommitted(ctx context.Context, epochID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE epoch_journal SET lexical_committed = 1 WHERE epoch_id = ?`, epochID)
		return err
	})
}

func (s *SQLiteStore) DeleteJournal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM epoch_journal`)
		return err
	})
}

func (s *SQLiteStore) ReadJournal(ctx context.Context) (*JournalEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT epoch_id, lexical_committed, started_at FROM epoch_journal LIMIT 1`)
	var e JournalEntry
	var committed int
	if err := row.Scan(&e.EpochID, &committed, &e.StartedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, cperrors.Internal(cperrors.ErrCodeInternal, "read journal", err)
	}
	e.LexicalCommitted = committed != 0
	return &e, true, nil
}

// CommitBatch runs the structural half of epoch publication in one
// transaction, inserting the epochs row last; the journal write and the
// lexical commit are driven by the caller (see
// internal/index.Coordinator.publishEpoch for the full sequence). This
// method assumes the journal row for epochID has already been written and
// marked lexical_committed by the time it is called.
func (s *SQLiteStore) CommitBatch(ctx context.Context, epochID int64, batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, fileID := range batch.RemovedFileIDs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
				return err
			}
		}

		for _, c := range batch.Contexts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO contexts (id, name, family, root, manifest, config_hash)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name=excluded.name, family=excluded.family,
					root=excluded.root, manifest=excluded.manifest, config_hash=excluded.config_hash
			`, c.ID, c.Name, c.Family, c.Root, c.Manifest, c.ConfigHash); err != nil {
				return err
			}
		}

		for _, f := range batch.Files {
			// Replace prior facts for this file before inserting the new set.
			if _, err := tx.ExecContext(ctx, `DELETE FROM def_facts WHERE file_id = ?`, f.ID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO files (id, path, language, content_hash, line_count, last_epoch, parse_failed, absent)
				VALUES (?, ?, ?, ?, ?, ?, ?, 0)
				ON CONFLICT(id) DO UPDATE SET path=excluded.path, language=excluded.language,
					content_hash=excluded.content_hash, line_count=excluded.line_count,
					last_epoch=excluded.last_epoch, parse_failed=excluded.parse_failed, absent=0
			`, f.ID, f.Path, f.Language, f.ContentHash, f.LineCount, epochID, boolToInt(f.ParseFailed)); err != nil {
				return err
			}
		}

		for _, d := range batch.DefFacts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO def_facts (id, file_id, context_id, kind, name, qualified_name,
					start_line, start_col, end_line, end_col, signature_hash, layer, public,
					docstring, visible_from, visible_until)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
				ON CONFLICT(id) DO UPDATE SET end_line=excluded.end_line, end_col=excluded.end_col
			`, d.ID, d.FileID, d.ContextID, string(d.Kind), d.Name, d.QualifiedName,
				d.StartLine, d.StartCol, d.EndLine, d.EndCol, d.SignatureHash, d.Layer,
				boolToInt(d.Public), d.Docstring, epochID); err != nil {
				return err
			}
		}

		for _, r := range batch.RefFacts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ref_facts (id, file_id, context_id, name, start_line, start_col,
					end_line, end_col, role, enclosing_def)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, r.ID, r.FileID, r.ContextID, r.Name, r.StartLine, r.StartCol, r.EndLine, r.EndCol,
				string(r.Role), r.EnclosingDef); err != nil {
				return err
			}
		}

		for _, imp := range batch.ImportFacts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO import_facts (id, file_id, context_id, module, alias, symbols, start_line, end_line)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, imp.ID, imp.FileID, imp.ContextID, imp.Module, imp.Alias, strings.Join(imp.Symbols, ","),
				imp.StartLine, imp.EndLine); err != nil {
				return err
			}
		}

		for _, call := range batch.CallFacts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO call_facts (id, file_id, context_id, callee, start_line, end_line, enclosing_def)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, call.ID, call.FileID, call.ContextID, call.Callee, call.StartLine, call.EndLine, call.EnclosingDef); err != nil {
				return err
			}
		}

		for _, doc := range batch.Docstrings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO docstrings (def_id, content, start_line, end_line)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(def_id) DO UPDATE SET content=excluded.content
			`, doc.DefID, doc.Content, doc.StartLine, doc.EndLine); err != nil {
				return err
			}
		}

		for _, ex := range batch.ExcludedPaths {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO excluded_paths (path, reason) VALUES (?, ?)
				ON CONFLICT(path) DO UPDATE SET reason=excluded.reason
			`, ex.Path, ex.Reason); err != nil {
				return err
			}
		}

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO epochs (epoch_id, created_at, committed_at) VALUES (?, ?, ?)
		`, epochID, now, now); err != nil {
			return err
		}

		return tx.Commit()
	})
}

func (s *SQLiteStore) RollbackToEpoch(ctx context.Context, epochID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE last_epoch > ?`, epochID); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `DELETE FROM epochs WHERE epoch_id > ?`, epochID)
		return err
	})
}

func (s *SQLiteStore) GetContexts(ctx context.Context) ([]*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, family, root, manifest, config_hash FROM contexts`)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query contexts", err)
	}
	defer rows.Close()

	var out []*Context
	for rows.Next() {
		c := &Context{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Family, &c.Root, &c.Manifest, &c.ConfigHash); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, language, content_hash, line_count, last_epoch, parse_failed, absent
		FROM files WHERE path = ?`, path)
	f := &File{}
	var parseFailed, absent int
	if err := row.Scan(&f.ID, &f.Path, &f.Language, &f.ContentHash, &f.LineCount, &f.LastEpoch, &parseFailed, &absent); err != nil {
		if err == sql.ErrNoRows {
			return nil, cperrors.NotFound(cperrors.ErrCodeFileNotFound, "file not found: "+path)
		}
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query file", err)
	}
	f.ParseFailed = parseFailed != 0
	f.Absent = absent != 0
	return f, nil
}

func (s *SQLiteStore) ListFilePaths(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE absent = 0`)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "list file paths", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListFilePathsUnder(ctx context.Context, dirPrefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := strings.TrimSuffix(dirPrefix, "/") + "/"
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files WHERE absent = 0 AND path LIKE ? ESCAPE '\'`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "list file paths under", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func (s *SQLiteStore) GetFilesForReconciliation(ctx context.Context) (map[string]*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, language, content_hash, line_count, last_epoch, parse_failed, absent
		FROM files WHERE absent = 0`)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query files for reconciliation", err)
	}
	defer rows.Close()

	out := make(map[string]*File)
	for rows.Next() {
		f := &File{}
		var parseFailed, absent int
		if err := rows.Scan(&f.ID, &f.Path, &f.Language, &f.ContentHash, &f.LineCount, &f.LastEpoch, &parseFailed, &absent); err != nil {
			return nil, err
		}
		f.ParseFailed = parseFailed != 0
		f.Absent = absent != 0
		out[f.Path] = f
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetFileState(ctx context.Context, path string) (*FileState, error) {
	f, err := s.GetFileByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return &FileState{Path: f.Path, ContentHash: f.ContentHash, IndexedEpoch: f.LastEpoch, ParseFailed: f.ParseFailed}, nil
}

func (s *SQLiteStore) GetDefsByName(ctx context.Context, name, path string) ([]*DefFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT d.id, d.file_id, d.context_id, d.kind, d.name, d.qualified_name,
			d.start_line, d.start_col, d.end_line, d.end_col, d.signature_hash,
			d.layer, d.public, d.docstring, d.visible_from, d.visible_until
		FROM def_facts d
		JOIN files f ON f.id = d.file_id
		WHERE d.name = ? AND f.absent = 0`
	args := []any{name}
	if path != "" {
		query += ` AND f.path = ?`
		args = append(args, path)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query defs by name", err)
	}
	defer rows.Close()
	return scanDefFacts(rows)
}

func (s *SQLiteStore) GetDefsByFile(ctx context.Context, fileID string) ([]*DefFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, context_id, kind, name, qualified_name, start_line, start_col,
			end_line, end_col, signature_hash, layer, public, docstring, visible_from, visible_until
		FROM def_facts WHERE file_id = ?`, fileID)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query defs by file", err)
	}
	defer rows.Close()
	return scanDefFacts(rows)
}

func (s *SQLiteStore) GetPublicDefs(ctx context.Context) ([]*DefFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.file_id, d.context_id, d.kind, d.name, d.qualified_name, d.start_line,
			d.start_col, d.end_line, d.end_col, d.signature_hash, d.layer, d.public, d.docstring,
			d.visible_from, d.visible_until
		FROM def_facts d JOIN files f ON f.id = d.file_id
		WHERE d.public = 1 AND f.absent = 0`)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query public defs", err)
	}
	defer rows.Close()
	return scanDefFacts(rows)
}

func scanDefFacts(rows *sql.Rows) ([]*DefFact, error) {
	var out []*DefFact
	for rows.Next() {
		d := &DefFact{}
		var kind string
		var public int
		if err := rows.Scan(&d.ID, &d.FileID, &d.ContextID, &kind, &d.Name, &d.QualifiedName,
			&d.StartLine, &d.StartCol, &d.EndLine, &d.EndCol, &d.SignatureHash, &d.Layer,
			&public, &d.Docstring, &d.VisibleFrom, &d.VisibleUntil); err != nil {
			return nil, err
		}
		d.Kind = FactKind(kind)
		d.Public = public != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetReferences(ctx context.Context, defID, name string) ([]*RefFact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, file_id, context_id, name, start_line, start_col, end_line, end_col, role, enclosing_def FROM ref_facts WHERE 1=1`
	var args []any
	if defID != "" {
		query += ` AND enclosing_def = ?`
		args = append(args, defID)
	}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cperrors.Internal(cperrors.ErrCodeInternal, "query references", err)
	}
	defer rows.Close()

	var out []*RefFact
	for rows.Next() {
		r := &RefFact{}
		var role string
		if err := rows.Scan(&r.ID, &r.FileID, &r.ContextID, &r.Name, &r.StartLine, &r.StartCol,
			&r.EndLine, &r.EndCol, &role, &r.EnclosingDef); err != nil {
			return nil, err
		}
		r.Role = RefRole(role)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_metadata WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", cperrors.Internal(cperrors.ErrCodeInternal, "query metadata", err)
	}
	return v, nil
}

func (s *SQLiteStore) SetMetadata(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO index_metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		return err
	})
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
