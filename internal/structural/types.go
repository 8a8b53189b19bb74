// Package structural persists the relational side of the index: contexts,
// files, and the typed facts a parse produces, plus epoch and recovery
// metadata. It pairs with internal/lexical, which owns the full-text side.
package structural

import (
	"context"
	"time"
)

// FactKind enumerates the kinds a DefFact can carry.
type FactKind string

const (
	KindFunction FactKind = "function"
	KindMethod   FactKind = "method"
	KindClass    FactKind = "class"
	KindVariable FactKind = "variable"
	KindType     FactKind = "type"
	KindConstant FactKind = "constant"
	KindModule   FactKind = "module"
	KindOther    FactKind = "other"
)

// RefRole enumerates the roles a RefFact can carry.
type RefRole string

const (
	RoleCall          RefRole = "call"
	RoleImport        RefRole = "import"
	RoleUsage         RefRole = "usage"
	RoleTypeReference RefRole = "type-reference"
)

// Context is a language-family workspace rooted inside the repository.
type Context struct {
	ID         string // stable id, derived from Root+Family
	Name       string // display name (directory base name)
	Family     string // "go", "node", "python", "rust"
	Root       string // repo-relative root directory ("" for repo root)
	Manifest   string // manifest file that defined this context
	ConfigHash string // hash of the manifest content, for change detection
}

// File is an indexable source file tracked by the structural store.
type File struct {
	ID           string // stable id: sha256(path)[:16]
	Path         string // repo-relative, forward-slash normalized
	Language     string
	ContentHash  string // sha256 over raw bytes
	LineCount    int
	LastEpoch    int64 // last epoch in which this file's facts were written
	ParseFailed  bool
	Absent       bool // read from the row; CommitBatch always writes false and deletes removed files outright
}

// DefFact is a definition of a named entity.
type DefFact struct {
	ID            string // 64-bit-prefix identity hash, hex encoded
	FileID        string
	ContextID     string
	Kind          FactKind
	Name          string
	QualifiedName string
	StartLine     int
	StartCol      int
	EndLine       int
	EndCol        int
	SignatureHash string
	Layer         string // always "syntactic" for now
	Public        bool   // exported/public per language convention
	Docstring     string
	VisibleFrom   int64 // epoch this fact became visible
	VisibleUntil  int64 // 0 means still visible
}

// RefFact is a lexical reference to a name.
type RefFact struct {
	ID           string
	FileID       string
	ContextID    string
	Name         string
	StartLine    int
	StartCol     int
	EndLine      int
	EndCol       int
	Role         RefRole
	EnclosingDef string // nearest syntactic ancestor def id, may be empty
}

// ImportFact is an import-like statement.
type ImportFact struct {
	ID        string
	FileID    string
	ContextID string
	Module    string // module path as written
	Alias     string
	Symbols   []string // empty for "import module"
	StartLine int
	EndLine   int
}

// CallFact is an invocation site.
type CallFact struct {
	ID           string
	FileID       string
	ContextID    string
	Callee       string
	StartLine    int
	EndLine      int
	EnclosingDef string
}

// Docstring is documentation attached to a DefFact.
type Docstring struct {
	DefID     string
	Content   string
	StartLine int
	EndLine   int
}

// ExcludedPath is a repo-relative path the ignore resolver rejected, kept so
// that changes to the ignore set can be reconciled without a full rescan.
type ExcludedPath struct {
	Path   string
	Reason string
}

// Epoch is a committed, consistent snapshot of the index.
type Epoch struct {
	EpochID     int64
	CreatedAt   time.Time
	CommittedAt time.Time
}

// JournalEntry records an in-progress epoch publication for crash recovery.
type JournalEntry struct {
	EpochID          int64
	LexicalCommitted bool
	StartedAt        time.Time
}

// FileState is the minimal public shape returned by GetFileState.
type FileState struct {
	Path        string
	ContentHash string
	IndexedEpoch int64
	ParseFailed bool
}

// Batch is the set of writes the coordinator buffers for one epoch
// publication: facts for a set of (File, Context) pairs that are being
// fully replaced.
type Batch struct {
	Files         []*File
	Contexts      []*Context
	DefFacts      []*DefFact
	RefFacts      []*RefFact
	ImportFacts   []*ImportFact
	CallFacts     []*CallFact
	Docstrings    []*Docstring
	ExcludedPaths []*ExcludedPath
	// RemovedFileIDs lists files whose facts must be deleted (cascades to
	// all fact tables) before the batch's new facts are inserted.
	RemovedFileIDs []string
}

// Store is the relational persistence layer over the entities above. It
// runs in single-writer, multi-reader mode; the coordinator is the only
// caller that writes.
type Store interface {
	// CurrentEpoch returns the greatest epoch_id in the epochs table (0 when empty).
	CurrentEpoch(ctx context.Context) (int64, error)

	// NextEpochID allocates the next epoch id (max(epochs.epoch_id) + 1).
	NextEpochID(ctx context.Context) (int64, error)

	// WriteJournal inserts or updates the (singleton) in-progress journal row.
	WriteJournal(ctx context.Context, entry JournalEntry) error

	// MarkLexicalCommitted flips the journal row's lexical_committed flag.
	MarkLexicalCommitted(ctx context.Context, epochID int64) error

	// DeleteJournal removes the advisory journal row.
	DeleteJournal(ctx context.Context) error

	// ReadJournal returns the current journal row, if any.
	ReadJournal(ctx context.Context) (*JournalEntry, bool, error)

	// CommitBatch applies a Batch and publishes the given epoch within a
	// single structural transaction, inserting the epochs row last.
	CommitBatch(ctx context.Context, epochID int64, batch *Batch) error

	// RollbackToEpoch discards any structural state written after epochID.
	// Used during crash recovery when the lexical store must be rolled
	// back to the structural truth.
	RollbackToEpoch(ctx context.Context, epochID int64) error

	// Queries
	GetContexts(ctx context.Context) ([]*Context, error)
	GetFileByPath(ctx context.Context, path string) (*File, error)
	ListFilePaths(ctx context.Context) ([]string, error)
	ListFilePathsUnder(ctx context.Context, dirPrefix string) ([]string, error)
	GetFilesForReconciliation(ctx context.Context) (map[string]*File, error)
	GetFileState(ctx context.Context, path string) (*FileState, error)
	GetDefsByName(ctx context.Context, name, path string) ([]*DefFact, error)
	GetReferences(ctx context.Context, defID, name string) ([]*RefFact, error)
	GetDefsByFile(ctx context.Context, fileID string) ([]*DefFact, error)
	GetPublicDefs(ctx context.Context) ([]*DefFact, error)

	// Metadata key/value (schema version, etc.)
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error

	Close() error
}

// CurrentSchemaVersion is the structural store's schema version.
const CurrentSchemaVersion = 1

// MetadataKeySchemaVersion is the index_metadata key for the schema version.
const MetadataKeySchemaVersion = "schema_version"

// MetadataKeyIgnoreHash is the index_metadata key for the last-observed
// hash of all ignore files in the repository.
const MetadataKeyIgnoreHash = "ignore_hash"
