package structural

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_CurrentEpoch_StartsAtZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	epoch, err := s.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), epoch)
}

func TestSQLiteStore_NextEpochID_Increments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.NextEpochID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	batch := &Batch{Files: []*File{{ID: "f1", Path: "a.go", Language: "go", ContentHash: "h1"}}}
	require.NoError(t, s.CommitBatch(ctx, first, batch))

	second, err := s.NextEpochID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second)
}

func TestSQLiteStore_CommitBatch_PersistsFilesAndFacts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := &Batch{
		Contexts: []*Context{{ID: "ctx1", Name: "root", Family: "go", Root: "", Manifest: "go.mod"}},
		Files:    []*File{{ID: "f1", Path: "main.go", Language: "go", ContentHash: "abc", LineCount: 10}},
		DefFacts: []*DefFact{{
			ID: "d1", FileID: "f1", ContextID: "ctx1", Kind: KindFunction, Name: "main",
			QualifiedName: "main", StartLine: 1, EndLine: 3, SignatureHash: "sig1", Public: true,
		}},
		RefFacts: []*RefFact{{ID: "r1", FileID: "f1", ContextID: "ctx1", Name: "fmt", Role: RoleImport}},
	}
	require.NoError(t, s.CommitBatch(ctx, 1, batch))

	epoch, err := s.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)

	f, err := s.GetFileByPath(ctx, "main.go")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "abc", f.ContentHash)
	assert.Equal(t, int64(1), f.LastEpoch)

	defs, err := s.GetDefsByFile(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "main", defs[0].Name)
	assert.True(t, defs[0].Public)

	refs, err := s.GetReferences(ctx, "", "fmt")
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestSQLiteStore_CommitBatch_RemovedFileIDsCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, 1, &Batch{
		Contexts: []*Context{{ID: "ctx1", Name: "root", Family: "go", Root: "", Manifest: "go.mod"}},
		Files:    []*File{{ID: "f1", Path: "old.go", Language: "go", ContentHash: "h1"}},
		DefFacts: []*DefFact{{ID: "d1", FileID: "f1", ContextID: "ctx1", Kind: KindFunction, Name: "gone"}},
	}))

	require.NoError(t, s.CommitBatch(ctx, 2, &Batch{RemovedFileIDs: []string{"f1"}}))

	defs, err := s.GetDefsByFile(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestSQLiteStore_JournalLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.ReadJournal(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteJournal(ctx, JournalEntry{EpochID: 5}))
	entry, ok, err := s.ReadJournal(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), entry.EpochID)
	assert.False(t, entry.LexicalCommitted)

	require.NoError(t, s.MarkLexicalCommitted(ctx, 5))
	entry, ok, err = s.ReadJournal(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.LexicalCommitted)

	require.NoError(t, s.DeleteJournal(ctx))
	_, ok, err = s.ReadJournal(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_RollbackToEpoch_DiscardsNewerFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, 1, &Batch{
		Files: []*File{{ID: "f1", Path: "a.go", Language: "go", ContentHash: "h1"}},
	}))
	require.NoError(t, s.CommitBatch(ctx, 2, &Batch{
		Files: []*File{{ID: "f2", Path: "b.go", Language: "go", ContentHash: "h2"}},
	}))

	require.NoError(t, s.RollbackToEpoch(ctx, 1))

	epoch, err := s.CurrentEpoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch)

	_, err = s.GetFileByPath(ctx, "b.go")
	assert.Error(t, err)
}

func TestSQLiteStore_GetDefsByName_FiltersByPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, 1, &Batch{
		Contexts: []*Context{{ID: "ctx1", Name: "root", Family: "go", Root: "", Manifest: "go.mod"}},
		Files: []*File{
			{ID: "f1", Path: "a.go", Language: "go", ContentHash: "h1"},
			{ID: "f2", Path: "b.go", Language: "go", ContentHash: "h2"},
		},
		DefFacts: []*DefFact{
			{ID: "d1", FileID: "f1", ContextID: "ctx1", Kind: KindFunction, Name: "Run"},
			{ID: "d2", FileID: "f2", ContextID: "ctx1", Kind: KindFunction, Name: "Run"},
		},
	}))

	all, err := s.GetDefsByName(ctx, "Run", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := s.GetDefsByName(ctx, "Run", "a.go")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "d1", scoped[0].ID)
}

func TestSQLiteStore_GetPublicDefs_ExcludesPrivate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, 1, &Batch{
		Contexts: []*Context{{ID: "ctx1", Name: "root", Family: "go", Root: "", Manifest: "go.mod"}},
		Files:    []*File{{ID: "f1", Path: "a.go", Language: "go", ContentHash: "h1"}},
		DefFacts: []*DefFact{
			{ID: "d1", FileID: "f1", ContextID: "ctx1", Kind: KindFunction, Name: "Exported", Public: true},
			{ID: "d2", FileID: "f1", ContextID: "ctx1", Kind: KindFunction, Name: "unexported", Public: false},
		},
	}))

	publics, err := s.GetPublicDefs(ctx)
	require.NoError(t, err)
	require.Len(t, publics, 1)
	assert.Equal(t, "Exported", publics[0].Name)
}

func TestSQLiteStore_ListFilePathsUnder_PrefixScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, 1, &Batch{
		Files: []*File{
			{ID: "f1", Path: "pkg/a.go", Language: "go", ContentHash: "h1"},
			{ID: "f2", Path: "pkg/sub/b.go", Language: "go", ContentHash: "h2"},
			{ID: "f3", Path: "other/c.go", Language: "go", ContentHash: "h3"},
		},
	}))

	paths, err := s.ListFilePathsUnder(ctx, "pkg")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pkg/a.go", "pkg/sub/b.go"}, paths)
}

func TestSQLiteStore_Metadata_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, err := s.GetMetadata(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", v)

	require.NoError(t, s.SetMetadata(ctx, MetadataKeyIgnoreHash, "abc123"))
	v, err = s.GetMetadata(ctx, MetadataKeyIgnoreHash)
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)
}

func TestSQLiteStore_GetFilesForReconciliation_KeyedByPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CommitBatch(ctx, 1, &Batch{
		Files: []*File{{ID: "f1", Path: "a.go", Language: "go", ContentHash: "h1"}},
	}))

	files, err := s.GetFilesForReconciliation(ctx)
	require.NoError(t, err)
	require.Contains(t, files, "a.go")
	assert.Equal(t, "h1", files["a.go"].ContentHash)
}
