package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafetyNetChecker_Check_FindsNoDriftAfterReindex(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	coord := newTestCoordinator(t, root)
	ctx := context.Background()
	_, err := coord.ReindexFull(ctx)
	require.NoError(t, err)

	checker := NewSafetyNetChecker(root, coord.cfg.Structural, coord)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Drifts)
	assert.Equal(t, 1, result.Checked)
}

func TestSafetyNetChecker_Check_DetectsModifiedFile(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	coord := newTestCoordinator(t, root)
	ctx := context.Background()
	_, err := coord.ReindexFull(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc A() {}\n\nfunc B() {}\n"), 0644))

	checker := NewSafetyNetChecker(root, coord.cfg.Structural, coord)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Drifts, 1)
	assert.Equal(t, DriftModified, result.Drifts[0].Kind)
	assert.Equal(t, "a.go", result.Drifts[0].Path)
}

func TestSafetyNetChecker_Check_DetectsUntrackedFile(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	coord := newTestCoordinator(t, root)
	ctx := context.Background()
	_, err := coord.ReindexFull(ctx)
	require.NoError(t, err)

	writeTestFile(t, root, "b.go", "package a\n\nfunc B() {}\n")

	checker := NewSafetyNetChecker(root, coord.cfg.Structural, coord)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.Len(t, result.Drifts, 1)
	assert.Equal(t, DriftUntracked, result.Drifts[0].Kind)
}

func TestSafetyNetChecker_Repair_ReindexesDriftedPaths(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n\nfunc A() {}\n")

	coord := newTestCoordinator(t, root)
	ctx := context.Background()
	epoch1, err := coord.ReindexFull(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n\nfunc A() {}\n\nfunc B() {}\n"), 0644))

	checker := NewSafetyNetChecker(root, coord.cfg.Structural, coord)
	result, err := checker.Check(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, result.Drifts)

	epoch2, err := checker.Repair(ctx, result.Drifts)
	require.NoError(t, err)
	assert.Greater(t, epoch2, epoch1)

	defs, err := coord.GetAllDefs(ctx, fileID("a.go"))
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestSafetyNetChecker_Repair_NoOpWithoutDrifts(t *testing.T) {
	root := t.TempDir()
	coord := newTestCoordinator(t, root)
	ctx := context.Background()

	checker := NewSafetyNetChecker(root, coord.cfg.Structural, coord)
	epoch, err := checker.Repair(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, coord.CurrentEpoch(), epoch)
}
