package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeplane/codeplane/internal/daemon"
)

func TestDaemonHandler_SearchAndStatus(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "a.go", "package a\n\nfunc Greet() {}\n")

	coord := newTestCoordinator(t, root)
	ctx := context.Background()
	_, err := coord.ReindexFull(ctx)
	require.NoError(t, err)

	handler := NewDaemonHandler(coord)

	status := handler.Status()
	assert.True(t, status.Running)
	assert.Equal(t, int64(1), status.Epoch)

	result, err := handler.Search(ctx, daemon.SearchParams{Query: "Greet", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.Equal(t, "a.go", result.Hits[0].Path)

	defResult, err := handler.GetDef(ctx, "Greet", "")
	require.NoError(t, err)
	require.NotNil(t, defResult.Def)
	assert.True(t, defResult.Def.IsExported)
}

func TestDaemonHandler_Initialize_ReportsEpochAndContexts(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, root, "go.mod", "module example.com/demo\n\ngo 1.22\n")
	writeTestFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	coord := newTestCoordinator(t, root)
	ctx := context.Background()
	_, err := coord.ReindexFull(ctx)
	require.NoError(t, err)

	handler := NewDaemonHandler(coord)
	result, err := handler.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Epoch)
}
