package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHead(t *testing.T, gitDir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte(content), 0o644))
}

func TestHeadTripwire_NoGitDir_NeverSignals(t *testing.T) {
	// Given: a root with no .git directory
	root := t.TempDir()
	tw := NewHeadTripwire(root, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tw.Run(ctx)

	// Then: no signal arrives
	select {
	case <-tw.Changed():
		t.Fatal("should not signal without a .git directory")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestHeadTripwire_DetachedHeadChange_Signals(t *testing.T) {
	// Given: a .git directory with HEAD pointing at a commit directly
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	writeHead(t, gitDir, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\n")

	tw := NewHeadTripwire(root, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tw.Run(ctx)

	// When: HEAD is rewritten to a different commit
	time.Sleep(60 * time.Millisecond)
	writeHead(t, gitDir, "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb\n")

	// Then: a signal is delivered
	select {
	case <-tw.Changed():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for HEAD change signal")
	}
}

func TestHeadTripwire_SymbolicRefChange_ResolvesLooseRef(t *testing.T) {
	// Given: HEAD pointing at a branch with a loose ref file
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	refsDir := filepath.Join(gitDir, "refs", "heads")
	require.NoError(t, os.MkdirAll(refsDir, 0o755))
	writeHead(t, gitDir, "ref: refs/heads/main\n")
	require.NoError(t, os.WriteFile(filepath.Join(refsDir, "main"),
		[]byte("cccccccccccccccccccccccccccccccccccccccc\n"), 0o644))

	tw := NewHeadTripwire(root, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tw.Run(ctx)

	// When: the branch ref is updated (e.g. a new commit lands on main)
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(refsDir, "main"),
		[]byte("dddddddddddddddddddddddddddddddddddddddd\n"), 0o644))

	// Then: the tripwire follows the ref and signals
	select {
	case <-tw.Changed():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ref change signal")
	}
}

func TestHeadTripwire_NoChange_DoesNotSignal(t *testing.T) {
	// Given: a stable HEAD
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	writeHead(t, gitDir, "eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee\n")

	tw := NewHeadTripwire(root, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tw.Run(ctx)

	// Then: repeated polls of an unchanged HEAD produce no signal
	select {
	case <-tw.Changed():
		t.Fatal("should not signal when HEAD is unchanged")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestHeadTripwire_Stop_HaltsPolling(t *testing.T) {
	// Given: a running tripwire
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	writeHead(t, gitDir, "ffffffffffffffffffffffffffffffffffffffff\n")

	tw := NewHeadTripwire(root, 20*time.Millisecond)
	done := make(chan struct{})
	go func() {
		tw.Run(context.Background())
		close(done)
	}()

	// When: Stop is called
	time.Sleep(50 * time.Millisecond)
	tw.Stop()

	// Then: the run loop returns
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return after Stop")
	}
}

func TestHeadTripwire_PackedRefsFallback(t *testing.T) {
	// Given: a branch with no loose ref file, only an entry in packed-refs
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	writeHead(t, gitDir, "ref: refs/heads/main\n")
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "packed-refs"),
		[]byte("# pack-refs with: peeled fully-peeled sorted\n"+
			"1111111111111111111111111111111111111111 refs/heads/main\n"), 0o644))

	tw := NewHeadTripwire(root, time.Second)
	resolved := tw.resolve()

	assert.Equal(t, "1111111111111111111111111111111111111111", resolved)
}
