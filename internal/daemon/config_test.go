package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_DerivesRunPaths(t *testing.T) {
	cfg := DefaultConfig("/repo/.codeplane")
	assert.Equal(t, "/repo/.codeplane/run", cfg.RunDir)
	assert.Equal(t, filepath.Join("/repo/.codeplane/run", "server.json"), cfg.ServerFilePath())
	assert.Equal(t, filepath.Join("/repo/.codeplane/run", "token"), cfg.TokenPath())
	assert.Equal(t, filepath.Join("/repo/.codeplane/run", "daemon.pid"), cfg.PIDPath())
	assert.Equal(t, filepath.Join("/repo/.codeplane/run", "daemon.lock"), cfg.LockPath())
}

func TestStartupLock_SecondTryLockFails(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(filepath.Join(root, ".codeplane"))
	require.NoError(t, cfg.EnsureDir())

	first := cfg.StartupLock()
	locked, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = first.Unlock() }()

	second := cfg.StartupLock()
	locked, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, locked, "a second lock over the same run dir should not succeed while the first is held")
}

func TestConfig_Validate_RejectsEmptyFields(t *testing.T) {
	cfg := DefaultConfig("/repo/.codeplane")
	cfg.Host = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_EnsureDir_CreatesRunDirectory(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(filepath.Join(root, ".codeplane"))
	require.NoError(t, cfg.EnsureDir())
	assert.DirExists(t, cfg.RunDir)
}
