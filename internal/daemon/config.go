// Package daemon exposes the Query API over a local TCP listener so the
// index engine is independently operable without the RPC façade that
// embeds it. It binds to an ephemeral loopback port and authenticates
// every request with a bearer token persisted alongside the port.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Config holds the persisted-state layout and network settings for the
// daemon's local RPC surface.
type Config struct {
	// RunDir is the "run/" directory under the repository's state
	// directory: server.json, token, and daemon.pid all live here.
	RunDir string

	// Host is the loopback address the server binds to.
	// Default: 127.0.0.1
	Host string

	// Timeout is the maximum duration for client-daemon communication.
	Timeout time.Duration

	// ShutdownGracePeriod is the time to wait for graceful shutdown.
	ShutdownGracePeriod time.Duration
}

// ServerFilePath returns the path to run/server.json.
func (c Config) ServerFilePath() string { return filepath.Join(c.RunDir, "server.json") }

// TokenPath returns the path to run/token.
func (c Config) TokenPath() string { return filepath.Join(c.RunDir, "token") }

// PIDPath returns the path to run/daemon.pid.
func (c Config) PIDPath() string { return filepath.Join(c.RunDir, "daemon.pid") }

// LockPath returns the path to run/daemon.lock, held by a running
// foreground daemon for its whole lifetime, so a second `up` against
// the same state directory fails to acquire it.
func (c Config) LockPath() string { return filepath.Join(c.RunDir, "daemon.lock") }

// DefaultConfig returns a Config rooted at <stateDir>/run.
func DefaultConfig(stateDir string) Config {
	return Config{
		RunDir:              filepath.Join(stateDir, "run"),
		Host:                "127.0.0.1",
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.RunDir == "" {
		return fmt.Errorf("run directory cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	return nil
}

// EnsureDir creates the run directory if it doesn't exist.
func (c Config) EnsureDir() error {
	if err := os.MkdirAll(c.RunDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return nil
}

// ServerInfo is the contents of run/server.json.
type ServerInfo struct {
	Port int `json:"port"`
}

// CleanupRunFiles removes server.json, token, and daemon.pid. Used by
// the `down` command once the daemon has exited.
func (c Config) CleanupRunFiles() error {
	for _, p := range []string{c.ServerFilePath(), c.TokenPath(), c.PIDPath()} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// StartupLock returns an unlocked file lock over LockPath. Callers
// should TryLock it before checking whether a daemon is running and
// hold it until after the new daemon's PID file is written.
func (c Config) StartupLock() *flock.Flock {
	return flock.New(c.LockPath())
}
