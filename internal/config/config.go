// Package config loads the engine's configuration from the layered
// hierarchy described in spec.md section 6: hardcoded defaults, a
// user-level config, a per-repository .cplignore-adjacent config, and
// CODEPLANE_* environment variable overrides, in that precedence order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Watcher     WatcherConfig     `yaml:"watcher" json:"watcher"`
	Server      ServerConfig      `yaml:"server" json:"server"`
}

// PathsConfig configures additional include/exclude patterns layered on
// top of the ignore resolver's built-in rules.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// PerformanceConfig tunes resource usage for discovery, parsing, and
// the structural store.
type PerformanceConfig struct {
	MaxFiles        int   `yaml:"max_files" json:"max_files"`
	MaxParseBytes   int64 `yaml:"max_parse_bytes" json:"max_parse_bytes"`
	ParseWorkers    int   `yaml:"parse_workers" json:"parse_workers"`
	SQLiteCacheMB   int   `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	WriteRetryMS    int   `yaml:"write_retry_budget_ms" json:"write_retry_budget_ms"`
}

// WatcherConfig tunes the filesystem watcher's tripwire and safety-net
// intervals.
type WatcherConfig struct {
	DebounceMS            int `yaml:"debounce_ms" json:"debounce_ms"`
	HeadTripwireIntervalS int `yaml:"head_tripwire_interval_s" json:"head_tripwire_interval_s"`
	SafetyNetIntervalS    int `yaml:"safety_net_interval_s" json:"safety_net_interval_s"`
}

// ServerConfig configures the local Query API transport.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns the hardcoded defaults (layer 1 of the hierarchy).
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: []string{},
		},
		Performance: PerformanceConfig{
			MaxFiles:      200000,
			MaxParseBytes: 2 << 20, // 2 MiB
			ParseWorkers:  0,       // 0 means runtime.NumCPU()
			SQLiteCacheMB: 64,
			WriteRetryMS:  2000,
		},
		Watcher: WatcherConfig{
			DebounceMS:            500,
			HeadTripwireIntervalS: 2,
			SafetyNetIntervalS:    60,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			LogLevel: "info",
		},
	}
}

// GetUserConfigDir returns the user-level config directory,
// $XDG_CONFIG_HOME/codeplane or ~/.config/codeplane.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codeplane")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/codeplane"
	}
	return filepath.Join(home, ".config", "codeplane")
}

// GetUserConfigPath returns the user-level config file path.
func GetUserConfigPath() string {
	return filepath.Join(GetUserConfigDir(), "config.yaml")
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	var cfg Config
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load builds the final Config for the repository at dir by applying,
// in order: hardcoded defaults, user config, project config
// (.codeplane.yaml / .codeplane.yml in dir), then CODEPLANE_* env vars.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("config: user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromProjectDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromProjectDir(dir string) error {
	for _, name := range []string{".codeplane.yaml", ".codeplane.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies non-zero fields of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = other.Paths.Exclude
	}
	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.MaxParseBytes != 0 {
		c.Performance.MaxParseBytes = other.Performance.MaxParseBytes
	}
	if other.Performance.ParseWorkers != 0 {
		c.Performance.ParseWorkers = other.Performance.ParseWorkers
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}
	if other.Performance.WriteRetryMS != 0 {
		c.Performance.WriteRetryMS = other.Performance.WriteRetryMS
	}
	if other.Watcher.DebounceMS != 0 {
		c.Watcher.DebounceMS = other.Watcher.DebounceMS
	}
	if other.Watcher.HeadTripwireIntervalS != 0 {
		c.Watcher.HeadTripwireIntervalS = other.Watcher.HeadTripwireIntervalS
	}
	if other.Watcher.SafetyNetIntervalS != 0 {
		c.Watcher.SafetyNetIntervalS = other.Watcher.SafetyNetIntervalS
	}
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies CODEPLANE_* environment variables, the
// highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CODEPLANE_MAX_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Performance.MaxFiles = n
		}
	}
	if v := os.Getenv("CODEPLANE_PARSE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Performance.ParseWorkers = n
		}
	}
	if v := os.Getenv("CODEPLANE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("CODEPLANE_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
}

// Validate checks the configuration for internally inconsistent
// values.
func (c *Config) Validate() error {
	if c.Performance.MaxFiles <= 0 {
		return fmt.Errorf("config: performance.max_files must be positive")
	}
	if c.Performance.MaxParseBytes <= 0 {
		return fmt.Errorf("config: performance.max_parse_bytes must be positive")
	}
	if c.Watcher.DebounceMS <= 0 {
		return fmt.Errorf("config: watcher.debounce_ms must be positive")
	}
	if c.Watcher.SafetyNetIntervalS < 30 || c.Watcher.SafetyNetIntervalS > 120 {
		return fmt.Errorf("config: watcher.safety_net_interval_s must be in [30,120]")
	}
	return nil
}

// WriteYAML writes the config to path in YAML form, used by `codeplane
// init` to materialize a project config template.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// FindProjectRoot walks up from startDir looking for a .git directory or
// a .codeplane.yaml/.yml file, returning the first directory that has
// one. If neither is found before reaching the filesystem root, it
// returns the absolute form of startDir itself.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("config: resolve start dir: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".codeplane.yaml")) ||
			fileExists(filepath.Join(currentDir, ".codeplane.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// UserConfigExists reports whether a user-level config file has been
// created at GetUserConfigPath().
func UserConfigExists() bool {
	_, err := os.Stat(GetUserConfigPath())
	return err == nil
}

// LoadUserConfig loads the user-level config file directly, returning a
// nil config (and nil error) if none exists.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults fills any zero-valued fields on c with the hardcoded
// defaults, returning the dotted field names that were filled in. Used
// by `codeplane config init --force` to upgrade an existing user config
// without clobbering settings the user has already customized.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Performance.MaxFiles == 0 {
		c.Performance.MaxFiles = defaults.Performance.MaxFiles
		added = append(added, "performance.max_files")
	}
	if c.Performance.MaxParseBytes == 0 {
		c.Performance.MaxParseBytes = defaults.Performance.MaxParseBytes
		added = append(added, "performance.max_parse_bytes")
	}
	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}
	if c.Performance.WriteRetryMS == 0 {
		c.Performance.WriteRetryMS = defaults.Performance.WriteRetryMS
		added = append(added, "performance.write_retry_budget_ms")
	}
	if c.Watcher.DebounceMS == 0 {
		c.Watcher.DebounceMS = defaults.Watcher.DebounceMS
		added = append(added, "watcher.debounce_ms")
	}
	if c.Watcher.HeadTripwireIntervalS == 0 {
		c.Watcher.HeadTripwireIntervalS = defaults.Watcher.HeadTripwireIntervalS
		added = append(added, "watcher.head_tripwire_interval_s")
	}
	if c.Watcher.SafetyNetIntervalS == 0 {
		c.Watcher.SafetyNetIntervalS = defaults.Watcher.SafetyNetIntervalS
		added = append(added, "watcher.safety_net_interval_s")
	}
	if c.Server.Host == "" {
		c.Server.Host = defaults.Server.Host
		added = append(added, "server.host")
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaults.Server.LogLevel
		added = append(added, "server.log_level")
	}

	return added
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

