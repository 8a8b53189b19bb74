package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MaxBackups is the number of user-config backups retained by BackupUserConfig.
const MaxBackups = 3

// backupSuffix is the file extension appended to timestamped backups.
const backupSuffix = ".bak"

// BackupUserConfig creates a timestamped backup of the user config file.
// Returns the backup path, or "" if no user config exists.
func BackupUserConfig() (string, error) {
	configPath := GetUserConfigPath()
	if !UserConfigExists() {
		return "", nil
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", configPath, backupSuffix, timestamp)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("config: read for backup: %w", err)
	}
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", fmt.Errorf("config: write backup: %w", err)
	}

	_ = cleanupOldBackups(configPath)
	return backupPath, nil
}

func cleanupOldBackups(configPath string) error {
	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var backups []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+backupSuffix+".") {
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	for _, path := range backups[min(MaxBackups, len(backups)):] {
		_ = os.Remove(path)
	}
	return nil
}
