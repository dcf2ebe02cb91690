package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

const (
	// MaxBackups is the maximum number of config backups to keep.
	MaxBackups = 3

	// BackupSuffix is the file extension for backup files.
	BackupSuffix = ".bak"
)

// Backup creates a timestamped backup of the config file at path. Used
// before administrative rewrites such as cred-store and profile-switch.
// Returns the backup file path, or "" if no config file exists yet.
func Backup(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", hyerr.New(hyerr.ErrCodeFilePermission, "cannot stat config file", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, timestamp)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", hyerr.New(hyerr.ErrCodeFilePermission, "cannot read config for backup", err)
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", hyerr.New(hyerr.ErrCodeFilePermission, "cannot write config backup", err)
	}

	// Best-effort; a cleanup failure never fails the backup itself.
	_ = cleanupOldBackups(path)

	return backupPath, nil
}

// ListBackups returns all backup files for the config at path, sorted
// newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, hyerr.New(hyerr.ErrCodeFilePermission, "cannot list config directory", err)
	}

	prefix := base + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		infoI, errI := os.Stat(backups[i])
		infoJ, errJ := os.Stat(backups[j])
		if errI != nil || errJ != nil {
			return false
		}
		return infoI.ModTime().After(infoJ.ModTime())
	})

	return backups, nil
}

func cleanupOldBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) <= MaxBackups {
		return nil
	}
	for _, backup := range backups[MaxBackups:] {
		_ = os.Remove(backup)
	}
	return nil
}

// Restore replaces the config file at path with the contents of backupPath,
// backing up the current file first if one exists.
func Restore(path, backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return hyerr.New(hyerr.ErrCodeFileNotFound, "backup file not found", err)
	}

	if _, err := os.Stat(path); err == nil {
		if _, berr := Backup(path); berr != nil {
			return hyerr.New(hyerr.ErrCodeFilePermission, "cannot backup current config before restore", berr)
		}
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return hyerr.New(hyerr.ErrCodeFilePermission, "cannot read backup", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hyerr.New(hyerr.ErrCodeFilePermission, "cannot create config directory", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return hyerr.New(hyerr.ErrCodeFilePermission, "cannot write restored config", err)
	}

	return nil
}
