package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.hybridrag3/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".hybridrag3", "logs")
	}
	return filepath.Join(home, ".hybridrag3", "logs")
}

// DefaultLogPath returns the default engine log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// AuditLogPath returns the path for Network Audit Records (spec §3.6),
// kept separate from the general engine log so the gate's allow/deny
// trail can be reviewed or shipped independently.
func AuditLogPath() string {
	return filepath.Join(DefaultLogDir(), "audit.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceEngine is the main engine's structured logs (default).
	LogSourceEngine LogSource = "engine"
	// LogSourceAudit is the NetworkGate's audit trail.
	LogSourceAudit LogSource = "audit"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
//  1. Explicit path (if provided)
//  2. ~/.hybridrag3/logs/server.log (default)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Run with --debug first.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceEngine:
		p := DefaultLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAudit:
		p := AuditLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAll:
		enginePath := DefaultLogPath()
		auditPath := AuditLogPath()
		checked = append(checked, enginePath, auditPath)

		if _, err := os.Stat(enginePath); err == nil {
			paths = append(paths, enginePath)
		}
		if _, err := os.Stat(auditPath); err == nil {
			paths = append(paths, auditPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: engine, audit, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "audit":
		return LogSourceAudit
	case "all":
		return LogSourceAll
	default:
		return LogSourceEngine
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

func getLogHint(source LogSource) string {
	switch source {
	case LogSourceEngine:
		return "To generate engine logs:\n  hybridrag3 --debug query \"...\""
	case LogSourceAudit:
		return "To generate audit logs:\n  run with security.audit_logging: true and make a gated call"
	case LogSourceAll:
		return "To generate logs:\n  hybridrag3 --debug query \"...\""
	default:
		return ""
	}
}
