package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileAuditEntry records a single file-tool invocation.
type FileAuditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Operation   string    `json:"operation"` // read, write, edit, delete, list, glob, grep
	Path        string    `json:"path"`
	Size        int64     `json:"size,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Blocked     bool      `json:"blocked,omitempty"`
	BlockReason string    `json:"block_reason,omitempty"`
}

// ShellAuditEntry records a single shell/exec invocation.
type ShellAuditEntry struct {
	Timestamp   time.Time     `json:"timestamp"`
	Type        string        `json:"type"`
	Command     string        `json:"command"`
	ExitCode    int           `json:"exit_code"`
	Duration    int64         `json:"duration_ms,omitempty"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	SessionID   string        `json:"session_id,omitempty"`
	UserID      string        `json:"user_id,omitempty"`
	Blocked     bool          `json:"blocked,omitempty"`
	BlockReason string        `json:"block_reason,omitempty"`
}

// AuditLogger appends security-relevant file and shell operations to a
// JSON-Lines log, and mirrors blocked/failed entries to the structured
// logger for real-time monitoring.
type AuditLogger struct {
	mu      sync.Mutex
	logFile string
	enabled bool
	logger  *zap.Logger
}

// DefaultAuditLogPath returns ~/.ag3nt/audit.log.
func DefaultAuditLogPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ag3nt", "audit.log")
}

// NewAuditLogger creates an audit logger writing to logFile (DefaultAuditLogPath
// if empty). It creates the parent directory eagerly when enabled.
func NewAuditLogger(logFile string, enabled bool, logger *zap.Logger) (*AuditLogger, error) {
	if logFile == "" {
		logFile = DefaultAuditLogPath()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AuditLogger{logFile: logFile, enabled: enabled, logger: logger}
	if enabled {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}
	return a, nil
}

// LogFileOperation records a file-tool invocation and returns the entry written.
func (a *AuditLogger) LogFileOperation(operation, path string, opts ...AuditOption) FileAuditEntry {
	cfg := auditCfg{success: true, size: -1}
	for _, opt := range opts {
		opt(&cfg)
	}
	entry := FileAuditEntry{
		Timestamp:   now(),
		Type:        "file",
		Operation:   operation,
		Path:        path,
		Success:     cfg.success,
		Error:       cfg.errMsg,
		SessionID:   cfg.sessionID,
		UserID:      cfg.userID,
		Blocked:     cfg.blocked,
		BlockReason: cfg.blockReason,
	}
	if cfg.size >= 0 {
		entry.Size = cfg.size
	}
	a.write(entry, fmt.Sprintf("%s %s", operation, path))
	return entry
}

// LogShellOperation records a shell/exec invocation and returns the entry written.
func (a *AuditLogger) LogShellOperation(command string, opts ...AuditOption) ShellAuditEntry {
	cfg := auditCfg{success: true, size: -1}
	for _, opt := range opts {
		opt(&cfg)
	}
	entry := ShellAuditEntry{
		Timestamp:   now(),
		Type:        "shell",
		Command:     command,
		ExitCode:    cfg.exitCode,
		Duration:    cfg.duration.Milliseconds(),
		Success:     cfg.success,
		Error:       cfg.errMsg,
		SessionID:   cfg.sessionID,
		UserID:      cfg.userID,
		Blocked:     cfg.blocked,
		BlockReason: cfg.blockReason,
	}
	preview := command
	if len(preview) > 50 {
		preview = preview[:50] + "..."
	}
	a.write(entry, "command: "+preview)
	return entry
}

func (a *AuditLogger) write(entry any, logMsg string) {
	if !a.enabled {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		a.logger.Error("marshal audit entry", zap.Error(err))
		return
	}

	f, err := os.OpenFile(a.logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Error("open audit log", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		a.logger.Error("write audit log", zap.Error(err))
		return
	}

	blocked, blockReason, success, errMsg := extractStatus(entry)
	switch {
	case blocked:
		a.logger.Warn("audit: "+logMsg, zap.String("block_reason", blockReason))
	case !success:
		a.logger.Warn("audit: "+logMsg, zap.String("error", errMsg))
	default:
		a.logger.Debug("audit: " + logMsg)
	}
}

func extractStatus(entry any) (blocked bool, blockReason string, success bool, errMsg string) {
	switch e := entry.(type) {
	case FileAuditEntry:
		return e.Blocked, e.BlockReason, e.Success, e.Error
	case ShellAuditEntry:
		return e.Blocked, e.BlockReason, e.Success, e.Error
	default:
		return false, "", true, ""
	}
}

// ReadEntries reads back raw JSON-Lines audit entries, most recent first,
// optionally filtered by type and session.
func (a *AuditLogger) ReadEntries(entryType, sessionID string, limit int) ([]map[string]any, error) {
	data, err := os.ReadFile(a.logFile)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var entries []map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			break
		}
		if entryType != "" && entryType != "all" && m["type"] != entryType {
			continue
		}
		if sessionID != "" && m["session_id"] != sessionID {
			continue
		}
		entries = append(entries, m)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Clear deletes the audit log file.
func (a *AuditLogger) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := os.Remove(a.logFile)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Stats summarizes the current audit log.
type Stats struct {
	TotalEntries      int
	FileOperations    int
	ShellOperations   int
	BlockedOperations int
	FailedOperations  int
	LogFile           string
	LogSizeBytes      int64
}

// GetStats computes summary counters over the full audit log.
func (a *AuditLogger) GetStats() (Stats, error) {
	entries, err := a.ReadEntries("", "", 0)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{LogFile: a.logFile}
	for _, e := range entries {
		stats.TotalEntries++
		switch e["type"] {
		case "file":
			stats.FileOperations++
		case "shell":
			stats.ShellOperations++
		}
		if b, _ := e["blocked"].(bool); b {
			stats.BlockedOperations++
		}
		if succ, ok := e["success"].(bool); ok && !succ {
			stats.FailedOperations++
		}
	}
	if fi, err := os.Stat(a.logFile); err == nil {
		stats.LogSizeBytes = fi.Size()
	}
	return stats, nil
}

// auditCfg collects AuditOption values.
type auditCfg struct {
	size        int64
	success     bool
	errMsg      string
	sessionID   string
	userID      string
	blocked     bool
	blockReason string
	exitCode    int
	duration    time.Duration
}

// AuditOption customizes an audit entry.
type AuditOption func(*auditCfg)

func WithSize(n int64) AuditOption          { return func(c *auditCfg) { c.size = n } }
func WithFailure(err error) AuditOption     { return func(c *auditCfg) { c.success = false; c.errMsg = err.Error() } }
func WithSessionID(id string) AuditOption   { return func(c *auditCfg) { c.sessionID = id } }
func WithUserID(id string) AuditOption      { return func(c *auditCfg) { c.userID = id } }
func WithBlocked(reason string) AuditOption { return func(c *auditCfg) { c.blocked = true; c.blockReason = reason } }
func WithExitCode(code int) AuditOption     { return func(c *auditCfg) { c.exitCode = code } }
func WithDuration(d time.Duration) AuditOption {
	return func(c *auditCfg) { c.duration = d }
}

var now = time.Now
