package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/choice-lab/internal/store"
)

// AuditFile is the tool-call log under the project's .dcesim directory.
const AuditFile = "audit.jsonl"

// AuditEntry records one MCP tool invocation without argument content.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// AuditLogger appends entries to <root>/.dcesim/audit.jsonl. It is safe
// for concurrent use, and a nil AuditLogger is a no-op.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLogger opens the audit log under root. If the file cannot be
// opened a warning goes to stderr and nil is returned.
func NewAuditLogger(root string) *AuditLogger {
	dir := store.LocalPath(root)
	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory %s: %v\n", dir, err)
		return nil
	}
	path := filepath.Join(dir, AuditFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log %s: %v\n", path, err)
		return nil
	}
	return &AuditLogger{file: f}
}

// Log appends entry as one JSON line.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	_, _ = a.file.Write(append(data, '\n'))
}

// Close closes the log file. Safe to call on nil and more than once.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// auditParams keeps only argument values that are safe to log. Anything
// path-like or free text is reduced to "(set)"; unknown keys are dropped.
func auditParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}
	safeValue := map[string]bool{
		"respondents":  true,
		"tasks":        true,
		"alternatives": true,
		"levels":       true,
		"seed":         true,
		"noise":        true,
		"holdout":      true,
		"dry_run":      true,
		"limit":        true,
		"run_id":       true,
	}
	presenceOnly := map[string]bool{
		"name": true,
		"dir":  true,
	}

	out := make(map[string]string, len(params)+1)
	set := 0
	for k, v := range params {
		if isZero(v) {
			continue
		}
		set++
		switch {
		case safeValue[k]:
			out[k] = fmt.Sprint(v)
		case presenceOnly[k]:
			out[k] = "(set)"
		}
	}
	out["_param_count"] = fmt.Sprint(set)
	return out
}

func isZero(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case int:
		return v == 0
	case uint64:
		return v == 0
	case bool:
		return !v
	}
	return false
}

// auditTool logs a tool invocation that began at start.
func (s *Server) auditTool(tool string, start time.Time, err error, params map[string]string) {
	entry := AuditEntry{
		Timestamp:  start,
		Tool:       tool,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     "success",
		Params:     params,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	s.audit.Log(entry)
}
