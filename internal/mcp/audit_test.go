package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readAudit(t *testing.T, root string) []AuditEntry {
	t.Helper()
	f, err := os.Open(filepath.Join(root, ".dcesim", AuditFile))
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	var entries []AuditEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("parsing audit entry %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestAuditLogger_NilSafety(t *testing.T) {
	var logger *AuditLogger
	logger.Log(AuditEntry{Tool: "test"})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on nil logger returned error: %v", err)
	}
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	root := t.TempDir()
	logger := NewAuditLogger(root)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	now := time.Now()
	logger.Log(AuditEntry{Timestamp: now, Tool: "dce_simulate", DurationMs: 42, Status: "success"})
	logger.Log(AuditEntry{Timestamp: now, Tool: "dce_load", Status: "error", Error: "boom"})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	// Writes after Close are dropped, and a second Close is harmless.
	logger.Log(AuditEntry{Tool: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	entries := readAudit(t, root)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Tool != "dce_simulate" || entries[0].DurationMs != 42 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}

func TestAuditLogger_FilePermissions(t *testing.T) {
	root := t.TempDir()
	logger := NewAuditLogger(root)
	defer logger.Close()

	info, err := os.Stat(filepath.Join(root, ".dcesim", AuditFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 0600", perm)
	}
}

func TestAuditLogger_ConcurrentWrites(t *testing.T) {
	root := t.TempDir()
	logger := NewAuditLogger(root)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: "dce_runs", Status: "success"})
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readAudit(t, root)); got != 50 {
		t.Errorf("got %d entries, want 50", got)
	}
}

func TestAuditLogger_BadPath(t *testing.T) {
	root := t.TempDir()
	// A file where the .dcesim directory should be.
	if err := os.WriteFile(filepath.Join(root, ".dcesim"), nil, 0600); err != nil {
		t.Fatal(err)
	}
	if logger := NewAuditLogger(root); logger != nil {
		t.Error("expected nil logger when the directory cannot be created")
	}
}

func TestAuditParams(t *testing.T) {
	got := auditParams(map[string]any{
		"dir":      "/home/someone/private/survey",
		"name":     "pilot",
		"seed":     uint64(42),
		"tasks":    10,
		"dry_run":  true,
		"holdout":  0,
		"contents": "dropped",
	})

	want := map[string]string{
		"dir":          "(set)",
		"name":         "(set)",
		"seed":         "42",
		"tasks":        "10",
		"dry_run":      "true",
		"_param_count": "6",
	}
	if len(got) != len(want) {
		t.Errorf("auditParams() = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("auditParams()[%q] = %q, want %q", k, got[k], v)
		}
	}

	if auditParams(nil) != nil {
		t.Error("auditParams(nil) should be nil")
	}
}

func TestAuditTool(t *testing.T) {
	server, root := setupTestServer(t)
	server.auditTool("dce_runs", time.Now(), nil, map[string]string{"limit": "5"})
	server.auditTool("dce_load", time.Now(), errors.New("rejected"), nil)
	server.Close()

	entries := readAudit(t, root)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Status != "success" || entries[0].Params["limit"] != "5" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error != "rejected" {
		t.Errorf("entry 1 = %+v", entries[1])
	}
}
