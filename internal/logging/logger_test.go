package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"info":    slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"Trace":   LevelTrace,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerWithFormat(t *testing.T) {
	tests := []struct {
		level, format string
		shown, hidden []string
	}{
		{"info", FormatText, []string{"level=INFO", "msg=panel", "run=r1"}, []string{"draws", "chain"}},
		{"debug", FormatText, []string{"msg=draws", "level=DEBUG"}, []string{"chain"}},
		{"trace", FormatText, []string{"level=TRACE", "msg=chain"}, nil},
		{"debug", FormatJSON, []string{`"level":"DEBUG"`, `"msg":"draws"`, `"run":"r1"`}, []string{`"msg":"chain"`}},
		{"trace", FormatJSON, []string{`"level":"TRACE"`}, nil},
		{"trace", FormatPretty, []string{"panel", "chain", "run=r1"}, nil},
		{"info", "xml", []string{"level=INFO"}, []string{"<"}},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithFormat(tt.level, tt.format, &buf)
			logger.Info("panel", "run", "r1")
			logger.Debug("draws", "run", "r1")
			logger.Log(t.Context(), LevelTrace, "chain", "run", "r1")

			out := buf.String()
			for _, s := range tt.shown {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.hidden {
				if strings.Contains(out, s) {
					t.Errorf("output should not contain %q:\n%s", s, out)
				}
			}
			if tt.format == FormatPretty && strings.Contains(out, "\x1b[") {
				t.Error("pretty output to a buffer should not be colored")
			}
		})
	}
}

func TestNewLoggerDefaultsToText(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("info", &buf).Warn("slow sampler", "chain", 2)
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "chain=2") {
		t.Errorf("NewLogger output = %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}

func readEvents(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	defer f.Close()

	var events []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]any
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}
	return events
}

func TestRunLoggerLevels(t *testing.T) {
	tests := []struct {
		level  string
		enable bool
	}{
		{"info", false},
		{"", false},
		{"debug", true},
		{"trace", true},
	}
	for _, tt := range tests {
		t.Run("level="+tt.level, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), ".dcesim")
			rl := NewRunLogger(dir, tt.level)
			defer rl.Close()

			if (rl != nil) != tt.enable {
				t.Fatalf("NewRunLogger(%q) enabled = %v, want %v", tt.level, rl != nil, tt.enable)
			}
			rl.Log(map[string]any{"event": "simulate"})

			_, err := os.Stat(filepath.Join(dir, RunLogFile))
			if tt.enable && err != nil {
				t.Errorf("trace file missing: %v", err)
			}
			if !tt.enable && err == nil {
				t.Error("trace file written at info level")
			}
		})
	}
}

func TestRunLoggerEvents(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")

	sim := map[string]any{"event": "simulate", "seed": 42.0, "dims": "R4 T6 A3 L3 C1"}
	rl.Log(sim)
	rl.Log(map[string]any{"event": "fit", "run": "r1", "chains": 4.0})
	rl.Close()

	if _, ok := sim["time"]; ok {
		t.Error("Log added a field to the caller's map")
	}

	events := readEvents(t, filepath.Join(dir, RunLogFile))
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0]["event"] != "simulate" || events[0]["seed"] != 42.0 {
		t.Errorf("first event = %v", events[0])
	}
	if events[1]["event"] != "fit" || events[1]["chains"] != 4.0 {
		t.Errorf("second event = %v", events[1])
	}
	for i, ev := range events {
		if _, ok := ev["time"].(string); !ok {
			t.Errorf("event %d has no time: %v", i, ev)
		}
	}

	// Reopening appends.
	rl = NewRunLogger(dir, "trace")
	rl.Log(nil)
	rl.Close()
	if got := len(readEvents(t, filepath.Join(dir, RunLogFile))); got != 3 {
		t.Errorf("after reopen got %d events, want 3", got)
	}
}

func TestRunLoggerConcurrent(t *testing.T) {
	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				rl.Log(map[string]any{"event": "respondent", "worker": w, "i": i})
			}
		}()
	}
	wg.Wait()
	rl.Close()

	if got := len(readEvents(t, filepath.Join(dir, RunLogFile))); got != 200 {
		t.Errorf("got %d events, want 200", got)
	}
}

func TestRunLoggerClose(t *testing.T) {
	var nilLogger *RunLogger
	nilLogger.Log(map[string]any{"event": "ignored"})
	nilLogger.Close()

	dir := t.TempDir()
	rl := NewRunLogger(dir, "debug")
	rl.Close()
	rl.Close()
	rl.Log(map[string]any{"event": "late"})

	if got := len(readEvents(t, filepath.Join(dir, RunLogFile))); got != 0 {
		t.Errorf("Log after Close wrote %d events", got)
	}

	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(filepath.Join(dir, RunLogFile))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("trace file mode = %o, want 0600", perm)
	}
}
