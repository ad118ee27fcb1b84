// Package logging provides leveled logging and run tracing for dcesim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A RunLogger for structured JSONL run traces (.dcesim/runs.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LevelTrace is a custom slog level below Debug for full content logging.
// At this level, per-respondent draws and sampler command lines are included.
const LevelTrace = slog.LevelDebug - 4

// Output formats accepted by NewLoggerWithFormat.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled text slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return NewLoggerWithFormat(level, FormatText, w)
}

// NewLoggerWithFormat creates a leveled slog.Logger writing to w in the
// given format. "pretty" uses colored output when w is a terminal.
// Unknown formats fall back to text.
func NewLoggerWithFormat(level, format string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	replace := func(groups []string, a slog.Attr) slog.Attr {
		// Label the custom trace level
		if a.Key == slog.LevelKey {
			if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
				a.Value = slog.StringValue("TRACE")
			}
		}
		return a
	}

	switch strings.ToLower(format) {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: replace}))
	case FormatPretty:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:       lvl,
			TimeFormat:  "15:04:05",
			NoColor:     !isTerminal(w),
			ReplaceAttr: replace,
		}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: replace}))
	}
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// RunLogFile is the JSONL trace written under a project's .dcesim directory.
const RunLogFile = "runs.jsonl"

// RunLogger appends simulation and fit events to RunLogFile, one JSON
// object per line. It is safe for concurrent use and every method is a
// no-op on a nil receiver, so callers pass it around unconditionally.
type RunLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewRunLogger opens dir/runs.jsonl for append when level is debug or
// trace. At info it returns nil, as it does when the file cannot be opened:
// run tracing never stops a run.
func NewRunLogger(dir string, level string) *RunLogger {
	if ParseLevel(level) >= slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, RunLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &RunLogger{file: f}
}

// Log appends event with a "time" field added. event itself is not modified.
func (rl *RunLogger) Log(event map[string]any) {
	if rl == nil {
		return
	}
	entry := maps.Clone(event)
	if entry == nil {
		entry = make(map[string]any, 1)
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.file == nil {
		return
	}
	_, _ = rl.file.Write(append(data, '\n'))
}

// Close closes the trace file. Later calls to Log are dropped.
func (rl *RunLogger) Close() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.file != nil {
		rl.file.Close()
		rl.file = nil
	}
}
