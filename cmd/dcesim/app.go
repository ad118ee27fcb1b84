package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/nvandessel/choice-lab/internal/config"
	"github.com/nvandessel/choice-lab/internal/logging"
	"github.com/nvandessel/choice-lab/internal/store"
)

// app holds what a command needs once flags are parsed: the validated
// configuration, the project root and the loggers.
type app struct {
	cfg     *config.DcesimConfig
	root    string
	jsonOut bool
	logger  *slog.Logger
	events  *logging.RunLogger
}

// newApp loads configuration and builds loggers for cmd. Logs go to the
// command's stderr so stdout stays clean for results.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	jsonOut, _ := cmd.Flags().GetBool("json")
	root, _ := cmd.Flags().GetString("root")
	if cfg.Store.Root != "" && !cmd.Flags().Changed("root") {
		root = cfg.Store.Root
	}

	return &app{
		cfg:     cfg,
		root:    root,
		jsonOut: jsonOut,
		logger:  logging.NewLoggerWithFormat(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
		events:  logging.NewRunLogger(store.LocalPath(root), cfg.Logging.Level),
	}, nil
}

// openStore opens the run registry under the project root.
func (a *app) openStore() (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return s, nil
}

func (a *app) Close() {
	a.events.Close()
}

// writeJSON encodes v as one JSON document on the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	return json.NewEncoder(cmd.OutOrStdout()).Encode(v)
}

// signalContext returns a context cancelled on interrupt or when the
// returned cancel func is called.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}
