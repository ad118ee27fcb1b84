// Package mcp provides an MCP (Model Context Protocol) server for dcesim.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/choice-lab/internal/config"
	"github.com/nvandessel/choice-lab/internal/logging"
	"github.com/nvandessel/choice-lab/internal/ratelimit"
	"github.com/nvandessel/choice-lab/internal/simulation"
	"github.com/nvandessel/choice-lab/internal/store"
)

// Server wraps the MCP SDK server with the dcesim run registry.
type Server struct {
	server   *sdk.Server
	store    store.RunStore
	root     string
	settings *config.DcesimConfig
	runner   *simulation.Runner
	logger   *slog.Logger
	limits   ratelimit.Tools
	audit    *AuditLogger
	events   *logging.RunLogger

	closeOnce sync.Once
	closeErr  error
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "dcesim")
	Version string // Server version
	Root    string // Project root directory

	// Settings supplies simulation and ingest defaults. Nil uses
	// config.Default().
	Settings *config.DcesimConfig

	// Logger receives operational logs. It must not write to stdout,
	// which carries the protocol.
	Logger *slog.Logger
}

// NewServer creates a new MCP server with dcesim tools.
func NewServer(cfg *Config) (*Server, error) {
	runs, err := store.NewSQLiteStore(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	events := logging.NewRunLogger(store.LocalPath(cfg.Root), settings.Logging.Level)

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:   mcpServer,
		store:    runs,
		root:     cfg.Root,
		settings: settings,
		runner:   simulation.NewRunner(logger, events),
		logger:   logger,
		limits:   ratelimit.DefaultTools(),
		audit:    NewAuditLogger(cfg.Root),
		events:   events,
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves over stdio until the client disconnects, ctx is cancelled, or
// the process receives an interrupt.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals...)
	defer stop()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the store and logs. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
		if err := s.audit.Close(); s.closeErr == nil {
			s.closeErr = err
		}
		s.events.Close()
	})
	return s.closeErr
}
