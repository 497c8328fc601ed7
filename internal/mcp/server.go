package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/orchestrator"
	"github.com/fyrsmithlabs/stevedore/internal/session"
)

// Server exposes session and pipeline operations as MCP tools.
type Server struct {
	mcp        *mcp.Server
	store      session.Store
	orch       *orchestrator.Orchestrator
	metrics    *Metrics
	logger     *zap.Logger
	sessionTTL time.Duration
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "stevedored")
	Name string

	// Version is the server version (default: "1.0.0")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// SessionTTL is the lifetime applied to sessions created over MCP
	// (default: 24h).
	SessionTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:       "stevedored",
		Version:    "1.0.0",
		Logger:     zap.NewNop(),
		SessionTTL: 24 * time.Hour,
	}
}

// NewServer creates a new MCP server over the session store and pipeline
// orchestrator.
func NewServer(cfg *Config, store session.Store, orch *orchestrator.Orchestrator) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:        mcpServer,
		store:      store,
		orch:       orch,
		metrics:    NewMetrics(cfg.Logger),
		logger:     cfg.Logger,
		sessionTTL: cfg.SessionTTL,
	}

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close closes the server and the underlying session store.
func (s *Server) Close() error {
	s.logger.Info("closing MCP server")
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("session store close: %w", err)
	}
	return nil
}
