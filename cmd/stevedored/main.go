// Stevedored is a containerization pipeline daemon.
//
// It drives repositories through analysis, Dockerfile generation, image
// build, scan, registry push, manifest generation, and deployment, tracking
// each run in a TTL-bound session. Pipeline operations are exposed over an
// HTTP API and, with -mcp, over the Model Context Protocol on stdio.
//
// Configuration is loaded from a YAML file with environment overrides. See
// internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	stevedored
//
//	# Configure via environment
//	SERVER_HTTP_PORT=9090 PROGRESS_NATS_URL=nats://localhost:4222 stevedored
//
//	# Serve MCP tools on stdio instead of the HTTP API
//	stevedored -mcp
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/artifacts"
	"github.com/fyrsmithlabs/stevedore/internal/config"
	"github.com/fyrsmithlabs/stevedore/internal/dryrun"
	"github.com/fyrsmithlabs/stevedore/internal/gates"
	httpserver "github.com/fyrsmithlabs/stevedore/internal/http"
	"github.com/fyrsmithlabs/stevedore/internal/logging"
	"github.com/fyrsmithlabs/stevedore/internal/mcp"
	"github.com/fyrsmithlabs/stevedore/internal/orchestrator"
	"github.com/fyrsmithlabs/stevedore/internal/progress"
	"github.com/fyrsmithlabs/stevedore/internal/retry"
	"github.com/fyrsmithlabs/stevedore/internal/scoring"
	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/telemetry"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/stevedore/config.yaml)")
	mcpMode := flag.Bool("mcp", false, "serve MCP tools on stdio instead of the HTTP API")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  stevedored           Start the stevedored daemon\n")
			fmt.Fprintf(os.Stderr, "  stevedored -mcp      Serve MCP tools on stdio\n")
			fmt.Fprintf(os.Stderr, "  stevedored version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *mcpMode); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("stevedored by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Creates the session and artifact stores
//  4. Wires the pipeline orchestrator with its phases
//  5. Connects progress delivery (NATS when configured)
//  6. Starts the HTTP API, or the MCP stdio server in -mcp mode
//  7. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string, mcpMode bool) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("Starting stevedored",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("mcp_mode", mcpMode),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Observability.EnableTelemetry,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.Endpoint,
		Protocol:       cfg.Observability.Protocol,
		Insecure:       true,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, err := session.NewStore(&session.Config{
		TTL:                 cfg.Session.TTL,
		CompletionRetention: cfg.Session.CompletionRetention,
		MaxSessions:         cfg.Session.MaxSessions,
		CleanupInterval:     cfg.Session.CleanupInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()
	store.StartCleanup(ctx)

	artifactStore, err := artifacts.NewStore(&artifacts.Config{
		TTL:             cfg.Artifacts.TTL,
		CleanupInterval: cfg.Artifacts.CleanupInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	// All pipeline steps run against the simulator until real builder,
	// scanner, and cluster integrations land.
	sim := dryrun.NewSimulator(logger)

	orch, err := orchestrator.New(&orchestrator.Config{
		Weights:            scoring.Weights(cfg.Scoring.Weights),
		EarlyStopThreshold: cfg.Scoring.EarlyStopThreshold,
		TieBreakMargin:     cfg.Scoring.TieBreakMargin,
		Retry: retry.Options{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Delay:       cfg.Retry.Delay,
			Backoff:     retry.Backoff(cfg.Retry.Backoff),
		},
	}, store, sim, sim, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	if err := registerPhases(orch, sim, cfg); err != nil {
		return fmt.Errorf("failed to register pipeline phases: %w", err)
	}
	orch.OnArtifact(&storePublisher{store: artifactStore})

	sink, natsConn, err := buildProgressSink(cfg, logger)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
	}
	orch.OnProgress(sink)

	if mcpMode {
		mcpServer, err := mcp.NewServer(&mcp.Config{
			Name:       "stevedored",
			Version:    version,
			Logger:     logger,
			SessionTTL: cfg.Session.TTL,
		}, store, orch)
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		return mcpServer.Run(ctx)
	}

	srv, err := httpserver.NewServer(store, logger, &httpserver.Config{
		Host: "0.0.0.0",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// registerPhases wires every pipeline step into the orchestrator. Analysis,
// Dockerfile, and manifest generation run as scored candidate phases; the
// remaining steps are single-output executor phases.
func registerPhases(orch *orchestrator.Orchestrator, sim *dryrun.Simulator, cfg *config.Config) error {
	analysisGate := gates.NewRequiredFieldsGate("analysis", cfg.Gates.AnalysisRequiredFields)
	scanGate := gates.NewVulnerabilityGate("vulnerabilities", cfg.Gates.VulnerabilityThresholds)

	specs := []orchestrator.PhaseSpec{
		{Step: workflow.StepAnalyze, ArtifactScheme: artifacts.SchemeAnalysis, Gate: analysisGate, Evaluator: sim.Evaluator(), Kind: retry.OpAnalyze},
		{Step: workflow.StepGenerateDockerfile, ArtifactScheme: artifacts.SchemeDockerfile, Evaluator: sim.Evaluator(), Kind: retry.OpGenerate},
		{Step: workflow.StepBuildImage, ArtifactScheme: artifacts.SchemeBuildLog, Kind: retry.OpBuild},
		{Step: workflow.StepScanImage, ArtifactScheme: artifacts.SchemeScanReport, Gate: scanGate, Kind: retry.OpScan},
		{Step: workflow.StepTagImage, Kind: retry.OpPush},
		{Step: workflow.StepPushImage, Kind: retry.OpPush},
		{Step: workflow.StepGenerateK8sManifests, ArtifactScheme: artifacts.SchemeManifests, Evaluator: sim.Evaluator(), Kind: retry.OpGenerate},
		{Step: workflow.StepPrepareCluster, Kind: retry.OpDeploy},
		{Step: workflow.StepDeployApplication, ArtifactScheme: artifacts.SchemeDeployment, Kind: retry.OpDeploy},
		{Step: workflow.StepVerifyDeployment, Kind: retry.OpDeploy},
	}
	for _, spec := range specs {
		if err := orch.RegisterPhase(spec); err != nil {
			return err
		}
	}
	return nil
}

// buildProgressSink assembles the progress fan-out: always the log sink,
// plus NATS when a server URL is configured.
func buildProgressSink(cfg *config.Config, logger *zap.Logger) (orchestrator.ProgressSink, *nats.Conn, error) {
	logSink := progress.NewLogSink(logger)
	if cfg.Progress.NATSURL == "" {
		return logSink, nil, nil
	}

	nc, err := nats.Connect(cfg.Progress.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Progress.NATSURL, err)
	}
	logger.Info("Connected to NATS", zap.String("url", cfg.Progress.NATSURL))

	natsSink, err := progress.NewNATSSink(nc, cfg.Progress.SubjectPrefix)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return progress.NewMultiSink(logSink, natsSink), nc, nil
}

// storePublisher persists accepted winners into the artifact cache.
type storePublisher struct {
	store *artifacts.Store
}

func (p *storePublisher) Publish(_ context.Context, ref artifacts.Ref, payload interface{}) error {
	p.store.Put(ref, payload)
	return nil
}
