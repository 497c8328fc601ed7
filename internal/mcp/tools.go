package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/stevedore/internal/orchestrator"
	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerSessionTools()
	s.registerPipelineTools()
}

// ===== SESSION TOOLS =====

type sessionCreateInput struct {
	RepoPath string            `json:"repo_path" jsonschema:"required,Path to the repository to containerize"`
	Labels   map[string]string `json:"labels,omitempty" jsonschema:"Labels attached to the session"`
}

type sessionSummaryOutput struct {
	SessionID  string `json:"session_id" jsonschema:"Session identifier"`
	RepoPath   string `json:"repo_path" jsonschema:"Repository path"`
	Status     string `json:"status" jsonschema:"Session status"`
	Percentage int    `json:"percentage" jsonschema:"Pipeline completion percentage"`
	ExpiresAt  string `json:"expires_at" jsonschema:"Session expiry time (RFC 3339)"`
}

type sessionGetInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type sessionListInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by status (active building completed or failed)"`
}

type sessionListOutput struct {
	Sessions []sessionSummaryOutput `json:"sessions" jsonschema:"Matching sessions"`
	Count    int                    `json:"count" jsonschema:"Number of sessions returned"`
}

type sessionExtendInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Duration  string `json:"duration" jsonschema:"required,Extension as a Go duration (e.g. 30m or 2h)"`
}

type sessionCompleteInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Success   bool   `json:"success" jsonschema:"True to mark the session completed rather than failed"`
}

type sessionStatsInput struct{}

type sessionStatsOutput struct {
	ActiveSessions int `json:"active_sessions" jsonschema:"Sessions in the active status"`
	TotalSessions  int `json:"total_sessions" jsonschema:"Live sessions in the store"`
	MaxSessions    int `json:"max_sessions" jsonschema:"Configured active session cap"`
}

func summarize(sess *session.Session) sessionSummaryOutput {
	return sessionSummaryOutput{
		SessionID:  sess.ID,
		RepoPath:   sess.RepoPath,
		Status:     string(sess.Status),
		Percentage: sess.WorkflowState.Progress().Percentage,
		ExpiresAt:  sess.ExpiresAt.Format(time.RFC3339),
	}
}

func (s *Server) createSession(ctx context.Context, args sessionCreateInput) (sessionSummaryOutput, error) {
	if args.RepoPath == "" {
		return sessionSummaryOutput{}, fmt.Errorf("repo_path is required")
	}
	sess := session.New(args.RepoPath, s.sessionTTL)
	sess.MergeLabels(args.Labels)
	created, err := s.store.Create(ctx, sess)
	if err != nil {
		return sessionSummaryOutput{}, err
	}
	return summarize(created), nil
}

func (s *Server) getSession(ctx context.Context, args sessionGetInput) (*session.Session, error) {
	return s.store.Get(ctx, args.SessionID)
}

func (s *Server) listSessions(ctx context.Context, args sessionListInput) (sessionListOutput, error) {
	var filter session.Filter
	if args.Status != "" {
		status := session.Status(args.Status)
		if !status.Valid() {
			return sessionListOutput{}, fmt.Errorf("unknown status %q", args.Status)
		}
		filter.Status = &status
	}

	out := sessionListOutput{Sessions: []sessionSummaryOutput{}}
	for _, sess := range s.store.List(ctx, filter) {
		out.Sessions = append(out.Sessions, summarize(sess))
	}
	out.Count = len(out.Sessions)
	return out, nil
}

func (s *Server) extendSession(ctx context.Context, args sessionExtendInput) (sessionSummaryOutput, error) {
	d, err := time.ParseDuration(args.Duration)
	if err != nil {
		return sessionSummaryOutput{}, fmt.Errorf("invalid duration %q: %w", args.Duration, err)
	}
	if d <= 0 {
		return sessionSummaryOutput{}, fmt.Errorf("duration must be positive")
	}
	updated, err := s.store.UpdateAtomic(ctx, args.SessionID, func(sess *session.Session) error {
		sess.Extend(d)
		return nil
	})
	if err != nil {
		return sessionSummaryOutput{}, err
	}
	return summarize(updated), nil
}

func (s *Server) completeSession(ctx context.Context, args sessionCompleteInput) (sessionSummaryOutput, error) {
	retention := s.store.CompletionRetention()
	updated, err := s.store.UpdateAtomic(ctx, args.SessionID, func(sess *session.Session) error {
		sess.Complete(args.Success, retention)
		return nil
	})
	if err != nil {
		return sessionSummaryOutput{}, err
	}
	return summarize(updated), nil
}

func (s *Server) sessionStats(_ context.Context, _ sessionStatsInput) (sessionStatsOutput, error) {
	stats := s.store.Stats()
	return sessionStatsOutput{
		ActiveSessions: stats.ActiveSessions,
		TotalSessions:  stats.TotalSessions,
		MaxSessions:    stats.MaxSessions,
	}, nil
}

func (s *Server) registerSessionTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_create",
		Description: "Create a containerization session for a repository",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionCreateInput) (*mcp.CallToolResult, sessionSummaryOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_create")
		out, err := s.createSession(ctx, args)
		s.metrics.DecrementActive(ctx, "session_create")
		s.metrics.RecordInvocation(ctx, "session_create", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_get",
		Description: "Get the full state of a containerization session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionGetInput) (*mcp.CallToolResult, *session.Session, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_get")
		out, err := s.getSession(ctx, args)
		s.metrics.DecrementActive(ctx, "session_get")
		s.metrics.RecordInvocation(ctx, "session_get", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_list",
		Description: "List containerization sessions, optionally filtered by status",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionListInput) (*mcp.CallToolResult, sessionListOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_list")
		out, err := s.listSessions(ctx, args)
		s.metrics.DecrementActive(ctx, "session_list")
		s.metrics.RecordInvocation(ctx, "session_list", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_extend",
		Description: "Extend a session's expiry by a duration",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionExtendInput) (*mcp.CallToolResult, sessionSummaryOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_extend")
		out, err := s.extendSession(ctx, args)
		s.metrics.DecrementActive(ctx, "session_extend")
		s.metrics.RecordInvocation(ctx, "session_extend", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_complete",
		Description: "Mark a session as completed or failed and shorten its retention",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionCompleteInput) (*mcp.CallToolResult, sessionSummaryOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "session_complete")
		out, err := s.completeSession(ctx, args)
		s.metrics.DecrementActive(ctx, "session_complete")
		s.metrics.RecordInvocation(ctx, "session_complete", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "session_stats",
		Description: "Report session store occupancy",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionStatsInput) (*mcp.CallToolResult, sessionStatsOutput, error) {
		start := time.Now()
		out, err := s.sessionStats(ctx, args)
		s.metrics.RecordInvocation(ctx, "session_stats", time.Since(start), err)
		return nil, out, err
	})
}

// ===== PIPELINE TOOLS =====

type pipelineRunInput struct {
	SessionID  string `json:"session_id" jsonschema:"required,Session identifier"`
	SkipScan   bool   `json:"skip_scan,omitempty" jsonschema:"Skip the vulnerability scan step"`
	SkipDeploy bool   `json:"skip_deploy,omitempty" jsonschema:"Skip cluster preparation deployment and verification"`
	Strict     bool   `json:"strict,omitempty" jsonschema:"Fail the pipeline on scan gate findings instead of recording a warning"`
}

type pipelineRunPhaseInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
	Step      string `json:"step" jsonschema:"required,Pipeline step to run (e.g. ANALYZE or BUILD_IMAGE)"`
}

type pipelineStatusInput struct {
	SessionID string `json:"session_id" jsonschema:"required,Session identifier"`
}

type pipelineStatusOutput struct {
	SessionID      string            `json:"session_id" jsonschema:"Session identifier"`
	Status         string            `json:"status" jsonschema:"Session status"`
	CurrentStep    string            `json:"current_step,omitempty" jsonschema:"Step currently in progress"`
	CompletedSteps []string          `json:"completed_steps" jsonschema:"Steps completed so far in execution order"`
	Percentage     int               `json:"percentage" jsonschema:"Pipeline completion percentage"`
	Errors         map[string]string `json:"errors,omitempty" jsonschema:"Last recorded error per step"`
	ScanWarning    string            `json:"scan_warning,omitempty" jsonschema:"Scan findings demoted to a warning in lenient mode"`
}

func (s *Server) runPipeline(ctx context.Context, args pipelineRunInput) (pipelineStatusOutput, error) {
	opts := orchestrator.PipelineOptions{
		SkipScan:   args.SkipScan,
		SkipDeploy: args.SkipDeploy,
		Strict:     args.Strict,
	}
	runErr := s.orch.RunPipeline(ctx, args.SessionID, opts)

	// The session records the outcome even on failure; report its state
	// alongside any pipeline error.
	out, statusErr := s.pipelineStatus(ctx, pipelineStatusInput{SessionID: args.SessionID})
	if runErr != nil {
		return out, runErr
	}
	return out, statusErr
}

func (s *Server) runPhase(ctx context.Context, args pipelineRunPhaseInput) (pipelineStatusOutput, error) {
	step, err := workflow.ParseStep(args.Step)
	if err != nil {
		return pipelineStatusOutput{}, err
	}
	runErr := s.orch.RunPhase(ctx, args.SessionID, step)

	out, statusErr := s.pipelineStatus(ctx, pipelineStatusInput{SessionID: args.SessionID})
	if runErr != nil {
		return out, runErr
	}
	return out, statusErr
}

func (s *Server) pipelineStatus(ctx context.Context, args pipelineStatusInput) (pipelineStatusOutput, error) {
	sess, err := s.store.Get(ctx, args.SessionID)
	if err != nil {
		return pipelineStatusOutput{}, err
	}

	out := pipelineStatusOutput{
		SessionID:      sess.ID,
		Status:         string(sess.Status),
		CompletedSteps: []string{},
		Percentage:     sess.WorkflowState.Progress().Percentage,
	}
	if sess.WorkflowState.CurrentStep != nil {
		out.CurrentStep = string(*sess.WorkflowState.CurrentStep)
	}
	for _, step := range sess.WorkflowState.CompletedSteps {
		out.CompletedSteps = append(out.CompletedSteps, string(step))
	}
	if len(sess.WorkflowState.Errors) > 0 {
		out.Errors = make(map[string]string, len(sess.WorkflowState.Errors))
		for step, msg := range sess.WorkflowState.Errors {
			out.Errors[string(step)] = msg
		}
	}
	if warning, ok := sess.Metadata["scan_warning"].(string); ok {
		out.ScanWarning = warning
	}
	return out, nil
}

func (s *Server) registerPipelineTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_run",
		Description: "Run the full containerization pipeline for a session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineRunInput) (*mcp.CallToolResult, pipelineStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "pipeline_run")
		out, err := s.runPipeline(ctx, args)
		s.metrics.DecrementActive(ctx, "pipeline_run")
		s.metrics.RecordInvocation(ctx, "pipeline_run", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_run_phase",
		Description: "Run a single pipeline step for a session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineRunPhaseInput) (*mcp.CallToolResult, pipelineStatusOutput, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, "pipeline_run_phase")
		out, err := s.runPhase(ctx, args)
		s.metrics.DecrementActive(ctx, "pipeline_run_phase")
		s.metrics.RecordInvocation(ctx, "pipeline_run_phase", time.Since(start), err)
		return nil, out, err
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pipeline_status",
		Description: "Report pipeline progress and recorded errors for a session",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args pipelineStatusInput) (*mcp.CallToolResult, pipelineStatusOutput, error) {
		start := time.Now()
		out, err := s.pipelineStatus(ctx, args)
		s.metrics.RecordInvocation(ctx, "pipeline_status", time.Since(start), err)
		return nil, out, err
	})
}
