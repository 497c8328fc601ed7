package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/artifacts"
	"github.com/fyrsmithlabs/stevedore/internal/dryrun"
	"github.com/fyrsmithlabs/stevedore/internal/gates"
	"github.com/fyrsmithlabs/stevedore/internal/orchestrator"
	"github.com/fyrsmithlabs/stevedore/internal/retry"
	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := session.NewStore(nil, zap.NewNop())
	require.NoError(t, err)

	sim := dryrun.NewSimulator(zap.NewNop())
	orch, err := orchestrator.New(orchestrator.DefaultConfig(), store, sim, sim, zap.NewNop())
	require.NoError(t, err)
	registerPhases(t, orch, sim)

	srv, err := NewServer(nil, store, orch)
	require.NoError(t, err)
	return srv
}

func registerPhases(t *testing.T, orch *orchestrator.Orchestrator, sim *dryrun.Simulator) {
	t.Helper()

	analysisGate := gates.NewRequiredFieldsGate("analysis", []string{"language", "port"})
	scanGate := gates.NewVulnerabilityGate("vulnerabilities", map[string]int{"critical": 0, "high": 2})

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
		require.NoError(t, orch.RegisterPhase(spec))
	}
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	store, err := session.NewStore(nil, zap.NewNop())
	require.NoError(t, err)
	sim := dryrun.NewSimulator(zap.NewNop())
	orch, err := orchestrator.New(orchestrator.DefaultConfig(), store, sim, sim, zap.NewNop())
	require.NoError(t, err)

	_, err = NewServer(nil, nil, orch)
	assert.Error(t, err)

	_, err = NewServer(nil, store, nil)
	assert.Error(t, err)
}

func TestSessionLifecycleTools(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	created, err := srv.createSession(ctx, sessionCreateInput{RepoPath: "/src/go-service"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.SessionID)
	assert.Equal(t, string(session.StatusActive), created.Status)

	got, err := srv.getSession(ctx, sessionGetInput{SessionID: created.SessionID})
	require.NoError(t, err)
	assert.Equal(t, "/src/go-service", got.RepoPath)

	listed, err := srv.listSessions(ctx, sessionListInput{Status: "active"})
	require.NoError(t, err)
	assert.Equal(t, 1, listed.Count)

	before, err := time.Parse(time.RFC3339, created.ExpiresAt)
	require.NoError(t, err)
	extended, err := srv.extendSession(ctx, sessionExtendInput{SessionID: created.SessionID, Duration: "2h"})
	require.NoError(t, err)
	after, err := time.Parse(time.RFC3339, extended.ExpiresAt)
	require.NoError(t, err)
	assert.True(t, after.After(before))

	completed, err := srv.completeSession(ctx, sessionCompleteInput{SessionID: created.SessionID, Success: true})
	require.NoError(t, err)
	assert.Equal(t, string(session.StatusCompleted), completed.Status)

	stats, err := srv.sessionStats(ctx, sessionStatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 0, stats.ActiveSessions)
}

func TestCreateSession_RequiresRepoPath(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.createSession(context.Background(), sessionCreateInput{})
	assert.Error(t, err)
}

func TestListSessions_UnknownStatus(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.listSessions(context.Background(), sessionListInput{Status: "bogus"})
	assert.Error(t, err)
}

func TestExtendSession_InvalidDuration(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	created, err := srv.createSession(ctx, sessionCreateInput{RepoPath: "/src/app"})
	require.NoError(t, err)

	_, err = srv.extendSession(ctx, sessionExtendInput{SessionID: created.SessionID, Duration: "soon"})
	assert.Error(t, err)

	_, err = srv.extendSession(ctx, sessionExtendInput{SessionID: created.SessionID, Duration: "-1h"})
	assert.Error(t, err)
}

func TestRunPhaseTool(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	created, err := srv.createSession(ctx, sessionCreateInput{RepoPath: "/src/go-service"})
	require.NoError(t, err)

	out, err := srv.runPhase(ctx, pipelineRunPhaseInput{SessionID: created.SessionID, Step: "ANALYZE"})
	require.NoError(t, err)
	assert.Contains(t, out.CompletedSteps, "ANALYZE")
	assert.Equal(t, 10, out.Percentage)

	_, err = srv.runPhase(ctx, pipelineRunPhaseInput{SessionID: created.SessionID, Step: "MAKE_COFFEE"})
	assert.Error(t, err)
}

func TestRunPipelineTool(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	created, err := srv.createSession(ctx, sessionCreateInput{RepoPath: "/src/go-service"})
	require.NoError(t, err)

	out, err := srv.runPipeline(ctx, pipelineRunInput{SessionID: created.SessionID})
	require.NoError(t, err)
	assert.Equal(t, string(session.StatusCompleted), out.Status)
	assert.Equal(t, 100, out.Percentage)
	assert.Len(t, out.CompletedSteps, 10)
	assert.Empty(t, out.Errors)
}

func TestPipelineStatusTool_NotFound(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.pipelineStatus(context.Background(), pipelineStatusInput{SessionID: "sess_missing"})
	assert.Error(t, err)
}
