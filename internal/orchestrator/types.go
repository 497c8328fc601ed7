package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/stevedore/internal/artifacts"
	"github.com/fyrsmithlabs/stevedore/internal/gates"
	"github.com/fyrsmithlabs/stevedore/internal/retry"
	"github.com/fyrsmithlabs/stevedore/internal/scoring"
	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// ErrValidation marks missing or invalid input to an orchestrator call.
var ErrValidation = errors.New("validation error")

// GateFailureError reports a phase output rejected by its gate. The failure
// is recorded into the session's workflow errors before it is returned.
type GateFailureError struct {
	Step   workflow.Step
	Gate   string
	Reason string
}

func (e *GateFailureError) Error() string {
	return fmt.Sprintf("gate %s rejected step %s: %s", e.Gate, e.Step, e.Reason)
}

// PhaseSpec describes how one pipeline step is carried out. A spec with an
// Evaluator runs the candidate path (generate, score, tie-break); a spec
// without one runs the external step executor through the retry policy.
type PhaseSpec struct {
	// Step is the workflow step this phase advances.
	Step workflow.Step

	// ArtifactScheme names the resource scheme for published winners
	// (e.g. "analysis", "dockerfile"). Empty disables publishing.
	ArtifactScheme string

	// Gate is the admission check applied to the winner or step result.
	// Nil means the phase has no gate.
	Gate gates.Gate

	// Evaluator supplies per-candidate metrics for the scoring path.
	Evaluator scoring.Evaluator

	// Kind classifies executor failures for remediation suggestions.
	Kind retry.OperationKind
}

// CandidateGenerator produces 1..N candidate outputs for a phase.
type CandidateGenerator interface {
	Generate(ctx context.Context, spec PhaseSpec, sess *session.Session) ([]*scoring.Candidate, error)
}

// StepExecutor carries out an externally executed step (build, scan, tag,
// push, deploy). The returned payload is stored in the step's result slot
// when the step has one; slotless steps may return nil.
type StepExecutor interface {
	Execute(ctx context.Context, sess *session.Session, step workflow.Step) (interface{}, error)
}

// ProgressStatus is the lifecycle of a step as seen by progress consumers.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// ProgressEvent is emitted after each step transition.
type ProgressEvent struct {
	SessionID string         `json:"session_id"`
	Step      workflow.Step  `json:"step"`
	Status    ProgressStatus `json:"status"`
	Message   string         `json:"message"`

	// Progress is the overall pipeline completion in [0,1].
	Progress float64 `json:"progress"`
}

// ProgressSink receives step transition events. Emission failures are logged
// by the orchestrator and never abort the run.
type ProgressSink interface {
	Emit(ctx context.Context, event ProgressEvent) error
}

// ArtifactPublisher receives the addressing tuple of each accepted winner.
type ArtifactPublisher interface {
	Publish(ctx context.Context, ref artifacts.Ref, payload interface{}) error
}

// PipelineOptions tune a full pipeline run.
type PipelineOptions struct {
	// SkipScan omits the vulnerability scan step.
	SkipScan bool

	// SkipDeploy stops after manifests are generated; cluster preparation,
	// deployment, and verification are omitted.
	SkipDeploy bool

	// Strict fails the run on scan findings instead of recording them as a
	// warning and continuing.
	Strict bool
}
