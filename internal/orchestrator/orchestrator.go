package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/artifacts"
	"github.com/fyrsmithlabs/stevedore/internal/retry"
	"github.com/fyrsmithlabs/stevedore/internal/scoring"
	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/stevedore/internal/orchestrator"

// Config holds the scoring and retry parameters shared by every phase.
type Config struct {
	// Weights is the metric weighting used by the scorer; must sum to 100.
	Weights scoring.Weights

	// EarlyStopThreshold stops scoring once a candidate reaches it.
	// Zero or negative disables early stop.
	EarlyStopThreshold float64

	// TieBreakMargin is the score distance within which candidates are
	// considered tied.
	TieBreakMargin float64

	// Retry governs externally executed steps.
	Retry retry.Options
}

// DefaultConfig returns orchestration defaults.
func DefaultConfig() *Config {
	return &Config{
		Weights:            scoring.Weights{"static": 40, "size": 30, "speed": 30},
		EarlyStopThreshold: 95,
		TieBreakMargin:     5,
		Retry:              retry.DefaultOptions(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if c.TieBreakMargin < 0 {
		return errors.New("tie-break margin must be non-negative")
	}
	return c.Retry.Validate()
}

// Orchestrator runs pipeline phases against a session store.
type Orchestrator struct {
	config    *Config
	store     session.Store
	generator CandidateGenerator
	executor  StepExecutor
	scorer    *scoring.Scorer
	tiebreak  *scoring.TieBreaker
	logger    *zap.Logger

	specs map[workflow.Step]PhaseSpec

	sink      ProgressSink
	publisher ArtifactPublisher

	tracer       trace.Tracer
	meter        metric.Meter
	phaseCounter metric.Int64Counter
	gateCounter  metric.Int64Counter
}

// New creates an orchestrator. The generator and executor collaborators are
// required; progress sink and artifact publisher are optional.
func New(cfg *Config, store session.Store, generator CandidateGenerator, executor StepExecutor, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid orchestrator config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: session store is required", ErrValidation)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: candidate generator is required", ErrValidation)
	}
	if executor == nil {
		return nil, fmt.Errorf("%w: step executor is required", ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	scorer, err := scoring.NewScorer(cfg.Weights, cfg.EarlyStopThreshold, logger)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    cfg,
		store:     store,
		generator: generator,
		executor:  executor,
		scorer:    scorer,
		tiebreak:  scoring.NewTieBreaker(cfg.TieBreakMargin),
		logger:    logger.Named("orchestrator"),
		specs:     make(map[workflow.Step]PhaseSpec),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
	}
	o.initMetrics()
	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.phaseCounter, err = o.meter.Int64Counter(
		"stevedore.orchestrator.phases_total",
		metric.WithDescription("Total number of phase executions by outcome"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		o.logger.Warn("failed to create phases counter", zap.Error(err))
	}

	o.gateCounter, err = o.meter.Int64Counter(
		"stevedore.orchestrator.gate_failures_total",
		metric.WithDescription("Total number of gate rejections"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		o.logger.Warn("failed to create gate failures counter", zap.Error(err))
	}
}

// RegisterPhase registers the spec driving one pipeline step. Later
// registrations for the same step replace earlier ones.
func (o *Orchestrator) RegisterPhase(spec PhaseSpec) error {
	if !spec.Step.Valid() {
		return fmt.Errorf("%w: unknown workflow step %q", ErrValidation, spec.Step)
	}
	o.specs[spec.Step] = spec
	return nil
}

// OnProgress sets the progress sink.
func (o *Orchestrator) OnProgress(sink ProgressSink) {
	o.sink = sink
}

// OnArtifact sets the artifact publisher.
func (o *Orchestrator) OnArtifact(publisher ArtifactPublisher) {
	o.publisher = publisher
}

// RunPhase executes the registered phase for one step: candidate phases run
// generate, score, tie-break, gate, persist; executor phases run the step
// executor through the retry policy. Terminal failures are recorded into the
// session before the error is returned.
func (o *Orchestrator) RunPhase(ctx context.Context, sessionID string, step workflow.Step) error {
	spec, ok := o.specs[step]
	if !ok {
		return fmt.Errorf("%w: no phase registered for step %s", ErrValidation, step)
	}
	if spec.Evaluator == nil {
		return o.ExecuteStep(ctx, sessionID, step)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run_phase",
		trace.WithAttributes(attribute.String("step", string(step))))
	defer span.End()

	sess, err := o.beginStep(ctx, sessionID, step)
	if err != nil {
		return err
	}

	// The generator and evaluators run without any session lock held; the
	// session is re-acquired only when persisting the outcome.
	candidates, err := o.generator.Generate(ctx, spec, sess)
	if err != nil {
		return o.failStep(ctx, sessionID, step, fmt.Errorf("candidate generation: %w", err))
	}
	if len(candidates) == 0 {
		return o.failStep(ctx, sessionID, step, fmt.Errorf("candidate generation: no candidates produced"))
	}

	if err := o.scorer.Score(ctx, candidates, spec.Evaluator); err != nil {
		return o.failStep(ctx, sessionID, step, fmt.Errorf("scoring: %w", err))
	}

	winner := o.tiebreak.Select(candidates)
	if winner == nil {
		return o.failStep(ctx, sessionID, step, fmt.Errorf("selection: no scored candidate"))
	}
	o.logger.Info("winner selected",
		zap.String("session_id", sessionID),
		zap.String("step", string(step)),
		zap.String("candidate_id", winner.ID),
		zap.Float64p("score", winner.Score),
	)

	if spec.Gate != nil {
		result := spec.Gate.Check(winner.Data)
		if !result.Passed {
			return o.failGate(ctx, sessionID, spec, result.Reason)
		}
	}

	return o.acceptWinner(ctx, sessionID, spec, winner.Data, winner.ID)
}

// ExecuteStep runs an externally executed step through the retry policy and
// persists its result. Cancellation during the step records a failure so the
// session never reflects a half-applied phase.
func (o *Orchestrator) ExecuteStep(ctx context.Context, sessionID string, step workflow.Step) error {
	spec, ok := o.specs[step]
	if !ok {
		return fmt.Errorf("%w: no phase registered for step %s", ErrValidation, step)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.execute_step",
		trace.WithAttributes(attribute.String("step", string(step))))
	defer span.End()

	sess, err := o.beginStep(ctx, sessionID, step)
	if err != nil {
		return err
	}

	language := ""
	if sess.WorkflowState.AnalysisResult != nil {
		language = sess.WorkflowState.AnalysisResult.Language
	}

	// No session lock is held while the executor runs; build, scan and
	// deploy calls can block for minutes.
	result, err := retry.ExecuteWithRecovery(ctx, func() (interface{}, error) {
		return o.executor.Execute(ctx, sess, step)
	}, string(step), spec.Kind, language, o.config.Retry, o.logger)
	if err != nil {
		return o.failStep(ctx, sessionID, step, err)
	}

	if spec.Gate != nil {
		verdict := spec.Gate.Check(result)
		if !verdict.Passed {
			return o.failGate(ctx, sessionID, spec, verdict.Reason)
		}
	}

	artifactID := uuid.New().String()
	return o.acceptWinner(ctx, sessionID, spec, result, artifactID)
}

// RunPipeline runs all registered phases in step order, honoring skip
// options. On success the session transitions to completed; any phase
// failure leaves the session failed and stops the run.
func (o *Orchestrator) RunPipeline(ctx context.Context, sessionID string, opts PipelineOptions) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.run_pipeline")
	defer span.End()

	for _, step := range workflow.AllSteps() {
		if skipStep(step, opts) {
			o.logger.Debug("step skipped",
				zap.String("session_id", sessionID),
				zap.String("step", string(step)))
			continue
		}
		if _, ok := o.specs[step]; !ok {
			continue
		}

		err := o.RunPhase(ctx, sessionID, step)
		if err == nil {
			continue
		}

		// Scan findings are a warning unless the caller asked for strict
		// mode; the session record keeps the rejection reason either way.
		var gateErr *GateFailureError
		if !opts.Strict && step == workflow.StepScanImage && errors.As(err, &gateErr) {
			o.logger.Warn("scan findings recorded as warning",
				zap.String("session_id", sessionID),
				zap.String("reason", gateErr.Reason))
			if werr := o.recordScanWarning(ctx, sessionID, gateErr.Reason); werr != nil {
				return werr
			}
			continue
		}

		o.completeSession(ctx, sessionID, false)
		return err
	}

	return o.completeSession(ctx, sessionID, true)
}

// skipStep applies the pipeline skip options.
func skipStep(step workflow.Step, opts PipelineOptions) bool {
	if opts.SkipScan && step == workflow.StepScanImage {
		return true
	}
	if opts.SkipDeploy {
		switch step {
		case workflow.StepPrepareCluster, workflow.StepDeployApplication, workflow.StepVerifyDeployment:
			return true
		}
	}
	return false
}

// beginStep loads the session, marks the step in progress, and emits the
// in-progress event.
func (o *Orchestrator) beginStep(ctx context.Context, sessionID string, step workflow.Step) (*session.Session, error) {
	sess, err := o.store.UpdateAtomic(ctx, sessionID, func(s *session.Session) error {
		if s.Status == session.StatusActive {
			s.Status = session.StatusBuilding
		}
		return s.WorkflowState.SetCurrentStep(step)
	})
	if err != nil {
		return nil, err
	}

	o.emit(ctx, ProgressEvent{
		SessionID: sessionID,
		Step:      step,
		Status:    ProgressInProgress,
		Message:   fmt.Sprintf("Starting step %s", step),
		Progress:  progressOf(sess),
	})
	return sess, nil
}

// acceptWinner persists the accepted output, advances the workflow, and
// publishes the artifact reference.
func (o *Orchestrator) acceptWinner(ctx context.Context, sessionID string, spec PhaseSpec, payload interface{}, artifactID string) error {
	sess, err := o.store.UpdateAtomic(ctx, sessionID, func(s *session.Session) error {
		if payload != nil && spec.Step.HasResult() {
			if err := s.WorkflowState.SetStepResult(spec.Step, payload); err != nil {
				return err
			}
		}
		return s.WorkflowState.MarkStepCompleted(spec.Step)
	})
	if err != nil {
		return err
	}

	o.countPhase(ctx, spec.Step, "completed")
	o.emit(ctx, ProgressEvent{
		SessionID: sessionID,
		Step:      spec.Step,
		Status:    ProgressCompleted,
		Message:   fmt.Sprintf("Completed step %s", spec.Step),
		Progress:  progressOf(sess),
	})

	if o.publisher != nil && spec.ArtifactScheme != "" {
		ref := artifacts.Ref{
			Scheme:    spec.ArtifactScheme,
			SessionID: sessionID,
			Type:      "result",
			ID:        artifactID,
		}
		if err := o.publisher.Publish(ctx, ref, payload); err != nil {
			o.logger.Warn("artifact publish failed",
				zap.String("uri", ref.URI()), zap.Error(err))
		}
	}
	return nil
}

// failStep records a step failure into the session and returns the error.
func (o *Orchestrator) failStep(ctx context.Context, sessionID string, step workflow.Step, cause error) error {
	message := cause.Error()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		message = fmt.Sprintf("step canceled: %v", cause)
	}

	sess, uerr := o.store.UpdateAtomic(ctx, sessionID, func(s *session.Session) error {
		return s.AddStepError(step, message)
	})
	if uerr != nil {
		o.logger.Error("failed to record step failure",
			zap.String("session_id", sessionID),
			zap.String("step", string(step)),
			zap.Error(uerr))
		return errors.Join(cause, uerr)
	}

	o.countPhase(ctx, step, "failed")
	o.emit(ctx, ProgressEvent{
		SessionID: sessionID,
		Step:      step,
		Status:    ProgressFailed,
		Message:   message,
		Progress:  progressOf(sess),
	})
	return cause
}

// failGate records a gate rejection and returns a GateFailureError.
func (o *Orchestrator) failGate(ctx context.Context, sessionID string, spec PhaseSpec, reason string) error {
	if o.gateCounter != nil {
		o.gateCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("step", string(spec.Step)),
			attribute.String("gate", spec.Gate.Name()),
		))
	}
	gateErr := &GateFailureError{Step: spec.Step, Gate: spec.Gate.Name(), Reason: reason}
	return o.failStep(ctx, sessionID, spec.Step, gateErr)
}

// recordScanWarning stores a lenient-mode scan rejection without failing the
// session, and still counts the step as completed.
func (o *Orchestrator) recordScanWarning(ctx context.Context, sessionID string, reason string) error {
	_, err := o.store.UpdateAtomic(ctx, sessionID, func(s *session.Session) error {
		s.MergeMetadata(map[string]interface{}{"scan_warning": reason})
		if s.Status == session.StatusFailed {
			s.Status = session.StatusBuilding
		}
		delete(s.WorkflowState.Errors, workflow.StepScanImage)
		return s.WorkflowState.MarkStepCompleted(workflow.StepScanImage)
	})
	return err
}

// completeSession transitions the session to its terminal status. Failures
// to persist the terminal status are logged; the phase error, if any, is the
// one surfaced to the caller.
func (o *Orchestrator) completeSession(ctx context.Context, sessionID string, success bool) error {
	_, err := o.store.UpdateAtomic(ctx, sessionID, func(s *session.Session) error {
		s.Complete(success, o.store.CompletionRetention())
		return nil
	})
	if err != nil {
		o.logger.Error("failed to finalize session",
			zap.String("session_id", sessionID),
			zap.Bool("success", success),
			zap.Error(err))
	}
	return err
}

func (o *Orchestrator) countPhase(ctx context.Context, step workflow.Step, outcome string) {
	if o.phaseCounter == nil {
		return
	}
	o.phaseCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", string(step)),
		attribute.String("outcome", outcome),
	))
}

// emit sends a progress event; sink failures are logged, never propagated.
func (o *Orchestrator) emit(ctx context.Context, event ProgressEvent) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Emit(ctx, event); err != nil {
		o.logger.Warn("progress emission failed",
			zap.String("session_id", event.SessionID),
			zap.String("step", string(event.Step)),
			zap.Error(err))
	}
}

func progressOf(sess *session.Session) float64 {
	if sess == nil {
		return 0
	}
	return float64(sess.WorkflowState.Progress().Percentage) / 100
}
