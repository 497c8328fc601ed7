package workflow

import (
	"fmt"
	"math"
)

// State is the workflow bookkeeping embedded in a session record.
// CompletedSteps is a set: insertion order is irrelevant and duplicates are
// never stored. Progress is always derived, never persisted.
type State struct {
	CurrentStep    *Step           `json:"current_step,omitempty"`
	CompletedSteps []Step          `json:"completed_steps"`
	Errors         map[Step]string `json:"errors,omitempty"`

	AnalysisResult   *AnalyzeResult    `json:"analysis_result,omitempty"`
	DockerfileResult *DockerfileResult `json:"dockerfile_result,omitempty"`
	BuildResult      *BuildResult      `json:"build_result,omitempty"`
	ScanResult       *ScanResult       `json:"scan_result,omitempty"`
	K8sResult        *K8sResult        `json:"k8s_result,omitempty"`
	DeployResult     *DeployResult     `json:"deploy_result,omitempty"`
}

// NewState returns an empty workflow state.
func NewState() State {
	return State{
		CompletedSteps: []Step{},
		Errors:         make(map[Step]string),
	}
}

// SetCurrentStep marks a step as in progress.
func (s *State) SetCurrentStep(step Step) error {
	if !step.Valid() {
		return fmt.Errorf("unknown workflow step: %q", step)
	}
	st := step
	s.CurrentStep = &st
	return nil
}

// MarkStepCompleted adds the step to the completed set and clears
// CurrentStep if it equals the step.
func (s *State) MarkStepCompleted(step Step) error {
	if !step.Valid() {
		return fmt.Errorf("unknown workflow step: %q", step)
	}
	if !s.IsStepCompleted(step) {
		s.CompletedSteps = append(s.CompletedSteps, step)
	}
	if s.CurrentStep != nil && *s.CurrentStep == step {
		s.CurrentStep = nil
	}
	return nil
}

// AddStepError records the last error message for a step. The caller is
// responsible for transitioning the owning session to the failed status.
func (s *State) AddStepError(step Step, message string) error {
	if !step.Valid() {
		return fmt.Errorf("unknown workflow step: %q", step)
	}
	if s.Errors == nil {
		s.Errors = make(map[Step]string)
	}
	s.Errors[step] = message
	return nil
}

// IsStepCompleted reports whether the step is in the completed set.
func (s *State) IsStepCompleted(step Step) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

// HasErrors reports whether any step has recorded an error.
func (s *State) HasErrors() bool {
	return len(s.Errors) > 0
}

// Progress derives the completion counters from the completed-step set.
func (s *State) Progress() Progress {
	done := len(s.CompletedSteps)
	return Progress{
		CurrentStep: done,
		TotalSteps:  TotalSteps,
		Percentage:  int(math.Round(100 * float64(done) / float64(TotalSteps))),
	}
}

// SetStepResult writes the accepted winner payload into the step's result
// slot. Steps without a result slot (tag, push, prepare, verify) reject the
// write.
func (s *State) SetStepResult(step Step, result interface{}) error {
	switch step {
	case StepAnalyze:
		v, ok := result.(*AnalyzeResult)
		if !ok {
			return fmt.Errorf("step %s expects *AnalyzeResult, got %T", step, result)
		}
		s.AnalysisResult = v
	case StepGenerateDockerfile:
		v, ok := result.(*DockerfileResult)
		if !ok {
			return fmt.Errorf("step %s expects *DockerfileResult, got %T", step, result)
		}
		s.DockerfileResult = v
	case StepBuildImage:
		v, ok := result.(*BuildResult)
		if !ok {
			return fmt.Errorf("step %s expects *BuildResult, got %T", step, result)
		}
		s.BuildResult = v
	case StepScanImage:
		v, ok := result.(*ScanResult)
		if !ok {
			return fmt.Errorf("step %s expects *ScanResult, got %T", step, result)
		}
		s.ScanResult = v
	case StepGenerateK8sManifests:
		v, ok := result.(*K8sResult)
		if !ok {
			return fmt.Errorf("step %s expects *K8sResult, got %T", step, result)
		}
		s.K8sResult = v
	case StepDeployApplication:
		v, ok := result.(*DeployResult)
		if !ok {
			return fmt.Errorf("step %s expects *DeployResult, got %T", step, result)
		}
		s.DeployResult = v
	default:
		return fmt.Errorf("step %s has no result slot", step)
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *State) Clone() State {
	out := State{}
	if s.CurrentStep != nil {
		step := *s.CurrentStep
		out.CurrentStep = &step
	}
	out.CompletedSteps = make([]Step, len(s.CompletedSteps))
	copy(out.CompletedSteps, s.CompletedSteps)
	out.Errors = make(map[Step]string, len(s.Errors))
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	if s.AnalysisResult != nil {
		v := *s.AnalysisResult
		v.Dependencies = append([]string(nil), s.AnalysisResult.Dependencies...)
		v.Metadata = cloneMap(s.AnalysisResult.Metadata)
		out.AnalysisResult = &v
	}
	if s.DockerfileResult != nil {
		v := *s.DockerfileResult
		v.Metadata = cloneMap(s.DockerfileResult.Metadata)
		out.DockerfileResult = &v
	}
	if s.BuildResult != nil {
		v := *s.BuildResult
		v.Metadata = cloneMap(s.BuildResult.Metadata)
		out.BuildResult = &v
	}
	if s.ScanResult != nil {
		v := *s.ScanResult
		v.Summary = cloneIntMap(s.ScanResult.Summary)
		v.Report = cloneMap(s.ScanResult.Report)
		out.ScanResult = &v
	}
	if s.K8sResult != nil {
		v := *s.K8sResult
		v.Manifests = append([]string(nil), s.K8sResult.Manifests...)
		v.Metadata = cloneMap(s.K8sResult.Metadata)
		out.K8sResult = &v
	}
	if s.DeployResult != nil {
		v := *s.DeployResult
		v.Metadata = cloneMap(s.DeployResult.Metadata)
		out.DeployResult = &v
	}
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
