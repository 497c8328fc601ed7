package workflow

import "fmt"

// Step identifies one stage of the containerization pipeline.
type Step string

const (
	// StepAnalyze analyzes the repository and detects its technology stack.
	StepAnalyze Step = "ANALYZE"

	// StepGenerateDockerfile generates candidate Dockerfiles.
	StepGenerateDockerfile Step = "GENERATE_DOCKERFILE"

	// StepBuildImage builds the container image.
	StepBuildImage Step = "BUILD_IMAGE"

	// StepScanImage scans the built image for vulnerabilities.
	StepScanImage Step = "SCAN_IMAGE"

	// StepTagImage tags the image for the target registry.
	StepTagImage Step = "TAG_IMAGE"

	// StepPushImage pushes the image to the registry.
	StepPushImage Step = "PUSH_IMAGE"

	// StepGenerateK8sManifests generates Kubernetes manifests.
	StepGenerateK8sManifests Step = "GENERATE_K8S_MANIFESTS"

	// StepPrepareCluster validates cluster access and namespace setup.
	StepPrepareCluster Step = "PREPARE_CLUSTER"

	// StepDeployApplication applies the manifests to the cluster.
	StepDeployApplication Step = "DEPLOY_APPLICATION"

	// StepVerifyDeployment verifies the deployed application is healthy.
	StepVerifyDeployment Step = "VERIFY_DEPLOYMENT"
)

// AllSteps returns every pipeline step in execution order.
func AllSteps() []Step {
	return []Step{
		StepAnalyze,
		StepGenerateDockerfile,
		StepBuildImage,
		StepScanImage,
		StepTagImage,
		StepPushImage,
		StepGenerateK8sManifests,
		StepPrepareCluster,
		StepDeployApplication,
		StepVerifyDeployment,
	}
}

// TotalSteps is the number of steps in the pipeline.
const TotalSteps = 10

// ParseStep validates a step identifier.
func ParseStep(s string) (Step, error) {
	step := Step(s)
	if !step.Valid() {
		return "", fmt.Errorf("unknown workflow step: %q", s)
	}
	return step, nil
}

// Valid reports whether the step is a known enum value.
func (s Step) Valid() bool {
	for _, known := range AllSteps() {
		if s == known {
			return true
		}
	}
	return false
}

// Index returns the step's zero-based position in execution order, or -1 if
// the step is unknown.
func (s Step) Index() int {
	for i, known := range AllSteps() {
		if s == known {
			return i
		}
	}
	return -1
}

// HasResult reports whether the step owns a result slot in State.
func (s Step) HasResult() bool {
	switch s {
	case StepAnalyze, StepGenerateDockerfile, StepBuildImage,
		StepScanImage, StepGenerateK8sManifests, StepDeployApplication:
		return true
	}
	return false
}

// Progress is derived from the completed-step set; it is never stored.
type Progress struct {
	CurrentStep int `json:"current_step"`
	TotalSteps  int `json:"total_steps"`
	Percentage  int `json:"percentage"`
}
