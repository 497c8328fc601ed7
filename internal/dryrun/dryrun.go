// Package dryrun provides simulated pipeline collaborators so stevedored can
// exercise the full containerization workflow without Docker, a scanner, or
// a Kubernetes cluster. Outputs are deterministic for a given session so
// repeated runs score and rank identically.
package dryrun

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/orchestrator"
	"github.com/fyrsmithlabs/stevedore/internal/scoring"
	"github.com/fyrsmithlabs/stevedore/internal/session"
	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// Simulator implements both the candidate generator and the step executor
// over fabricated results.
type Simulator struct {
	logger *zap.Logger

	// StepDelay adds artificial latency per simulated step.
	StepDelay time.Duration
}

// NewSimulator creates a simulator.
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{logger: logger.Named("dryrun")}
}

// languageFor picks the simulated stack for a session. The "language" label
// overrides detection; otherwise the repository basename drives a guess.
func languageFor(sess *session.Session) string {
	if lang, ok := sess.Labels["language"]; ok && lang != "" {
		return lang
	}
	base := strings.ToLower(path.Base(sess.RepoPath))
	switch {
	case strings.Contains(base, "go"):
		return "go"
	case strings.Contains(base, "node"), strings.Contains(base, "js"):
		return "node"
	case strings.Contains(base, "java"):
		return "java"
	default:
		return "python"
	}
}

// Generate fabricates competing candidates for the phase.
func (s *Simulator) Generate(ctx context.Context, spec orchestrator.PhaseSpec, sess *session.Session) ([]*scoring.Candidate, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}

	lang := languageFor(sess)
	base := time.Now()

	switch spec.Step {
	case workflow.StepAnalyze:
		return []*scoring.Candidate{
			{ID: "analyze-full", Data: analyzeResult(lang, true), GeneratedAt: base},
			{ID: "analyze-minimal", Data: analyzeResult(lang, false), GeneratedAt: base.Add(time.Millisecond)},
		}, nil

	case workflow.StepGenerateDockerfile:
		analysis := sess.WorkflowState.AnalysisResult
		if analysis == nil {
			return nil, fmt.Errorf("dockerfile generation requires an analysis result")
		}
		return []*scoring.Candidate{
			{ID: "dockerfile-slim", Data: dockerfileResult(analysis, "slim"), GeneratedAt: base},
			{ID: "dockerfile-alpine", Data: dockerfileResult(analysis, "alpine"), GeneratedAt: base.Add(time.Millisecond)},
		}, nil

	case workflow.StepGenerateK8sManifests:
		analysis := sess.WorkflowState.AnalysisResult
		if analysis == nil {
			return nil, fmt.Errorf("manifest generation requires an analysis result")
		}
		return []*scoring.Candidate{
			{ID: "manifests-deployment", Data: k8sResult(sess, analysis, false), GeneratedAt: base},
			{ID: "manifests-probed", Data: k8sResult(sess, analysis, true), GeneratedAt: base.Add(time.Millisecond)},
		}, nil
	}

	return nil, fmt.Errorf("step %s has no candidate generator", spec.Step)
}

// Execute fabricates the result of a single-output step.
func (s *Simulator) Execute(ctx context.Context, sess *session.Session, step workflow.Step) (interface{}, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}

	s.logger.Debug("simulating step",
		zap.String("session_id", sess.ID),
		zap.String("step", string(step)),
	)

	switch step {
	case workflow.StepBuildImage:
		return &workflow.BuildResult{
			ImageID:   "sha256:" + strings.ReplaceAll(uuid.New().String(), "-", ""),
			ImageRef:  imageRef(sess),
			ImageSize: 187 * 1024 * 1024,
			BuildTime: "42s",
		}, nil

	case workflow.StepScanImage:
		return &workflow.ScanResult{
			Summary:  map[string]int{"critical": 0, "high": 0, "medium": 3, "low": 11},
			Scanner:  "trivy",
			ImageRef: imageRef(sess),
		}, nil

	case workflow.StepTagImage, workflow.StepPushImage, workflow.StepPrepareCluster, workflow.StepVerifyDeployment:
		return nil, nil

	case workflow.StepDeployApplication:
		name := serviceName(sess)
		return &workflow.DeployResult{
			Endpoint:  fmt.Sprintf("http://%s.default.svc.cluster.local", name),
			Namespace: "default",
			Ready:     true,
		}, nil
	}

	return nil, fmt.Errorf("step %s has no executor", step)
}

// Evaluator returns a deterministic evaluator producing the static, size,
// and speed metrics the default scoring weights expect.
func (s *Simulator) Evaluator() scoring.Evaluator {
	return func(_ context.Context, c *scoring.Candidate) (map[string]float64, error) {
		metrics := map[string]float64{"static": 80, "size": 80, "speed": 80}
		switch data := c.Data.(type) {
		case *workflow.AnalyzeResult:
			// Completeness dominates: a minimal analysis misses the build
			// and start commands.
			if data.BuildCommand != "" && data.StartCommand != "" {
				metrics["static"] = 95
			} else {
				metrics["static"] = 60
			}
		case *workflow.DockerfileResult:
			if strings.Contains(data.BaseImage, "alpine") {
				metrics["size"] = 95
				metrics["speed"] = 85
			} else {
				metrics["size"] = 75
				metrics["speed"] = 90
			}
		case *workflow.K8sResult:
			// Probed manifests carry more resources but deploy safer.
			if len(data.Manifests) > 2 {
				metrics["static"] = 92
			}
		}
		return metrics, nil
	}
}

func (s *Simulator) pause(ctx context.Context) error {
	if s.StepDelay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.StepDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func analyzeResult(lang string, full bool) *workflow.AnalyzeResult {
	out := &workflow.AnalyzeResult{
		Language: lang,
		Port:     8080,
	}
	switch lang {
	case "go":
		out.Framework = "net/http"
		out.Entrypoint = "cmd/server/main.go"
		out.BuildCommand = "go build ./..."
		out.StartCommand = "./server"
	case "node":
		out.Framework = "express"
		out.Entrypoint = "index.js"
		out.BuildCommand = "npm ci"
		out.StartCommand = "node index.js"
		out.Port = 3000
	case "java":
		out.Framework = "spring-boot"
		out.Entrypoint = "src/main/java/Application.java"
		out.BuildCommand = "mvn package"
		out.StartCommand = "java -jar app.jar"
	default:
		out.Framework = "flask"
		out.Entrypoint = "app.py"
		out.BuildCommand = "pip install -r requirements.txt"
		out.StartCommand = "gunicorn app:app"
		out.Port = 5000
	}
	if !full {
		out.BuildCommand = ""
		out.StartCommand = ""
	}
	return out
}

func dockerfileResult(analysis *workflow.AnalyzeResult, flavor string) *workflow.DockerfileResult {
	base := baseImage(analysis.Language, flavor)
	content := fmt.Sprintf("FROM %s\nWORKDIR /app\nCOPY . .\nRUN %s\nEXPOSE %d\nCMD [%q]\n",
		base, analysis.BuildCommand, analysis.Port, analysis.StartCommand)
	return &workflow.DockerfileResult{
		Content:     content,
		Path:        "Dockerfile",
		BaseImage:   base,
		ExposedPort: analysis.Port,
	}
}

func baseImage(lang, flavor string) string {
	switch lang {
	case "go":
		return "golang:1.23-" + flavor
	case "node":
		return "node:22-" + flavor
	case "java":
		return "eclipse-temurin:21-jre-" + flavor
	default:
		return "python:3.12-" + flavor
	}
}

func k8sResult(sess *session.Session, analysis *workflow.AnalyzeResult, probed bool) *workflow.K8sResult {
	name := serviceName(sess)
	manifests := []string{
		deploymentManifest(name, imageRef(sess), analysis.Port, probed),
		serviceManifest(name, analysis.Port),
	}
	if probed {
		manifests = append(manifests, fmt.Sprintf("apiVersion: policy/v1\nkind: PodDisruptionBudget\nmetadata:\n  name: %s\n", name))
	}
	return &workflow.K8sResult{
		Manifests:   manifests,
		Namespace:   "default",
		ServiceName: name,
	}
}

func deploymentManifest(name, image string, port int, probed bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "apiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: %s\nspec:\n  template:\n    spec:\n      containers:\n      - name: %s\n        image: %s\n        ports:\n        - containerPort: %d\n", name, name, image, port)
	if probed {
		fmt.Fprintf(&b, "        readinessProbe:\n          httpGet:\n            path: /health\n            port: %d\n", port)
	}
	return b.String()
}

func serviceManifest(name string, port int) string {
	return fmt.Sprintf("apiVersion: v1\nkind: Service\nmetadata:\n  name: %s\nspec:\n  ports:\n  - port: %d\n", name, port)
}

func serviceName(sess *session.Session) string {
	name := strings.ToLower(path.Base(sess.RepoPath))
	name = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '-'
	}, name)
	name = strings.Trim(name, "-")
	if name == "" {
		name = "app"
	}
	return name
}

func imageRef(sess *session.Session) string {
	return fmt.Sprintf("registry.local/%s:latest", serviceName(sess))
}
