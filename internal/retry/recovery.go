package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// OperationKind classifies a pipeline step for suggestion lookup.
type OperationKind string

const (
	OpAnalyze  OperationKind = "analyze"
	OpGenerate OperationKind = "generate"
	OpBuild    OperationKind = "build"
	OpScan     OperationKind = "scan"
	OpPush     OperationKind = "push"
	OpDeploy   OperationKind = "deploy"
)

// suggestionRule matches an error-message substring to remediation advice.
type suggestionRule struct {
	substrings  []string
	suggestions []string
}

// kindRules hold operation-specific remediation playbooks, checked in order.
var kindRules = map[OperationKind][]suggestionRule{
	OpBuild: {
		{
			substrings: []string{"no space left", "disk"},
			suggestions: []string{
				"Free disk space and prune unused images: docker system prune -a",
				"Clear the build cache: docker builder prune",
			},
		},
		{
			substrings: []string{"network", "timeout", "temporary failure", "tls handshake"},
			suggestions: []string{
				"Check network connectivity to the base image registry",
				"Retry the build; transient registry outages are common",
			},
		},
		{
			substrings: []string{"copy failed", "not found", "no such file"},
			suggestions: []string{
				"Verify COPY/ADD paths exist relative to the build context",
				"Check .dockerignore is not excluding required files",
			},
		},
	},
	OpPush: {
		{
			substrings: []string{"unauthorized", "authentication", "denied", "credentials"},
			suggestions: []string{
				"Re-authenticate to the registry: docker login <registry>",
				"Verify the push credentials have write access to the repository",
			},
		},
		{
			substrings: []string{"not found", "name unknown"},
			suggestions: []string{
				"Confirm the target repository exists in the registry",
				"Check the image reference spelling and registry host",
			},
		},
	},
	OpScan: {
		{
			substrings: []string{"executable file not found", "command not found", "not installed"},
			suggestions: []string{
				"Install the scanner: https://aquasecurity.github.io/trivy/",
				"Ensure the scanner binary is on PATH for the daemon user",
			},
		},
		{
			substrings: []string{"database", "db download"},
			suggestions: []string{
				"The vulnerability database download failed; check outbound connectivity",
				"Retry after the scanner database mirror recovers",
			},
		},
	},
	OpDeploy: {
		{
			substrings: []string{"connection refused", "unable to connect", "cluster"},
			suggestions: []string{
				"Verify kubeconfig points at a reachable cluster: kubectl cluster-info",
				"Check the target context and namespace exist",
			},
		},
		{
			substrings: []string{"forbidden", "rbac"},
			suggestions: []string{
				"The service account lacks permissions; review RBAC role bindings",
			},
		},
	},
}

// languageRules add language-specific advice on top of the kind rules.
var languageRules = map[string][]suggestionRule{
	"python": {
		{
			substrings: []string{"requirements", "pip", "module named"},
			suggestions: []string{
				"Pin dependencies in requirements.txt and rebuild",
				"Confirm the base image's Python version matches the project",
			},
		},
	},
	"node": {
		{
			substrings: []string{"npm", "node_modules", "package.json"},
			suggestions: []string{
				"Run a clean install: rm -rf node_modules && npm ci",
				"Check package-lock.json is committed and in the build context",
			},
		},
	},
	"go": {
		{
			substrings: []string{"go.mod", "go.sum", "module"},
			suggestions: []string{
				"Verify go.mod and go.sum are in the build context",
				"Vendor or proxy modules if the builder has no network access",
			},
		},
	},
	"java": {
		{
			substrings: []string{"maven", "gradle", "pom.xml"},
			suggestions: []string{
				"Check the build tool wrapper is committed (mvnw/gradlew)",
				"Confirm the JDK version in the base image matches the project",
			},
		},
	},
}

// genericSuggestions apply when no specific rule matches.
var genericSuggestions = []string{
	"Inspect the full error output above for the root cause",
	"Retry the operation; transient infrastructure failures are common",
	"Check the session's workflow errors for earlier failures in the pipeline",
}

// Suggestions returns remediation advice for a failure, keyed on error
// substrings, the operation kind, and optionally the project language.
// It always returns at least the generic fallback set.
func Suggestions(errMsg string, kind OperationKind, language string) []string {
	lower := strings.ToLower(errMsg)
	var out []string

	for _, rule := range kindRules[kind] {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				out = append(out, rule.suggestions...)
				break
			}
		}
	}
	if language != "" {
		for _, rule := range languageRules[strings.ToLower(language)] {
			for _, sub := range rule.substrings {
				if strings.Contains(lower, sub) {
					out = append(out, rule.suggestions...)
					break
				}
			}
		}
	}

	if len(out) == 0 {
		return append([]string(nil), genericSuggestions...)
	}
	return out
}

// RecoverableError decorates a persistent failure with remediation
// suggestions.
type RecoverableError struct {
	Err         error
	Kind        OperationKind
	Suggestions []string
}

func (e *RecoverableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	b.WriteString("\nSuggestions:")
	for _, s := range e.Suggestions {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// ExecuteWithRecovery wraps ExecuteWithRetry and, on persistent failure,
// appends operation-kind- and language-specific remediation suggestions to
// the error.
func ExecuteWithRecovery[T any](ctx context.Context, op func() (T, error), label string, kind OperationKind, language string, opts Options, logger *zap.Logger) (T, error) {
	result, err := ExecuteWithRetry(ctx, op, label, opts, logger)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ErrExhausted) {
		var zero T
		return zero, err
	}

	suggestions := Suggestions(err.Error(), kind, language)
	if logger != nil {
		logger.Warn("operation failed after retries",
			zap.String("operation", label),
			zap.String("classification", classifyMessage(err.Error(), kind)),
			zap.Int("suggestions", len(suggestions)),
		)
	}

	var zero T
	return zero, &RecoverableError{
		Err:         err,
		Kind:        kind,
		Suggestions: suggestions,
	}
}

// classifyMessage is a debugging helper used in logs to tag which rule
// family produced suggestions.
func classifyMessage(errMsg string, kind OperationKind) string {
	lower := strings.ToLower(errMsg)
	for i, rule := range kindRules[kind] {
		for _, sub := range rule.substrings {
			if strings.Contains(lower, sub) {
				return fmt.Sprintf("%s/rule-%d", kind, i)
			}
		}
	}
	return string(kind) + "/generic"
}
