// Package gates provides the admission checks applied to a phase's selected
// winner before it is persisted. Gates are pure predicates: they never
// mutate state, and the orchestrator is responsible for acting on the
// result.
package gates

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// Result is the outcome of a gate check. Reason is always set when the
// check fails.
type Result struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// Gate validates a phase output.
type Gate interface {
	// Name returns the gate identifier.
	Name() string

	// Check evaluates the phase output.
	Check(output interface{}) Result
}

// RequiredFieldsGate fails when any configured field is absent or empty in
// the phase output. Used for the analysis phase.
type RequiredFieldsGate struct {
	name   string
	fields []string
}

// NewRequiredFieldsGate creates a gate requiring the given fields.
func NewRequiredFieldsGate(name string, fields []string) *RequiredFieldsGate {
	return &RequiredFieldsGate{name: name, fields: fields}
}

// Name returns the gate identifier.
func (g *RequiredFieldsGate) Name() string {
	return g.name
}

// Check validates that every required field is present and non-empty.
func (g *RequiredFieldsGate) Check(output interface{}) Result {
	values, ok := fieldValues(output)
	if !ok {
		return Result{Passed: false, Reason: fmt.Sprintf("unsupported output type %T", output)}
	}

	var missing []string
	for _, field := range g.fields {
		v, present := values[field]
		if !present || isEmptyValue(v) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Result{
			Passed: false,
			Reason: fmt.Sprintf("Missing required fields: %s", strings.Join(missing, ", ")),
		}
	}
	return Result{Passed: true}
}

// fieldValues extracts a field map from the supported output shapes.
func fieldValues(output interface{}) (map[string]interface{}, bool) {
	switch v := output.(type) {
	case map[string]interface{}:
		return v, true
	case *workflow.AnalyzeResult:
		if v == nil {
			return nil, false
		}
		return map[string]interface{}{
			"language":      v.Language,
			"framework":     v.Framework,
			"entrypoint":    v.Entrypoint,
			"port":          v.Port,
			"build_command": v.BuildCommand,
			"start_command": v.StartCommand,
		}, true
	default:
		return nil, false
	}
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case int:
		return t == 0
	case float64:
		return t == 0
	}
	return false
}

// VulnerabilityGate fails when any severity count exceeds its configured
// threshold. Used for the scan phase.
type VulnerabilityGate struct {
	name       string
	thresholds map[string]int
}

// NewVulnerabilityGate creates a gate with per-severity thresholds, e.g.
// {"critical": 0, "high": 2}.
func NewVulnerabilityGate(name string, thresholds map[string]int) *VulnerabilityGate {
	return &VulnerabilityGate{name: name, thresholds: thresholds}
}

// Name returns the gate identifier.
func (g *VulnerabilityGate) Name() string {
	return g.name
}

// Check compares the output's severity counts against the thresholds.
func (g *VulnerabilityGate) Check(output interface{}) Result {
	summary, ok := severitySummary(output)
	if !ok {
		return Result{Passed: false, Reason: fmt.Sprintf("unsupported output type %T", output)}
	}

	for severity, limit := range g.thresholds {
		if summary[severity] > limit {
			return Result{Passed: false, Reason: "Vulnerabilities exceed thresholds"}
		}
	}
	return Result{Passed: true}
}

func severitySummary(output interface{}) (map[string]int, bool) {
	switch v := output.(type) {
	case map[string]int:
		return v, true
	case *workflow.ScanResult:
		if v == nil {
			return nil, false
		}
		return v.Summary, true
	default:
		return nil, false
	}
}
