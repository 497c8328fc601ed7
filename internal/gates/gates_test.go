package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

func TestRequiredFieldsGate_Name(t *testing.T) {
	gate := NewRequiredFieldsGate("analysis-gate", []string{"language"})
	assert.Equal(t, "analysis-gate", gate.Name())
}

func TestRequiredFieldsGate_AllPresent(t *testing.T) {
	gate := NewRequiredFieldsGate("analysis-gate", []string{"language", "framework", "entrypoint"})

	result := gate.Check(map[string]interface{}{
		"language":   "python",
		"framework":  "flask",
		"entrypoint": "app.py",
	})

	assert.True(t, result.Passed)
	assert.Empty(t, result.Reason)
}

func TestRequiredFieldsGate_MissingFields(t *testing.T) {
	gate := NewRequiredFieldsGate("analysis-gate", []string{"language", "framework", "entrypoint"})

	result := gate.Check(map[string]interface{}{
		"language":  "python",
		"framework": "",
	})

	assert.False(t, result.Passed)
	assert.Equal(t, "Missing required fields: entrypoint, framework", result.Reason)
}

func TestRequiredFieldsGate_AnalyzeResult(t *testing.T) {
	gate := NewRequiredFieldsGate("analysis-gate", []string{"language", "framework", "entrypoint"})

	result := gate.Check(&workflow.AnalyzeResult{
		Language:   "go",
		Framework:  "echo",
		Entrypoint: "cmd/server/main.go",
	})
	assert.True(t, result.Passed)

	result = gate.Check(&workflow.AnalyzeResult{Language: "go"})
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "Missing required fields")
}

func TestRequiredFieldsGate_UnsupportedType(t *testing.T) {
	gate := NewRequiredFieldsGate("analysis-gate", []string{"language"})

	result := gate.Check(42)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Reason, "unsupported output type")
}

func TestVulnerabilityGate_ExceedsThresholds(t *testing.T) {
	gate := NewVulnerabilityGate("scan-gate", map[string]int{"critical": 0, "high": 2})

	result := gate.Check(map[string]int{"critical": 5, "high": 10})
	assert.False(t, result.Passed)
	assert.Equal(t, "Vulnerabilities exceed thresholds", result.Reason)
}

func TestVulnerabilityGate_WithinThresholds(t *testing.T) {
	gate := NewVulnerabilityGate("scan-gate", map[string]int{"critical": 0, "high": 2})

	result := gate.Check(map[string]int{"critical": 0, "high": 1})
	assert.True(t, result.Passed)
}

func TestVulnerabilityGate_ScanResult(t *testing.T) {
	gate := NewVulnerabilityGate("scan-gate", map[string]int{"critical": 0})

	result := gate.Check(&workflow.ScanResult{Summary: map[string]int{"critical": 1}})
	assert.False(t, result.Passed)

	result = gate.Check(&workflow.ScanResult{Summary: map[string]int{"critical": 0, "low": 40}})
	assert.True(t, result.Passed)
}

func TestVulnerabilityGate_MissingSeverityCountsAsZero(t *testing.T) {
	gate := NewVulnerabilityGate("scan-gate", map[string]int{"critical": 0, "high": 2})

	result := gate.Check(map[string]int{})
	assert.True(t, result.Passed)
}
