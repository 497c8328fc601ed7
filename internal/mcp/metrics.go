// Package mcp provides the MCP server with metrics instrumentation.
package mcp

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/stevedore/internal/mcp"

// Metrics records per-tool invocation counts, latency, and in-flight
// requests. Failures carry a result attribute instead of a separate
// error series, so success and failure rates come from one counter.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	active      metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"stevedore.mcp.tool.invocations_total",
		metric.WithDescription("Tool invocations by tool and result (ok or failure reason)"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"stevedore.mcp.tool.duration_seconds",
		metric.WithDescription("Tool invocation latency; pipeline_run dominates the upper buckets"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.active, err = m.meter.Int64UpDownCounter(
		"stevedore.mcp.tool.active_requests",
		metric.WithDescription("Tool invocations currently in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests gauge", zap.Error(err))
	}
}

// RecordInvocation records one finished tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, toolName string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = categorizeError(err)
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("result", result),
	)

	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
}

// IncrementActive marks a tool call as started.
func (m *Metrics) IncrementActive(ctx context.Context, toolName string) {
	if m.active != nil {
		m.active.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tool", toolName),
		))
	}
}

// DecrementActive marks a tool call as finished.
func (m *Metrics) DecrementActive(ctx context.Context, toolName string) {
	if m.active != nil {
		m.active.Add(ctx, -1, metric.WithAttributes(
			attribute.String("tool", toolName),
		))
	}
}

// categorizeError maps a tool error onto a bounded set of result labels.
func categorizeError(err error) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "capacity"):
		return "capacity_exceeded"
	case strings.Contains(errStr, "gate"):
		return "gate_failure"
	case strings.Contains(errStr, "exhausted") || strings.Contains(errStr, "after retries"):
		return "retry_exhausted"
	case strings.Contains(errStr, "validation") || strings.Contains(errStr, "invalid"):
		return "validation_error"
	case strings.Contains(errStr, "canceled") || strings.Contains(errStr, "deadline"):
		return "canceled"
	default:
		return "internal_error"
	}
}
