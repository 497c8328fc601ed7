// Package progress delivers step transition events to external consumers.
// Sinks are best-effort: the orchestrator logs emission failures and keeps
// going, so implementations should fail fast rather than block the pipeline.
package progress

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/stevedore/internal/orchestrator"
)

// DefaultSubjectPrefix is the NATS subject root for pipeline events.
const DefaultSubjectPrefix = "sessions"

// NATSSink publishes progress events as JSON to per-session subjects of the
// form <prefix>.<session_id>.progress.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink creates a sink over an established connection.
func NewNATSSink(conn *nats.Conn, prefix string) (*NATSSink, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

// Emit publishes the event.
func (s *NATSSink) Emit(_ context.Context, event orchestrator.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := s.conn.Publish(s.subjectFor(event.SessionID), data); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

func (s *NATSSink) subjectFor(sessionID string) string {
	return fmt.Sprintf("%s.%s.progress", s.prefix, sessionID)
}

// LogSink writes progress events to the structured log. Useful on its own in
// development and as a fallback companion to the NATS sink.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, event orchestrator.ProgressEvent) error {
	s.logger.Info("step transition",
		zap.String("session_id", event.SessionID),
		zap.String("step", string(event.Step)),
		zap.String("status", string(event.Status)),
		zap.String("message", event.Message),
		zap.Float64("progress", event.Progress),
	)
	return nil
}

// MultiSink fans one event out to several sinks. The first failure is
// returned after every sink has been attempted.
type MultiSink struct {
	sinks []orchestrator.ProgressSink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...orchestrator.ProgressSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit delivers the event to every sink.
func (s *MultiSink) Emit(ctx context.Context, event orchestrator.ProgressEvent) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
