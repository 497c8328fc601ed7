package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/stevedore/internal/workflow"
)

// IDPrefix is prepended to every generated session id.
const IDPrefix = "ses_"

var (
	// ErrNotFound is returned when a session id is unknown or expired.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists is returned by Create for a duplicate id.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrCapacityExceeded is returned when the active-session cap is reached.
	ErrCapacityExceeded = errors.New("active session capacity exceeded")
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusBuilding  Status = "building"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether the status is a known enum value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusBuilding, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Session is the unit of orchestration state.
type Session struct {
	ID       string `json:"id"`
	RepoPath string `json:"repo_path"`
	Status   Status `json:"status"`

	// Version strictly increases; incremented on every successful mutation.
	Version int64 `json:"version"`

	WorkflowState workflow.State `json:"workflow_state"`

	Labels   map[string]string      `json:"labels,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New creates a fresh active session for a repository path.
func New(repoPath string, ttl time.Duration) *Session {
	now := time.Now()
	return &Session{
		ID:            NewID(),
		RepoPath:      repoPath,
		Status:        StatusActive,
		Version:       1,
		WorkflowState: workflow.NewState(),
		Labels:        make(map[string]string),
		Metadata:      make(map[string]interface{}),
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}

// NewID generates a prefixed session identifier.
func NewID() string {
	return IDPrefix + uuid.New().String()
}

// ValidateID checks that an id carries the session prefix.
func ValidateID(id string) error {
	if !strings.HasPrefix(id, IDPrefix) || len(id) <= len(IDPrefix) {
		return fmt.Errorf("invalid session id %q: must be prefixed with %q", id, IDPrefix)
	}
	return nil
}

// Expired reports whether the session's TTL has passed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AddStepError records a step failure and transitions the session to the
// failed status, per the error/status invariant.
func (s *Session) AddStepError(step workflow.Step, message string) error {
	if err := s.WorkflowState.AddStepError(step, message); err != nil {
		return err
	}
	s.Status = StatusFailed
	return nil
}

// Complete transitions the session to its terminal status and shortens the
// TTL to a post-completion retention window.
func (s *Session) Complete(success bool, retention time.Duration) {
	if success {
		s.Status = StatusCompleted
	} else {
		s.Status = StatusFailed
	}
	s.ExpiresAt = time.Now().Add(retention)
}

// Extend pushes the expiry forward without touching workflow state.
func (s *Session) Extend(d time.Duration) {
	s.ExpiresAt = s.ExpiresAt.Add(d)
}

// MergeLabels merges (never replaces) label entries.
func (s *Session) MergeLabels(labels map[string]string) {
	if s.Labels == nil {
		s.Labels = make(map[string]string, len(labels))
	}
	for k, v := range labels {
		s.Labels[k] = v
	}
}

// MergeMetadata merges (never replaces) metadata entries.
func (s *Session) MergeMetadata(metadata map[string]interface{}) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		s.Metadata[k] = v
	}
}

// Clone returns a deep-independent copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.WorkflowState = s.WorkflowState.Clone()
	out.Labels = make(map[string]string, len(s.Labels))
	for k, v := range s.Labels {
		out.Labels[k] = v
	}
	out.Metadata = make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// Filter selects sessions in List.
type Filter struct {
	// Status restricts results to one status when non-nil.
	Status *Status

	// Labels restricts results to sessions carrying every entry.
	Labels map[string]string
}

// Matches reports whether the session satisfies the filter.
func (f Filter) Matches(s *Session) bool {
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	for k, v := range f.Labels {
		if s.Labels[k] != v {
			return false
		}
	}
	return true
}

// Stats summarizes store occupancy.
type Stats struct {
	ActiveSessions int `json:"active_sessions"`
	TotalSessions  int `json:"total_sessions"`
	MaxSessions    int `json:"max_sessions"`
}
