package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/stevedore/internal/session"

// Store provides session management operations.
type Store interface {
	// Create registers a new session. The id must be unused.
	Create(ctx context.Context, s *Session) (*Session, error)

	// Get returns a deep copy of the session. An expired session is purged
	// as a side effect and reported as not found.
	Get(ctx context.Context, id string) (*Session, error)

	// UpdateAtomic applies mutate to a copy of the current record and writes
	// it back with an incremented version. Concurrent calls against the same
	// id serialize; no update is ever lost.
	UpdateAtomic(ctx context.Context, id string, mutate func(*Session) error) (*Session, error)

	// Delete removes a session.
	Delete(ctx context.Context, id string) error

	// DeleteExpired sweeps all expired sessions and returns the count removed.
	DeleteExpired(ctx context.Context) int

	// List returns deep copies of all live sessions matching the filter.
	List(ctx context.Context, f Filter) []*Session

	// GetByStatus returns all live sessions with the given status.
	GetByStatus(ctx context.Context, status Status) []*Session

	// GetRecentlyUpdated returns up to n live sessions, most recently
	// updated first.
	GetRecentlyUpdated(ctx context.Context, n int) []*Session

	// ActiveCount returns the number of live sessions in the active status.
	ActiveCount(ctx context.Context) int

	// Len returns the number of live (non-expired) sessions.
	Len() int

	// Export returns deep copies of every live session.
	Export(ctx context.Context) []*Session

	// Import loads sessions into the store, preserving versions.
	Import(ctx context.Context, sessions []*Session) error

	// Clear removes all sessions.
	Clear(ctx context.Context)

	// Stats summarizes store occupancy against the configured cap.
	Stats() Stats

	// CompletionRetention is the post-completion TTL applied by Complete.
	CompletionRetention() time.Duration

	// StartCleanup runs a periodic DeleteExpired sweep until ctx is done.
	StartCleanup(ctx context.Context)

	// Close closes the store.
	Close() error
}

// Config configures the session store.
type Config struct {
	// TTL is the default session lifetime (default: 24h).
	TTL time.Duration

	// CompletionRetention is the post-completion grace window (default: 5m).
	CompletionRetention time.Duration

	// MaxSessions caps concurrently active sessions; 0 disables the cap.
	MaxSessions int

	// CleanupInterval is the periodic sweep cadence (default: 10m).
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		TTL:                 24 * time.Hour,
		CompletionRetention: 5 * time.Minute,
		MaxSessions:         100,
		CleanupInterval:     10 * time.Minute,
	}
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.CompletionRetention <= 0 {
		return errors.New("completion retention must be positive")
	}
	if c.MaxSessions < 0 {
		return errors.New("max sessions cannot be negative")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	return nil
}

// store implements the Store interface with an in-memory table.
type store struct {
	config *Config
	logger *zap.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	createCounter  metric.Int64Counter
	updateCounter  metric.Int64Counter
	expiredCounter metric.Int64Counter

	// mu guards the session table. Writers publish only fully-applied
	// records, so readers under RLock never observe a partial mutation.
	mu       sync.RWMutex
	sessions map[string]*Session

	// lockMu guards the per-id mutex map used to serialize UpdateAtomic
	// and expiry deletion per session id.
	lockMu  sync.Mutex
	idLocks map[string]*sync.Mutex

	closeMu sync.Mutex
	closed  bool
}

// NewStore creates a new in-memory session store.
func NewStore(cfg *Config, logger *zap.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session store config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &store{
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		sessions: make(map[string]*Session),
		idLocks:  make(map[string]*sync.Mutex),
	}
	s.initMetrics()
	return s, nil
}

func (s *store) initMetrics() {
	var err error

	s.createCounter, err = s.meter.Int64Counter(
		"stevedore.session.creates_total",
		metric.WithDescription("Total number of sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		s.logger.Warn("failed to create creates counter", zap.Error(err))
	}

	s.updateCounter, err = s.meter.Int64Counter(
		"stevedore.session.updates_total",
		metric.WithDescription("Total number of atomic session updates"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		s.logger.Warn("failed to create updates counter", zap.Error(err))
	}

	s.expiredCounter, err = s.meter.Int64Counter(
		"stevedore.session.expired_total",
		metric.WithDescription("Total number of sessions removed by TTL expiry"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		s.logger.Warn("failed to create expired counter", zap.Error(err))
	}
}

// idLock returns the per-id mutex, creating it on first use. Lock entries
// are retained for the life of the store; a stale entry after deletion only
// costs a few bytes and keeps the discipline race-free.
func (s *store) idLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	return l
}

// Create registers a new session.
func (s *store) Create(ctx context.Context, sess *Session) (*Session, error) {
	_, span := s.tracer.Start(ctx, "session.create")
	defer span.End()

	if sess == nil {
		return nil, errors.New("session is required")
	}
	if err := ValidateID(sess.ID); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session_id", sess.ID))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, sess.ID)
	}
	if s.config.MaxSessions > 0 && s.activeCountLocked() >= s.config.MaxSessions {
		return nil, fmt.Errorf("%w: cap %d reached", ErrCapacityExceeded, s.config.MaxSessions)
	}

	stored := sess.Clone()
	now := time.Now()
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = now.Add(s.config.TTL)
	}
	if !stored.Status.Valid() {
		stored.Status = StatusActive
	}
	s.sessions[stored.ID] = stored

	if s.createCounter != nil {
		s.createCounter.Add(ctx, 1)
	}
	s.logger.Info("created session",
		zap.String("session_id", stored.ID),
		zap.String("repo_path", stored.RepoPath),
		zap.Time("expires_at", stored.ExpiresAt),
	)
	return stored.Clone(), nil
}

// Get returns a copy of the session, purging it if expired.
func (s *store) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	cur, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if cur.Expired(time.Now()) {
		s.purgeExpired(ctx, id)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cur.Clone(), nil
}

// purgeExpired removes an expired record using the same per-id discipline
// as UpdateAtomic so it cannot race an in-flight update.
func (s *store) purgeExpired(ctx context.Context, id string) {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cur, ok := s.sessions[id]
	if ok && cur.Expired(time.Now()) {
		delete(s.sessions, id)
		s.mu.Unlock()
		if s.expiredCounter != nil {
			s.expiredCounter.Add(ctx, 1)
		}
		s.logger.Debug("purged expired session", zap.String("session_id", id))
		return
	}
	s.mu.Unlock()
}

// UpdateAtomic serializes read-modify-write cycles per session id.
func (s *store) UpdateAtomic(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.update_atomic")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", id))

	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := time.Now()
	if cur.Expired(now) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		if s.expiredCounter != nil {
			s.expiredCounter.Add(ctx, 1)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	working := cur.Clone()
	if err := mutate(working); err != nil {
		return nil, fmt.Errorf("session mutation failed: %w", err)
	}

	// Immutable fields survive any mutator.
	working.ID = cur.ID
	working.RepoPath = cur.RepoPath
	working.CreatedAt = cur.CreatedAt
	working.Version = cur.Version + 1
	working.UpdatedAt = now

	s.mu.Lock()
	s.sessions[id] = working
	s.mu.Unlock()

	if s.updateCounter != nil {
		s.updateCounter.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Int64("version", working.Version))
	return working.Clone(), nil
}

// Delete removes a session.
func (s *store) Delete(ctx context.Context, id string) error {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.sessions, id)
	s.logger.Info("deleted session", zap.String("session_id", id))
	return nil
}

// DeleteExpired sweeps all expired sessions.
func (s *store) DeleteExpired(ctx context.Context) int {
	ctx, span := s.tracer.Start(ctx, "session.delete_expired")
	defer span.End()

	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	now := time.Now()
	removed := 0
	for _, id := range ids {
		lock := s.idLock(id)
		lock.Lock()
		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok && cur.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
		s.mu.Unlock()
		lock.Unlock()
	}

	if removed > 0 {
		if s.expiredCounter != nil {
			s.expiredCounter.Add(ctx, int64(removed))
		}
		s.logger.Info("swept expired sessions", zap.Int("removed", removed))
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed
}

// List returns live sessions matching the filter.
func (s *store) List(ctx context.Context, f Filter) []*Session {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0)
	for _, sess := range s.sessions {
		if sess.Expired(now) {
			continue
		}
		if f.Matches(sess) {
			out = append(out, sess.Clone())
		}
	}
	return out
}

// GetByStatus returns live sessions with the given status.
func (s *store) GetByStatus(ctx context.Context, status Status) []*Session {
	return s.List(ctx, Filter{Status: &status})
}

// GetRecentlyUpdated returns up to n live sessions, updated_at descending.
func (s *store) GetRecentlyUpdated(ctx context.Context, n int) []*Session {
	all := s.List(ctx, Filter{})
	sort.Slice(all, func(i, j int) bool {
		return all[i].UpdatedAt.After(all[j].UpdatedAt)
	})
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// ActiveCount returns the number of live active sessions.
func (s *store) ActiveCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeCountLocked()
}

func (s *store) activeCountLocked() int {
	now := time.Now()
	count := 0
	for _, sess := range s.sessions {
		if !sess.Expired(now) && sess.Status == StatusActive {
			count++
		}
	}
	return count
}

// Len returns the number of live sessions.
func (s *store) Len() int {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sess := range s.sessions {
		if !sess.Expired(now) {
			count++
		}
	}
	return count
}

// Export returns copies of every live session.
func (s *store) Export(ctx context.Context) []*Session {
	return s.List(ctx, Filter{})
}

// Import loads sessions, preserving ids and versions.
func (s *store) Import(ctx context.Context, sessions []*Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range sessions {
		if err := ValidateID(sess.ID); err != nil {
			return err
		}
		if _, exists := s.sessions[sess.ID]; exists {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, sess.ID)
		}
	}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess.Clone()
	}
	s.logger.Info("imported sessions", zap.Int("count", len(sessions)))
	return nil
}

// Clear removes all sessions.
func (s *store) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

// Stats summarizes store occupancy.
func (s *store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	total := 0
	for _, sess := range s.sessions {
		if !sess.Expired(now) {
			total++
		}
	}
	return Stats{
		ActiveSessions: s.activeCountLocked(),
		TotalSessions:  total,
		MaxSessions:    s.config.MaxSessions,
	}
}

// CompletionRetention is the post-completion TTL applied by Complete.
func (s *store) CompletionRetention() time.Duration {
	return s.config.CompletionRetention
}

// StartCleanup runs the periodic expiry sweep until ctx is done.
func (s *store) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.DeleteExpired(ctx)
			}
		}
	}()
}

// Close closes the store.
func (s *store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}
