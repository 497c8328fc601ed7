// Package artifacts resolves accepted phase outputs into addressable
// resource references and caches their payloads for later retrieval.
package artifacts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Schemes for the resource URIs produced per phase.
const (
	SchemeAnalysis   = "analysis"
	SchemeDockerfile = "dockerfile"
	SchemeBuildLog   = "build-log"
	SchemeScanReport = "scan-report"
	SchemeManifests  = "manifests"
	SchemeDeployment = "deployment"
)

// ErrNotFound is returned when a reference has no cached payload.
var ErrNotFound = errors.New("artifact not found")

// Ref is the stable addressing tuple for one published artifact.
type Ref struct {
	Scheme    string `json:"scheme"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	ID        string `json:"id"`
}

// URI renders the reference as <scheme>://<sessionID>/<type>:<id>.
func (r Ref) URI() string {
	return fmt.Sprintf("%s://%s/%s:%s", r.Scheme, r.SessionID, r.Type, r.ID)
}

// ParseURI is the inverse of URI.
func ParseURI(uri string) (Ref, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return Ref{}, fmt.Errorf("invalid artifact uri %q: missing scheme", uri)
	}
	sessionID, tail, ok := strings.Cut(rest, "/")
	if !ok || sessionID == "" {
		return Ref{}, fmt.Errorf("invalid artifact uri %q: missing session id", uri)
	}
	typ, id, ok := strings.Cut(tail, ":")
	if !ok || typ == "" || id == "" {
		return Ref{}, fmt.Errorf("invalid artifact uri %q: missing type or id", uri)
	}
	return Ref{Scheme: scheme, SessionID: sessionID, Type: typ, ID: id}, nil
}

// Config controls artifact retention.
type Config struct {
	// TTL bounds how long payloads stay resolvable.
	TTL time.Duration

	// CleanupInterval is how often expired payloads are evicted.
	CleanupInterval time.Duration
}

// DefaultConfig returns retention defaults aligned with session TTLs.
func DefaultConfig() *Config {
	return &Config{
		TTL:             24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// Validate checks retention settings.
func (c *Config) Validate() error {
	if c.TTL <= 0 {
		return errors.New("artifacts: ttl must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("artifacts: cleanup interval must be positive")
	}
	return nil
}

// Store caches artifact payloads keyed by reference URI.
type Store struct {
	cache  *gocache.Cache
	logger *zap.Logger
}

// NewStore creates an artifact store.
func NewStore(cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cache:  gocache.New(cfg.TTL, cfg.CleanupInterval),
		logger: logger.Named("artifacts"),
	}, nil
}

// Put stores a payload under the reference.
func (s *Store) Put(ref Ref, payload interface{}) {
	s.cache.Set(ref.URI(), payload, gocache.DefaultExpiration)
	s.logger.Debug("artifact stored", zap.String("uri", ref.URI()))
}

// Get resolves a reference to its cached payload.
func (s *Store) Get(ref Ref) (interface{}, error) {
	payload, ok := s.cache.Get(ref.URI())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.URI())
	}
	return payload, nil
}

// ListSession returns the URIs of all live artifacts for a session.
func (s *Store) ListSession(sessionID string) []string {
	var uris []string
	for uri := range s.cache.Items() {
		ref, err := ParseURI(uri)
		if err != nil {
			continue
		}
		if ref.SessionID == sessionID {
			uris = append(uris, uri)
		}
	}
	return uris
}

// Len reports the number of live artifacts.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}
