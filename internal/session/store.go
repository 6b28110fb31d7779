// Package session keeps one export engine per user session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/airdash/airdash/internal/engine"
	"github.com/airdash/airdash/internal/export"
)

var (
	// ErrSessionNotFound is returned for unknown, expired or foreign sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnknownFlow is returned when a session is created for an unknown flow.
	ErrUnknownFlow = errors.New("unknown flow")
)

// Flow is the dashboard flow a session serves. It decides the selection limits.
type Flow string

const (
	FlowAnalysis  Flow = "analysis"
	FlowFavorites Flow = "favorites"
	FlowInsights  Flow = "insights"
)

// ParseFlow parses a flow name. An empty name is the analysis flow.
func ParseFlow(s string) (Flow, error) {
	f := Flow(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FlowAnalysis, nil
	}
	if _, ok := f.limits(); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFlow, s)
	}
	return f, nil
}

// Limits returns the selection limits of the flow.
func (f Flow) Limits() export.SelectionLimits {
	l, _ := f.limits()
	return l
}

func (f Flow) limits() (export.SelectionLimits, bool) {
	switch f {
	case FlowAnalysis:
		return export.AnalysisLimits, true
	case FlowFavorites:
		return export.FavoriteLimits, true
	case FlowInsights:
		return export.InsightsLimits, true
	}
	return export.SelectionLimits{}, false
}

// Session is one user's export form and jobs.
type Session struct {
	ID        string
	UserID    string
	Flow      Flow
	CreatedAt time.Time
	Engine    *engine.Engine

	mu       sync.Mutex
	lastSeen time.Time
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// ExpiresAt returns when the session expires if left unused.
func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.LastSeen().Add(ttl)
}

// EngineFactory builds the engine of a new session.
type EngineFactory func(sessionID string, limits export.SelectionLimits) *engine.Engine

// DefaultTTL is how long an unused session lives.
const DefaultTTL = 30 * time.Minute

// StoreConfig holds configuration for a session store.
type StoreConfig struct {
	// NewEngine builds session engines.
	NewEngine EngineFactory

	// TTL expires unused sessions (default: 30m).
	TTL time.Duration

	// SweepInterval is how often Run removes expired sessions (default: TTL/4).
	SweepInterval time.Duration

	// MaxPerUser caps the live sessions of a user. Zero means unbounded.
	// The least recently used session is evicted to make room.
	MaxPerUser int

	Logger zerolog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store is an in-memory session store.
type Store struct {
	newEngine  EngineFactory
	ttl        time.Duration
	interval   time.Duration
	maxPerUser int
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates a session store.
func NewStore(cfg StoreConfig) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = ttl / 4
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		newEngine:  cfg.NewEngine,
		ttl:        ttl,
		interval:   interval,
		maxPerUser: cfg.MaxPerUser,
		logger:     cfg.Logger.With().Str("component", "session").Logger(),
		now:        now,
		sessions:   make(map[string]*Session),
	}
}

// TTL returns the idle lifetime of a session.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create starts a session for userID in flow.
func (s *Store) Create(userID string, flow Flow) (*Session, error) {
	if _, ok := flow.limits(); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
	}

	now := s.now()
	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		UserID:    userID,
		Flow:      flow,
		CreatedAt: now,
		Engine:    s.newEngine(id, flow.Limits()),
		lastSeen:  now,
	}

	var evicted []*Session
	s.mu.Lock()
	if s.maxPerUser > 0 {
		evicted = s.evictLocked(userID, s.maxPerUser-1)
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	for _, old := range evicted {
		old.Engine.Close()
	}

	s.logger.Debug().Str("session_id", id).Str("user_id", userID).Str("flow", string(flow)).Msg("session created")
	return sess, nil
}

// evictLocked removes the least recently used sessions of userID until at
// most keep remain.
func (s *Store) evictLocked(userID string, keep int) []*Session {
	var owned []*Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			owned = append(owned, sess)
		}
	}
	if len(owned) <= keep {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].LastSeen().Before(owned[j].LastSeen()) })
	evicted := owned[:len(owned)-keep]
	for _, sess := range evicted {
		delete(s.sessions, sess.ID)
	}
	return evicted
}

// Get returns the session id of userID and marks it used. Sessions owned by
// another user are reported as not found.
func (s *Store) Get(userID, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	now := s.now()
	if !ok || sess.UserID != userID || !now.Before(sess.ExpiresAt(s.ttl)) {
		return nil, ErrSessionNotFound
	}
	sess.touch(now)
	return sess, nil
}

// Delete ends the session id of userID and cancels its jobs.
func (s *Store) Delete(userID, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.UserID != userID {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	sess.Engine.Close()
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt(s.ttl)) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Engine.Close()
	}
	if len(expired) > 0 {
		s.logger.Info().Int("expired", len(expired)).Msg("swept expired sessions")
	}
	return len(expired)
}

// Run sweeps expired sessions until ctx is done, then closes every session.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) closeAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Engine.Close()
	}
}
