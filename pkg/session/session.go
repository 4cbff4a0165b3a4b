// Package session tracks live browser sessions, one per profile.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/metrics"
	"github.com/droverhq/drover/pkg/types"
)

// Bridge is the session slice of the bridge client
type Bridge interface {
	SessionCreate(ctx context.Context, profile, site string) (*types.Session, error)
	SessionList(ctx context.Context) ([]*types.Session, error)
}

// Manager lazily creates and caches one session per profile. The
// browser session is the scarce resource in the whole system; the
// manager makes sure a profile never owns two.
type Manager struct {
	bridge Bridge
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*types.Session
}

// NewManager creates a session manager over a bridge
func NewManager(bridge Bridge) *Manager {
	return &Manager{
		bridge:   bridge,
		logger:   log.WithComponent("session"),
		sessions: make(map[string]*types.Session),
	}
}

// Ensure returns the profile's session, creating it on first use
func (m *Manager) Ensure(ctx context.Context, profile, site string) (*types.Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[profile]; ok {
		sess.LastSeen = time.Now()
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	sess, err := m.bridge.SessionCreate(ctx, profile, site)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	// A concurrent Ensure may have won; keep the first session.
	if existing, ok := m.sessions[profile]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[profile] = sess
	metrics.SessionsLive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.logger.Info().Str("profile", profile).Str("site", site).Msg("Session created")
	return sess, nil
}

// Live returns the number of tracked sessions
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Get returns the cached session for a profile, or nil
func (m *Manager) Get(profile string) *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[profile]
}

// Drop forgets a profile's session (after the bridge reports it
// closed)
func (m *Manager) Drop(profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, profile)
	metrics.SessionsLive.Set(float64(len(m.sessions)))
}

// List merges the bridge's live sessions over the local cache
func (m *Manager) List(ctx context.Context) ([]*types.Session, error) {
	remote, err := m.bridge.SessionList(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range remote {
		if cached, ok := m.sessions[sess.Profile]; ok {
			cached.URL = sess.URL
			cached.LastSeen = time.Now()
		}
	}
	return remote, nil
}
