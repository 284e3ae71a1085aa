package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/medscan/internal/analysis"
)

// sweepInterval is how often the manager looks for expired sessions.
const sweepInterval = time.Minute

// Manager owns the in-memory session registry. Sessions are identified by
// UUID, scoped to their creating user, and evicted after a TTL of
// inactivity. Eviction releases any held camera device and invalidates
// in-flight analysis.
type Manager struct {
	opener   DeviceOpener
	analyzer analysis.Analyzer
	mirror   Publisher
	recorder Recorder
	timeout  time.Duration
	ttl      time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewManager builds an empty registry. Mirror and recorder may be nil.
func NewManager(opener DeviceOpener, analyzer analysis.Analyzer, mirror Publisher,
	recorder Recorder, timeout, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		opener:   opener,
		analyzer: analyzer,
		mirror:   mirror,
		recorder: recorder,
		timeout:  timeout,
		ttl:      ttl,
		logger:   logger.Named("session_manager"),
		sessions: make(map[string]*Controller),
	}
}

// Create registers a new idle session for the user.
func (m *Manager) Create(userID string) *Controller {
	ctrl := NewController(uuid.NewString(), userID, m.opener, m.analyzer,
		m.mirror, m.recorder, m.timeout, m.logger)

	m.mu.Lock()
	m.sessions[ctrl.ID()] = ctrl
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", ctrl.ID()), zap.String("user_id", userID))
	return ctrl
}

// Get returns the session if it exists and belongs to the user.
func (m *Manager) Get(userID, sessionID string) (*Controller, bool) {
	m.mu.Lock()
	ctrl, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok || ctrl.UserID() != userID {
		return nil, false
	}
	return ctrl, true
}

// StartSweeper evicts idle sessions until the context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*Controller
	for id, ctrl := range m.sessions {
		if ctrl.idleSince().Before(cutoff) {
			expired = append(expired, ctrl)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.expire()
		m.logger.Info("session expired", zap.String("session_id", ctrl.ID()))
	}
}
