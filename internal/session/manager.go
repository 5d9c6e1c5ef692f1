package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/earthcopilot/mapview/internal/mapprovider"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = eris.New("session: not found")

// SinkFactory creates the command sink for a new session.
type SinkFactory func(id string) mapprovider.Sink

// Manager creates sessions, looks them up by id and expires idle ones.
type Manager struct {
	deps    Deps
	opts    Options
	newSink SinkFactory
	// OnExpire is called after an idle session is closed.
	OnExpire func(id string)

	mu       sync.Mutex
	sessions map[string]*Session
	mapCfg   bool
	now      func() time.Time
}

// NewManager creates a Manager.
func NewManager(deps Deps, opts Options, newSink SinkFactory) *Manager {
	return &Manager{
		deps:     deps,
		opts:     opts,
		newSink:  newSink,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a new session.
func (m *Manager) Create(ctx context.Context) *Session {
	m.resolveMapConfig(ctx)

	id := uuid.NewString()
	m.mu.Lock()
	opts := m.opts
	m.mu.Unlock()

	s := New(ctx, id, m.newSink(id), m.deps, opts)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return s, nil
}

// List returns the ids of all sessions, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Delete closes and removes the session with id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	s.Close()
	return nil
}

// Sweep closes sessions idle longer than the idle timeout and returns how
// many were removed.
func (m *Manager) Sweep() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.opts.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.LastSeen().Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		if m.OnExpire != nil {
			m.OnExpire(s.ID())
		}
	}
	return len(idle)
}

// Run sweeps idle sessions periodically. It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log := zap.L().With(zap.String("component", "session.manager"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Info("session: expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// resolveMapConfig asks the backend for map credentials when none are
// configured locally. Failure leaves Azure disabled for this session and
// is retried on the next Create.
func (m *Manager) resolveMapConfig(ctx context.Context) {
	m.mu.Lock()
	done := m.mapCfg || m.deps.Backend == nil || m.opts.Chain.SubscriptionKey != "" || m.opts.Chain.DevelopmentMode
	m.mu.Unlock()
	if done {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	mc, err := m.deps.Backend.Config(cctx)
	if err != nil {
		zap.L().Warn("session: map config unavailable, Azure Maps disabled", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.opts.Chain.SubscriptionKey = mc.SubscriptionKey
	m.opts.Chain.DevelopmentMode = mc.DevelopmentMode
	m.mapCfg = true
	m.mu.Unlock()
}
