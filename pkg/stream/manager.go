package stream

import (
	"sort"
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/multierr"

	"github.com/teslashibe/go-livedetect/internal/log"
	"github.com/teslashibe/go-livedetect/pkg/processor"
)

// ProcessorFactory returns the processor for a new session.
type ProcessorFactory func() Processor

// statsProvider is implemented by processors that keep counters.
type statsProvider interface {
	Stats() processor.Stats
}

// SessionInfo describes a live session for status reporting.
type SessionInfo struct {
	ID    string           `json:"id"`
	State string           `json:"state"`
	Stats *processor.Stats `json:"stats,omitempty"`
}

// Manager tracks live sessions by id.
type Manager struct {
	api     *webrtc.API
	opts    Options
	newProc ProcessorFactory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. Every session gets its own processor
// from newProc.
func NewManager(api *webrtc.API, opts Options, newProc ProcessorFactory) *Manager {
	return &Manager{
		api:      api,
		opts:     opts.withDefaults(),
		newProc:  newProc,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new session. It is removed from the manager when it closes.
func (m *Manager) Create() (*Session, error) {
	s, err := NewSession(m.api, m.newProc(), m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	s.OnClose(m.forget)
	log.Info("session created", "session", s.ID, "sessions", count)
	return s, nil
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	err := s.Close()
	m.forget(id)
	return err
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions returns a snapshot of live sessions sorted by id.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		info := SessionInfo{ID: s.ID, State: s.State().String()}
		if sp, ok := s.proc.(statsProvider); ok {
			st := sp.Stats()
			info.Stats = &st
		}
		infos = append(infos, info)
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// CloseAll closes every session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs error
	for _, s := range sessions {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}
