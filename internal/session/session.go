// Package session tracks the agent signed in to this device. The queue and
// the replayer only run on behalf of an active session.
package session

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"intake/internal/logging"

	"github.com/rs/zerolog"
)

var ErrEmptyAgent = errors.New("agent id is required")

type Manager struct {
	mu        sync.RWMutex
	agentID   string
	startedAt time.Time
	logger    *zerolog.Logger
	onChange  []func(agentID string, active bool)
}

func NewManager(logger *zerolog.Logger) *Manager {
	return &Manager{logger: logging.Component(logger, "session")}
}

// OnChange registers fn to run after every Start and End.
func (m *Manager) OnChange(fn func(agentID string, active bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Start signs agentID in, replacing any previous session.
func (m *Manager) Start(agentID string) error {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return ErrEmptyAgent
	}

	m.mu.Lock()
	m.agentID = agentID
	m.startedAt = time.Now()
	hooks := slices.Clone(m.onChange)
	m.mu.Unlock()

	m.logger.Info().Str("agent_id", agentID).Msg("session started")
	for _, fn := range hooks {
		fn(agentID, true)
	}
	return nil
}

func (m *Manager) End() {
	m.mu.Lock()
	agentID := m.agentID
	m.agentID = ""
	m.startedAt = time.Time{}
	hooks := slices.Clone(m.onChange)
	m.mu.Unlock()

	if agentID == "" {
		return
	}
	m.logger.Info().Str("agent_id", agentID).Msg("session ended")
	for _, fn := range hooks {
		fn(agentID, false)
	}
}

// Actor returns the signed-in agent, if any.
func (m *Manager) Actor() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.agentID, m.agentID != ""
}

func (m *Manager) StartedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startedAt
}

// Static is a fixed actor, used by the operator CLI.
type Static string

func (s Static) Actor() (string, bool) {
	return string(s), s != ""
}
