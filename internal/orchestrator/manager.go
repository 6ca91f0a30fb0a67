package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eternisai/saimilar/internal/auth"
	"github.com/eternisai/saimilar/internal/logger"
)

const DefaultIdleTimeout = 2 * time.Hour

type ManagerConfig struct {
	IdleTimeout   time.Duration
	PurgeSchedule string
}

// Manager owns the sessions of this instance.
type Manager struct {
	deps   Deps
	config ManagerConfig
	logger *logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	cron        *cron.Cron
	distributed *DistributedTeardown
	now         func() time.Time
}

func NewManager(deps Deps, cfg ManagerConfig, log *logger.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if deps.Logger == nil {
		deps.Logger = log
	}
	return &Manager{
		deps:     deps,
		config:   cfg,
		logger:   log.WithComponent("session_manager"),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create starts a session for profile, nil for a guest.
func (m *Manager) Create(ctx context.Context, profile *auth.Profile) *Session {
	session := NewSession(ctx, SessionContext{Profile: profile}, m.deps)

	m.mu.Lock()
	m.sessions[session.ID()] = session
	count := len(m.sessions)
	m.mu.Unlock()

	m.logger.WithContext(logger.WithSessionID(ctx, session.ID())).Info("session created",
		slog.Bool("signed_in", profile != nil),
		slog.Int("active_sessions", count))
	return session
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Count is the number of sessions held by this instance.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// closeLocal tears down a session held by this instance.
func (m *Manager) closeLocal(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		session.Close()
	}
	return ok
}

// closeOwned tears down a local session when userID may act on it.
func (m *Manager) closeOwned(id, userID string) (bool, error) {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if !session.Owns(userID) {
		m.mu.Unlock()
		return true, ErrSessionNotOwned
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	session.Close()
	return true, nil
}

// Delete tears a session down on behalf of userID ("" for guests). Sessions
// held by another instance are reached through the distributed teardown when
// it is enabled.
func (m *Manager) Delete(ctx context.Context, id, userID string) error {
	found, err := m.closeOwned(id, userID)
	if err != nil {
		return err
	}
	if found {
		m.logger.WithContext(logger.WithSessionID(ctx, id)).Info("session deleted")
		return nil
	}

	if m.distributed == nil {
		return ErrSessionNotFound
	}

	resp, err := m.distributed.RequestTeardown(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("distributed teardown failed: %w", err)
	}
	if !resp.Found {
		return ErrSessionNotFound
	}
	if resp.Forbidden {
		return ErrSessionNotOwned
	}
	return nil
}

// EnableDistributedTeardown lets other instances close sessions held here and
// routes Delete for unknown sessions to them.
func (m *Manager) EnableDistributedTeardown(d *DistributedTeardown) error {
	if d == nil {
		return errors.New("distributed teardown is nil")
	}
	if err := d.Start(m.closeOwned); err != nil {
		return err
	}
	m.distributed = d
	return nil
}

// Purge closes sessions idle for longer than the idle timeout.
func (m *Manager) Purge() int {
	cutoff := m.now().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	var idle []string
	for id, session := range m.sessions {
		if session.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.closeLocal(id)
	}
	if len(idle) > 0 {
		m.logger.Info("purged idle sessions", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// StartPurge schedules Purge, e.g. "@every 5m".
func (m *Manager) StartPurge() error {
	if m.cron != nil {
		return errors.New("purge already started")
	}
	schedule := m.config.PurgeSchedule
	if schedule == "" {
		schedule = "@every 5m"
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.Purge() }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	c.Start()
	m.cron = c

	m.logger.Info("idle session purge scheduled",
		slog.String("schedule", schedule),
		slog.Duration("idle_timeout", m.config.IdleTimeout))
	return nil
}

// Shutdown stops the purge schedule and the distributed teardown and closes
// every session.
func (m *Manager) Shutdown() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if m.distributed != nil {
		if err := m.distributed.Stop(); err != nil {
			m.logger.Warn("failed to stop distributed teardown", slog.String("error", err.Error()))
		}
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
