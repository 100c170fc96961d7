package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zakai/internal/gateway"
	"zakai/pkg"
)

// Engine is the per-user conversation state managed by this package.
type Engine interface {
	SeedHistory(loc *pkg.Location, history []pkg.HistoryMessage)
	GenerateResponse(ctx context.Context, userMessage string, loc *pkg.Location, token string) string
	AppendExchange(userText, reply string)
	Snapshot() []pkg.HistoryMessage
}

// EngineFactory builds a fresh engine for a newly seen identity.
type EngineFactory func() Engine

// session is one registry entry. engine is written once by the creating
// goroutine before ready is closed; everyone else waits on ready.
type session struct {
	engine     Engine
	lastActive time.Time
	ready      chan struct{}
}

func (s *session) seeded() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Manager keeps one engine per identity token and evicts idle ones after
// persisting their history. All registry access goes through a single mutex
// so concurrent requests for the same token share one engine.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	store       gateway.HistoryStore
	newEngine   EngineFactory
	idleTimeout time.Duration
	sweepEvery  time.Duration
	clock       func() time.Time
	log         zerolog.Logger
}

// Config wires a Manager.
type Config struct {
	Store       gateway.HistoryStore
	NewEngine   EngineFactory
	IdleTimeout time.Duration
	SweepEvery  time.Duration
	Clock       func() time.Time
	Log         zerolog.Logger
}

// NewManager creates an empty session registry.
func NewManager(cfg Config) *Manager {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		sessions:    make(map[string]*session),
		store:       cfg.Store,
		newEngine:   cfg.NewEngine,
		idleTimeout: cfg.IdleTimeout,
		sweepEvery:  cfg.SweepEvery,
		clock:       clock,
		log:         cfg.Log,
	}
}

// Resolve returns the engine for a token, creating and seeding one on first
// sight. The history load runs outside the registry lock so a slow first
// contact never stalls resolution for other identities; concurrent callers
// for the same token wait on the entry and share the one engine. A history
// load failure is not fatal: the engine starts with the system instruction
// only.
func (m *Manager) Resolve(ctx context.Context, token string, loc *pkg.Location) Engine {
	m.mu.Lock()
	if s, ok := m.sessions[token]; ok {
		s.lastActive = m.clock()
		m.mu.Unlock()
		<-s.ready
		return s.engine
	}

	s := &session{lastActive: m.clock(), ready: make(chan struct{})}
	m.sessions[token] = s
	active := len(m.sessions)
	m.mu.Unlock()

	history, err := m.store.Load(ctx, token)
	if err != nil {
		m.log.Warn().Err(err).Msg("history load failed, starting empty conversation")
		history = nil
	}

	engine := m.newEngine()
	engine.SeedHistory(loc, history)
	s.engine = engine
	close(s.ready)

	m.log.Info().Int("active_sessions", active).Msg("session created")
	return engine
}

// Touch refreshes a session's activity timestamp if it exists.
func (m *Manager) Touch(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok {
		s.lastActive = m.clock()
	}
}

// Len reports the number of active sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep persists and removes every session idle strictly longer than the
// timeout; one idle exactly at the timeout survives the cycle. A session is
// only removed once its history save succeeds; on failure it stays
// registered for the next sweep.
func (m *Manager) Sweep(ctx context.Context) {
	m.mu.Lock()
	idle := make(map[string]*session)
	now := m.clock()
	for token, s := range m.sessions {
		if s.seeded() && now.Sub(s.lastActive) > m.idleTimeout {
			idle[token] = s
		}
	}
	m.mu.Unlock()

	for token, s := range idle {
		if err := m.store.Save(ctx, token, s.engine.Snapshot()); err != nil {
			m.log.Warn().Err(err).Msg("history save failed, keeping session")
			continue
		}
		m.mu.Lock()
		// Drop only if the session was not reactivated while saving.
		if cur, ok := m.sessions[token]; ok && now.Sub(cur.lastActive) > m.idleTimeout {
			delete(m.sessions, token)
		}
		m.mu.Unlock()
		m.log.Info().Msg("idle session persisted and removed")
	}
}

// Run sweeps on an interval until the context is cancelled, then persists
// every remaining session before returning. Callers that want the shutdown
// flush must wait for Run to return.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flush()
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// flush persists every remaining session regardless of idle state.
func (m *Manager) flush() {
	m.mu.Lock()
	remaining := make(map[string]Engine, len(m.sessions))
	for token, s := range m.sessions {
		if s.seeded() {
			remaining[token] = s.engine
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for token, engine := range remaining {
		if err := m.store.Save(ctx, token, engine.Snapshot()); err != nil {
			m.log.Warn().Err(err).Msg("shutdown history save failed")
		}
	}
}
