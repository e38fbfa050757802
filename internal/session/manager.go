package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"spa-cms/internal/editor"
	"spa-cms/internal/imaging"
	"spa-cms/internal/logger"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one open editor screen. Navigating away discards it.
type Session struct {
	ID        string       `json:"id"`
	Kind      string       `json:"kind"`
	UserID    string       `json:"user_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Host      *editor.Host `json:"-"`

	lastSeen time.Time
}

// SaveListener is told about every record a session saved.
type SaveListener interface {
	RecordSaved(kind, id string, created bool, record map[string]any)
}

// Manager keeps editing sessions in memory and expires idle ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	registry *editor.Registry
	gateway  editor.Gateway
	pipeline *imaging.Pipeline
	ttl      time.Duration
	now      func() time.Time
	log      *logger.Logger
	listener SaveListener

	ticker *time.Ticker
	done   chan struct{}
}

func NewManager(reg *editor.Registry, gw editor.Gateway, pipeline *imaging.Pipeline, ttl time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		registry: reg,
		gateway:  gw,
		pipeline: pipeline,
		ttl:      ttl,
		now:      time.Now,
		log:      log.With("component", "sessions"),
	}
}

// Notify registers l to be called after each successful save.
func (m *Manager) Notify(l SaveListener) {
	m.listener = l
}

// Open starts a session for kind. An empty recordID is the add flow;
// otherwise the record is loaded into the new host.
func (m *Manager) Open(ctx context.Context, kind, recordID, userID string) (*Session, error) {
	def, err := m.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	host, err := editor.NewHost(def, m.gateway, m.pipeline, m.log.With("session", id))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kind, err)
	}
	if recordID != "" {
		if err := host.Load(ctx, recordID); err != nil {
			return nil, err
		}
	}

	now := m.now()
	s := &Session{ID: id, Kind: def.Kind, UserID: userID, CreatedAt: now, Host: host, lastSeen: now}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("session opened", "session", id, "kind", kind, "record", recordID)
	return s, nil
}

// Get returns a live session and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	now := m.now()
	if m.expired(s, now) {
		delete(m.sessions, id)
		m.log.Info("session expired", "session", id, "kind", s.Kind)
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.lastSeen = now
	return s, nil
}

// Save saves the session's record. A successful save ends the session; a
// failed one keeps it open for correction.
func (m *Manager) Save(ctx context.Context, id string) (*editor.SaveResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	res, err := s.Host.Save(ctx)
	if err != nil {
		return nil, err
	}
	m.Discard(id)
	if m.listener != nil {
		if payload, err := s.Host.Payload(); err == nil {
			m.listener.RecordSaved(s.Kind, res.ID, res.Created, payload)
		}
	}
	return res, nil
}

// Discard drops a session and reports whether it existed.
func (m *Manager) Discard(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.log.Debug("session discarded", "session", id)
	return true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep removes every session idle for longer than the TTL.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		m.log.Info("idle sessions expired", "count", n, "open", len(m.sessions))
	}
	return n
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.lastSeen) > m.ttl
}

// Start runs Sweep every interval until Stop.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	m.done = make(chan struct{})
	m.ticker = time.NewTicker(interval)
	go m.run(m.ticker, m.done)
	m.log.Info("session janitor started", "interval", interval, "ttl", m.ttl)
}

func (m *Manager) Stop() {
	if m.ticker != nil {
		m.ticker.Stop()
	}
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
}

func (m *Manager) run(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
