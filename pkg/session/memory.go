package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultGCInterval = 10 * time.Minute

// MemoryStore is an in-memory Store with periodic cleanup of expired
// sessions. Call Stop to end the cleanup goroutine.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      func() time.Time
	logger   *slog.Logger

	stopGC   chan struct{}
	stopOnce sync.Once
}

type storeOptions struct {
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a MemoryStore.
type Option func(*storeOptions)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) { o.logger = logger }
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMemoryStore starts a store that sweeps expired sessions every
// gcInterval. A non-positive interval uses ten minutes.
func NewMemoryStore(gcInterval time.Duration, opts ...Option) *MemoryStore {
	if gcInterval <= 0 {
		gcInterval = defaultGCInterval
	}
	o := applyOptions(opts)
	m := &MemoryStore{
		sessions: make(map[string]Session),
		now:      o.now,
		logger:   o.logger,
		stopGC:   make(chan struct{}),
	}
	go runGC(gcInterval, m.stopGC, m.logger, m.sweep)
	return m
}

// Get returns a live session. Expired sessions yield ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Expired(m.now()) {
		return Session{}, ErrNotFound
	}
	return s, nil
}

// Put inserts or replaces a session.
func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored sessions, including expired ones.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() { close(m.stopGC) })
}

func runGC(interval time.Duration, stop <-chan struct{}, logger *slog.Logger, sweep func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := sweep(); n > 0 {
				logger.Debug("expired sessions removed", "count", n)
			}
		case <-stop:
			return
		}
	}
}

func (m *MemoryStore) sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}
