package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pavelanni/quizgen/internal/model"
)

type memEntry struct {
	data    []byte
	expires time.Time
}

// Memory is an in-process Store for development and tests. Values are
// stored encoded so callers never share mutable state with the store.
type Memory struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]memEntry
	prepared map[string]memEntry
}

// NewMemory creates an in-process store.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memEntry),
		prepared: make(map[string]memEntry),
	}
}

func (m *Memory) load(set map[string]memEntry, id string) ([]byte, bool) {
	e, ok := set[id]
	if !ok {
		return nil, false
	}
	if m.now().After(e.expires) {
		delete(set, id)
		return nil, false
	}
	return e.data, true
}

// Get loads a session. Expired sessions are dropped and reported as ErrNotFound.
func (m *Memory) Get(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	raw, ok := m.load(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save stores a session and restarts its expiry.
func (m *Memory) Save(_ context.Context, s *model.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sessions[s.ID] = memEntry{data: raw, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

// PutPrepared stores the next question of a session, replacing any earlier one.
func (m *Memory) PutPrepared(_ context.Context, id string, item *model.QuizItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.prepared[id] = memEntry{data: raw, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
	return nil
}

// TakePrepared removes and returns the prepared question, or nil if none is waiting.
func (m *Memory) TakePrepared(_ context.Context, id string) (*model.QuizItem, error) {
	m.mu.Lock()
	raw, ok := m.load(m.prepared, id)
	delete(m.prepared, id)
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var item model.QuizItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// HasPrepared reports whether an unexpired prepared question is waiting.
func (m *Memory) HasPrepared(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.load(m.prepared, id)
	return ok, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
