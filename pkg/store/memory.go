package store

import (
	"context"
	"sort"
	"sync"

	"github.com/lectern-ai/lectern/pkg/session"
)

// Memory is an in-process store used by tests and single-node deployments.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]session.Session
	exchanges map[string][]session.Exchange
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]session.Session),
		exchanges: make(map[string][]session.Exchange),
	}
}

func (m *Memory) CreateSession(ctx context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (m *Memory) UpdateSession(ctx context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return session.ErrNotFound
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) AppendExchange(ctx context.Context, ex session.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges[ex.SessionID] = append(m.exchanges[ex.SessionID], ex)
	return nil
}

func (m *Memory) UpdateExchange(ctx context.Context, ex session.Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.exchanges[ex.SessionID]
	for i := range list {
		if list[i].ID == ex.ID {
			list[i] = ex
			return nil
		}
	}
	return session.ErrNotFound
}

func (m *Memory) ListExchanges(ctx context.Context, sessionID string) ([]session.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]session.Exchange(nil), m.exchanges[sessionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Close() error { return nil }
