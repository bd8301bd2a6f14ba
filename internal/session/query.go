package session

import (
	"fmt"
	"sort"
	"time"
)

func (m *Manager) Get(id string) (*SessionInfo, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	info := m.info(s)
	return &info, nil
}

// Has reports whether id is registered.
func (m *Manager) Has(id string) bool {
	_, ok := m.lookup(id)
	return ok
}

// List returns all registered sessions, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	list := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, SessionInfo{
			ID:           s.id,
			Language:     string(s.language),
			CreatedAt:    s.createdAt,
			LastActivity: s.lastActivity,
		})
	}
	m.mu.RUnlock()

	for i := range list {
		list[i].Running = m.Running(list[i].ID)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Touch records activity on a session so the idle reaper leaves it alone.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.lastActivity = time.Now().UTC()
	}
}

func (m *Manager) info(s *session) SessionInfo {
	m.mu.RLock()
	info := SessionInfo{
		ID:           s.id,
		Language:     string(s.language),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	m.mu.RUnlock()
	info.Running = m.Running(s.id)
	return info
}
