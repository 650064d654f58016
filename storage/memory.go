package storage

import (
	"context"
	"sort"
	"sync"

	"event-api/domain"
)

// Memory is an in-process user store for development and tests. Ids are
// assigned from a monotonic counter and never reused.
type Memory struct {
	mu        sync.Mutex
	users     map[int64]domain.User
	idCounter int64
}

func NewMemory() *Memory {
	return &Memory{users: make(map[int64]domain.User)}
}

var _ domain.UserStore = (*Memory)(nil)

// ListAll returns users ordered by id.
func (m *Memory) ListAll(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IDValue() < out[j].IDValue() })
	return out, nil
}

func (m *Memory) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	c := u.Clone()
	return &c, nil
}

func (m *Memory) Insert(ctx context.Context, name, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.idCounter++
	u := domain.NewUser(m.idCounter, name, email)
	m.users[m.idCounter] = u
	return u.Clone(), nil
}

func (m *Memory) UpdateByID(ctx context.Context, id int64, name, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return domain.User{}, domain.ErrNotFound
	}
	u := domain.NewUser(id, name, email)
	m.users[id] = u
	return u.Clone(), nil
}

func (m *Memory) DeleteByID(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error { return nil }
