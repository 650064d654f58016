package client

import (
	"sort"
	"sync"

	"event-api/domain"
)

// Directory is the client's local view of the user set, rebuilt from events.
type Directory struct {
	mu    sync.RWMutex
	users map[int64]domain.User
}

func NewDirectory() *Directory {
	return &Directory{users: make(map[int64]domain.User)}
}

// Apply folds ev into the directory. Error events leave it unchanged.
func (d *Directory) Apply(ev domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch e := ev.(type) {
	case domain.UserList:
		d.users = make(map[int64]domain.User, len(e.Users))
		for _, u := range e.Users {
			d.upsertLocked(u)
		}
	case domain.UserCreated:
		d.upsertLocked(e.User)
	case domain.UserUpdated:
		d.upsertLocked(e.User)
	case domain.UserFetched:
		d.upsertLocked(e.User)
	case domain.UserDeleted:
		delete(d.users, e.UserID)
	}
}

func (d *Directory) upsertLocked(u domain.User) {
	if u.ID == nil {
		return
	}
	d.users[*u.ID] = u.Clone()
}

func (d *Directory) Get(id int64) (domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, false
	}
	return u.Clone(), true
}

// Users returns a copy ordered by id.
func (d *Directory) Users() []domain.User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IDValue() < out[j].IDValue() })
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
