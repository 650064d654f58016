package domain

import (
	"context"
	"errors"
	"sync"
)

// fakeStore is an ordered in-memory UserStore with per-operation fault injection.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	order  []int64
	users  map[int64]User

	listErr   error
	getErr    error
	insertErr error
	updateErr error
	deleteErr error
	// beforeMutate runs between the router's existence check and its mutation.
	beforeMutate func()
	panicOnList  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]User{}}
}

func (f *fakeStore) ListAll(ctx context.Context) ([]User, error) {
	if f.panicOnList {
		panic("list exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]User, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.users[id].Clone())
	}
	return out, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id int64) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	cp := u.Clone()
	return &cp, nil
}

func (f *fakeStore) Insert(ctx context.Context, name, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return User{}, f.insertErr
	}
	f.nextID++
	u := NewUser(f.nextID, name, email)
	f.users[f.nextID] = u
	f.order = append(f.order, f.nextID)
	return u.Clone(), nil
}

func (f *fakeStore) UpdateByID(ctx context.Context, id int64, name, email string) (User, error) {
	if f.beforeMutate != nil {
		f.beforeMutate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return User{}, f.updateErr
	}
	if _, ok := f.users[id]; !ok {
		return User{}, ErrNotFound
	}
	u := NewUser(id, name, email)
	f.users[id] = u
	return u.Clone(), nil
}

func (f *fakeStore) DeleteByID(ctx context.Context, id int64) error {
	if f.beforeMutate != nil {
		f.beforeMutate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[id]; !ok {
		return ErrNotFound
	}
	delete(f.users, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

var errBoom = errors.New("boom")
