package domain

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func mustCommand(t *testing.T, ct CommandType, data any) Command {
	t.Helper()
	cmd, err := NewCommand(ct, data)
	if err != nil {
		t.Fatalf("new command: %v", err)
	}
	return cmd
}

func idData(id int64) UserIDData { return UserIDData{ID: &id} }

func expectError(t *testing.T, ev Event, code int, contains string) {
	t.Helper()
	e, ok := ev.(ErrorEvent)
	if !ok {
		t.Fatalf("expected ErrorEvent, got %#v", ev)
	}
	if e.Code != code {
		t.Fatalf("expected code %d, got %d (%s)", code, e.Code, e.Message)
	}
	if contains != "" && !strings.Contains(e.Message, contains) {
		t.Fatalf("expected message to contain %q, got %q", contains, e.Message)
	}
}

func TestDispatchGetAllOnEmptyStore(t *testing.T) {
	r := NewRouter(newFakeStore())

	ev := r.Dispatch(context.Background(), mustCommand(t, GetAllUsers, nil))
	list, ok := ev.(UserList)
	if !ok {
		t.Fatalf("expected UserList, got %#v", ev)
	}
	if list.Users == nil || len(list.Users) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", list.Users)
	}
}

func TestDispatchCreateThenListScenario(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newFakeStore())

	first := r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("A", "a@x.com")))
	second := r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("B", "b@x.com")))

	c1, ok := first.(UserCreated)
	if !ok || c1.User.IDValue() != 1 {
		t.Fatalf("expected UserCreated with id 1, got %#v", first)
	}
	c2, ok := second.(UserCreated)
	if !ok || c2.User.IDValue() != 2 {
		t.Fatalf("expected UserCreated with id 2, got %#v", second)
	}

	ev := r.Dispatch(ctx, mustCommand(t, GetAllUsers, nil))
	want := UserList{Users: []User{NewUser(1, "A", "a@x.com"), NewUser(2, "B", "b@x.com")}}
	if !reflect.DeepEqual(ev, want) {
		t.Fatalf("unexpected list: %#v", ev)
	}

	deleted := r.Dispatch(ctx, mustCommand(t, DeleteUser, idData(999)))
	expectError(t, deleted, CodeNotFound, "not found")

	after := r.Dispatch(ctx, mustCommand(t, GetAllUsers, nil))
	if !reflect.DeepEqual(after, want) {
		t.Fatalf("list changed after failed delete: %#v", after)
	}
}

func TestDispatchGetUser(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := NewRouter(store)
	r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("A", "a@x.com")))

	ev := r.Dispatch(ctx, mustCommand(t, GetUser, idData(1)))
	fetched, ok := ev.(UserFetched)
	if !ok {
		t.Fatalf("expected UserFetched, got %#v", ev)
	}
	if !reflect.DeepEqual(fetched.User, NewUser(1, "A", "a@x.com")) {
		t.Fatalf("unexpected user %#v", fetched.User)
	}

	expectError(t, r.Dispatch(ctx, mustCommand(t, GetUser, idData(7))), CodeNotFound, "User not found with id: 7")
}

func TestDispatchUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newFakeStore())
	r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("A", "a@x.com")))

	id := int64(1)
	ev := r.Dispatch(ctx, mustCommand(t, UpdateUser, UpdateUserData{ID: &id, User: NewUserData("Jane", "jane@x.com")}))
	updated, ok := ev.(UserUpdated)
	if !ok {
		t.Fatalf("expected UserUpdated, got %#v", ev)
	}
	if updated.User.IDValue() != 1 || updated.User.Name != "Jane" || updated.User.Email != "jane@x.com" {
		t.Fatalf("unexpected updated user %#v", updated.User)
	}

	missing := int64(42)
	expectError(t, r.Dispatch(ctx, mustCommand(t, UpdateUser, UpdateUserData{ID: &missing, User: NewUserData("x", "y")})), CodeNotFound, "42")
}

func TestDispatchDelete(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newFakeStore())
	r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("A", "a@x.com")))

	ev := r.Dispatch(ctx, mustCommand(t, DeleteUser, idData(1)))
	if ev != (UserDeleted{UserID: 1}) {
		t.Fatalf("expected UserDeleted(1), got %#v", ev)
	}
	expectError(t, r.Dispatch(ctx, mustCommand(t, DeleteUser, idData(1))), CodeNotFound, "")
}

func TestDispatchMissingDuringMutationIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	r := NewRouter(store)
	r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("A", "a@x.com")))
	r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("B", "b@x.com")))

	store.beforeMutate = func() { store.remove(1) }
	expectError(t, r.Dispatch(ctx, mustCommand(t, DeleteUser, idData(1))), CodeNotFound, "")

	store.beforeMutate = func() { store.remove(2) }
	id := int64(2)
	expectError(t, r.Dispatch(ctx, mustCommand(t, UpdateUser, UpdateUserData{ID: &id, User: NewUserData("x", "y")})), CodeNotFound, "")
}

func TestDispatchStoreFaultsBecomeInternalErrors(t *testing.T) {
	ctx := context.Background()
	id := int64(1)

	tests := []struct {
		name   string
		inject func(*fakeStore)
		cmd    func(t *testing.T) Command
		msg    string
	}{
		{
			name:   "list",
			inject: func(f *fakeStore) { f.listErr = errBoom },
			cmd:    func(t *testing.T) Command { return mustCommand(t, GetAllUsers, nil) },
			msg:    "failed to fetch users",
		},
		{
			name:   "get",
			inject: func(f *fakeStore) { f.getErr = errBoom },
			cmd:    func(t *testing.T) Command { return mustCommand(t, GetUser, idData(1)) },
			msg:    "failed to fetch user",
		},
		{
			name:   "create",
			inject: func(f *fakeStore) { f.insertErr = errBoom },
			cmd:    func(t *testing.T) Command { return mustCommand(t, CreateUser, NewUserData("A", "a")) },
			msg:    "failed to create user",
		},
		{
			name:   "update",
			inject: func(f *fakeStore) { f.updateErr = errBoom },
			cmd: func(t *testing.T) Command {
				return mustCommand(t, UpdateUser, UpdateUserData{ID: &id, User: NewUserData("A", "a")})
			},
			msg: "failed to update user",
		},
		{
			name:   "delete",
			inject: func(f *fakeStore) { f.deleteErr = errBoom },
			cmd:    func(t *testing.T) Command { return mustCommand(t, DeleteUser, idData(1)) },
			msg:    "failed to delete user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			r := NewRouter(store)
			r.Dispatch(ctx, mustCommand(t, CreateUser, NewUserData("seed", "seed@x.com")))
			tt.inject(store)

			expectError(t, r.Dispatch(ctx, tt.cmd(t)), CodeInternal, tt.msg)
		})
	}
}

func TestDispatchInvalidPayloads(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newFakeStore())

	expectError(t, r.Dispatch(ctx, Command{Type: GetUser}), CodeBadRequest, "id is required")
	expectError(t, r.Dispatch(ctx, Command{Type: DeleteUser, Data: []byte(`{"id":"abc"}`)}), CodeBadRequest, "invalid users.delete payload")
	expectError(t, r.Dispatch(ctx, mustCommand(t, CreateUser, UserData{Name: NewUserData("A", "").Name})), CodeBadRequest, "name and email")
	id := int64(1)
	expectError(t, r.Dispatch(ctx, mustCommand(t, UpdateUser, UpdateUserData{ID: &id})), CodeBadRequest, "user name and email")
	expectError(t, r.Dispatch(ctx, Command{Type: "users.purge"}), CodeBadRequest, "unknown command type: users.purge")
}

func TestDispatchMalformedPayloadKeepsMessageShort(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newFakeStore())

	tests := []struct {
		cmd  Command
		want string
	}{
		{Command{Type: GetUser, Data: []byte(`{"id":"5"}`)}, "invalid users.get payload: id must be an integer"},
		{Command{Type: DeleteUser, Data: []byte(`{"id":1.5}`)}, "invalid users.delete payload: id must be an integer"},
		{Command{Type: CreateUser, Data: []byte(`{"name":7,"email":"a@x.com"}`)}, "invalid users.create payload: name and email must be strings"},
		{Command{Type: UpdateUser, Data: []byte(`{"id":1,"user":"Jane"}`)}, "invalid users.update payload: id must be an integer and user an object of name and email strings"},
	}
	for _, tt := range tests {
		ev, ok := r.Dispatch(ctx, tt.cmd).(ErrorEvent)
		if !ok || ev.Code != CodeBadRequest {
			t.Fatalf("%s: expected bad request, got %#v", tt.cmd.Data, ev)
		}
		if ev.Message != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.cmd.Data, ev.Message, tt.want)
		}
		if strings.Contains(ev.Message, "\n") || strings.Contains(ev.Message, string(tt.cmd.Data)) {
			t.Fatalf("decoder diagnostic leaked into %q", ev.Message)
		}
	}
}

func TestDispatchRecoversFromStorePanic(t *testing.T) {
	store := newFakeStore()
	store.panicOnList = true
	r := NewRouter(store)

	expectError(t, r.Dispatch(context.Background(), mustCommand(t, GetAllUsers, nil)), CodeInternal, "users.getAll")
}

func TestConcurrentCreatesGetDistinctIDs(t *testing.T) {
	ctx := context.Background()
	r := NewRouter(newFakeStore())

	const n = 50
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd, _ := NewCommand(CreateUser, NewUserData("u", "u@x.com"))
			ev := r.Dispatch(ctx, cmd)
			if c, ok := ev.(UserCreated); ok {
				ids <- c.User.IDValue()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d ids, got %d", n, len(seen))
	}
}
