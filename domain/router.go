package domain

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// UserStore is the persistence boundary the router executes commands against.
type UserStore interface {
	// ListAll returns every user in store iteration order.
	ListAll(ctx context.Context) ([]User, error)
	// GetByID returns nil and no error when the user does not exist.
	GetByID(ctx context.Context, id int64) (*User, error)
	// Insert persists a new user and returns it with its assigned id.
	Insert(ctx context.Context, name, email string) (User, error)
	// UpdateByID returns ErrNotFound when no row was affected.
	UpdateByID(ctx context.Context, id int64, name, email string) (User, error)
	// DeleteByID returns ErrNotFound when no row was affected.
	DeleteByID(ctx context.Context, id int64) error
}

// Router turns each command envelope into exactly one event.
type Router struct {
	store UserStore
}

func NewRouter(store UserStore) *Router {
	if store == nil {
		panic("domain.NewRouter: store is nil")
	}
	return &Router{store: store}
}

// Dispatch executes cmd against the store. It never returns an error: every
// precondition failure and store fault is reported as an ErrorEvent.
func (r *Router) Dispatch(ctx context.Context, cmd Command) (ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(log.Fields{"command": cmd.Type, "panic": rec}).Error("command handler panicked")
			ev = ErrorEvent{Message: fmt.Sprintf("internal error handling %s", cmd.Type), Code: CodeInternal}
		}
	}()

	switch cmd.Type {
	case GetAllUsers:
		return r.getAll(ctx)
	case GetUser:
		return r.get(ctx, cmd)
	case CreateUser:
		return r.create(ctx, cmd)
	case UpdateUser:
		return r.update(ctx, cmd)
	case DeleteUser:
		return r.delete(ctx, cmd)
	default:
		return ErrorEvent{Message: fmt.Sprintf("unknown command type: %s", cmd.Type), Code: CodeBadRequest}
	}
}

func (r *Router) getAll(ctx context.Context) Event {
	users, err := r.store.ListAll(ctx)
	if err != nil {
		return storeFault("failed to fetch users", GetAllUsers, err)
	}
	if users == nil {
		users = []User{}
	}
	return UserList{Users: users}
}

func (r *Router) get(ctx context.Context, cmd Command) Event {
	var data UserIDData
	if err := cmd.Bind(&data); err != nil {
		return malformedPayload(cmd.Type, "id must be an integer", err)
	}
	if data.ID == nil {
		return invalidPayload(cmd.Type, errors.New("id is required"))
	}
	user, err := r.store.GetByID(ctx, *data.ID)
	if err != nil {
		return storeFault("failed to fetch user", cmd.Type, err)
	}
	if user == nil {
		return notFound(*data.ID)
	}
	return UserFetched{User: *user}
}

func (r *Router) create(ctx context.Context, cmd Command) Event {
	var data UserData
	if err := cmd.Bind(&data); err != nil {
		return malformedPayload(cmd.Type, "name and email must be strings", err)
	}
	if data.Name == nil || data.Email == nil {
		return invalidPayload(cmd.Type, errors.New("name and email are required"))
	}
	user, err := r.store.Insert(ctx, *data.Name, *data.Email)
	if err != nil {
		return storeFault("failed to create user", cmd.Type, err)
	}
	return UserCreated{User: user}
}

func (r *Router) update(ctx context.Context, cmd Command) Event {
	var data UpdateUserData
	if err := cmd.Bind(&data); err != nil {
		return malformedPayload(cmd.Type, "id must be an integer and user an object of name and email strings", err)
	}
	if data.ID == nil {
		return invalidPayload(cmd.Type, errors.New("id is required"))
	}
	if data.User == nil || data.User.Name == nil || data.User.Email == nil {
		return invalidPayload(cmd.Type, errors.New("user name and email are required"))
	}
	id := *data.ID

	existing, err := r.store.GetByID(ctx, id)
	if err != nil {
		return storeFault("failed to update user", cmd.Type, err)
	}
	if existing == nil {
		return notFound(id)
	}

	user, err := r.store.UpdateByID(ctx, id, *data.User.Name, *data.User.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(id)
		}
		return storeFault("failed to update user", cmd.Type, err)
	}
	return UserUpdated{User: user}
}

func (r *Router) delete(ctx context.Context, cmd Command) Event {
	var data UserIDData
	if err := cmd.Bind(&data); err != nil {
		return malformedPayload(cmd.Type, "id must be an integer", err)
	}
	if data.ID == nil {
		return invalidPayload(cmd.Type, errors.New("id is required"))
	}
	id := *data.ID

	existing, err := r.store.GetByID(ctx, id)
	if err != nil {
		return storeFault("failed to delete user", cmd.Type, err)
	}
	if existing == nil {
		return notFound(id)
	}

	if err := r.store.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound(id)
		}
		return storeFault("failed to delete user", cmd.Type, err)
	}
	return UserDeleted{UserID: id}
}

func notFound(id int64) ErrorEvent {
	return ErrorEvent{Message: fmt.Sprintf("User not found with id: %d", id), Code: CodeNotFound}
}

func invalidPayload(t CommandType, err error) ErrorEvent {
	return ErrorEvent{Message: fmt.Sprintf("invalid %s payload: %v", t, err), Code: CodeBadRequest}
}

// malformedPayload reports a payload the decoder rejected. The decoder's
// diagnostic echoes the raw payload, so it is logged rather than broadcast.
func malformedPayload(t CommandType, shape string, err error) ErrorEvent {
	log.WithError(err).WithField("command", t).Debug("payload rejected by decoder")
	return invalidPayload(t, errors.New(shape))
}

func storeFault(msg string, t CommandType, err error) ErrorEvent {
	log.WithError(err).WithField("command", t).Error(msg)
	return ErrorEvent{Message: fmt.Sprintf("%s: %v", msg, err), Code: CodeInternal}
}
