package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// EventType is the discriminant carried in the "type" field of every outbound event.
type EventType string

const (
	UserListType    EventType = "USER_LIST"
	UserCreatedType EventType = "USER_CREATED"
	UserUpdatedType EventType = "USER_UPDATED"
	UserDeletedType EventType = "USER_DELETED"
	UserFetchedType EventType = "GET_USER"
	ErrorType       EventType = "ERROR"
)

// Event is the closed set of notifications the router can produce:
// UserList, UserCreated, UserUpdated, UserDeleted, UserFetched and ErrorEvent.
// Events are values and are never modified after construction.
type Event interface {
	Type() EventType
	sealed()
}

type UserList struct {
	Users []User
}

type UserCreated struct {
	User User
}

type UserUpdated struct {
	User User
}

type UserDeleted struct {
	UserID int64
}

type UserFetched struct {
	User User
}

// ErrorEvent reports a failed command. Code is 400, 404 or 500.
type ErrorEvent struct {
	Message string
	Code    int
}

func (UserList) Type() EventType    { return UserListType }
func (UserCreated) Type() EventType { return UserCreatedType }
func (UserUpdated) Type() EventType { return UserUpdatedType }
func (UserDeleted) Type() EventType { return UserDeletedType }
func (UserFetched) Type() EventType { return UserFetchedType }
func (ErrorEvent) Type() EventType  { return ErrorType }

func (UserList) sealed()    {}
func (UserCreated) sealed() {}
func (UserUpdated) sealed() {}
func (UserDeleted) sealed() {}
func (UserFetched) sealed() {}
func (ErrorEvent) sealed()  {}

type userListWire struct {
	Type  EventType `json:"type"`
	Users []User    `json:"users"`
}

type userWire struct {
	Type EventType `json:"type"`
	User User      `json:"user"`
}

type userDeletedWire struct {
	Type   EventType `json:"type"`
	UserID *int64    `json:"userId"`
}

type errorWire struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	Code    *int      `json:"code"`
}

// EncodeEvent serialises ev with its discriminant.
func EncodeEvent(ev Event) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case UserList:
		users := e.Users
		if users == nil {
			users = []User{}
		}
		v = userListWire{Type: UserListType, Users: users}
	case UserCreated:
		v = userWire{Type: UserCreatedType, User: e.User}
	case UserUpdated:
		v = userWire{Type: UserUpdatedType, User: e.User}
	case UserFetched:
		v = userWire{Type: UserFetchedType, User: e.User}
	case UserDeleted:
		v = userDeletedWire{Type: UserDeletedType, UserID: &e.UserID}
	case ErrorEvent:
		v = errorWire{Type: ErrorType, Message: e.Message, Code: &e.Code}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, ev)
	}
	return sonic.ConfigStd.Marshal(v)
}

// DecodeEvent reconstructs a typed event from a frame, switching on its discriminant.
// Unrecognised discriminants yield an error wrapping ErrUnknownEventType.
func DecodeEvent(frame []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := sonic.ConfigStd.Unmarshal(frame, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch head.Type {
	case UserListType:
		var w userListWire
		if err := sonic.ConfigStd.Unmarshal(frame, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		if w.Users == nil {
			w.Users = []User{}
		}
		return UserList{Users: w.Users}, nil
	case UserCreatedType, UserUpdatedType, UserFetchedType:
		var w userWire
		if err := sonic.ConfigStd.Unmarshal(frame, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		if w.User.ID == nil {
			return nil, fmt.Errorf("decode %s: user without id", head.Type)
		}
		switch head.Type {
		case UserCreatedType:
			return UserCreated{User: w.User}, nil
		case UserUpdatedType:
			return UserUpdated{User: w.User}, nil
		default:
			return UserFetched{User: w.User}, nil
		}
	case UserDeletedType:
		var w userDeletedWire
		if err := sonic.ConfigStd.Unmarshal(frame, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		if w.UserID == nil {
			return nil, fmt.Errorf("decode %s: missing userId", head.Type)
		}
		return UserDeleted{UserID: *w.UserID}, nil
	case ErrorType:
		var w errorWire
		if err := sonic.ConfigStd.Unmarshal(frame, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", head.Type, err)
		}
		if w.Code == nil {
			return nil, fmt.Errorf("decode %s: missing code", head.Type)
		}
		return ErrorEvent{Message: w.Message, Code: *w.Code}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, head.Type)
	}
}
