package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// CommandType is the discriminant of an inbound command envelope.
type CommandType string

const (
	GetAllUsers CommandType = "users.getAll"
	GetUser     CommandType = "users.get"
	CreateUser  CommandType = "users.create"
	UpdateUser  CommandType = "users.update"
	DeleteUser  CommandType = "users.delete"
)

// Command is the envelope a client sends to request a query or a mutation.
type Command struct {
	Type CommandType            `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// UserIDData is the payload of users.get and users.delete.
type UserIDData struct {
	ID *int64 `json:"id"`
}

// UserData is the payload of users.create and the nested user of users.update.
type UserData struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

// UpdateUserData is the payload of users.update.
type UpdateUserData struct {
	ID   *int64    `json:"id"`
	User *UserData `json:"user"`
}

// NewCommand builds an envelope of type t with data marshalled as its payload.
// A nil data produces an envelope without payload.
func NewCommand(t CommandType, data any) (Command, error) {
	cmd := Command{Type: t}
	if data == nil {
		return cmd, nil
	}
	raw, err := sonic.ConfigStd.Marshal(data)
	if err != nil {
		return Command{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	cmd.Data = raw
	return cmd, nil
}

// DecodeCommand parses a single inbound frame.
func DecodeCommand(frame []byte) (Command, error) {
	var cmd Command
	if err := sonic.ConfigStd.Unmarshal(frame, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("%w: missing type", ErrInvalidCommand)
	}
	return cmd, nil
}

// EncodeCommand serialises cmd for the wire.
func EncodeCommand(cmd Command) ([]byte, error) {
	return sonic.ConfigStd.Marshal(cmd)
}

// Bind decodes the payload into v. An absent payload leaves v untouched.
func (c Command) Bind(v any) error {
	if len(c.Data) == 0 || string(c.Data) == "null" {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(c.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}

func strPtr(s string) *string { return &s }

// NewUserData is a convenience for building create/update payloads.
func NewUserData(name, email string) *UserData {
	return &UserData{Name: strPtr(name), Email: strPtr(email)}
}
