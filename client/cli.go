package client

import (
	"strconv"
	"strings"

	"event-api/domain"
)

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSend
	ActionHelp
	ActionExit
)

// Action is what a single CLI line asks for.
type Action struct {
	Kind    ActionKind
	Command domain.CommandType
	Payload any
}

const HelpText = `Available commands:
- list : List all users
- get [id] : Get user by ID
- create [name] [email] : Create a new user
- update [id] [name] [email] : Update a user
- delete [id] : Delete a user
- help : Show this help
- exit : Exit the program`

// ParseLine turns a CLI line into an Action. Input problems are reported as
// ValidationError and never produce a command.
func ParseLine(line string) (Action, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Action{Kind: ActionNone}, nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "list":
		return Action{Kind: ActionSend, Command: domain.GetAllUsers}, nil
	case "get", "delete":
		usage := "Usage: " + strings.ToLower(verb) + " [id]"
		if rest == "" {
			return Action{}, ValidationError{Message: usage}
		}
		id, err := parseID(rest)
		if err != nil {
			return Action{}, err
		}
		t := domain.GetUser
		if strings.ToLower(verb) == "delete" {
			t = domain.DeleteUser
		}
		return Action{Kind: ActionSend, Command: t, Payload: domain.UserIDData{ID: &id}}, nil
	case "create":
		name, email, _ := strings.Cut(rest, " ")
		email = strings.TrimSpace(email)
		if name == "" || email == "" {
			return Action{}, ValidationError{Message: "Usage: create [name] [email]"}
		}
		return Action{Kind: ActionSend, Command: domain.CreateUser, Payload: domain.NewUserData(name, email)}, nil
	case "update":
		parts := strings.SplitN(rest, " ", 3)
		if len(parts) < 3 || strings.TrimSpace(parts[2]) == "" {
			return Action{}, ValidationError{Message: "Usage: update [id] [name] [email]"}
		}
		id, err := parseID(parts[0])
		if err != nil {
			return Action{}, err
		}
		payload := domain.UpdateUserData{ID: &id, User: domain.NewUserData(parts[1], strings.TrimSpace(parts[2]))}
		return Action{Kind: ActionSend, Command: domain.UpdateUser, Payload: payload}, nil
	case "help":
		return Action{Kind: ActionHelp}, nil
	case "exit", "quit":
		return Action{Kind: ActionExit}, nil
	default:
		return Action{}, ValidationError{Message: "Unknown command: " + verb}
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ValidationError{Message: "Invalid ID format"}
	}
	return id, nil
}
