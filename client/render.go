package client

import (
	"fmt"
	"strings"

	"event-api/domain"
)

// Render formats ev as a human readable line, or a block for user lists.
func Render(ev domain.Event) string {
	switch e := ev.(type) {
	case domain.UserList:
		var b strings.Builder
		b.WriteString("=== Users ===\n")
		for _, u := range e.Users {
			b.WriteString(formatUser(u))
			b.WriteByte('\n')
		}
		b.WriteString("============")
		return b.String()
	case domain.UserCreated:
		return "User created: " + nameAndEmail(e.User)
	case domain.UserUpdated:
		return "User updated: " + nameAndEmail(e.User)
	case domain.UserFetched:
		return "User details: " + formatUser(e.User)
	case domain.UserDeleted:
		return fmt.Sprintf("User deleted: ID %d", e.UserID)
	case domain.ErrorEvent:
		return fmt.Sprintf("Error (%d): %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("Unknown event type: %T", ev)
	}
}

func nameAndEmail(u domain.User) string {
	return fmt.Sprintf("%s (%s)", u.Name, u.Email)
}

func formatUser(u domain.User) string {
	return fmt.Sprintf("%d: %s", u.IDValue(), nameAndEmail(u))
}
