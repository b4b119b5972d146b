// Package identity renders users and chats for logs and lobby messages.
package identity

import (
	"fmt"
	"strings"

	"github.com/KafClaw/communa/internal/bus"
)

// User renders a user as <User: `id`, @username, Full Name>.
// Missing parts are omitted so the output stays stable for a given account.
func User(u bus.User) string {
	parts := []string{fmt.Sprintf("`%d`", u.ID)}
	if name := strings.TrimSpace(u.Username); name != "" {
		parts = append(parts, "@"+name)
	}
	if full := u.FullName(); full != "" {
		parts = append(parts, full)
	}
	return "<User: " + strings.Join(parts, ", ") + ">"
}

// UserID renders a user known only by id.
func UserID(id int64) string {
	return fmt.Sprintf("<User: `%d`>", id)
}

// Chat renders a chat as <Chat: id, type, title>.
func Chat(c bus.Chat) string {
	parts := []string{fmt.Sprintf("%d", c.ID)}
	if c.Type != "" {
		parts = append(parts, string(c.Type))
	}
	switch {
	case strings.TrimSpace(c.Title) != "":
		parts = append(parts, strings.TrimSpace(c.Title))
	case strings.TrimSpace(c.Username) != "":
		parts = append(parts, "@"+strings.TrimSpace(c.Username))
	}
	return "<Chat: " + strings.Join(parts, ", ") + ">"
}

// Message renders the chat and author of a message.
func Message(m *bus.Message) string {
	if m == nil {
		return "<Message: nil>"
	}
	from := "<User: unknown>"
	if m.From != nil {
		from = User(*m.From)
	}
	return fmt.Sprintf("<Message %d %s %s>", m.ID, Chat(m.Chat), from)
}
