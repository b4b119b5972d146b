// Package approval encodes the yes/no inline prompts posted to the lobby and
// decodes the answers that come back as callback data.
package approval

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/KafClaw/communa/internal/bus"
)

// Prompt kinds.
const (
	KindAllowUser   = "allow_user"
	KindLobbyChange = "lobby_change"
)

// Prompts posted by earlier versions of the bot carried no subject.
const (
	legacyLobbyYes = "is_update_chat_yes"
	legacyLobbyNo  = "is_update_chat_no"
)

var ErrMalformed = errors.New("malformed callback data")

// Decision is one answer to a prompt. Subject is the user id for
// KindAllowUser and the proposed chat id for KindLobbyChange; zero means the
// prompt named no subject.
type Decision struct {
	Kind     string
	Subject  int64
	Approved bool
}

// Encode renders the callback data for a decision, "<kind>:<subject>:<yes|no>".
func Encode(d Decision) string {
	choice := "no"
	if d.Approved {
		choice = "yes"
	}
	return fmt.Sprintf("%s:%d:%s", d.Kind, d.Subject, choice)
}

// Decode parses callback data produced by Encode, plus the legacy lobby
// change answers.
func Decode(data string) (Decision, error) {
	switch data {
	case legacyLobbyYes:
		return Decision{Kind: KindLobbyChange, Approved: true}, nil
	case legacyLobbyNo:
		return Decision{Kind: KindLobbyChange}, nil
	}
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 {
		return Decision{}, ErrMalformed
	}
	switch parts[0] {
	case KindAllowUser, KindLobbyChange:
	default:
		return Decision{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, parts[0])
	}
	subject, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: subject %q", ErrMalformed, parts[1])
	}
	var approved bool
	switch parts[2] {
	case "yes":
		approved = true
	case "no":
	default:
		return Decision{}, fmt.Errorf("%w: choice %q", ErrMalformed, parts[2])
	}
	return Decision{Kind: parts[0], Subject: subject, Approved: approved}, nil
}

// Keyboard builds the [No] [Yes] row for a prompt.
func Keyboard(kind string, subject int64) bus.Keyboard {
	return bus.Keyboard{{
		{Text: "No", Data: Encode(Decision{Kind: kind, Subject: subject})},
		{Text: "Yes", Data: Encode(Decision{Kind: kind, Subject: subject, Approved: true})},
	}}
}
