// Package admin implements the chat commands used to manage the lobby and
// the access lists.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/identity"
	"github.com/KafClaw/communa/internal/lobby"
)

// ErrForbidden is returned when the invoker may not run the command here.
var ErrForbidden = errors.New("command not permitted")

const lookupConcurrency = 8

// Scope says where a command may run.
type Scope int

const (
	// LobbyOrAdmin commands run inside the lobby or when sent by the admin.
	LobbyOrAdmin Scope = iota
	// AdminOnly commands need the admin.
	AdminOnly
)

var scopes = map[string]Scope{
	"help":      LobbyOrAdmin,
	"allow":     LobbyOrAdmin,
	"block":     LobbyOrAdmin,
	"forget":    LobbyOrAdmin,
	"whitelist": LobbyOrAdmin,
	"blacklist": LobbyOrAdmin,
	"waitlist":  LobbyOrAdmin,
	"status":    AdminOnly,
	"lobby":     AdminOnly,
}

const helpText = `This bot relays messages sent to it privately into the lobby chat (this one).
Reply to a relayed message to answer its sender.

Commands:
/start - register with the bot (private) or propose a group as the lobby
/help - this message
/whitelist - users allowed to send messages
/waitlist - users waiting for approval
/blacklist - blocked users
/allow <user_id> - allow a user to send messages
/block <user_id> - block a user
/forget <user_id> - remove a user from every list

Admin only:
/status - lobby and list summary
/lobby <chat_id> - set the lobby chat

user_id is the first number shown in the user lists.`

// Command is a parsed chat command.
type Command struct {
	Name string
	Args []string
}

// Parse recognises the commands this package handles.
func Parse(text string) (Command, bool) {
	name, args, ok := bus.ParseCommand(text)
	if !ok {
		return Command{}, false
	}
	if _, known := scopes[name]; !known {
		return Command{}, false
	}
	return Command{Name: name, Args: args}, true
}

// Invocation is a command together with where and by whom it was sent.
type Invocation struct {
	Command
	Chat bus.Chat
	From bus.User
}

// UserResolver looks up display details for a user id.
type UserResolver interface {
	ResolveUser(ctx context.Context, id int64) (bus.User, error)
}

// Sizer reports how many entries a structure holds.
type Sizer interface {
	Len() int
}

// Commands executes chat commands.
type Commands struct {
	access  *access.Store
	lobby   *lobby.Registry
	index   Sizer
	users   UserResolver
	adminID int64
}

func New(acl *access.Store, registry *lobby.Registry, index Sizer, users UserResolver, adminID int64) *Commands {
	return &Commands{access: acl, lobby: registry, index: index, users: users, adminID: adminID}
}

// IsAdmin reports whether the user or chat is the admin.
func (c *Commands) IsAdmin(userID, chatID int64) bool {
	return c.adminID != 0 && (userID == c.adminID || chatID == c.adminID)
}

// Execute runs a command and returns the reply text.
func (c *Commands) Execute(ctx context.Context, inv Invocation) (string, error) {
	scope, ok := scopes[inv.Name]
	if !ok {
		return "", fmt.Errorf("unknown command %q", inv.Name)
	}
	if err := c.authorize(ctx, inv, scope); err != nil {
		return "", err
	}
	slog.Info("Admin: command", "name", inv.Name, "args", inv.Args, "from", identity.User(inv.From), "chat_id", inv.Chat.ID)

	switch inv.Name {
	case "help":
		return helpText, nil
	case "status":
		return c.status(ctx)
	case "lobby":
		return c.setLobby(ctx, inv.Args)
	case "whitelist":
		return c.list(ctx, access.Approved, "Users on the white list:")
	case "blacklist":
		return c.list(ctx, access.Blocked, "Users on the black list:")
	case "waitlist":
		return c.list(ctx, access.Waiting, "Users on the wait list:")
	}

	id, usage := userArg(inv.Name, inv.Args)
	if usage != "" {
		return usage, nil
	}
	who := c.describe(ctx, id)
	switch inv.Name {
	case "allow":
		_, err := c.access.Approve(ctx, id)
		switch {
		case errors.Is(err, access.ErrAlreadyApproved):
			return fmt.Sprintf("User %s was already approved.", who), nil
		case errors.Is(err, access.ErrUnknownUser):
			return fmt.Sprintf("Unknown user %s. They have to send /start to the bot first.", who), nil
		case err != nil:
			return "", err
		}
		return fmt.Sprintf("User %s approved.", who), nil
	case "block":
		if _, err := c.access.Block(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %s blocked. Their messages will not be relayed.", who), nil
	default: // forget
		if _, err := c.access.Forget(ctx, id); err != nil {
			return "", err
		}
		return fmt.Sprintf("User %s removed from all lists.", who), nil
	}
}

func (c *Commands) authorize(ctx context.Context, inv Invocation, scope Scope) error {
	if c.IsAdmin(inv.From.ID, inv.Chat.ID) {
		return nil
	}
	if scope == AdminOnly {
		return ErrForbidden
	}
	current, err := c.lobby.Current(ctx)
	if err != nil {
		return err
	}
	if current == 0 || inv.Chat.ID != current {
		return ErrForbidden
	}
	return nil
}

func userArg(name string, args []string) (int64, string) {
	usage := fmt.Sprintf("Usage: /%s <user_id>", name)
	if len(args) != 1 {
		return 0, usage
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id == 0 {
		return 0, "Invalid user id. " + usage
	}
	return id, ""
}

func (c *Commands) setLobby(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: /lobby <chat_id>", nil
	}
	chatID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || chatID == 0 {
		return "Invalid chat id. Usage: /lobby <chat_id>", nil
	}
	if err := c.lobby.Set(ctx, chatID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Lobby set to %d.", chatID), nil
}

func (c *Commands) status(ctx context.Context) (string, error) {
	st, err := c.lobby.State(ctx)
	if err != nil {
		return "", err
	}
	counts, err := c.access.Counts(ctx)
	if err != nil {
		return "", err
	}
	pending := "none"
	if p := st.Pending(); p != 0 {
		pending = strconv.FormatInt(p, 10)
	}
	current := "not configured"
	if st.ChatID != 0 {
		current = strconv.FormatInt(st.ChatID, 10)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Lobby: %s\n", current)
	fmt.Fprintf(&b, "Pending lobby: %s\n", pending)
	fmt.Fprintf(&b, "Wait list: %d\n", counts.Wait)
	fmt.Fprintf(&b, "White list: %d\n", counts.White)
	fmt.Fprintf(&b, "Black list: %d\n", counts.Black)
	fmt.Fprintf(&b, "Forwarded messages tracked: %d", c.index.Len())
	return b.String(), nil
}

func (c *Commands) list(ctx context.Context, status access.Status, title string) (string, error) {
	ids, err := c.access.List(ctx, status)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return title + "\n(empty)", nil
	}
	names := make([]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			names[i] = c.describe(gctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return title + "\n - " + strings.Join(names, "\n - "), nil
}

// describe renders a user, falling back to the bare id when lookup fails.
func (c *Commands) describe(ctx context.Context, id int64) string {
	if c.users == nil {
		return identity.UserID(id)
	}
	u, err := c.users.ResolveUser(ctx, id)
	if err != nil {
		slog.Warn("Admin: user lookup failed", "user_id", id, "error", err)
		return identity.UserID(id)
	}
	return identity.User(u)
}
