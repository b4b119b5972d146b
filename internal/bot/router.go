// Package bot dispatches inbound updates to the relay, the lobby protocol and
// the admin commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/admin"
	"github.com/KafClaw/communa/internal/approval"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/identity"
	"github.com/KafClaw/communa/internal/lobby"
	"github.com/KafClaw/communa/internal/relay"
)

const (
	MsgWelcomeApproved = "Send me a message and I will forward it to the lobby chat."
	MsgAdminOnly       = "This command is only available to the bot administrator."
	MsgInternalError   = "Internal error. Please try again later."
	MsgAccessGranted   = "Access granted. Your messages will be forwarded to the lobby."
	MsgAccessDenied    = "Access denied."
)

// Transport is the platform surface the router needs.
type Transport interface {
	Send(ctx context.Context, chatID int64, p bus.Payload, opts bus.SendOptions) (bus.MessageRef, error)
	EditKeyboard(ctx context.Context, ref bus.MessageRef, kb bus.Keyboard) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Router routes one update at a time. It is safe for concurrent use.
type Router struct {
	access    *access.Store
	lobby     *lobby.Registry
	protocol  *lobby.Protocol
	relay     *relay.Engine
	commands  *admin.Commands
	transport Transport
}

func NewRouter(acl *access.Store, registry *lobby.Registry, protocol *lobby.Protocol, engine *relay.Engine, commands *admin.Commands, transport Transport) *Router {
	return &Router{
		access:    acl,
		lobby:     registry,
		protocol:  protocol,
		relay:     engine,
		commands:  commands,
		transport: transport,
	}
}

// Handle processes a single update.
func (r *Router) Handle(ctx context.Context, u *bus.Update) error {
	switch {
	case u == nil:
		return nil
	case u.Callback != nil:
		return r.handleCallback(ctx, u.Callback)
	case u.Message != nil:
		return r.handleMessage(ctx, u.Message)
	}
	return nil
}

func (r *Router) handleMessage(ctx context.Context, msg *bus.Message) error {
	if msg.From != nil && msg.From.IsBot {
		return nil
	}
	if msg.Chat.Type == bus.ChatPrivate {
		return r.handlePrivate(ctx, msg)
	}
	if !msg.Chat.Type.IsGroup() {
		slog.Debug("Router: ignoring chat type", "chat", identity.Chat(msg.Chat))
		return nil
	}

	lobbyID, err := r.lobby.Current(ctx)
	if err != nil {
		return err
	}
	name, _, isCommand := msg.Command()
	if isCommand && name == "start" {
		proposal, err := r.protocol.HandleRegister(ctx, msg.Chat)
		if err != nil {
			return err
		}
		slog.Info("Router: /start in group", "chat", identity.Chat(msg.Chat), "result", proposal.String())
		return nil
	}
	if cmd, ok := admin.Parse(msg.Text()); ok {
		if msg.Chat.ID == lobbyID || (msg.From != nil && r.commands.IsAdmin(msg.From.ID, msg.Chat.ID)) {
			return r.runCommand(ctx, msg, cmd)
		}
	}
	if msg.Chat.ID != lobbyID {
		slog.Debug("Router: unhandled group message", "message", identity.Message(msg))
		return nil
	}
	if msg.ReplyTo != nil {
		out, err := r.relay.RelayGroupReply(ctx, msg)
		if err != nil {
			return err
		}
		if out != relay.Ignored {
			return nil
		}
	}
	slog.Debug("Router: unhandled lobby message", "message", identity.Message(msg))
	return nil
}

func (r *Router) handlePrivate(ctx context.Context, msg *bus.Message) error {
	if msg.From == nil {
		slog.Warn("Router: private message without sender", "message", identity.Message(msg))
		return nil
	}
	if name, _, ok := msg.Command(); ok && name == "start" {
		return r.start(ctx, msg)
	}
	if cmd, ok := admin.Parse(msg.Text()); ok && r.commands.IsAdmin(msg.From.ID, msg.Chat.ID) {
		return r.runCommand(ctx, msg, cmd)
	}
	out, err := r.relay.RelayPrivateMessage(ctx, msg)
	if err != nil {
		return err
	}
	slog.Debug("Router: private message", "from", identity.User(*msg.From), "outcome", out.String())
	return nil
}

func (r *Router) start(ctx context.Context, msg *bus.Message) error {
	user := *msg.From
	slog.Info("Router: /start", "user", identity.User(user))
	status, err := r.access.Resolve(ctx, user.ID)
	if err != nil {
		return err
	}
	switch status {
	case access.Approved:
		return r.reply(ctx, msg.Chat.ID, 0, MsgWelcomeApproved)
	case access.Blocked:
		return r.reply(ctx, msg.Chat.ID, 0, relay.MsgBlocked)
	}
	if _, err := r.relay.RequestAccess(ctx, user); err != nil {
		return err
	}
	return r.reply(ctx, msg.Chat.ID, 0, relay.MsgWaitListed)
}

func (r *Router) runCommand(ctx context.Context, msg *bus.Message, cmd admin.Command) error {
	inv := admin.Invocation{Command: cmd, Chat: msg.Chat}
	if msg.From != nil {
		inv.From = *msg.From
	}
	text, err := r.commands.Execute(ctx, inv)
	if errors.Is(err, admin.ErrForbidden) {
		text, err = MsgAdminOnly, nil
	}
	if err != nil {
		return fmt.Errorf("command /%s: %w", cmd.Name, err)
	}
	return r.reply(ctx, msg.Chat.ID, msg.ID, text)
}

func (r *Router) handleCallback(ctx context.Context, cb *bus.Callback) error {
	answer := ""
	defer func() {
		if err := r.transport.AnswerCallback(ctx, cb.ID, answer); err != nil {
			slog.Warn("Router: answering callback failed", "callback_id", cb.ID, "error", err)
		}
	}()

	d, err := approval.Decode(cb.Data)
	if err != nil {
		slog.Warn("Router: unknown callback", "data", cb.Data, "from", identity.User(cb.From))
		answer = "Unknown action"
		return nil
	}
	switch d.Kind {
	case approval.KindLobbyChange:
		answer, err = r.protocol.HandleAnswer(ctx, cb, d)
		return err
	case approval.KindAllowUser:
		answer, err = r.answerAllowUser(ctx, cb, d)
		return err
	}
	return nil
}

func (r *Router) answerAllowUser(ctx context.Context, cb *bus.Callback, d approval.Decision) (string, error) {
	lobbyID, err := r.lobby.Current(ctx)
	if err != nil {
		return "", err
	}
	inLobby := cb.Message != nil && cb.Message.Chat.ID == lobbyID
	if !inLobby && !r.commands.IsAdmin(cb.From.ID, 0) {
		return lobby.MsgOutdated, nil
	}
	defer r.clearControls(ctx, cb)

	slog.Info("Router: access decision", "user_id", d.Subject, "approved", d.Approved, "by", identity.User(cb.From))
	if !d.Approved {
		if _, err := r.access.Block(ctx, d.Subject); err != nil {
			return "", err
		}
		r.notify(ctx, d.Subject, MsgAccessDenied)
		return "Blocked", nil
	}

	_, err = r.access.Approve(ctx, d.Subject)
	switch {
	case errors.Is(err, access.ErrAlreadyApproved):
		return "Already approved", nil
	case errors.Is(err, access.ErrUnknownUser):
		return "User is no longer waiting", nil
	case err != nil:
		return "", err
	}
	r.notify(ctx, d.Subject, MsgAccessGranted)
	return "Approved", nil
}

func (r *Router) clearControls(ctx context.Context, cb *bus.Callback) {
	if cb.Message == nil {
		return
	}
	ref := bus.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.ID}
	if err := r.transport.EditKeyboard(ctx, ref, nil); err != nil {
		slog.Warn("Router: clearing prompt failed", "chat_id", ref.ChatID, "message_id", ref.MessageID, "error", err)
	}
}

func (r *Router) notify(ctx context.Context, userID int64, text string) {
	if _, err := r.transport.Send(ctx, userID, bus.Text{Body: text}, bus.SendOptions{}); err != nil {
		slog.Warn("Router: notifying user failed", "user_id", userID, "error", err)
	}
}

func (r *Router) reply(ctx context.Context, chatID, replyTo int64, text string) error {
	_, err := r.transport.Send(ctx, chatID, bus.Text{Body: text}, bus.SendOptions{ReplyTo: replyTo})
	return err
}

// apologize tells the update's chat that handling failed.
func (r *Router) apologize(ctx context.Context, u *bus.Update) {
	var chatID int64
	switch {
	case u.Message != nil:
		chatID = u.Message.Chat.ID
	case u.Callback != nil && u.Callback.Message != nil:
		chatID = u.Callback.Message.Chat.ID
	}
	if chatID == 0 {
		return
	}
	if err := r.reply(ctx, chatID, 0, MsgInternalError); err != nil {
		slog.Warn("Router: apology failed", "chat_id", chatID, "error", err)
	}
}
