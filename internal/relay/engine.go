// Package relay moves messages between private chats and the lobby. Outbound
// messages carry a random tag; replies to them in the lobby are routed back
// to the user the tag was issued for.
package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/approval"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/events"
	"github.com/KafClaw/communa/internal/forward"
	"github.com/KafClaw/communa/internal/identity"
)

// Replies sent by the engine.
const (
	MsgUnsupported      = "This message type cannot be relayed. Send text, a photo, a video, an animation or a document."
	MsgBlocked          = "The bot will not relay your messages."
	MsgWaitListed       = "Hi, you have been added to the wait list."
	MsgNoLobby          = "The lobby chat is not configured yet. Please try again later."
	MsgSent             = "Sent to the group."
	MsgSendFailed       = "Could not relay the message. Please tell the administrator."
	MsgTagNotFound      = "Tag not found (the bot may have been restarted)."
	MsgReplyUnsupported = "This reply type cannot be delivered back."
	MsgDeliverFailed    = "Could not deliver the message to the user."
)

// Outcome reports what a relay call did.
type Outcome int

const (
	Ignored Outcome = iota
	Sent
	Delivered
	Rejected
	WaitListed
	Unsupported
	NoLobby
	UnknownTag
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case WaitListed:
		return "wait_listed"
	case Unsupported:
		return "unsupported"
	case NoLobby:
		return "no_lobby"
	case UnknownTag:
		return "unknown_tag"
	case Failed:
		return "failed"
	default:
		return "ignored"
	}
}

// Transport sends a payload to a chat.
type Transport interface {
	Send(ctx context.Context, chatID int64, p bus.Payload, opts bus.SendOptions) (bus.MessageRef, error)
}

// LobbyLocator reports the current lobby chat, 0 when none is registered.
type LobbyLocator interface {
	Current(ctx context.Context) (int64, error)
}

// Engine implements both relay directions.
type Engine struct {
	access    *access.Store
	index     *forward.Index
	lobby     LobbyLocator
	transport Transport
	events    events.Publisher
	self      bus.User
	newTag    func() (string, error)
}

// NewEngine wires the engine. self is the bot account, used to recognise
// replies to the bot's own messages; pub may be nil.
func NewEngine(acl *access.Store, index *forward.Index, lobby LobbyLocator, transport Transport, self bus.User, pub events.Publisher) *Engine {
	return &Engine{
		access:    acl,
		index:     index,
		lobby:     lobby,
		transport: transport,
		events:    pub,
		self:      self,
		newTag:    NewTag,
	}
}

// RequestAccess puts the user on the wait list and asks the lobby to decide.
// A user already in a list is left where they are and no prompt is sent.
func (e *Engine) RequestAccess(ctx context.Context, user bus.User) (access.Status, error) {
	prior, err := e.access.Enqueue(ctx, user.ID)
	if err != nil {
		return prior, err
	}
	if prior == access.Approved || prior == access.Blocked {
		return prior, nil
	}
	lobbyID, err := e.lobby.Current(ctx)
	if err != nil {
		return prior, err
	}
	if lobbyID == 0 {
		slog.Warn("Relay: no lobby to ask about user", "user", identity.User(user))
		return prior, nil
	}
	prompt := bus.Text{Body: fmt.Sprintf("User %s wants to send messages. Allow?", identity.User(user))}
	if _, err := e.transport.Send(ctx, lobbyID, prompt, bus.SendOptions{Keyboard: approval.Keyboard(approval.KindAllowUser, user.ID)}); err != nil {
		slog.Warn("Relay: access prompt failed", "user_id", user.ID, "lobby", lobbyID, "error", err)
	}
	return prior, nil
}

// RelayPrivateMessage forwards a private message to the lobby if the sender
// is approved. The sender always gets a reply.
func (e *Engine) RelayPrivateMessage(ctx context.Context, msg *bus.Message) (Outcome, error) {
	if msg == nil || msg.From == nil {
		return Ignored, nil
	}
	sender := *msg.From
	if msg.Payload == nil {
		e.answer(ctx, msg.Chat.ID, MsgUnsupported)
		return Unsupported, nil
	}

	status, err := e.access.Resolve(ctx, sender.ID)
	if err != nil {
		return Failed, err
	}
	switch status {
	case access.Blocked:
		e.answer(ctx, msg.Chat.ID, MsgBlocked)
		return Rejected, nil
	case access.Unknown, access.Waiting:
		if _, err := e.RequestAccess(ctx, sender); err != nil {
			return Failed, err
		}
		e.answer(ctx, msg.Chat.ID, MsgWaitListed)
		return WaitListed, nil
	}

	lobbyID, err := e.lobby.Current(ctx)
	if err != nil {
		return Failed, err
	}
	if lobbyID == 0 {
		e.answer(ctx, msg.Chat.ID, MsgNoLobby)
		return NoLobby, nil
	}

	tag, err := e.freshTag()
	if err != nil {
		return Failed, err
	}
	tagged, err := bus.WithCaption(msg.Payload, AppendTag(msg.Payload.CaptionText(), tag))
	if err != nil {
		e.answer(ctx, msg.Chat.ID, MsgUnsupported)
		return Unsupported, nil
	}
	ref, err := e.transport.Send(ctx, lobbyID, tagged, bus.SendOptions{})
	if err != nil {
		slog.Warn("Relay: forward to lobby failed", "from", identity.User(sender), "lobby", lobbyID, "error", err)
		e.answer(ctx, msg.Chat.ID, MsgSendFailed)
		return Failed, nil
	}
	rec := forward.Record{Tag: tag, UserID: sender.ID, GroupMessageID: ref.MessageID}
	if err := e.index.Put(rec); err != nil {
		// freshTag checked the index; only a concurrent writer can get here.
		slog.Error("Relay: tag collision after send", "tag", tag, "error", err)
	}
	slog.Info("Relay: forwarded", "from", identity.User(sender), "kind", msg.Kind(), "tag", tag, "group_message_id", ref.MessageID)
	events.Emit(ctx, e.events, events.Event{Type: events.TypeRelayed, UserID: sender.ID, ChatID: lobbyID, Tag: tag})
	e.answer(ctx, msg.Chat.ID, MsgSent)
	return Sent, nil
}

// RelayGroupReply delivers a lobby reply to the user whose tagged message
// was replied to. Replies to anything but a tagged bot message are ignored,
// as are replies to a bot message the tag was not issued for.
func (e *Engine) RelayGroupReply(ctx context.Context, reply *bus.Message) (Outcome, error) {
	if reply == nil || reply.ReplyTo == nil || !e.isSelf(reply.ReplyTo.From) {
		return Ignored, nil
	}
	tag, ok := ExtractTag(reply.ReplyTo.Text())
	if !ok {
		return Ignored, nil
	}
	rec, ok := e.index.Get(tag)
	if !ok {
		e.notice(ctx, reply, MsgTagNotFound)
		return UnknownTag, nil
	}
	if rec.GroupMessageID != 0 && rec.GroupMessageID != reply.ReplyTo.ID {
		// The tag was quoted in some other bot message, e.g. a user's name
		// inside an access prompt.
		slog.Debug("Relay: tag on a message it was not issued for", "tag", tag, "message_id", reply.ReplyTo.ID, "issued_for", rec.GroupMessageID)
		return Ignored, nil
	}

	payload, err := deliverable(reply.Payload)
	if err != nil {
		e.notice(ctx, reply, MsgReplyUnsupported)
		return Unsupported, nil
	}
	if _, err := e.transport.Send(ctx, rec.UserID, payload, bus.SendOptions{}); err != nil {
		slog.Warn("Relay: delivery to user failed", "user_id", rec.UserID, "tag", tag, "error", err)
		e.notice(ctx, reply, MsgDeliverFailed)
		return Failed, nil
	}
	slog.Info("Relay: delivered", "user_id", rec.UserID, "kind", reply.Kind(), "tag", tag)
	events.Emit(ctx, e.events, events.Event{Type: events.TypeDelivered, UserID: rec.UserID, ChatID: reply.Chat.ID, Tag: tag})
	return Delivered, nil
}

func (e *Engine) isSelf(u *bus.User) bool {
	if u == nil || !u.IsBot {
		return false
	}
	return e.self.ID == 0 || u.ID == e.self.ID
}

// freshTag draws tags until one is not in the index.
func (e *Engine) freshTag() (string, error) {
	for {
		tag, err := e.newTag()
		if err != nil {
			return "", err
		}
		if !e.index.Has(tag) {
			return tag, nil
		}
	}
}

func deliverable(p bus.Payload) (bus.Payload, error) {
	switch v := p.(type) {
	case bus.Text, bus.Photo, bus.Video, bus.Animation, bus.Document:
		return v, nil
	default:
		return nil, bus.ErrUnsupportedContent
	}
}

func (e *Engine) answer(ctx context.Context, chatID int64, text string) {
	if _, err := e.transport.Send(ctx, chatID, bus.Text{Body: text}, bus.SendOptions{}); err != nil {
		slog.Warn("Relay: reply failed", "chat_id", chatID, "error", err)
	}
}

func (e *Engine) notice(ctx context.Context, in *bus.Message, text string) {
	if _, err := e.transport.Send(ctx, in.Chat.ID, bus.Text{Body: text}, bus.SendOptions{ReplyTo: in.ID}); err != nil {
		slog.Warn("Relay: group notice failed", "chat_id", in.Chat.ID, "error", err)
	}
}
