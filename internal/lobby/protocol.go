package lobby

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KafClaw/communa/internal/approval"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/identity"
)

const (
	MsgAlreadyRegistered = "This chat is already registered as the lobby. /help shows the commands."
	MsgRegistered        = "Chat registered as the lobby. /help shows the commands."
	MsgOutdated          = "Prompt outdated"
)

// Transport is what the handshake needs from the platform.
type Transport interface {
	Send(ctx context.Context, chatID int64, p bus.Payload, opts bus.SendOptions) (bus.MessageRef, error)
	EditKeyboard(ctx context.Context, ref bus.MessageRef, kb bus.Keyboard) error
}

// Protocol runs the lobby change handshake in chat.
type Protocol struct {
	registry  *Registry
	transport Transport
}

func NewProtocol(registry *Registry, transport Transport) *Protocol {
	return &Protocol{registry: registry, transport: transport}
}

// HandleRegister reacts to /start in a group.
func (p *Protocol) HandleRegister(ctx context.Context, chat bus.Chat) (Proposal, error) {
	before, err := p.registry.State(ctx)
	if err != nil {
		return AlreadyRegistered, err
	}
	proposal, err := p.registry.Propose(ctx, chat.ID)
	if err != nil {
		return proposal, err
	}
	switch proposal {
	case AlreadyRegistered:
		p.say(ctx, chat.ID, MsgAlreadyRegistered, nil)
	case Registered:
		slog.Info("Lobby: registered", "chat", identity.Chat(chat))
		p.say(ctx, chat.ID, MsgRegistered, nil)
	case Pending:
		prompt := fmt.Sprintf("Confirm moving the lobby to %s?", identity.Chat(chat))
		p.say(ctx, before.ChatID, prompt, approval.Keyboard(approval.KindLobbyChange, chat.ID))
		p.say(ctx, chat.ID, fmt.Sprintf("Chat id: `%d`. The current lobby has to confirm the move. To send a message, write to the bot privately.", chat.ID), nil)
	}
	return proposal, nil
}

// HandleAnswer applies a lobby change decision and returns the text for the
// callback acknowledgement. The prompt's buttons are always removed.
func (p *Protocol) HandleAnswer(ctx context.Context, cb *bus.Callback, d approval.Decision) (string, error) {
	defer p.clear(ctx, cb)

	st, err := p.registry.State(ctx)
	if err != nil {
		return "", err
	}
	pending := st.Pending()
	if pending == 0 || (d.Subject != 0 && d.Subject != pending) || (cb.Message != nil && cb.Message.Chat.ID != st.ChatID) {
		return MsgOutdated, nil
	}
	who := identity.User(cb.From)

	if !d.Approved {
		change, err := p.registry.Reject(ctx)
		if err != nil {
			return "", err
		}
		p.say(ctx, change.From, fmt.Sprintf("Moving the lobby to chat %d was rejected by %s.", change.To, who), nil)
		return "Rejected", nil
	}

	change, err := p.registry.Confirm(ctx)
	if err != nil {
		return "", err
	}
	p.say(ctx, change.From, fmt.Sprintf("%s confirmed the move, the lobby is now %d.", who, change.To), nil)
	p.say(ctx, change.To, MsgRegistered, nil)
	return "Lobby changed", nil
}

func (p *Protocol) say(ctx context.Context, chatID int64, text string, kb bus.Keyboard) {
	if chatID == 0 {
		return
	}
	if _, err := p.transport.Send(ctx, chatID, bus.Text{Body: text}, bus.SendOptions{Keyboard: kb}); err != nil {
		slog.Warn("Lobby: send failed", "chat_id", chatID, "error", err)
	}
}

func (p *Protocol) clear(ctx context.Context, cb *bus.Callback) {
	if cb == nil || cb.Message == nil {
		return
	}
	ref := bus.MessageRef{ChatID: cb.Message.Chat.ID, MessageID: cb.Message.ID}
	if err := p.transport.EditKeyboard(ctx, ref, nil); err != nil {
		slog.Warn("Lobby: clearing prompt failed", "chat_id", ref.ChatID, "message_id", ref.MessageID, "error", err)
	}
}
