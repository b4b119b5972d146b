package channels

import (
	"context"

	"github.com/KafClaw/communa/internal/bus"
)

// Channel defines the interface for chat platforms.
type Channel interface {
	// Name returns the channel name (e.g. "telegram").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a payload to a chat.
	Send(ctx context.Context, chatID int64, p bus.Payload, opts bus.SendOptions) (bus.MessageRef, error)
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}

var _ Channel = (*TelegramChannel)(nil)
