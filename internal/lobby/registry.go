// Package lobby keeps track of the group chat that receives relayed messages
// and runs the confirm/reject handshake for moving it.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/KafClaw/communa/internal/events"
	"github.com/KafClaw/communa/internal/store"
)

var ErrNothingPending = errors.New("no lobby change pending")

// State is the persisted registration. ChatID 0 means no lobby.
type State struct {
	ChatID        int64  `json:"chat_id"`
	PendingChatID *int64 `json:"pending_chat_id"`
}

// Pending returns the proposed chat, 0 when none.
func (s State) Pending() int64 {
	if s.PendingChatID == nil {
		return 0
	}
	return *s.PendingChatID
}

// Proposal is the result of proposing a chat as the lobby.
type Proposal int

const (
	AlreadyRegistered Proposal = iota
	Registered
	Pending
)

func (p Proposal) String() string {
	switch p {
	case Registered:
		return "registered"
	case Pending:
		return "pending"
	default:
		return "already_registered"
	}
}

// Change describes a resolved proposal: the lobby before and the proposed chat.
type Change struct {
	From int64
	To   int64
}

// Registry holds the lobby state. Saves happen under the mutex; events are
// published after it is released.
type Registry struct {
	docs   store.Store
	events events.Publisher

	mu     sync.Mutex
	loaded bool
	state  State
}

// NewRegistry creates a registry backed by docs. pub may be nil.
func NewRegistry(docs store.Store, pub events.Publisher) *Registry {
	return &Registry{docs: docs, events: pub}
}

// Load reads the persisted state once.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Registry) loadLocked(ctx context.Context) error {
	if r.loaded {
		return nil
	}
	var st State
	if err := r.docs.Load(ctx, store.KindLobby, &st); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load lobby state: %w", err)
	}
	r.state = st
	r.loaded = true
	slog.Info("Lobby: loaded", "chat_id", st.ChatID, "pending", st.Pending())
	return nil
}

// Current returns the lobby chat id, 0 when none is registered.
func (r *Registry) Current(ctx context.Context) (int64, error) {
	st, err := r.State(ctx)
	return st.ChatID, err
}

// State returns a copy of the registration.
func (r *Registry) State(ctx context.Context) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx); err != nil {
		return State{}, err
	}
	st := r.state
	if st.PendingChatID != nil {
		p := *st.PendingChatID
		st.PendingChatID = &p
	}
	return st, nil
}

// Propose offers chatID as the lobby. Without a current lobby the chat is
// registered at once; otherwise it becomes the pending chat, replacing any
// earlier proposal.
func (r *Registry) Propose(ctx context.Context, chatID int64) (Proposal, error) {
	proposal, evt, err := r.propose(ctx, chatID)
	r.emit(ctx, evt)
	return proposal, err
}

func (r *Registry) propose(ctx context.Context, chatID int64) (Proposal, *events.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx); err != nil {
		return AlreadyRegistered, nil, err
	}
	if r.state.ChatID == chatID {
		return AlreadyRegistered, nil, nil
	}
	next := r.state
	if next.ChatID == 0 {
		next = State{ChatID: chatID}
		if err := r.saveLocked(ctx, next); err != nil {
			return Registered, nil, err
		}
		return Registered, &events.Event{Type: events.TypeLobbyChanged, ChatID: chatID}, nil
	}
	next.PendingChatID = &chatID
	if err := r.saveLocked(ctx, next); err != nil {
		return Pending, nil, err
	}
	return Pending, &events.Event{Type: events.TypeLobbyPending, ChatID: chatID}, nil
}

// Confirm makes the pending chat the lobby.
func (r *Registry) Confirm(ctx context.Context) (Change, error) {
	change, err := r.resolve(ctx, true)
	if err != nil {
		return Change{}, err
	}
	slog.Info("Lobby: changed", "from", change.From, "to", change.To)
	r.emit(ctx, &events.Event{Type: events.TypeLobbyChanged, ChatID: change.To})
	return change, nil
}

// Reject drops the pending chat and keeps the lobby.
func (r *Registry) Reject(ctx context.Context) (Change, error) {
	change, err := r.resolve(ctx, false)
	if err != nil {
		return Change{}, err
	}
	slog.Info("Lobby: change rejected", "lobby", change.From, "proposed", change.To)
	r.emit(ctx, &events.Event{Type: events.TypeLobbyRejected, ChatID: change.To})
	return change, nil
}

// resolve settles the pending proposal, moving the lobby when accept is set.
func (r *Registry) resolve(ctx context.Context, accept bool) (Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx); err != nil {
		return Change{}, err
	}
	if r.state.PendingChatID == nil {
		return Change{}, ErrNothingPending
	}
	change := Change{From: r.state.ChatID, To: *r.state.PendingChatID}
	next := State{ChatID: change.From}
	if accept {
		next.ChatID = change.To
	}
	if err := r.saveLocked(ctx, next); err != nil {
		return Change{}, err
	}
	return change, nil
}

// Set registers chatID directly and clears any pending proposal.
func (r *Registry) Set(ctx context.Context, chatID int64) error {
	if err := r.set(ctx, chatID); err != nil {
		return err
	}
	slog.Info("Lobby: set", "chat_id", chatID)
	r.emit(ctx, &events.Event{Type: events.TypeLobbyChanged, ChatID: chatID})
	return nil
}

func (r *Registry) set(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(ctx); err != nil {
		return err
	}
	return r.saveLocked(ctx, State{ChatID: chatID})
}

// emit publishes outside the mutex so a slow broker never holds up Current.
func (r *Registry) emit(ctx context.Context, evt *events.Event) {
	if evt != nil {
		events.Emit(ctx, r.events, *evt)
	}
}

func (r *Registry) saveLocked(ctx context.Context, next State) error {
	if err := r.docs.Save(ctx, store.KindLobby, next); err != nil {
		return fmt.Errorf("persist lobby state: %w", err)
	}
	r.state = next
	return nil
}
