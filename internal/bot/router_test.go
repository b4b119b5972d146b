package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/admin"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/forward"
	"github.com/KafClaw/communa/internal/lobby"
	"github.com/KafClaw/communa/internal/relay"
	"github.com/KafClaw/communa/internal/store"
)

const (
	adminID = int64(1)
	botID   = int64(999)
	lobbyID = int64(-100)
	userID  = int64(500)
	modID   = int64(7)
)

type outMessage struct {
	chatID  int64
	id      int64
	payload bus.Payload
	opts    bus.SendOptions
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   int64
	sent     []outMessage
	cleared  []bus.MessageRef
	answered map[string]string
	panicFor int64
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{answered: map[string]string{}}
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, p bus.Payload, opts bus.SendOptions) (bus.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicFor != 0 && chatID == f.panicFor {
		f.panicFor = 0
		panic("boom")
	}
	f.nextID++
	f.sent = append(f.sent, outMessage{chatID: chatID, id: f.nextID, payload: p, opts: opts})
	return bus.MessageRef{ChatID: chatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) EditKeyboard(_ context.Context, ref bus.MessageRef, kb bus.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kb == nil {
		f.cleared = append(f.cleared, ref)
	}
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered[id] = text
	return nil
}

func (f *fakeTransport) to(chatID int64) []outMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outMessage
	for _, m := range f.sent {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) lastTo(t *testing.T, chatID int64) outMessage {
	t.Helper()
	msgs := f.to(chatID)
	if len(msgs) == 0 {
		t.Fatalf("nothing sent to %d", chatID)
	}
	return msgs[len(msgs)-1]
}

type harness struct {
	router    *Router
	transport *fakeTransport
	acl       *access.Store
	registry  *lobby.Registry
	index     *forward.Index
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	docs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		transport: newFakeTransport(),
		acl:       access.NewStore(docs, nil),
		registry:  lobby.NewRegistry(docs, nil),
		index:     forward.NewIndex(0),
	}
	if err := h.registry.Set(t.Context(), lobbyID); err != nil {
		t.Fatal(err)
	}
	engine := relay.NewEngine(h.acl, h.index, h.registry, h.transport, bus.User{ID: botID, IsBot: true}, nil)
	protocol := lobby.NewProtocol(h.registry, h.transport)
	commands := admin.New(h.acl, h.registry, h.index, nil, adminID)
	h.router = NewRouter(h.acl, h.registry, protocol, engine, commands, h.transport)
	return h
}

func private(from int64, text string) *bus.Update {
	return &bus.Update{Message: &bus.Message{
		ID:      10,
		Chat:    bus.Chat{ID: from, Type: bus.ChatPrivate},
		From:    &bus.User{ID: from, FirstName: "User"},
		Payload: bus.Text{Body: text},
	}}
}

func inGroup(chatID, from int64, text string) *bus.Update {
	return &bus.Update{Message: &bus.Message{
		ID:      20,
		Chat:    bus.Chat{ID: chatID, Type: bus.ChatSupergroup, Title: "Group"},
		From:    &bus.User{ID: from},
		Payload: bus.Text{Body: text},
	}}
}

func text(t *testing.T, m outMessage) string {
	t.Helper()
	txt, ok := m.payload.(bus.Text)
	if !ok {
		t.Fatalf("expected text, got %T", m.payload)
	}
	return txt.Body
}

func pressButton(t *testing.T, h *harness, prompt outMessage, yes bool) string {
	t.Helper()
	if len(prompt.opts.Keyboard) == 0 {
		t.Fatalf("message has no buttons: %+v", prompt)
	}
	btn := prompt.opts.Keyboard[0][0]
	if yes {
		btn = prompt.opts.Keyboard[0][1]
	}
	cb := &bus.Callback{
		ID:      "cb-" + btn.Data,
		From:    bus.User{ID: modID, Username: "mod"},
		Data:    btn.Data,
		Message: &bus.Message{ID: prompt.id, Chat: bus.Chat{ID: prompt.chatID, Type: bus.ChatSupergroup}},
	}
	if err := h.router.Handle(t.Context(), &bus.Update{Callback: cb}); err != nil {
		t.Fatalf("callback: %v", err)
	}
	return h.transport.answered[cb.ID]
}

func TestEndToEndRelay(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()

	if err := h.router.Handle(ctx, private(userID, "/start")); err != nil {
		t.Fatal(err)
	}
	if got := text(t, h.transport.lastTo(t, userID)); got != relay.MsgWaitListed {
		t.Fatalf("unexpected /start reply %q", got)
	}
	prompt := h.transport.lastTo(t, lobbyID)
	if !strings.Contains(text(t, prompt), "`500`") {
		t.Fatalf("prompt does not name the user: %q", text(t, prompt))
	}

	if answer := pressButton(t, h, prompt, true); answer != "Approved" {
		t.Fatalf("unexpected callback answer %q", answer)
	}
	if st, _ := h.acl.Resolve(ctx, userID); st != access.Approved {
		t.Fatalf("expected approved, got %v", st)
	}
	if got := text(t, h.transport.lastTo(t, userID)); got != MsgAccessGranted {
		t.Fatalf("user not notified: %q", got)
	}
	if len(h.transport.cleared) != 1 || h.transport.cleared[0].MessageID != prompt.id {
		t.Fatalf("prompt controls not cleared: %+v", h.transport.cleared)
	}

	if err := h.router.Handle(ctx, private(userID, "question?")); err != nil {
		t.Fatal(err)
	}
	forwarded := h.transport.lastTo(t, lobbyID)
	body := text(t, forwarded)
	if !strings.HasPrefix(body, "question?\n[UID:") {
		t.Fatalf("unexpected forwarded text %q", body)
	}

	reply := inGroup(lobbyID, modID, "answer!")
	reply.Message.ReplyTo = &bus.Message{
		ID:      forwarded.id,
		Chat:    bus.Chat{ID: lobbyID, Type: bus.ChatSupergroup},
		From:    &bus.User{ID: botID, IsBot: true},
		Payload: bus.Text{Body: body},
	}
	if err := h.router.Handle(ctx, reply); err != nil {
		t.Fatal(err)
	}
	if got := text(t, h.transport.lastTo(t, userID)); got != "answer!" {
		t.Fatalf("reply not delivered, user got %q", got)
	}
}

func TestDenyBlocksUser(t *testing.T) {
	h := newHarness(t)
	_ = h.router.Handle(t.Context(), private(userID, "hello"))
	prompt := h.transport.lastTo(t, lobbyID)
	pressButton(t, h, prompt, false)
	if st, _ := h.acl.Resolve(t.Context(), userID); st != access.Blocked {
		t.Fatalf("expected blocked, got %v", st)
	}
	if got := text(t, h.transport.lastTo(t, userID)); got != MsgAccessDenied {
		t.Fatalf("unexpected notification %q", got)
	}

	_ = h.router.Handle(t.Context(), private(userID, "/start"))
	if got := text(t, h.transport.lastTo(t, userID)); got != relay.MsgBlocked {
		t.Fatalf("unexpected /start reply for blocked user %q", got)
	}
}

func TestStartApprovedUser(t *testing.T) {
	h := newHarness(t)
	_, _ = h.acl.Enqueue(t.Context(), userID)
	_, _ = h.acl.Approve(t.Context(), userID)
	_ = h.router.Handle(t.Context(), private(userID, "/start"))
	if got := text(t, h.transport.lastTo(t, userID)); got != MsgWelcomeApproved {
		t.Fatalf("unexpected reply %q", got)
	}
	if len(h.transport.to(lobbyID)) != 0 {
		t.Fatal("approved user triggered a prompt")
	}
}

func TestLobbyCommands(t *testing.T) {
	h := newHarness(t)
	_, _ = h.acl.Enqueue(t.Context(), userID)

	_ = h.router.Handle(t.Context(), inGroup(lobbyID, modID, "/allow 500"))
	reply := h.transport.lastTo(t, lobbyID)
	if !strings.Contains(text(t, reply), "approved") || reply.opts.ReplyTo != 20 {
		t.Fatalf("unexpected reply %+v", reply)
	}

	_ = h.router.Handle(t.Context(), inGroup(lobbyID, modID, "/status"))
	if got := text(t, h.transport.lastTo(t, lobbyID)); got != MsgAdminOnly {
		t.Fatalf("expected admin-only refusal, got %q", got)
	}

	_ = h.router.Handle(t.Context(), inGroup(-555, modID, "/whitelist"))
	if len(h.transport.to(-555)) != 0 {
		t.Fatal("command answered outside the lobby")
	}
}

func TestAdminCommandsInPrivate(t *testing.T) {
	h := newHarness(t)
	_ = h.router.Handle(t.Context(), private(adminID, "/status"))
	if got := text(t, h.transport.lastTo(t, adminID)); !strings.Contains(got, "Lobby: -100") {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestStartInLobbyAndNewGroup(t *testing.T) {
	h := newHarness(t)
	_ = h.router.Handle(t.Context(), inGroup(lobbyID, modID, "/start"))
	if got := text(t, h.transport.lastTo(t, lobbyID)); got != lobby.MsgAlreadyRegistered {
		t.Fatalf("unexpected reply %q", got)
	}

	_ = h.router.Handle(t.Context(), inGroup(-200, modID, "/start@communa_bot"))
	prompt := h.transport.lastTo(t, lobbyID)
	if answer := pressButton(t, h, prompt, true); answer != "Lobby changed" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if cur, _ := h.registry.Current(t.Context()); cur != -200 {
		t.Fatalf("expected lobby -200, got %d", cur)
	}
}

func TestMalformedCallbackIsAnswered(t *testing.T) {
	h := newHarness(t)
	cb := &bus.Callback{ID: "x", From: bus.User{ID: modID}, Data: "garbage"}
	if err := h.router.Handle(t.Context(), &bus.Update{Callback: cb}); err != nil {
		t.Fatal(err)
	}
	if _, ok := h.transport.answered["x"]; !ok {
		t.Fatal("callback not answered")
	}
}

func TestRunRecoversPanicsAndDrains(t *testing.T) {
	h := newHarness(t)
	h.transport.panicFor = userID
	mb := bus.NewMessageBus()
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan struct{})
	go func() {
		h.router.Run(ctx, mb)
		close(done)
	}()
	mb.PublishInbound(ctx, private(userID, "/start"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := h.transport.to(userID)
		if len(msgs) > 0 && text(t, msgs[len(msgs)-1]) == MsgInternalError {
			cancel()
			select {
			case <-done:
				return
			case <-time.After(2 * time.Second):
				t.Fatal("Run did not return after cancel")
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	t.Fatal("no apology after panic")
}
