package admin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/forward"
	"github.com/KafClaw/communa/internal/lobby"
	"github.com/KafClaw/communa/internal/store"
)

const (
	adminID = int64(1)
	lobbyID = int64(-100)
)

type fakeUsers map[int64]bus.User

func (f fakeUsers) ResolveUser(_ context.Context, id int64) (bus.User, error) {
	u, ok := f[id]
	if !ok {
		return bus.User{}, errors.New("chat not found")
	}
	return u, nil
}

type env struct {
	cmds  *Commands
	acl   *access.Store
	lobby *lobby.Registry
	index *forward.Index
}

func newEnv(t *testing.T) *env {
	t.Helper()
	docs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		acl:   access.NewStore(docs, nil),
		lobby: lobby.NewRegistry(docs, nil),
		index: forward.NewIndex(0),
	}
	if err := e.lobby.Set(t.Context(), lobbyID); err != nil {
		t.Fatal(err)
	}
	users := fakeUsers{10: {ID: 10, Username: "alice", FirstName: "Alice"}}
	e.cmds = New(e.acl, e.lobby, e.index, users, adminID)
	return e
}

func inLobby(text string, from int64) Invocation {
	cmd, _ := Parse(text)
	return Invocation{Command: cmd, Chat: bus.Chat{ID: lobbyID, Type: bus.ChatSupergroup}, From: bus.User{ID: from}}
}

func fromAdmin(text string) Invocation {
	cmd, _ := Parse(text)
	return Invocation{Command: cmd, Chat: bus.Chat{ID: adminID, Type: bus.ChatPrivate}, From: bus.User{ID: adminID}}
}

func TestParse(t *testing.T) {
	cmd, ok := Parse("/Allow@communa_bot 42")
	if !ok || cmd.Name != "allow" || len(cmd.Args) != 1 || cmd.Args[0] != "42" {
		t.Fatalf("unexpected %+v ok=%v", cmd, ok)
	}
	if _, ok := Parse("/start"); ok {
		t.Fatal("start is not an admin command")
	}
	if _, ok := Parse("hello"); ok {
		t.Fatal("plain text parsed as command")
	}
}

func TestScopes(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	if _, err := e.cmds.Execute(ctx, inLobby("/whitelist", 55)); err != nil {
		t.Fatalf("lobby member listing: %v", err)
	}
	if _, err := e.cmds.Execute(ctx, inLobby("/status", 55)); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected status forbidden for non-admin, got %v", err)
	}
	if _, err := e.cmds.Execute(ctx, inLobby("/status", adminID)); err != nil {
		t.Fatalf("admin status in lobby: %v", err)
	}
	elsewhere := Invocation{Command: Command{Name: "block", Args: []string{"10"}}, Chat: bus.Chat{ID: -999}, From: bus.User{ID: 55}}
	if _, err := e.cmds.Execute(ctx, elsewhere); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden outside lobby, got %v", err)
	}
	if _, err := e.cmds.Execute(ctx, fromAdmin("/help")); err != nil {
		t.Fatalf("admin help: %v", err)
	}
}

func TestAllowBlockForget(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()

	reply, _ := e.cmds.Execute(ctx, inLobby("/allow 10", 55))
	if !strings.Contains(reply, "Unknown user") {
		t.Fatalf("unexpected reply for unknown user %q", reply)
	}
	_, _ = e.acl.Enqueue(ctx, 10)
	reply, err := e.cmds.Execute(ctx, inLobby("/allow 10", 55))
	if err != nil || !strings.Contains(reply, "approved") || !strings.Contains(reply, "@alice") {
		t.Fatalf("allow: %q %v", reply, err)
	}
	reply, _ = e.cmds.Execute(ctx, inLobby("/allow 10", 55))
	if !strings.Contains(reply, "already approved") {
		t.Fatalf("unexpected second allow %q", reply)
	}
	if _, err := e.cmds.Execute(ctx, inLobby("/block 10", 55)); err != nil {
		t.Fatal(err)
	}
	if st, _ := e.acl.Resolve(ctx, 10); st != access.Blocked {
		t.Fatalf("expected blocked, got %v", st)
	}
	if _, err := e.cmds.Execute(ctx, inLobby("/forget 10", 55)); err != nil {
		t.Fatal(err)
	}
	if st, _ := e.acl.Resolve(ctx, 10); st != access.Unknown {
		t.Fatalf("expected unknown, got %v", st)
	}
}

func TestUsage(t *testing.T) {
	e := newEnv(t)
	for _, text := range []string{"/allow", "/block abc", "/forget 1 2", "/lobby", "/lobby x"} {
		inv := fromAdmin(text)
		reply, err := e.cmds.Execute(t.Context(), inv)
		if err != nil || !strings.Contains(reply, "Usage:") {
			t.Fatalf("%s: reply=%q err=%v", text, reply, err)
		}
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	_, _ = e.acl.Enqueue(ctx, 2)
	_, _ = e.acl.Block(ctx, 3)
	_, _ = e.lobby.Propose(ctx, -200)
	_ = e.index.Put(forward.Record{Tag: "ABCD", UserID: 4})

	reply, err := e.cmds.Execute(ctx, fromAdmin("/status"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Lobby: -100", "Pending lobby: -200", "Wait list: 1", "Black list: 1", "Forwarded messages tracked: 1"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("status missing %q:\n%s", want, reply)
		}
	}
}

func TestSetLobby(t *testing.T) {
	e := newEnv(t)
	if _, err := e.cmds.Execute(t.Context(), fromAdmin("/lobby -300")); err != nil {
		t.Fatal(err)
	}
	if cur, _ := e.lobby.Current(t.Context()); cur != -300 {
		t.Fatalf("expected -300, got %d", cur)
	}
}

func TestListsFallBackToIDs(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	for _, id := range []int64{10, 11} {
		_, _ = e.acl.Enqueue(ctx, id)
	}
	reply, err := e.cmds.Execute(ctx, inLobby("/waitlist", 55))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "@alice") || !strings.Contains(reply, "<User: `11`>") {
		t.Fatalf("unexpected list:\n%s", reply)
	}
	if strings.Index(reply, "`10`") > strings.Index(reply, "`11`") {
		t.Fatalf("list not in id order:\n%s", reply)
	}

	reply, _ = e.cmds.Execute(ctx, inLobby("/blacklist", 55))
	if !strings.HasSuffix(reply, "(empty)") {
		t.Fatalf("unexpected empty list %q", reply)
	}
}
