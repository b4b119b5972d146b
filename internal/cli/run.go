package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/KafClaw/communa/internal/access"
	"github.com/KafClaw/communa/internal/admin"
	"github.com/KafClaw/communa/internal/bot"
	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/channels"
	"github.com/KafClaw/communa/internal/config"
	"github.com/KafClaw/communa/internal/events"
	"github.com/KafClaw/communa/internal/forward"
	"github.com/KafClaw/communa/internal/identity"
	"github.com/KafClaw/communa/internal/lobby"
	"github.com/KafClaw/communa/internal/relay"
	"github.com/KafClaw/communa/internal/store"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay bot",
	Run:   runRelay,
}

var runSignalNotify = signal.Notify
var runSignalStop = signal.Stop

func runRelay(cmd *cobra.Command, args []string) {
	printHeader(cmd.OutOrStdout(), "📨 Communa Relay")

	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Config error:\n%v\n", err)
		os.Exit(1)
	}
	logCloser, err := setupLogging(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Printf("Logging error: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. State
	docs, err := store.Open(cfg.Storage.Driver, cfg.Storage.DataPath)
	if err != nil {
		fmt.Printf("Storage error: %v\n", err)
		os.Exit(1)
	}
	defer docs.Close()

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic)
		slog.Info("Run: publishing events", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.Topic)
	}
	defer publisher.Close()

	acl := access.NewStore(docs, publisher)
	if err := acl.Load(ctx); err != nil {
		fmt.Printf("Loading access lists failed: %v\n", err)
		os.Exit(1)
	}
	registry := lobby.NewRegistry(docs, publisher)
	if err := registry.Load(ctx); err != nil {
		fmt.Printf("Loading lobby state failed: %v\n", err)
		os.Exit(1)
	}
	index := forward.NewIndex(cfg.Relay.MaxTags)

	// 3. Telegram
	msgBus := bus.NewMessageBus()
	tg, err := channels.NewTelegramChannel(cfg.Telegram, msgBus)
	if err != nil {
		fmt.Printf("Telegram error: %v\n", err)
		os.Exit(1)
	}
	self, err := tg.Self(ctx)
	if err != nil {
		fmt.Printf("Telegram error: %v\n", err)
		os.Exit(1)
	}
	adminID, err := resolveAdmin(ctx, tg, cfg.Telegram.Admin)
	if err != nil {
		fmt.Printf("Cannot resolve admin %q: %v\n", cfg.Telegram.Admin, err)
		os.Exit(1)
	}

	// 4. Handlers
	engine := relay.NewEngine(acl, index, registry, tg, self, publisher)
	protocol := lobby.NewProtocol(registry, tg)
	commands := admin.New(acl, registry, index, tg, adminID)
	router := bot.NewRouter(acl, registry, protocol, engine, commands, tg)

	if err := tg.Start(ctx); err != nil {
		fmt.Printf("Telegram start failed: %v\n", err)
		os.Exit(1)
	}
	routerDone := make(chan struct{})
	go func() {
		router.Run(ctx, msgBus)
		close(routerDone)
	}()

	lobbyID, _ := registry.Current(ctx)
	slog.Info("Run: relay started", "bot", identity.User(self), "admin_id", adminID, "lobby", lobbyID, "storage", cfg.Storage.Driver)

	sigChan := make(chan os.Signal, 1)
	runSignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer runSignalStop(sigChan)

	fmt.Println("Relay running. Press Ctrl+C to stop.")
	<-sigChan

	fmt.Println("Shutting down...")
	if err := tg.Stop(); err != nil {
		slog.Warn("Run: telegram stop failed", "error", err)
	}
	cancel()
	msgBus.Stop()
	select {
	case <-routerDone:
	case <-time.After(10 * time.Second):
		slog.Warn("Run: handlers still busy at exit")
	}
}

type chatResolver interface {
	ResolveChat(ctx context.Context, handle string) (bus.Chat, error)
}

// resolveAdmin turns the configured admin into a user id. A numeric value is
// taken as is; anything else is looked up as a public username.
func resolveAdmin(ctx context.Context, r chatResolver, handle string) (int64, error) {
	handle = strings.TrimSpace(handle)
	if id, err := strconv.ParseInt(handle, 10, 64); err == nil && id != 0 {
		return id, nil
	}
	chat, err := r.ResolveChat(ctx, handle)
	if err != nil {
		return 0, err
	}
	if chat.Type != bus.ChatPrivate {
		return 0, fmt.Errorf("%s is a %s chat, not a user", identity.Chat(chat), chat.Type)
	}
	return chat.ID, nil
}
