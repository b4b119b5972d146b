package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KafClaw/communa/internal/bus"
	"github.com/KafClaw/communa/internal/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel talks to the Bot API by long polling. Inbound messages and
// button presses are published on the bus; the Send family is used by the
// relay, the lobby protocol and the admin commands.
type TelegramChannel struct {
	BaseChannel
	config   config.TelegramConfig
	client   *http.Client
	endpoint string

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTelegramChannel prepares the client. The token is checked on first use.
func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) (*TelegramChannel, error) {
	pollTimeout := time.Duration(cfg.PollTimeoutSeconds) * time.Second
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if p := strings.TrimSpace(cfg.Proxy); p != "" {
		proxyURL, err := url.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("telegram proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	registerBotToken(cfg.Token)
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
		client:      &http.Client{Transport: transport, Timeout: pollTimeout + 30*time.Second},
		endpoint:    apiEndpoint(cfg.APIBase),
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

// connect builds the library client, which calls getMe.
func (c *TelegramChannel) connect() (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot != nil {
		return c.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(c.config.Token, c.endpoint, c.client)
	if err != nil {
		return nil, apiError("getMe", err)
	}
	c.bot = bot
	return bot, nil
}

// Self returns the bot account, fetching it on first use.
func (c *TelegramChannel) Self(_ context.Context) (bus.User, error) {
	bot, err := c.connect()
	if err != nil {
		return bus.User{}, err
	}
	return toUser(&bot.Self), nil
}

// Start verifies the token and launches the poll loop.
func (c *TelegramChannel) Start(ctx context.Context) error {
	bot, err := c.connect()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("telegram: already started")
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.config.PollTimeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := bot.GetUpdatesChan(u)

	slog.Info("Telegram: polling", "bot", "@"+bot.Self.UserName, "bot_id", bot.Self.ID)
	go func() {
		<-pollCtx.Done()
		bot.StopReceivingUpdates()
	}()
	go func() {
		defer close(done)
		c.poll(pollCtx, updates)
	}()
	return nil
}

// Stop ends the poll loop and waits for it. A getUpdates call in flight
// finishes in the background.
func (c *TelegramChannel) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *TelegramChannel) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Telegram: polling stopped")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			update := toUpdate(u)
			if update == nil {
				continue
			}
			if !c.Bus.PublishInbound(ctx, update) {
				return
			}
		}
	}
}

// Send delivers a payload. Media is re-sent by file id.
func (c *TelegramChannel) Send(_ context.Context, chatID int64, p bus.Payload, opts bus.SendOptions) (bus.MessageRef, error) {
	var (
		msg    tgbotapi.Chattable
		method string
	)
	switch v := p.(type) {
	case bus.Text:
		m := tgbotapi.NewMessage(chatID, v.Body)
		m.BaseChat = withSendOptions(m.BaseChat, opts)
		msg, method = m, "sendMessage"
	case bus.Photo:
		m := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(v.FileID))
		m.Caption = v.Caption
		m.BaseChat = withSendOptions(m.BaseChat, opts)
		msg, method = m, "sendPhoto"
	case bus.Video:
		m := tgbotapi.NewVideo(chatID, tgbotapi.FileID(v.FileID))
		m.Caption = v.Caption
		m.BaseChat = withSendOptions(m.BaseChat, opts)
		msg, method = m, "sendVideo"
	case bus.Animation:
		m := tgbotapi.NewAnimation(chatID, tgbotapi.FileID(v.FileID))
		m.Caption = v.Caption
		m.BaseChat = withSendOptions(m.BaseChat, opts)
		msg, method = m, "sendAnimation"
	case bus.Document:
		m := tgbotapi.NewDocument(chatID, tgbotapi.FileID(v.FileID))
		m.Caption = v.Caption
		m.BaseChat = withSendOptions(m.BaseChat, opts)
		msg, method = m, "sendDocument"
	default:
		return bus.MessageRef{}, bus.ErrUnsupportedContent
	}
	bot, err := c.connect()
	if err != nil {
		return bus.MessageRef{}, err
	}
	sent, err := bot.Send(msg)
	if err != nil {
		return bus.MessageRef{}, apiError(method, err)
	}
	return bus.MessageRef{ChatID: chatID, MessageID: int64(sent.MessageID)}, nil
}

func withSendOptions(base tgbotapi.BaseChat, opts bus.SendOptions) tgbotapi.BaseChat {
	if opts.ReplyTo != 0 {
		base.ReplyToMessageID = int(opts.ReplyTo)
	}
	if opts.Keyboard != nil {
		base.ReplyMarkup = toKeyboard(opts.Keyboard)
	}
	return base
}

// EditKeyboard replaces a message's inline keyboard; nil removes it.
func (c *TelegramChannel) EditKeyboard(_ context.Context, ref bus.MessageRef, kb bus.Keyboard) error {
	bot, err := c.connect()
	if err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(ref.ChatID, int(ref.MessageID), toKeyboard(kb))
	// The result is a Message or true, so Request rather than Send.
	_, err = bot.Request(edit)
	return apiError("editMessageReplyMarkup", err)
}

// AnswerCallback acknowledges a button press, optionally with a toast.
func (c *TelegramChannel) AnswerCallback(_ context.Context, callbackID, text string) error {
	bot, err := c.connect()
	if err != nil {
		return err
	}
	_, err = bot.Request(tgbotapi.NewCallback(callbackID, text))
	return apiError("answerCallbackQuery", err)
}

// ResolveUser looks up a private chat by user id.
func (c *TelegramChannel) ResolveUser(_ context.Context, id int64) (bus.User, error) {
	chat, err := c.getChat(tgbotapi.ChatConfig{ChatID: id})
	if err != nil {
		return bus.User{}, err
	}
	return chat.AsUser(), nil
}

// ResolveChat accepts a numeric id or an @username.
func (c *TelegramChannel) ResolveChat(_ context.Context, handle string) (bus.Chat, error) {
	handle = strings.TrimSpace(handle)
	if id, err := strconv.ParseInt(handle, 10, 64); err == nil {
		return c.getChat(tgbotapi.ChatConfig{ChatID: id})
	}
	if !strings.HasPrefix(handle, "@") {
		handle = "@" + handle
	}
	return c.getChat(tgbotapi.ChatConfig{SuperGroupUsername: handle})
}

func (c *TelegramChannel) getChat(key tgbotapi.ChatConfig) (bus.Chat, error) {
	bot, err := c.connect()
	if err != nil {
		return bus.Chat{}, err
	}
	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: key})
	if err != nil {
		return bus.Chat{}, apiError("getChat", err)
	}
	return toChat(&chat), nil
}

// toKeyboard always yields a non-nil row slice so an empty keyboard encodes
// as [] and clears the markup.
func toKeyboard(kb bus.Keyboard) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(kb))
	for _, row := range kb {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func toUpdate(u tgbotapi.Update) *bus.Update {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		return &bus.Update{ID: int64(u.UpdateID), Message: toMessage(u.Message)}
	case u.CallbackQuery != nil && u.CallbackQuery.From != nil:
		cq := u.CallbackQuery
		cb := &bus.Callback{ID: cq.ID, From: toUser(cq.From), Data: cq.Data}
		if cq.Message != nil && cq.Message.Chat != nil {
			cb.Message = toMessage(cq.Message)
		}
		return &bus.Update{ID: int64(u.UpdateID), Callback: cb}
	}
	return nil
}

func toMessage(m *tgbotapi.Message) *bus.Message {
	out := &bus.Message{
		ID:   int64(m.MessageID),
		Date: time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.Chat != nil {
		out.Chat = toChat(m.Chat)
	}
	if m.From != nil {
		u := toUser(m.From)
		out.From = &u
	}
	out.Payload, out.RawKind = toPayload(m)
	if m.ReplyToMessage != nil {
		out.ReplyTo = toMessage(m.ReplyToMessage)
	}
	return out
}

func toPayload(m *tgbotapi.Message) (bus.Payload, string) {
	switch {
	case len(m.Photo) > 0:
		// Sizes come smallest first.
		return bus.Photo{FileID: m.Photo[len(m.Photo)-1].FileID, Caption: m.Caption}, string(bus.KindPhoto)
	case m.Animation != nil:
		// Animations also carry a document field; check them first.
		return bus.Animation{FileID: m.Animation.FileID, Caption: m.Caption}, string(bus.KindAnimation)
	case m.Video != nil:
		return bus.Video{FileID: m.Video.FileID, Caption: m.Caption}, string(bus.KindVideo)
	case m.Document != nil:
		return bus.Document{FileID: m.Document.FileID, FileName: m.Document.FileName, Caption: m.Caption}, string(bus.KindDocument)
	case m.Text != "":
		return bus.Text{Body: m.Text}, string(bus.KindText)
	case m.Sticker != nil:
		return nil, "sticker"
	case m.Voice != nil:
		return nil, "voice"
	case m.Audio != nil:
		return nil, "audio"
	case m.Location != nil:
		return nil, "location"
	case m.Contact != nil:
		return nil, "contact"
	case m.Poll != nil:
		return nil, "poll"
	}
	return nil, "unknown"
}

func toUser(u *tgbotapi.User) bus.User {
	return bus.User{
		ID:        u.ID,
		IsBot:     u.IsBot,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func toChat(c *tgbotapi.Chat) bus.Chat {
	return bus.Chat{
		ID:        c.ID,
		Type:      bus.ChatType(c.Type),
		Title:     c.Title,
		Username:  c.UserName,
		FirstName: c.FirstName,
		LastName:  c.LastName,
	}
}
