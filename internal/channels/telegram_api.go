package channels

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramError is a Bot API call the server rejected.
type TelegramError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter is set on flood control errors (seconds).
	RetryAfter int
}

func (e *TelegramError) Error() string {
	if e == nil {
		return "telegram request failed"
	}
	if desc := strings.TrimSpace(e.Description); desc != "" {
		return fmt.Sprintf("telegram %s: %d: %s", e.Method, e.Code, desc)
	}
	return fmt.Sprintf("telegram %s: %d", e.Method, e.Code)
}

// apiError maps library errors onto TelegramError. Transport failures are
// unwrapped from *url.Error because the request URL embeds the token.
func apiError(method string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &TelegramError{
			Method:      method,
			Code:        apiErr.Code,
			Description: apiErr.Message,
			RetryAfter:  apiErr.RetryAfter,
		}
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("telegram %s: %w", method, uerr.Err)
	}
	return fmt.Errorf("telegram %s: %w", method, err)
}

// apiEndpoint turns a base URL into the library's endpoint format.
func apiEndpoint(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return tgbotapi.APIEndpoint
	}
	return base + "/bot%s/%s"
}

// botLogger routes the library's poll loop messages into slog with bot
// tokens masked.
type botLogger struct {
	mu     sync.RWMutex
	tokens []string
}

var (
	sharedBotLogger = &botLogger{}
	installLogger   sync.Once
)

func registerBotToken(token string) {
	installLogger.Do(func() {
		if err := tgbotapi.SetLogger(sharedBotLogger); err != nil {
			slog.Warn("Telegram: set library logger", "error", err)
		}
	})
	if token == "" {
		return
	}
	sharedBotLogger.mu.Lock()
	defer sharedBotLogger.mu.Unlock()
	sharedBotLogger.tokens = append(sharedBotLogger.tokens, token)
}

func (l *botLogger) redact(s string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, tok := range l.tokens {
		s = strings.ReplaceAll(s, tok, "<token>")
	}
	return strings.TrimSpace(s)
}

// Println carries getUpdates failures; the library retries on its own.
func (l *botLogger) Println(v ...any) {
	slog.Warn("Telegram: api", "detail", l.redact(fmt.Sprint(v...)))
}

func (l *botLogger) Printf(format string, v ...any) {
	slog.Debug("Telegram: api", "detail", l.redact(fmt.Sprintf(format, v...)))
}
