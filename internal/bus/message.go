package bus

import (
	"errors"
	"strings"
	"time"
)

// ErrUnsupportedContent is returned when a message carries a content kind the
// relay cannot carry a tag on.
var ErrUnsupportedContent = errors.New("unsupported content")

// ChatType mirrors the platform chat kinds the relay distinguishes.
type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSupergroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is a (super)group.
func (t ChatType) IsGroup() bool {
	return t == ChatGroup || t == ChatSupergroup
}

// User is a platform account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// Chat is a conversation the bot takes part in.
type Chat struct {
	ID        int64    `json:"id"`
	Type      ChatType `json:"type"`
	Title     string   `json:"title,omitempty"`
	Username  string   `json:"username,omitempty"`
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
}

// AsUser converts a private chat description into a User.
func (c Chat) AsUser() User {
	return User{
		ID:        c.ID,
		Username:  c.Username,
		FirstName: c.FirstName,
		LastName:  c.LastName,
	}
}

// ContentKind names a payload variant.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindPhoto     ContentKind = "photo"
	KindVideo     ContentKind = "video"
	KindAnimation ContentKind = "animation"
	KindDocument  ContentKind = "document"
)

// Payload is the closed set of content kinds the relay carries. Only the types
// in this package implement it.
type Payload interface {
	Kind() ContentKind
	// CaptionText returns the text of a Text payload or the caption of media.
	CaptionText() string
	payload()
}

// Text is a plain text message.
type Text struct {
	Body string
}

// Photo references an already uploaded photo by file id.
type Photo struct {
	FileID  string
	Caption string
}

// Video references an uploaded video.
type Video struct {
	FileID  string
	Caption string
}

// Animation references an uploaded GIF/animation.
type Animation struct {
	FileID  string
	Caption string
}

// Document references an uploaded file.
type Document struct {
	FileID   string
	FileName string
	Caption  string
}

func (Text) Kind() ContentKind      { return KindText }
func (Photo) Kind() ContentKind     { return KindPhoto }
func (Video) Kind() ContentKind     { return KindVideo }
func (Animation) Kind() ContentKind { return KindAnimation }
func (Document) Kind() ContentKind  { return KindDocument }

func (p Text) CaptionText() string      { return p.Body }
func (p Photo) CaptionText() string     { return p.Caption }
func (p Video) CaptionText() string     { return p.Caption }
func (p Animation) CaptionText() string { return p.Caption }
func (p Document) CaptionText() string  { return p.Caption }

func (Text) payload()      {}
func (Photo) payload()     {}
func (Video) payload()     {}
func (Animation) payload() {}
func (Document) payload()  {}

// WithCaption returns a copy of p whose text (or caption) is replaced.
func WithCaption(p Payload, caption string) (Payload, error) {
	switch v := p.(type) {
	case Text:
		v.Body = caption
		return v, nil
	case Photo:
		v.Caption = caption
		return v, nil
	case Video:
		v.Caption = caption
		return v, nil
	case Animation:
		v.Caption = caption
		return v, nil
	case Document:
		v.Caption = caption
		return v, nil
	default:
		return nil, ErrUnsupportedContent
	}
}

// Message is an inbound or previously sent message.
type Message struct {
	ID   int64     `json:"message_id"`
	Chat Chat      `json:"chat"`
	From *User     `json:"from,omitempty"`
	Date time.Time `json:"date"`
	// Payload is nil when the content kind is not supported; RawKind then
	// names what the platform delivered.
	Payload Payload  `json:"-"`
	RawKind string   `json:"raw_kind,omitempty"`
	ReplyTo *Message `json:"reply_to,omitempty"`
}

// Text returns the message text or caption, empty for unsupported content.
func (m *Message) Text() string {
	if m == nil || m.Payload == nil {
		return ""
	}
	return m.Payload.CaptionText()
}

// Kind returns the payload kind or the raw platform kind.
func (m *Message) Kind() string {
	if m.Payload != nil {
		return string(m.Payload.Kind())
	}
	if m.RawKind != "" {
		return m.RawKind
	}
	return "unknown"
}

// Command parses a leading bot command such as "/allow@communa_bot 42".
// The bot mention suffix is dropped; the name is lowercased.
func (m *Message) Command() (name string, args []string, ok bool) {
	t, isText := m.Payload.(Text)
	if !isText {
		return "", nil, false
	}
	return ParseCommand(t.Body)
}

// ParseCommand splits "/name@bot arg1 arg2" into its parts.
func ParseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") || len(fields[0]) < 2 {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}

// MessageRef addresses a sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Button is one inline choice; Data is returned in the callback.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons. A nil Keyboard clears controls.
type Keyboard [][]Button

// Callback is a press on an inline button.
type Callback struct {
	ID      string
	From    User
	Message *Message
	Data    string
}

// Update is one inbound platform event: either a message or a callback.
type Update struct {
	ID       int64
	TraceID  string
	Message  *Message
	Callback *Callback
}

// SendOptions adjusts an outgoing message.
type SendOptions struct {
	// ReplyTo quotes a message in the same chat, 0 for none.
	ReplyTo  int64
	Keyboard Keyboard
}
