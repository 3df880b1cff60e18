package transport

import "context"

// Update is a single inbound event from the chat platform.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

// ChatTarget identifies one delivery destination.
type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// SendOptions carries platform-specific delivery knobs.
//
// ReplyMarkup is an adapter-specific button layout (Telegram: *telebot.ReplyMarkup).
// It is treated as an opaque payload by everything except the adapter itself.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyMarkup    any
}

// Sender is the delivery collaborator used by broadcast jobs.
// Implementations must be safe for concurrent use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is the full chat-platform boundary: it delivers messages and feeds
// inbound updates to the router.
type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
