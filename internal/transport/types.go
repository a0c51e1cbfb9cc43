// Package transport defines what the bot needs from a chat platform.
package transport

import "context"

// ChatTarget addresses a chat, and optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text messages.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Moderator lifts moderation actions in a group chat.
type Moderator interface {
	// LiftRestrictions gives a muted member their normal member rights back.
	LiftRestrictions(ctx context.Context, chatID, userID int64) error
	// Unban lifts a ban. A user who is not banned is left alone.
	Unban(ctx context.Context, chatID, userID int64) error
}

// Messenger is a chat platform connection the scheduled handlers act through.
type Messenger interface {
	Sender
	Moderator
}
