// Package handlers acts on fired scheduler entries through the chat
// transport: reminder delivery, mute expiry and tempban expiry.
package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Handlers dispatches entries by event type. Register Handle as a scheduler
// callback.
type Handlers struct {
	msg kit.Messenger
	log logx.Logger
	now func() time.Time
}

type Option func(*Handlers)

// WithNow overrides the clock used to render elapsed time.
func WithNow(now func() time.Time) Option {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

func New(msg kit.Messenger, log logx.Logger, opts ...Option) *Handlers {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handlers{msg: msg, log: log, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register installs the dispatcher on s and returns its callback id.
func (h *Handlers) Register(s *scheduler.Service) scheduler.CallbackID {
	return s.AddCallback("handlers", h.Handle)
}

// Handle is a scheduler.Callback.
func (h *Handlers) Handle(ctx context.Context, e scheduler.Entry) error {
	switch ev := e.Event.(type) {
	case scheduler.Reminder:
		return h.remind(ctx, e, ev)
	case scheduler.Unmute:
		return h.unmute(ctx, ev)
	case scheduler.Unban:
		return h.unban(ctx, ev)
	case scheduler.Custom:
		h.log.Debug("no handler for event", logx.String("kind", string(ev.Kind())), logx.Int64("id", e.ID))
		return nil
	case nil:
		return scheduler.ErrNoEvent
	default:
		h.log.Warn("unexpected event type", logx.String("type", fmt.Sprintf("%T", ev)))
		return nil
	}
}

func (h *Handlers) remind(ctx context.Context, e scheduler.Entry, ev scheduler.Reminder) error {
	if ev.UserID == 0 {
		return fmt.Errorf("reminder %d: missing user id", e.ID)
	}
	to := kit.ChatTarget{ChatID: ev.ChatID, ThreadID: ev.ThreadID}
	if to.ChatID == 0 {
		// Direct message: a private chat id equals the user id.
		to = kit.ChatTarget{ChatID: ev.UserID}
	}
	text := ReminderText(ev, e.Created, h.now())
	if _, err := h.msg.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		return fmt.Errorf("send reminder %d: %w", e.ID, err)
	}
	h.log.Debug("reminder delivered", logx.Int64("id", e.ID), logx.Int64("chat_id", to.ChatID))
	return nil
}

// ReminderText renders the delivered reminder. created is when the reminder
// was requested; the footer reads like "from 3 days ago".
func ReminderText(ev scheduler.Reminder, created, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<a href="tg://user?id=%d">⏰ Reminder</a>`, ev.UserID)
	if msg := strings.TrimSpace(ev.Message); msg != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(msg))
	}
	if !created.IsZero() {
		b.WriteString("\n<i>from ")
		b.WriteString(humanize.RelTime(created, now, "ago", "from now"))
		b.WriteString("</i>")
	}
	return b.String()
}

func (h *Handlers) unmute(ctx context.Context, ev scheduler.Unmute) error {
	if ev.ChatID == 0 || ev.UserID == 0 {
		return fmt.Errorf("unmute: chat and user are required")
	}
	if err := h.msg.LiftRestrictions(ctx, ev.ChatID, ev.UserID); err != nil {
		return fmt.Errorf("unmute %d in %d: %w", ev.UserID, ev.ChatID, err)
	}
	h.log.Info("mute expired",
		logx.Int64("chat_id", ev.ChatID),
		logx.Int64("user_id", ev.UserID),
		logx.Int64("moderator_id", ev.ModeratorID),
	)
	return nil
}

func (h *Handlers) unban(ctx context.Context, ev scheduler.Unban) error {
	if ev.ChatID == 0 || ev.UserID == 0 {
		return fmt.Errorf("unban: chat and user are required")
	}
	if err := h.msg.Unban(ctx, ev.ChatID, ev.UserID); err != nil {
		return fmt.Errorf("unban %d in %d: %w", ev.UserID, ev.ChatID, err)
	}
	h.log.Info("tempban expired",
		logx.Int64("chat_id", ev.ChatID),
		logx.Int64("user_id", ev.UserID),
		logx.Int64("moderator_id", ev.ModeratorID),
	)
	return nil
}
