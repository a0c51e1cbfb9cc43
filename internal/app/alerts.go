package app

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/task/scheduler"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// alerter forwards scheduler failures on the bus to the operator chat.
type alerter struct {
	send    kit.Sender
	log     logx.Logger
	limiter *rate.Limiter
	target  atomic.Pointer[kit.ChatTarget]
}

func newAlerter(send kit.Sender, log logx.Logger) *alerter {
	return &alerter{
		send: send,
		log:  log,
		// 5 alerts in a burst, then one every 2s
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 5),
	}
}

// SetTarget changes the operator chat; chatID 0 disables forwarding.
func (a *alerter) SetTarget(chatID int64, threadID int) {
	if chatID == 0 {
		a.target.Store(nil)
		return
	}
	a.target.Store(&kit.ChatTarget{ChatID: chatID, ThreadID: threadID})
}

func (a *alerter) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.forward(ctx, e)
		}
	}
}

func (a *alerter) forward(ctx context.Context, e eventbus.Event) {
	to := a.target.Load()
	if to == nil || a.send == nil {
		return
	}
	text := alertText(e)
	if text == "" {
		return
	}
	if !a.limiter.Allow() {
		a.log.Debug("alert dropped by rate limit", logx.String("type", e.Type))
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := a.send.SendText(sendCtx, *to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		a.log.Warn("alert delivery failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func alertText(e eventbus.Event) string {
	switch e.Type {
	case scheduler.EventFailed:
		d, ok := e.Data.(scheduler.DispatchEvent)
		if !ok {
			return ""
		}
		var b strings.Builder
		b.WriteString("⚠️ <b>scheduled task failed</b>\n")
		fmt.Fprintf(&b, "kind: <code>%s</code>\n", html.EscapeString(string(d.Kind)))
		if d.ID != 0 {
			fmt.Fprintf(&b, "id: <code>%d</code>\n", d.ID)
		}
		if d.Callback != "" {
			fmt.Fprintf(&b, "handler: <code>%s</code>\n", html.EscapeString(d.Callback))
		}
		fmt.Fprintf(&b, "error: <code>%s</code>", html.EscapeString(d.Error))
		return b.String()
	case scheduler.EventStopped:
		reason := fmt.Sprint(e.Data)
		if d, ok := e.Data.(scheduler.DispatchEvent); ok {
			reason = d.Error
		}
		return "🛑 <b>scheduler stopped</b>\n<code>" + html.EscapeString(reason) + "</code>"
	}
	return ""
}
