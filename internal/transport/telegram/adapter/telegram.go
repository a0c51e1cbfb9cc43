// Package adapter connects the bot to Telegram through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token string
	// Timeout bounds each Bot API request.
	Timeout time.Duration
	// Offline skips the getMe handshake; used by tests and offline commands.
	Offline bool
	// URL overrides the Bot API endpoint.
	URL string
}

// Adapter is a send-only Telegram client: the scheduler acts on chats but
// never reads updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var (
	_ kit.Messenger = (*Adapter)(nil)
	_ logx.Sender   = (*Adapter)(nil)
)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.URL,
		Offline: cfg.Offline,
		Client:  newHTTPClient(cfg.Timeout),
	})
	if err != nil {
		return nil, err
	}
	if !cfg.Offline && b.Me != nil {
		log.Info("telegram connected", logx.String("bot", b.Me.Username))
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// Bot exposes the underlying telebot instance.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitText(text, textLimit, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendLog posts a log line to the log group. It implements logx.Sender.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (a *Adapter) LiftRestrictions(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	member := &tele.ChatMember{User: &tele.User{ID: userID}, Rights: tele.NoRestrictions()}
	return a.bot.Restrict(&tele.Chat{ID: chatID}, member)
}

func (a *Adapter) Unban(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// only_if_banned keeps a member who rejoined from being kicked
	return a.bot.Unban(&tele.Chat{ID: chatID}, &tele.User{ID: userID}, true)
}
