// Package notify pushes terminal cycle outcomes to an operator channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"rewardsd/internal/store"
	logx "rewardsd/pkg/logx"
)

type Config struct {
	Token  string
	ChatID int64
}

// Telegram sends one message per finalized cycle. Send-only: no poller,
// no command surface.
type Telegram struct {
	bot  *tele.Bot
	chat tele.ChatID
	log  logx.Logger
}

// newBot is swapped out in tests.
var newBot = func(token string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{Token: token})
}

// New returns (nil, nil) when no token is configured; a nil *Telegram is
// safe to call and does nothing. Bot construction talks to the Telegram
// API, so its failure only disables alerts: startup must not hinge on
// the API being reachable.
func New(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, nil
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	bot, err := newBot(cfg.Token)
	if err != nil {
		log.Warn("telegram bot init failed, alerts disabled", logx.Err(err))
		return nil, nil
	}
	return &Telegram{bot: bot, chat: tele.ChatID(cfg.ChatID), log: log}, nil
}

// CycleFinished reports one day's final record. Failures are logged, never
// propagated: alerting must not affect the schedule.
func (t *Telegram) CycleFinished(ctx context.Context, rec store.RunRecord) {
	if t == nil {
		return
	}
	_ = ctx

	prefix := "ℹ️"
	switch rec.Outcome {
	case "confirmed":
		prefix = "✅"
	case "reverted":
		prefix = "⚠️"
	case "exhausted":
		prefix = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s rewardsd %s on %s after %d attempt(s)", prefix, rec.Outcome, rec.Date, rec.Attempts)
	if rec.TxHash != "" {
		fmt.Fprintf(&b, "\ntx: %s", rec.TxHash)
	}
	fmt.Fprintf(&b, "\nat: %s", rec.FinalizedAt.Format(time.RFC3339))

	if _, err := t.bot.Send(t.chat, b.String(), &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		t.log.Warn("telegram notification failed", logx.String("date", rec.Date), logx.Err(err))
	} else {
		t.log.Debug("telegram notification sent", logx.String("date", rec.Date))
	}
}
