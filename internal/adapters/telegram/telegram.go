// Package telegram delivers alarm notifications to Telegram chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"sebastian/internal/notifier"
	logx "sebastian/pkg/logx"
)

// Target is one chat (and optional forum topic) that receives alarms.
type Target struct {
	ChatID   int64
	ThreadID int
}

type Config struct {
	Token   string
	Targets []Target
	// APIURL overrides the Bot API endpoint (tests, local bot servers).
	APIURL  string
	Timeout time.Duration
}

// Deliverer sends notifications through the Bot API. It never polls for
// updates; the daemon only talks outward.
type Deliverer struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ notifier.Deliverer = (*Deliverer)(nil)

func New(cfg Config, log logx.Logger) (*Deliverer, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.New("telegram has no targets")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   strings.TrimSpace(cfg.Token),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Deliverer{cfg: cfg, log: log.With(logx.String("channel", "telegram")), bot: b}, nil
}

func (d *Deliverer) Name() string { return "telegram" }

// Deliver sends to every target and reports the first failure; targets after
// a failure are still attempted.
func (d *Deliverer) Deliver(ctx context.Context, m notifier.Message) error {
	var firstErr error
	for _, to := range d.cfg.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := d.bot.Send(&tele.Chat{ID: to.ChatID}, m.Text, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			d.log.Debug("telegram send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("chat %d: %w", to.ChatID, err)
			}
		}
	}
	return firstErr
}
