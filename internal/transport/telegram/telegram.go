// Package telegram delivers announcements to a single configured chat via
// the Telegram Bot API. It implements the notifier's Sender interface.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "github.com/Qais-Hweidi/Burroughs-Alert-sub002/pkg/logx"
)

// Telegram rejects messages over 4096 runes; stay under with headroom.
const textLimit = 4000

type Config struct {
	Token  string
	ChatID int64

	// APIURL overrides the Bot API endpoint. Tests point it at a local fake.
	APIURL string
	// Timeout bounds each HTTP call to the Bot API.
	Timeout time.Duration
}

type Sender struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  logx.Logger
}

// New validates credentials against the Bot API (getMe) and returns a
// send-only client bound to the configured chat.
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    cfg.APIURL,
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, log: log}, nil
}

// Send delivers text to the configured chat, splitting messages Telegram
// would reject for length. The Bot API client has no per-call context, so
// cancellation is honored between chunks and each call is bounded by the
// client timeout.
func (s *Sender) Send(ctx context.Context, text string) error {
	chunks := splitText(text, textLimit)
	if len(chunks) > 1 {
		s.log.Debug("splitting long announcement", logx.Int("chunks", len(chunks)))
	}
	for _, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := s.bot.Send(s.chat, chunk); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// splitText splits long messages into chunks Telegram will accept,
// preferring newline boundaries so listings stay intact.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		// Prefer the last newline in the window, unless that leaves a
		// tiny fragment.
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
