// Package telegram delivers rendered notifications to a Telegram chat.
// The sender owns the transport limits: photo captions are truncated to
// the caption cap, plain messages are split below the hard text limit.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"embygram/internal/metrics"
	"embygram/pkg/logx"
)

const (
	captionRuneLimit = 1024
	textRuneLimit    = 4000
	sendTimeout      = 10 * time.Second
)

// ErrNotConfigured is returned when the bot token or chat id is missing.
// The relay keeps running without Telegram; deliveries fail until the
// configuration is completed.
var ErrNotConfigured = errors.New("telegram: bot token or chat id missing")

// Config holds the delivery settings.
type Config struct {
	Token     string
	ChatID    int64
	ThreadID  int
	ParseMode string
}

// Note is one ready-to-send notification.
type Note struct {
	Title    string
	Body     string
	ImageURL string
}

// Sender wraps a telebot bot for outbound-only use. It is safe for
// concurrent use; Apply swaps the configuration on reload.
type Sender struct {
	log logx.Logger

	mu  sync.RWMutex
	cfg Config
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) *Sender {
	s := &Sender{log: log.With(logx.String("comp", "telegram"))}
	s.Apply(cfg)
	return s
}

// Apply installs new settings, rebuilding the bot when the token changed.
// A failed bot build leaves the sender unconfigured rather than failing
// the reload; sends report ErrNotConfigured until a valid token arrives.
func (s *Sender) Apply(cfg Config) {
	if cfg.ParseMode == "" {
		cfg.ParseMode = tele.ModeMarkdown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Token != s.cfg.Token || s.bot == nil {
		s.bot = nil
		if strings.TrimSpace(cfg.Token) != "" {
			b, err := tele.NewBot(tele.Settings{
				Token:  cfg.Token,
				Client: &http.Client{Timeout: sendTimeout},
			})
			if err != nil {
				s.log.Error("bot init failed", logx.Err(err))
			} else {
				s.bot = b
			}
		}
	}
	s.cfg = cfg
}

// IsConfigured reports whether the sender can deliver messages.
func (s *Sender) IsConfigured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bot != nil && s.cfg.ChatID != 0
}

// Send delivers one notification. With an image it sends a photo with a
// truncated caption, degrading to plain text when the photo upload is
// rejected; text longer than the Telegram limit is split on line
// boundaries.
func (s *Sender) Send(ctx context.Context, note Note) error {
	s.mu.RLock()
	bot, cfg := s.bot, s.cfg
	s.mu.RUnlock()

	if bot == nil || cfg.ChatID == 0 {
		metrics.Sends.WithLabelValues("failure").Inc()
		s.log.Error("dropping notification, sender not configured", logx.String("title", note.Title))
		return ErrNotConfigured
	}

	full := note.Title + "\n\n" + note.Body
	chat := &tele.Chat{ID: cfg.ChatID}
	opts := &tele.SendOptions{ParseMode: cfg.ParseMode, ThreadID: cfg.ThreadID}

	if note.ImageURL != "" {
		photo := &tele.Photo{
			File:    tele.FromURL(note.ImageURL),
			Caption: truncateCaption(full, captionRuneLimit),
		}
		_, err := bot.Send(chat, photo, opts)
		if err == nil {
			metrics.Sends.WithLabelValues("success").Inc()
			s.log.Info("photo notification sent", logx.String("title", note.Title))
			return nil
		}
		s.log.Warn("photo send failed, falling back to text", logx.Err(err))
	}

	for _, chunk := range splitText(full, textRuneLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				metrics.Sends.WithLabelValues("failure").Inc()
				return ctx.Err()
			default:
			}
		}
		if _, err := bot.Send(chat, chunk, opts); err != nil {
			metrics.Sends.WithLabelValues("failure").Inc()
			s.log.Error("send failed", logx.String("title", note.Title), logx.Err(err))
			return fmt.Errorf("send message: %w", err)
		}
	}
	metrics.Sends.WithLabelValues("success").Inc()
	s.log.Info("notification sent", logx.String("title", note.Title))
	return nil
}

// SendText delivers plain text without parse mode, used by the log
// mirror sink and the daily digest. A zero chatID targets the default
// chat.
func (s *Sender) SendText(ctx context.Context, chatID int64, threadID int, text string) error {
	s.mu.RLock()
	bot, cfg := s.bot, s.cfg
	s.mu.RUnlock()

	if bot == nil {
		return ErrNotConfigured
	}
	if chatID == 0 {
		chatID = cfg.ChatID
	}
	if chatID == 0 {
		return ErrNotConfigured
	}
	if threadID == 0 {
		threadID = cfg.ThreadID
	}

	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textRuneLimit) {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if _, err := bot.Send(chat, chunk, &tele.SendOptions{ThreadID: threadID}); err != nil {
			return err
		}
	}
	return nil
}

// truncateCaption caps a photo caption, reserving one rune for the
// ellipsis marker.
func truncateCaption(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// splitText splits long messages into chunks safe for sendMessage,
// preferring newline boundaries so labeled lines stay intact.
func splitText(s string, limit int) []string {
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

		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					if i-start >= limit/3 {
						cut = i + 1
					}
					break
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)

		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
