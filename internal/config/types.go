package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration document. The file may be JSON or YAML;
// both decode through the same strict JSON decoder, so unknown keys are
// rejected in either format.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Bare integers are accepted as seconds.
//
// A subset of fields can also arrive via the environment (see env.go);
// environment values win over file values so container deployments can keep
// secrets out of the config file. The relay runs without a file at all when
// the environment carries everything it needs.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Webhook     WebhookConfig     `json:"webhook"`
	Aggregation AggregationConfig `json:"aggregation"`
	TMDB        TMDBConfig        `json:"tmdb,omitempty"`
	Logging     LoggingConfig     `json:"logging"`
	Metrics     MetricsConfig     `json:"metrics,omitempty"`
	History     *HistoryConfig    `json:"history,omitempty"`
	Digest      DigestConfig      `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the destination chat. Group and channel ids are negative.
	ChatID int64 `json:"chat_id"`
	// ThreadID targets a forum topic; 0 posts to the main chat.
	ThreadID int `json:"thread_id,omitempty"`
	// ParseMode defaults to Markdown.
	ParseMode string `json:"parse_mode,omitempty"`
}

// WebhookConfig controls the HTTP server Emby posts to.
type WebhookConfig struct {
	Host string `json:"host,omitempty"` // default: "0.0.0.0"
	Port int    `json:"port,omitempty"` // default: 5000

	// Server timeouts (Go duration strings). Leave empty to keep the
	// net/http defaults of 0 (disabled).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// EnableProfiler mounts net/http/pprof under /debug on the same
	// listener. Keep it off unless the relay is bound to localhost or
	// fronted by something that restricts access.
	EnableProfiler bool `json:"enable_profiler,omitempty"`
}

// AggregationConfig controls the episode batching window.
type AggregationConfig struct {
	// Delay is how long the relay waits for more episodes of the same
	// season before sending one merged notification. Default "10s".
	Delay string `json:"delay,omitempty"`
}

// TMDBConfig controls metadata enrichment. The whole section is optional;
// without an API key the relay falls back to whatever the webhook payload
// carried.
type TMDBConfig struct {
	APIKey       string `json:"api_key,omitempty"`
	ImageBaseURL string `json:"image_base_url,omitempty"` // default: "https://image.tmdb.org/t/p/w500"
	Language     string `json:"language,omitempty"`       // default: "zh-CN"
	Timeout      string `json:"timeout,omitempty"`        // per-request; Go duration string
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors selected log lines into a chat. ChatID 0 reuses
// the notification chat from the telegram section.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint on the webhook listener.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// HistoryConfig controls the optional delivery journal. Nil means disabled.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./embygram.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Retention   string `json:"retention,omitempty"`    // Go duration string; default 720h
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DigestConfig controls the scheduled library summary. It needs the history
// journal; with history disabled the digest stays dormant.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec; default "0 9 * * *"
	Timezone string `json:"timezone,omitempty"` // IANA name; default local
	Window   string `json:"window,omitempty"`   // lookback; default "24h"
}

// Normalize fills defaults that every consumer agrees on. Section-local
// defaults (TMDB urls, digest schedule, history retention) stay with their
// consumers; only the values surfaced in logs and health output are pinned
// here so two snapshots of the same file hash identically.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Webhook.Host) == "" {
		c.Webhook.Host = "0.0.0.0"
	}
	if c.Webhook.Port == 0 {
		c.Webhook.Port = 5000
	}
	if strings.TrimSpace(c.Aggregation.Delay) == "" {
		c.Aggregation.Delay = "10s"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configs that cannot be applied: malformed durations, an
// out-of-range port, an unknown timezone. Missing Telegram credentials are
// deliberately not an error; the relay accepts webhooks without them and
// reports the gap through /health and a startup warning.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("aggregation.delay", c.Aggregation.Delay); err != nil {
		return err
	}
	if _, err := ParseDurationField("webhook.read_timeout", c.Webhook.ReadTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("webhook.write_timeout", c.Webhook.WriteTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("webhook.idle_timeout", c.Webhook.IdleTimeout); err != nil {
		return err
	}
	if c.Webhook.Port < 1 || c.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port: %d out of range", c.Webhook.Port)
	}
	if _, err := ParseDurationField("tmdb.timeout", c.TMDB.Timeout); err != nil {
		return err
	}
	if c.History != nil {
		if _, err := ParseDurationField("history.retention", c.History.Retention); err != nil {
			return err
		}
		if _, err := ParseDurationField("history.busy_timeout", c.History.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := ParseDurationField("digest.window", c.Digest.Window); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Digest.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// TelegramConfigured reports whether delivery credentials are present.
func (c *Config) TelegramConfigured() bool {
	return strings.TrimSpace(c.Telegram.Token) != "" && c.Telegram.ChatID != 0
}
