package app

import (
	"fmt"
	"strings"
	"time"

	"embygram/internal/config"
	"embygram/internal/digest"
	"embygram/internal/history"
	"embygram/internal/telegram"
	"embygram/internal/tmdb"
	"embygram/internal/webhook"
	logx "embygram/pkg/logx"
)

// The map functions translate the string-keyed config document into the
// typed configs each service takes. They also carry the cross-field checks
// the reload validator runs before a snapshot is published.

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:     strings.TrimSpace(cfg.Telegram.Token),
		ChatID:    cfg.Telegram.ChatID,
		ThreadID:  cfg.Telegram.ThreadID,
		ParseMode: strings.TrimSpace(cfg.Telegram.ParseMode),
	}
}

// mapLogConfig wires the log mirror to the notification chat unless the
// logging section names its own.
func mapLogConfig(cfg *config.Config) logx.Config {
	chatID := cfg.Logging.Telegram.ChatID
	if chatID == 0 {
		chatID = cfg.Telegram.ChatID
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapWebhookConfig(cfg *config.Config, version string) (webhook.Config, error) {
	rt, err := config.ParseDurationOrDefault("webhook.read_timeout", cfg.Webhook.ReadTimeout, 10*time.Second)
	if err != nil {
		return webhook.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("webhook.write_timeout", cfg.Webhook.WriteTimeout, 10*time.Second)
	if err != nil {
		return webhook.Config{}, err
	}
	it, err := config.ParseDurationOrDefault("webhook.idle_timeout", cfg.Webhook.IdleTimeout, 60*time.Second)
	if err != nil {
		return webhook.Config{}, err
	}
	return webhook.Config{
		Host:           strings.TrimSpace(cfg.Webhook.Host),
		Port:           cfg.Webhook.Port,
		ReadTimeout:    rt,
		WriteTimeout:   wt,
		IdleTimeout:    it,
		EnableMetrics:  cfg.Metrics.Enabled,
		EnableProfiler: cfg.Webhook.EnableProfiler,
		Version:        version,
	}, nil
}

func mapTMDBConfig(cfg *config.Config) (tmdb.Config, error) {
	timeout, err := config.ParseDurationField("tmdb.timeout", cfg.TMDB.Timeout)
	if err != nil {
		return tmdb.Config{}, err
	}
	return tmdb.Config{
		APIKey:       strings.TrimSpace(cfg.TMDB.APIKey),
		ImageBaseURL: strings.TrimSpace(cfg.TMDB.ImageBaseURL),
		Language:     strings.TrimSpace(cfg.TMDB.Language),
		Timeout:      timeout,
	}, nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, bool, error) {
	if cfg == nil || cfg.History == nil {
		return history.Config{}, false, nil
	}
	hc := cfg.History
	driver := strings.TrimSpace(hc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return history.Config{}, false, nil
	}
	path := strings.TrimSpace(hc.Path)
	retention, err := config.ParseDurationOrDefault("history.retention", hc.Retention, history.DefaultRetention)
	if err != nil {
		return history.Config{}, false, err
	}

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		if path == "" {
			return history.Config{}, false, fmt.Errorf("history.path is required when history.driver=file")
		}
		return history.Config{Driver: "file", Path: path, Retention: retention}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return history.Config{}, false, fmt.Errorf("history.path is required when history.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("history.busy_timeout", hc.BusyTimeout, time.Second)
		if err != nil {
			return history.Config{}, false, err
		}
		return history.Config{Driver: dl, Path: path, Retention: retention, BusyTimeout: busy}, true, nil
	default:
		return history.Config{}, false, fmt.Errorf("unknown history.driver: %s", driver)
	}
}

func mapDigestConfig(cfg *config.Config) (digest.Config, error) {
	window, err := config.ParseDurationField("digest.window", cfg.Digest.Window)
	if err != nil {
		return digest.Config{}, err
	}
	return digest.Config{
		Enabled:  cfg.Digest.Enabled,
		Schedule: strings.TrimSpace(cfg.Digest.Schedule),
		Timezone: strings.TrimSpace(cfg.Digest.Timezone),
		Window:   window,
	}, nil
}
