package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides layers the environment on top of the file values.
// This is the surface Docker deployments have always used; a relay with
// these variables set needs no config file at all.
//
//	TELEGRAM_BOT_TOKEN   telegram.token
//	TELEGRAM_CHAT_ID     telegram.chat_id
//	WEBHOOK_HOST         webhook.host
//	WEBHOOK_PORT         webhook.port
//	AGGREGATION_DELAY    aggregation.delay (bare seconds or Go duration)
//	TMDB_API_KEY         tmdb.api_key
//	TMDB_IMAGE_BASE_URL  tmdb.image_base_url
//
// Variables that are set but blank are treated as unset. Malformed numeric
// values fail the load rather than being silently ignored.
func applyEnvOverrides(cfg *Config) error {
	if v, ok := lookupEnv("TELEGRAM_BOT_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := lookupEnv("TELEGRAM_CHAT_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: invalid chat id %q", v)
		}
		cfg.Telegram.ChatID = id
	}
	if v, ok := lookupEnv("WEBHOOK_HOST"); ok {
		cfg.Webhook.Host = v
	}
	if v, ok := lookupEnv("WEBHOOK_PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("WEBHOOK_PORT: invalid port %q", v)
		}
		cfg.Webhook.Port = p
	}
	if v, ok := lookupEnv("AGGREGATION_DELAY"); ok {
		if _, err := ParseDurationField("AGGREGATION_DELAY", v); err != nil {
			return err
		}
		cfg.Aggregation.Delay = v
	}
	if v, ok := lookupEnv("TMDB_API_KEY"); ok {
		cfg.TMDB.APIKey = v
	}
	if v, ok := lookupEnv("TMDB_IMAGE_BASE_URL"); ok {
		cfg.TMDB.ImageBaseURL = v
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return v, true
}
