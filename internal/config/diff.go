package config

import (
	"sort"
	"strings"

	logx "embygram/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or API keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log the token, only set-ness)
	if (strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") ||
		oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.ParseMode) != strings.TrimSpace(newCfg.Telegram.ParseMode) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
		)
	}

	// Webhook server
	if strings.TrimSpace(oldCfg.Webhook.Host) != strings.TrimSpace(newCfg.Webhook.Host) ||
		oldCfg.Webhook.Port != newCfg.Webhook.Port ||
		strings.TrimSpace(oldCfg.Webhook.ReadTimeout) != strings.TrimSpace(newCfg.Webhook.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Webhook.WriteTimeout) != strings.TrimSpace(newCfg.Webhook.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Webhook.IdleTimeout) != strings.TrimSpace(newCfg.Webhook.IdleTimeout) ||
		oldCfg.Webhook.EnableProfiler != newCfg.Webhook.EnableProfiler {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.String("webhook.host", strings.TrimSpace(newCfg.Webhook.Host)),
			logx.Int("webhook.port", newCfg.Webhook.Port),
			logx.Bool("webhook.profiler", newCfg.Webhook.EnableProfiler),
		)
	}

	// Aggregation window
	if strings.TrimSpace(oldCfg.Aggregation.Delay) != strings.TrimSpace(newCfg.Aggregation.Delay) {
		changed = append(changed, "aggregation")
		attrs = append(attrs,
			logx.String("aggregation.delay", strings.TrimSpace(newCfg.Aggregation.Delay)),
		)
	}

	// TMDB (never log the API key)
	if (strings.TrimSpace(oldCfg.TMDB.APIKey) != "") != (strings.TrimSpace(newCfg.TMDB.APIKey) != "") ||
		strings.TrimSpace(oldCfg.TMDB.ImageBaseURL) != strings.TrimSpace(newCfg.TMDB.ImageBaseURL) ||
		strings.TrimSpace(oldCfg.TMDB.Language) != strings.TrimSpace(newCfg.TMDB.Language) ||
		strings.TrimSpace(oldCfg.TMDB.Timeout) != strings.TrimSpace(newCfg.TMDB.Timeout) {
		changed = append(changed, "tmdb")
		attrs = append(attrs,
			logx.Bool("tmdb.key_set", strings.TrimSpace(newCfg.TMDB.APIKey) != ""),
			logx.String("tmdb.language", strings.TrimSpace(newCfg.TMDB.Language)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File != newCfg.Logging.File ||
		oldCfg.Logging.Telegram != newCfg.Logging.Telegram {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Metrics
	if oldCfg.Metrics.Enabled != newCfg.Metrics.Enabled {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	// History (nil means disabled)
	var oDriver, nDriver, oRet, nRet, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.History != nil {
		oDriver = strings.TrimSpace(oldCfg.History.Driver)
		oRet = strings.TrimSpace(oldCfg.History.Retention)
		oBusy = strings.TrimSpace(oldCfg.History.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.History.Path) != ""
	}
	if newCfg.History != nil {
		nDriver = strings.TrimSpace(newCfg.History.Driver)
		nRet = strings.TrimSpace(newCfg.History.Retention)
		nBusy = strings.TrimSpace(newCfg.History.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.History.Path) != ""
	}
	if oDriver != nDriver || oRet != nRet || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "history")
		attrs = append(attrs,
			logx.String("history.driver", nDriver),
			logx.Bool("history.path_set", nPathSet),
			logx.String("history.retention", nRet),
		)
	}

	// Digest
	if oldCfg.Digest != newCfg.Digest {
		changed = append(changed, "digest")
		attrs = append(attrs,
			logx.Bool("digest.enabled", newCfg.Digest.Enabled),
			logx.String("digest.schedule", strings.TrimSpace(newCfg.Digest.Schedule)),
			logx.String("digest.timezone", strings.TrimSpace(newCfg.Digest.Timezone)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
