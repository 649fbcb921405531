package config

import (
	"reflect"

	"automatex/pkg/logx"
)

// SummarizeChange reports which top-level sections differ between two configs
// and safe structured attrs for logging (never the bot token).
//
// Only the logging section is applied live; every other changed section is also
// returned in restart so the caller can warn that it needs a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	others := []struct {
		name string
		a, b any
	}{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"http", oldCfg.HTTP, newCfg.HTTP},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"dispatch", oldCfg.Dispatch, newCfg.Dispatch},
		{"support_url", oldCfg.SupportURL, newCfg.SupportURL},
		{"nasa_api_key", oldCfg.NASAAPIKey, newCfg.NASAAPIKey},
		{"sources", oldCfg.Sources, newCfg.Sources},
	}
	for _, o := range others {
		if !reflect.DeepEqual(o.a, o.b) {
			changed = append(changed, o.name)
			restart = append(restart, o.name)
		}
	}
	return changed, attrs, restart
}

// LogConfig maps the logging section onto the logger service config.
func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Telegram.Enabled,
			MinLevel:   c.Logging.Telegram.MinLevel,
			RatePerSec: c.Logging.Telegram.RatePerSec,
		},
	}
}
