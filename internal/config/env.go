package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvLookup matches os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// ApplyEnv layers environment variables over cfg and returns human readable
// warnings for values that were present but unusable.
//
// Recognised keys:
//
//	TELEGRAM_API_KEY, TELEGRAM_CHAT_ID, BUYMEACOFFEE_URL, NASA_API_KEY,
//	LOG_LEVEL, HTTP_ADDR, STORAGE_DIR,
//	<SVC>_INTERVAL_SECS, <SVC>_DISCLAIMER, <SVC>_ENABLED
//
// with SVC one of EARTHQUAKE, ROCKETLAUNCH, SPACEWEATHER, VULNERABILITY.
func ApplyEnv(cfg *Config, lookup EnvLookup) []string {
	if cfg == nil || lookup == nil {
		return nil
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	var warnings []string
	if v, ok := get("TELEGRAM_API_KEY"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get("TELEGRAM_CHAT_ID"); ok {
		cfg.Telegram.ChatID = v
	}
	if v, ok := get("BUYMEACOFFEE_URL"); ok {
		cfg.SupportURL = v
	}
	if v, ok := get("NASA_API_KEY"); ok && v != "" {
		cfg.NASAAPIKey = v
	}
	if v, ok := get("LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	if v, ok := get("HTTP_ADDR"); ok && v != "" {
		cfg.HTTP.Addr = v
	}
	if v, ok := get("STORAGE_DIR"); ok && v != "" {
		cfg.Storage.Dir = v
	}

	for _, name := range SourceNames {
		def := defaultsBySource[name]
		sc := cfg.Sources.byName(name)

		key := def.envPrefix + "_INTERVAL_SECS"
		if v, ok := get(key); ok {
			secs, err := strconv.ParseUint(v, 10, 32)
			if err != nil || secs == 0 {
				warnings = append(warnings, fmt.Sprintf("%s=%q is not a positive integer; ignored", key, v))
			} else {
				sc.Schedule = strconv.FormatUint(secs, 10) + "s"
			}
		}
		if v, ok := get(def.envPrefix + "_DISCLAIMER"); ok {
			sc.Disclaimer = v
		}
		key = def.envPrefix + "_ENABLED"
		if v, ok := get(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s=%q is not a boolean; ignored", key, v))
			} else {
				sc.Enabled = boolPtr(b)
			}
		}
	}
	return warnings
}
