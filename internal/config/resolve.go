package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingCredentials is returned by Validate when the outbound chat cannot
// be addressed. It is the only fatal configuration error.
var ErrMissingCredentials = errors.New("TELEGRAM_API_KEY or TELEGRAM_CHAT_ID is missing")

// SourceSettings is the resolved, immutable configuration of one source.
type SourceSettings struct {
	Name       string
	Enabled    bool
	Schedule   Schedule
	Retention  time.Duration
	Snapshot   string // file path (file driver) or key (sqlite driver)
	Endpoint   string
	Disclaimer string
	SupportURL string
}

// Source resolves the named source block against defaults and storage settings.
func (c *Config) Source(name string) (SourceSettings, error) {
	def, ok := defaultsBySource[name]
	if !ok {
		return SourceSettings{}, fmt.Errorf("unknown source %q", name)
	}
	raw := c.Sources.byName(name)
	path := "sources." + name

	out := SourceSettings{
		Name:       name,
		Enabled:    raw.Enabled == nil || *raw.Enabled,
		Endpoint:   strings.TrimSpace(raw.Endpoint),
		Disclaimer: raw.Disclaimer,
		SupportURL: strings.TrimSpace(c.SupportURL),
	}
	if out.Endpoint == "" {
		out.Endpoint = def.endpoint
	}

	spec := strings.TrimSpace(raw.Schedule)
	if spec == "" {
		spec = def.interval.String()
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return SourceSettings{}, fmt.Errorf("%s.schedule: %w", path, err)
	}
	out.Schedule = sched

	out.Retention, err = ParseDurationOrDefault(path+".retention", raw.Retention, def.retention)
	if err != nil {
		return SourceSettings{}, err
	}

	snap := strings.TrimSpace(raw.Snapshot)
	if snap == "" {
		snap = def.snapshot
	}
	if c.StorageDriver() == "file" && !filepath.IsAbs(snap) {
		snap = filepath.Join(c.StorageDir(), snap)
	}
	out.Snapshot = snap
	return out, nil
}

// EnabledSources resolves every enabled source in start order.
func (c *Config) EnabledSources() ([]SourceSettings, error) {
	out := make([]SourceSettings, 0, len(SourceNames))
	for _, name := range SourceNames {
		s, err := c.Source(name)
		if err != nil {
			return nil, err
		}
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

// DispatchPace returns the minimum gap between two sends of one source.
func (c *Config) DispatchPace() (time.Duration, error) {
	return ParseDurationOrDefault("dispatch.pace", c.Dispatch.Pace, DefaultDispatchGap)
}

// TelegramTimeout returns the outbound request timeout.
func (c *Config) TelegramTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.timeout", c.Telegram.Timeout, 10*time.Second)
}

func (c *Config) HTTPEnabled() bool { return c.HTTP.Enabled == nil || *c.HTTP.Enabled }

func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

// LogChatID is the chat receiving forwarded error logs.
func (c *Config) LogChatID() string {
	if id := strings.TrimSpace(c.Logging.Telegram.ChatID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Telegram.ChatID)
}

func (c *Config) StorageDriver() string {
	d := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if d == "" {
		return "file"
	}
	return d
}

func (c *Config) StorageDir() string {
	if d := strings.TrimSpace(c.Storage.Dir); d != "" {
		return d
	}
	return DefaultStorageDir
}

// Validate checks the whole config. A missing credential wraps
// ErrMissingCredentials; everything else is a path-qualified error.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" || strings.TrimSpace(c.Telegram.ChatID) == "" {
		return ErrMissingCredentials
	}
	switch c.StorageDriver() {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unsupported driver %q (use file or sqlite)", c.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := c.DispatchPace(); err != nil {
		return err
	}
	if _, err := c.TelegramTimeout(); err != nil {
		return err
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		return errors.New("logging.telegram.rate_per_sec: must be >= 0")
	}
	owners := make(map[string]string, len(SourceNames))
	for _, name := range SourceNames {
		s, err := c.Source(name)
		if err != nil {
			return err
		}
		key := s.Snapshot
		if c.StorageDriver() == "file" {
			key = filepath.Clean(key)
		}
		// Saves replace the snapshot wholesale; sources must not share one.
		if other, ok := owners[key]; ok {
			return fmt.Errorf("sources.%s.snapshot: %q already used by %s", name, s.Snapshot, other)
		}
		owners[key] = name
	}
	return nil
}

func (c *Config) SQLitePath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	return DefaultSQLitePath
}
