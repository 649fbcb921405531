package config

// Config is the on-disk configuration. Environment variables are layered on top
// by the Manager (see env.go); the result is validated once at startup.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch"`

	// SupportURL renders the "Like this service?" footer when set.
	SupportURL string `json:"support_url,omitempty"`
	// NASAAPIKey is used by the space weather source.
	NASAAPIKey string `json:"nasa_api_key,omitempty"`

	Sources SourcesConfig `json:"sources"`
}

type TelegramConfig struct {
	// Token is the bot token (do not log).
	Token  string `json:"token"`
	ChatID string `json:"chat_id"`
	// APIURL overrides the Bot API base URL (tests, local bot API servers).
	APIURL string `json:"api_url,omitempty"`
	// Timeout is a Go duration string applied to each outbound request.
	Timeout string `json:"timeout,omitempty"`
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

// LoggingTelegram forwards error logs to an operator chat.
// ChatID defaults to telegram.chat_id when empty.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HTTPConfig controls the liveness server.
//
// Enabled is a pointer so an omitted key keeps the server on.
type HTTPConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default: "0.0.0.0:8010"
}

// StorageConfig selects the snapshot backend for seen stores.
//
// Example:
//
//	"storage": { "driver": "sqlite", "dir": "./data", "path": "./data/automatex.db" }
type StorageConfig struct {
	// Driver is "file" (default) or "sqlite".
	Driver string `json:"driver"`
	// Dir holds the JSON snapshots of the file driver.
	Dir string `json:"dir"`
	// Path is the database file of the sqlite driver.
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type DispatchConfig struct {
	// Pace is the minimum gap between two sends of the same source.
	Pace string `json:"pace,omitempty"`
}

type SourcesConfig struct {
	Earthquake    SourceConfig `json:"earthquake"`
	RocketLaunch  SourceConfig `json:"rocketlaunch"`
	SpaceWeather  SourceConfig `json:"spaceweather"`
	Vulnerability SourceConfig `json:"vulnerability"`
}

// SourceConfig is the raw per-source block.
//
// Schedule accepts a Go duration ("5m"), HH:MM ("00:15"), a cron expression
// ("*/5 * * * *") or a descriptor ("@every 5m", "@hourly").
type SourceConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Schedule   string `json:"schedule,omitempty"`
	Retention  string `json:"retention,omitempty"`
	Snapshot   string `json:"snapshot,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Disclaimer string `json:"disclaimer,omitempty"`
}

// Source names, also used as log/metric labels and sqlite snapshot keys.
const (
	SourceEarthquake    = "earthquake"
	SourceRocketLaunch  = "rocketlaunch"
	SourceSpaceWeather  = "spaceweather"
	SourceVulnerability = "vulnerability"
)

// SourceNames lists every source in start order.
var SourceNames = []string{SourceEarthquake, SourceRocketLaunch, SourceSpaceWeather, SourceVulnerability}

func (s *SourcesConfig) byName(name string) *SourceConfig {
	switch name {
	case SourceEarthquake:
		return &s.Earthquake
	case SourceRocketLaunch:
		return &s.RocketLaunch
	case SourceSpaceWeather:
		return &s.SpaceWeather
	case SourceVulnerability:
		return &s.Vulnerability
	default:
		return nil
	}
}

func boolPtr(v bool) *bool { return &v }
