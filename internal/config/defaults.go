package config

import "time"

const (
	DefaultHTTPAddr    = "0.0.0.0:8010"
	DefaultStorageDir  = "."
	DefaultSQLitePath  = "./automatex.db"
	DefaultDispatchGap = time.Second
	DefaultNASAAPIKey  = "DEMO_KEY"
)

type sourceDefaults struct {
	interval  time.Duration
	retention time.Duration
	snapshot  string
	endpoint  string
	envPrefix string
}

var defaultsBySource = map[string]sourceDefaults{
	SourceEarthquake: {
		interval:  5 * time.Minute,
		retention: 72 * time.Hour,
		snapshot:  "seen_quakes.json",
		endpoint:  "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/4.5_day.geojson",
		envPrefix: "EARTHQUAKE",
	},
	SourceRocketLaunch: {
		interval:  15 * time.Minute,
		retention: 30 * 24 * time.Hour,
		snapshot:  "seen_launches.json",
		endpoint:  "https://ll.thespacedevs.com/2.2.0/launch/upcoming/",
		envPrefix: "ROCKETLAUNCH",
	},
	SourceSpaceWeather: {
		interval:  30 * time.Minute,
		retention: 7 * 24 * time.Hour,
		snapshot:  "seen_space_weather.json",
		endpoint:  "https://api.nasa.gov/DONKI/FLR",
		envPrefix: "SPACEWEATHER",
	},
	SourceVulnerability: {
		interval:  time.Hour,
		retention: 14 * 24 * time.Hour,
		snapshot:  "seen_vulnerabilities.json",
		endpoint:  "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json",
		envPrefix: "VULNERABILITY",
	},
}

// Default returns a config with every optional field filled in. Parse decodes
// the file on top of it, so omitted keys keep these values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    LoggingFile{Path: "./automatex.log"},
			Telegram: LoggingTelegram{
				MinLevel:   "error",
				RatePerSec: 1,
			},
		},
		HTTP:       HTTPConfig{Enabled: boolPtr(true), Addr: DefaultHTTPAddr},
		Storage:    StorageConfig{Driver: "file", Dir: DefaultStorageDir},
		Dispatch:   DispatchConfig{Pace: DefaultDispatchGap.String()},
		NASAAPIKey: DefaultNASAAPIKey,
	}
}
