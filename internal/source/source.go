// Package source polls external event feeds and turns new events into
// notifications.
package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"automatex/internal/config"
	"automatex/internal/state"
	"automatex/internal/storage"
	"automatex/pkg/logx"
)

// Notification is one announceable event. The set of implementations is closed:
// *Earthquake, *RocketLaunch, *SolarFlare and *Vulnerability.
type Notification interface {
	// ID is stable across polls of the same upstream event.
	ID() string
	// Timestamp is the event time in unix seconds.
	Timestamp() int64
	// Message is the MarkdownV2 body without footer.
	Message() string

	notification()
}

// Source is one polled feed with its own seen store.
type Source interface {
	Name() string
	Settings() config.SourceSettings
	Seen() *state.Store
	// FetchNew returns unseen events in upstream order and marks them seen.
	FetchNew(ctx context.Context) ([]Notification, error)
}

// Deps are shared by every source.
type Deps struct {
	Client     *http.Client
	Backend    storage.Backend
	Log        logx.Logger
	NASAAPIKey string
	// Now overrides time.Now (tests).
	Now func() time.Time
}

// New builds the source named by s.Name.
func New(s config.SourceSettings, deps Deps) (Source, error) {
	b, err := newBase(s, deps)
	if err != nil {
		return nil, err
	}
	switch s.Name {
	case config.SourceEarthquake:
		return &earthquakeSource{base: b}, nil
	case config.SourceRocketLaunch:
		return &rocketLaunchSource{base: b}, nil
	case config.SourceSpaceWeather:
		key := deps.NASAAPIKey
		if key == "" {
			key = config.DefaultNASAAPIKey
		}
		return &spaceWeatherSource{base: b, apiKey: key}, nil
	case config.SourceVulnerability:
		return &vulnerabilitySource{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown source %q", s.Name)
	}
}

// LoadState restores the seen store. A failure leaves the store empty (or as it
// was) and is returned for the caller to log.
func LoadState(ctx context.Context, s Source, log logx.Logger) error {
	kept, dropped, err := s.Seen().Load(ctx)
	if err != nil {
		return err
	}
	log.Info("state loaded",
		logx.String("snapshot", s.Seen().Key()), logx.Int("kept", kept), logx.Int("expired", dropped))
	return nil
}

// SaveState persists the seen store.
func SaveState(ctx context.Context, s Source) error {
	return s.Seen().Save(ctx)
}

type base struct {
	settings config.SourceSettings
	seen     *state.Store
	client   *http.Client
	log      logx.Logger
	now      func() time.Time
}

func newBase(s config.SourceSettings, deps Deps) (base, error) {
	if deps.Backend == nil {
		return base{}, fmt.Errorf("%s: storage backend is required", s.Name)
	}
	if _, err := url.Parse(s.Endpoint); err != nil || s.Endpoint == "" {
		return base{}, fmt.Errorf("%s: invalid endpoint %q", s.Name, s.Endpoint)
	}
	client := deps.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return base{
		settings: s,
		seen:     state.New(deps.Backend, s.Snapshot, s.Retention, state.WithClock(now)),
		client:   client,
		log:      log.With(logx.String("source", s.Name)),
		now:      now,
	}, nil
}

func (b *base) Name() string                    { return b.settings.Name }
func (b *base) Settings() config.SourceSettings { return b.settings }
func (b *base) Seen() *state.Store              { return b.seen }

// claim reports whether id is new and, if so, marks it seen.
func (b *base) claim(id string, ts int64) bool {
	if b.seen.IsSeen(id) {
		return false
	}
	b.seen.Add(id, ts)
	return true
}

func (b *base) skip(what string) func(i int, err error) {
	return func(i int, err error) {
		b.log.Warn("skipping malformed "+what, logx.Int("index", i), logx.Err(err))
	}
}

// redact hides credentials in URLs that end up in errors and logs.
func (b *base) redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// formatTime renders unix seconds the way alerts show them, in UTC.
func formatTime(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.ANSIC)
}
