package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"automatex/internal/telegram"
	"automatex/pkg/logx"
)

// SolarFlare is a NASA DONKI flare event of class M or X.
type SolarFlare struct {
	FlareID   string
	Class     string
	BeginTime int64 // unix seconds
	Link      string
}

func (f *SolarFlare) ID() string       { return f.FlareID }
func (f *SolarFlare) Timestamp() int64 { return f.BeginTime }
func (f *SolarFlare) notification()    {}

func (f *SolarFlare) Message() string {
	return fmt.Sprintf(
		"☀️ *Space Weather Alert* ☀️\n\n*Event:* %s\n*Class:* %s\n*Time:* %s\n"+
			"*Potential Impact:* Strong HF radio blackouts on Earth's sunlit side, increased aurora chances\\.\n"+
			"*Details:* [NASA DONKI](%s)",
		telegram.EscapeMarkdown("Solar Flare Detected"),
		telegram.EscapeMarkdown(f.Class),
		telegram.EscapeMarkdown(formatTime(f.BeginTime)),
		telegram.EscapeLinkURL(f.Link),
	)
}

type spaceWeatherSource struct {
	base
	apiKey string
}

type flareEvent struct {
	FlrID     string `json:"flrID"`
	BeginTime string `json:"beginTime"`
	ClassType string `json:"classType"`
	Link      string `json:"link"`
}

// donkiTimeLayouts are tried in order; DONKI usually omits seconds.
var donkiTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}

func parseDonkiTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range donkiTimeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func (s *spaceWeatherSource) requestURL(now time.Time) string {
	u, err := url.Parse(s.settings.Endpoint)
	if err != nil {
		return s.settings.Endpoint
	}
	q := u.Query()
	q.Set("startDate", now.Add(-24*time.Hour).UTC().Format("2006-01-02"))
	q.Set("api_key", s.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// significantFlare reports whether a flare class is M or X.
func significantFlare(class string) bool {
	return strings.HasPrefix(class, "X") || strings.HasPrefix(class, "M")
}

func validFlare(x flareEvent) error {
	if x.FlrID == "" {
		return errMissingField
	}
	return nil
}

func (s *spaceWeatherSource) FetchNew(ctx context.Context) ([]Notification, error) {
	var events []json.RawMessage
	if err := s.getJSON(ctx, s.requestURL(s.now()), &events); err != nil {
		return nil, err
	}

	var out []Notification
	for _, ev := range decodeItems(events, validFlare, s.skip("flare")) {
		if !significantFlare(ev.ClassType) || s.seen.IsSeen(ev.FlrID) {
			continue
		}
		begin, err := parseDonkiTime(ev.BeginTime)
		if err != nil {
			s.log.Warn("could not parse event time", logx.String("event_id", ev.FlrID), logx.Err(err))
			continue
		}
		if !s.claim(ev.FlrID, begin.Unix()) {
			continue
		}
		out = append(out, &SolarFlare{
			FlareID:   ev.FlrID,
			Class:     ev.ClassType,
			BeginTime: begin.Unix(),
			Link:      ev.Link,
		})
	}
	return out, nil
}
