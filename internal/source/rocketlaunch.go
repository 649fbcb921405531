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

// launchLead is added to the poll period when deciding whether a launch is
// close enough to announce.
const launchLead = 60 * time.Second

// RocketLaunch is an upcoming launch from Launch Library 2.
type RocketLaunch struct {
	LaunchID   string
	Mission    string
	Agency     string
	Vehicle    string
	LaunchTime int64 // unix seconds
	WatchURL   string
}

func (r *RocketLaunch) ID() string       { return r.LaunchID }
func (r *RocketLaunch) Timestamp() int64 { return r.LaunchTime }
func (r *RocketLaunch) notification()    {}

func (r *RocketLaunch) Message() string {
	msg := fmt.Sprintf(
		"🚀 *Rocket Launch Alert* 🚀\n\n*Mission:* %s\n*Agency:* %s\n*Vehicle:* %s\n*Launch Time:* %s",
		telegram.EscapeMarkdown(r.Mission),
		telegram.EscapeMarkdown(r.Agency),
		telegram.EscapeMarkdown(r.Vehicle),
		telegram.EscapeMarkdown(formatTime(r.LaunchTime)),
	)
	if r.WatchURL != "" {
		msg += fmt.Sprintf("\n*Watch Live:* [Click Here](%s)", telegram.EscapeLinkURL(r.WatchURL))
	}
	return msg
}

type rocketLaunchSource struct{ base }

type launchResult struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Net                   string `json:"net"`
	LaunchServiceProvider struct {
		Name string `json:"name"`
	} `json:"launch_service_provider"`
	Rocket struct {
		Configuration struct {
			FullName string `json:"full_name"`
		} `json:"configuration"`
	} `json:"rocket"`
	VidURLs []struct {
		URL string `json:"url"`
	} `json:"vidURLs"`
}

func (s *rocketLaunchSource) requestURL(now time.Time) string {
	u, err := url.Parse(s.settings.Endpoint)
	if err != nil {
		return s.settings.Endpoint
	}
	q := u.Query()
	q.Set("limit", "10")
	q.Set("window_end", now.Add(24*time.Hour).UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()
	return u.String()
}

func validLaunch(x launchResult) error {
	if x.ID == "" {
		return errMissingField
	}
	return nil
}

func (s *rocketLaunchSource) FetchNew(ctx context.Context) ([]Notification, error) {
	now := s.now()
	var resp struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := s.getJSON(ctx, s.requestURL(now), &resp); err != nil {
		return nil, err
	}

	window := s.settings.Schedule.Period(now) + launchLead
	var out []Notification
	for _, r := range decodeItems(resp.Results, validLaunch, s.skip("launch")) {
		net, err := time.Parse(time.RFC3339, strings.TrimSpace(r.Net))
		if err != nil {
			s.log.Warn("could not parse launch time", logx.String("launch_id", r.ID), logx.Err(err))
			continue
		}
		if net.Sub(now) >= window {
			continue
		}
		if !s.claim(r.ID, net.Unix()) {
			continue
		}
		n := &RocketLaunch{
			LaunchID:   r.ID,
			Mission:    r.Name,
			Agency:     r.LaunchServiceProvider.Name,
			Vehicle:    r.Rocket.Configuration.FullName,
			LaunchTime: net.Unix(),
		}
		if len(r.VidURLs) > 0 {
			n.WatchURL = r.VidURLs[0].URL
		}
		out = append(out, n)
	}
	return out, nil
}
