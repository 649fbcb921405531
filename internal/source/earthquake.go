package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"automatex/internal/telegram"
)

// Earthquake is a USGS feed event.
type Earthquake struct {
	EventID   string
	Magnitude float64
	Place     string
	Time      int64 // unix seconds
	URL       string
	Latitude  float64
	Longitude float64
}

func (e *Earthquake) ID() string       { return e.EventID }
func (e *Earthquake) Timestamp() int64 { return e.Time }
func (e *Earthquake) notification()    {}

func (e *Earthquake) Message() string {
	lat := strconv.FormatFloat(e.Latitude, 'f', -1, 64)
	lon := strconv.FormatFloat(e.Longitude, 'f', -1, 64)
	maps := fmt.Sprintf("https://www.google.com/maps/place/%s,%s/@%.4f,%.4f,5z", lat, lon, e.Latitude, e.Longitude)
	return fmt.Sprintf(
		"🌍 *Earthquake Report* 🌍\n\n*Magnitude:* %s\n*Location:* %s\n*Time:* %s\n*Map:* [Google Maps](%s) \\| [Details on USGS](%s)",
		telegram.EscapeMarkdown(fmt.Sprintf("%.2f", e.Magnitude)),
		telegram.EscapeMarkdown(e.Place),
		telegram.EscapeMarkdown(formatTime(e.Time)),
		telegram.EscapeLinkURL(maps),
		telegram.EscapeLinkURL(e.URL),
	)
}

type earthquakeSource struct{ base }

type usgsFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag   *float64 `json:"mag"`
		Place string   `json:"place"`
		Time  int64    `json:"time"` // unix milliseconds
		URL   string   `json:"url"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // lon, lat, depth
	} `json:"geometry"`
}

// validFeature rejects features without a usable event time; a zero timestamp
// would expire on the next load and the event would be announced again.
func validFeature(f usgsFeature) error {
	if f.ID == "" || f.Properties.Mag == nil || f.Properties.Time <= 0 || len(f.Geometry.Coordinates) < 2 {
		return errMissingField
	}
	return nil
}

func (s *earthquakeSource) FetchNew(ctx context.Context) ([]Notification, error) {
	var resp struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := s.getJSON(ctx, s.settings.Endpoint, &resp); err != nil {
		return nil, err
	}

	var out []Notification
	for _, f := range decodeItems(resp.Features, validFeature, s.skip("feature")) {
		ts := f.Properties.Time / 1000
		if !s.claim(f.ID, ts) {
			continue
		}
		out = append(out, &Earthquake{
			EventID:   f.ID,
			Magnitude: *f.Properties.Mag,
			Place:     f.Properties.Place,
			Time:      ts,
			URL:       f.Properties.URL,
			Latitude:  f.Geometry.Coordinates[1],
			Longitude: f.Geometry.Coordinates[0],
		})
	}
	return out, nil
}
