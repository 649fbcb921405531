package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"automatex/internal/telegram"
	"automatex/pkg/logx"
)

// Vulnerability is an entry of the CISA Known Exploited Vulnerabilities catalog.
type Vulnerability struct {
	CVE         string
	Vendor      string
	Product     string
	Name        string
	Description string
	Action      string
	DueDate     string
	Added       int64 // unix seconds, midnight UTC of dateAdded
}

func (v *Vulnerability) ID() string       { return v.CVE }
func (v *Vulnerability) Timestamp() int64 { return v.Added }
func (v *Vulnerability) notification()    {}

func (v *Vulnerability) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛡️ *Known Exploited Vulnerability* 🛡️\n\n*CVE:* %s\n*Vendor:* %s\n*Product:* %s\n*Name:* %s\n*Added:* %s",
		telegram.EscapeMarkdown(v.CVE),
		telegram.EscapeMarkdown(v.Vendor),
		telegram.EscapeMarkdown(v.Product),
		telegram.EscapeMarkdown(v.Name),
		telegram.EscapeMarkdown(time.Unix(v.Added, 0).UTC().Format(kevDateLayout)),
	)
	if v.DueDate != "" {
		fmt.Fprintf(&b, "\n*Due Date:* %s", telegram.EscapeMarkdown(v.DueDate))
	}
	if v.Description != "" {
		fmt.Fprintf(&b, "\n*Summary:* %s", telegram.EscapeMarkdown(v.Description))
	}
	if v.Action != "" {
		fmt.Fprintf(&b, "\n*Required Action:* %s", telegram.EscapeMarkdown(v.Action))
	}
	fmt.Fprintf(&b, "\n*Details:* [NVD](%s)", telegram.EscapeLinkURL("https://nvd.nist.gov/vuln/detail/"+v.CVE))
	return b.String()
}

const kevDateLayout = "2006-01-02"

type vulnerabilitySource struct{ base }

type kevEntry struct {
	CveID             string `json:"cveID"`
	VendorProject     string `json:"vendorProject"`
	Product           string `json:"product"`
	VulnerabilityName string `json:"vulnerabilityName"`
	DateAdded         string `json:"dateAdded"`
	ShortDescription  string `json:"shortDescription"`
	RequiredAction    string `json:"requiredAction"`
	DueDate           string `json:"dueDate"`
}

func validKEVEntry(x kevEntry) error {
	if x.CveID == "" {
		return errMissingField
	}
	return nil
}

// FetchNew only announces entries added inside the retention window, so the
// first poll does not replay the whole catalog.
func (s *vulnerabilitySource) FetchNew(ctx context.Context) ([]Notification, error) {
	var resp struct {
		Vulnerabilities []json.RawMessage `json:"vulnerabilities"`
	}
	if err := s.getJSON(ctx, s.settings.Endpoint, &resp); err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.settings.Retention).Unix()
	var out []Notification
	for _, e := range decodeItems(resp.Vulnerabilities, validKEVEntry, s.skip("catalog entry")) {
		added, err := time.Parse(kevDateLayout, strings.TrimSpace(e.DateAdded))
		if err != nil {
			s.log.Warn("could not parse dateAdded", logx.String("cve", e.CveID), logx.Err(err))
			continue
		}
		if added.Unix() < cutoff {
			continue
		}
		if !s.claim(e.CveID, added.Unix()) {
			continue
		}
		out = append(out, &Vulnerability{
			CVE:         e.CveID,
			Vendor:      e.VendorProject,
			Product:     e.Product,
			Name:        e.VulnerabilityName,
			Description: e.ShortDescription,
			Action:      e.RequiredAction,
			DueDate:     e.DueDate,
			Added:       added.Unix(),
		})
	}
	return out, nil
}
