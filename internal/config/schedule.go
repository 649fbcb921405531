package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind describes the normalized kind of a schedule string: either a
// cron expression (robfig/cron) or a fixed interval.
type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
)

// Schedule is a parsed per-source schedule.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */15 * * * *" (seconds optional), "@hourly", "@every 5m"
//   - Interval duration: "5m", "2h30m"
//   - Interval HH:MM: "00:15" (15 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes: "cron:" forces cron parsing, "interval:" or "every:"
// forces interval parsing.
type Schedule struct {
	Kind   ScheduleKind
	Raw    string
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"

	sched cron.Schedule
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses raw into a Schedule ready for Next().
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSchedule(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSchedule(raw, s[len("every:"):])
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(raw, s)
	}
	if reHHMM.MatchString(s) || isDuration(s) {
		return parseIntervalSchedule(raw, s)
	}
	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:15', or duration like '5m')",
		raw,
	)
}

// Next returns the first activation strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	if s.sched == nil {
		return time.Time{}
	}
	return s.sched.Next(t)
}

// Period is the nominal gap between two activations. For cron schedules it is
// measured from the next two activations after now.
func (s Schedule) Period(now time.Time) time.Duration {
	if s.Kind == ScheduleInterval {
		return s.Every
	}
	first := s.Next(now)
	if first.IsZero() {
		return 0
	}
	return s.Next(first).Sub(first)
}

func (s Schedule) String() string { return s.Raw }

func parseCron(raw, expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	out := Schedule{Kind: ScheduleCron, Raw: raw, Cron: expr, Source: "cron", sched: sched}
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		out.Every = cd.Delay
	}
	return out, nil
}

func parseIntervalSchedule(raw, v string) (Schedule, error) {
	d, src, err := parseInterval(v)
	if err != nil {
		return Schedule{}, err
	}
	return Schedule{
		Kind:   ScheduleInterval,
		Raw:    raw,
		Every:  d,
		Source: src,
		sched:  cron.Every(d),
	}, nil
}

func isDuration(s string) bool {
	_, err := time.ParseDuration(s)
	return err == nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMMDuration(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '5m'/'2h30m')", v)
	}
	if d < time.Second {
		return 0, "", fmt.Errorf("interval must be >= 1s")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, string, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, "", fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, "", fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "hhmm", nil
}
