package config

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   ScheduleKind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: ScheduleCron, source: "cron"},
		{name: "cron with seconds", raw: "0 */15 * * * *", kind: ScheduleCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: ScheduleCron, source: "cron"},
		{name: "descriptor every", raw: "@every 5m", kind: ScheduleCron, source: "cron", every: 5 * time.Minute},
		{name: "duration", raw: "10m", kind: ScheduleInterval, source: "duration", every: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: ScheduleInterval, source: "duration", every: 45 * time.Second},
		{name: "prefixed every", raw: "every:00:15", kind: ScheduleInterval, source: "hhmm", every: 15 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: ScheduleInterval, source: "hhmm", every: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.every != 0 && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.Next(time.Now()).IsZero() {
				t.Fatal("Next returned zero time")
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "interval:-5m", "00:75", "500ms", "* * *"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", raw)
		}
	}
}

func TestSchedulePeriod(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC)

	iv, err := ParseSchedule("15m")
	if err != nil {
		t.Fatal(err)
	}
	if got := iv.Period(now); got != 15*time.Minute {
		t.Fatalf("interval Period = %v, want 15m", got)
	}
	if next := iv.Next(now); !next.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("interval Next = %v", next)
	}

	cr, err := ParseSchedule("*/10 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	if got := cr.Period(now); got != 10*time.Minute {
		t.Fatalf("cron Period = %v, want 10m", got)
	}
	if next := cr.Next(now); !next.Equal(time.Date(2024, 5, 1, 10, 10, 0, 0, time.UTC)) {
		t.Fatalf("cron Next = %v", next)
	}
}
