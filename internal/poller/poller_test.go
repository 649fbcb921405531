package poller

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"automatex/internal/config"
	"automatex/internal/dispatch"
	"automatex/internal/eventbus"
	"automatex/internal/source"
	"automatex/internal/state"
	"automatex/internal/storage"
	"automatex/pkg/logx"
)

// fakeSource serves a scripted upstream and applies the usual seen filter.
type fakeSource struct {
	settings config.SourceSettings
	seen     *state.Store

	mu       sync.Mutex
	upstream []string
	fetchErr error
	fetches  int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
	// firstDelay, when set, replaces delay for the first fetch only.
	firstDelay time.Duration
	starts     []time.Time
	ends       []time.Time
}

func newFakeSource(t *testing.T, upstream ...string) *fakeSource {
	t.Helper()
	backend, err := storage.Open(storage.Config{Driver: "file"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "seen.json")
	return &fakeSource{
		settings: config.SourceSettings{Name: "spaceweather", Snapshot: path, Retention: time.Hour},
		seen:     state.New(backend, path, time.Hour),
		upstream: upstream,
	}
}

func (f *fakeSource) Name() string                    { return f.settings.Name }
func (f *fakeSource) Settings() config.SourceSettings { return f.settings }
func (f *fakeSource) Seen() *state.Store              { return f.seen }

func (f *fakeSource) FetchNew(ctx context.Context) ([]source.Notification, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	delay := f.delay
	if len(f.starts) == 0 && f.firstDelay > 0 {
		delay = f.firstDelay
	}
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() { f.ends = append(f.ends, time.Now()) }()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []source.Notification
	for _, id := range f.upstream {
		if f.seen.IsSeen(id) {
			continue
		}
		f.seen.Add(id, time.Now().Unix())
		out = append(out, &source.SolarFlare{FlareID: id, Class: "M1.0", BeginTime: time.Now().Unix(), Link: "https://donki.example/" + id})
	}
	return out, nil
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

type recorder struct {
	mu     sync.Mutex
	texts  []string
	failOn string
}

func (r *recorder) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	if r.failOn != "" && strings.Contains(text, r.failOn) {
		return errors.New("status 400")
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts)
}

type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func snapshotIDs(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var entries []state.Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestCycleDeliversUnseenAndSaves(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t, "A", "B", "C")
	src.seen.Add("A", time.Now().Unix())
	src.seen.Add("C", time.Now().Unix())
	rec := &recorder{}
	p := New(src, dispatch.New(rec, dispatch.Footer{}, 0, logx.Nop()), every(time.Hour), logx.Nop())

	c := p.RunCycle(context.Background())
	if c.Fetched != 1 || c.Sent != 1 || !c.Saved || c.Err != "" {
		t.Fatalf("cycle = %+v", c)
	}
	if rec.count() != 1 || !strings.Contains(rec.texts[0], "donki.example/B") {
		t.Fatalf("sent = %q", rec.texts)
	}
	ids := snapshotIDs(t, src.settings.Snapshot)
	sort.Strings(ids)
	if got := strings.Join(ids, ","); got != "A,B,C" {
		t.Fatalf("snapshot ids = %s", got)
	}
}

func TestFetchErrorSkipsSave(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t, "A")
	src.fetchErr = &source.FetchError{Source: "spaceweather", URL: "http://x", Status: 503, Err: errors.New("down")}
	rec := &recorder{}
	p := New(src, dispatch.New(rec, dispatch.Footer{}, 0, logx.Nop()), every(time.Hour), logx.Nop())

	c := p.RunCycle(context.Background())
	if c.Err == "" || c.Saved {
		t.Fatalf("cycle = %+v", c)
	}
	if rec.count() != 0 {
		t.Fatal("delivered after fetch error")
	}
	if _, err := os.Stat(src.settings.Snapshot); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("snapshot written after fetch error: %v", err)
	}
}

func TestEmptyCycleSkipsSave(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t)
	p := New(src, dispatch.New(&recorder{}, dispatch.Footer{}, 0, logx.Nop()), every(time.Hour), logx.Nop())
	if c := p.RunCycle(context.Background()); c.Saved || c.Fetched != 0 {
		t.Fatalf("cycle = %+v", c)
	}
	if _, err := os.Stat(src.settings.Snapshot); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("snapshot written for an empty cycle")
	}
}

func TestDeliveryFailureKeepsItemSeen(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t, "A", "B", "C")
	rec := &recorder{failOn: "donki.example/B"}
	p := New(src, dispatch.New(rec, dispatch.Footer{}, 0, logx.Nop()), every(time.Hour), logx.Nop())

	c := p.RunCycle(context.Background())
	if c.Sent != 2 || c.Failed != 1 || !c.Saved {
		t.Fatalf("cycle = %+v", c)
	}
	if got := strings.Join(snapshotIDs(t, src.settings.Snapshot), ","); !strings.Contains(got, "B") {
		t.Fatalf("B missing from snapshot: %s", got)
	}

	// at-most-once: B is not retried on the next cycle
	if c := p.RunCycle(context.Background()); c.Fetched != 0 {
		t.Fatalf("second cycle = %+v", c)
	}
	if rec.count() != 3 {
		t.Fatalf("sends = %d, want 3", rec.count())
	}
}

func TestRepeatedUpstreamEmitsOnce(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t, "x1")
	rec := &recorder{}
	p := New(src, dispatch.New(rec, dispatch.Footer{}, 0, logx.Nop()), every(time.Hour), logx.Nop())

	first := p.RunCycle(context.Background())
	second := p.RunCycle(context.Background())
	if first.Fetched != 1 || second.Fetched != 0 {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

func TestRunChecksImmediatelyAndRepeats(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t, "A")
	src.delay = 15 * time.Millisecond
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	defer unsub()

	p := New(src, dispatch.New(&recorder{}, dispatch.Footer{}, 0, logx.Nop()), every(5*time.Millisecond), logx.Nop(), WithBus(bus))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for src.fetchCount() < 4 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if src.fetchCount() < 4 {
		t.Fatalf("fetches = %d, want >= 4", src.fetchCount())
	}
	// cycle time exceeds the interval; runs must still never overlap
	if m := src.maxInFlight.Load(); m != 1 {
		t.Fatalf("max concurrent fetches = %d, want 1", m)
	}

	first := <-events
	if first.Type != eventbus.TypeStateLoaded || first.Source != "spaceweather" {
		t.Fatalf("first event = %+v", first)
	}
}

func TestRunStartsWhenStateIsCorrupt(t *testing.T) {
	t.Parallel()
	src := newFakeSource(t, "A")
	if err := os.WriteFile(src.settings.Snapshot, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	p := New(src, dispatch.New(rec, dispatch.Footer{}, 0, logx.Nop()), every(time.Hour), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if rec.count() != 1 {
		t.Fatalf("sends = %d, want 1 despite corrupt snapshot", rec.count())
	}
	// the corrupt snapshot is replaced by the first successful save
	if ids := snapshotIDs(t, src.settings.Snapshot); len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("snapshot = %v", ids)
	}
}

func TestRunCoalescesMissedActivations(t *testing.T) {
	t.Parallel()
	const interval = 50 * time.Millisecond
	src := newFakeSource(t, "A")
	// the first cycle overruns four activations
	src.firstDelay = 4*interval + 10*time.Millisecond

	p := New(src, dispatch.New(&recorder{}, dispatch.Footer{}, 0, logx.Nop()), every(interval), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	started := time.Now()
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for src.fetchCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	elapsed := time.Since(started)

	src.mu.Lock()
	starts := append([]time.Time(nil), src.starts...)
	ends := append([]time.Time(nil), src.ends...)
	src.mu.Unlock()
	if len(starts) < 3 {
		t.Fatalf("fetches = %d, want >= 3", len(starts))
	}
	// missed activations are not replayed back to back: every run after the
	// late one waits a full interval from the end of the previous run
	for i := 1; i < len(starts) && i-1 < len(ends); i++ {
		if gap := starts[i].Sub(ends[i-1]); gap < interval-5*time.Millisecond {
			t.Fatalf("run %d started %v after run %d ended, want >= %v", i+1, gap, i, interval)
		}
	}
	// one late run plus at most one run per interval after it
	limit := int((elapsed-src.firstDelay)/interval) + 1
	if len(starts) > limit {
		t.Fatalf("fetches = %d in %v, want <= %d", len(starts), elapsed, limit)
	}
}
