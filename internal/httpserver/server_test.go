package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"automatex/internal/eventbus"
	"automatex/pkg/logx"
)

func TestLivenessRoute(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(New(Config{}, Deps{}, logx.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != LivenessText {
		t.Fatalf("GET / = %d %q", resp.StatusCode, body)
	}

	resp2, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /nope = %d", resp2.StatusCode)
	}
}

func TestStatusReflectsCycleEvents(t *testing.T) {
	t.Parallel()
	st := NewStatus([]string{"earthquake", "spaceweather"}, nil)
	st.Apply(eventbus.Event{Type: eventbus.TypeStateLoaded, Source: "earthquake", Data: eventbus.StateLoaded{Entries: 3}})
	st.Apply(eventbus.Event{Type: eventbus.TypeCycleStarted, Source: "earthquake", Data: eventbus.Cycle{ID: "c1"}})
	st.Apply(eventbus.Event{Type: eventbus.TypeCycleFinished, Source: "earthquake", Time: time.Now(),
		Data: eventbus.Cycle{ID: "c1", Fetched: 2, Sent: 1, Failed: 1, Saved: true}})
	st.Apply(eventbus.Event{Type: eventbus.TypeCycleFinished, Source: "spaceweather", Time: time.Now(),
		Data: eventbus.Cycle{ID: "c2", Err: "fetch spaceweather: status 503"}})

	srv := httptest.NewServer(New(Config{}, Deps{Status: st}, logx.Nop()).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var rep StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Sources) != 2 || rep.Sources[0].Name != "earthquake" {
		t.Fatalf("sources = %+v", rep.Sources)
	}
	eq := rep.Sources[0]
	if !eq.StateLoaded || eq.Running || eq.Cycles != 1 || eq.LastCycle == nil || eq.LastCycle.Sent != 1 || eq.LastSuccess == nil {
		t.Fatalf("earthquake = %+v", eq)
	}
	sw := rep.Sources[1]
	if sw.LastSuccess != nil || sw.LastCycle == nil || !strings.Contains(sw.LastCycle.Err, "503") {
		t.Fatalf("spaceweather = %+v", sw)
	}
}

func TestMetricsRouteOptional(t *testing.T) {
	t.Parallel()
	h := New(Config{}, Deps{Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("automatex_up 1\n"))
	})}, logx.Nop()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "automatex_up") {
		t.Fatalf("metrics body = %q", rec.Body.String())
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status without tracker = %d", rec.Code)
	}
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	svc := New(Config{Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	svc.Start(context.Background())

	select {
	case <-svc.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server never bound")
	}
	resp, err := http.Get("http://" + svc.Addr() + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	svc.Stop(ctx)
	if svc.Supervisor() != nil || svc.Addr() != "" {
		t.Fatal("server still registered after Stop")
	}
}

func TestStatusKeepsEventsPublishedBeforeRun(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	st := NewStatus([]string{"vulnerability"}, bus)

	bus.Publish(eventbus.Event{Type: eventbus.TypeStateLoaded, Source: "vulnerability", Data: eventbus.StateLoaded{Entries: 2}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		st.Run(ctx, events)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rep := st.Snapshot(); rep.Sources[0].StateLoaded {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("state.loaded published before Run was lost")
}
