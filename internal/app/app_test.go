package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"automatex/internal/config"
	"automatex/internal/eventbus"
	"automatex/internal/httpserver"
	"automatex/internal/metrics"
	"automatex/internal/storage"
	"automatex/pkg/logx"
)

func setBaseEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TELEGRAM_API_KEY", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("STORAGE_DIR", dir)
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")
	t.Setenv("LOG_LEVEL", "error")
	for _, svc := range []string{"EARTHQUAKE", "ROCKETLAUNCH", "SPACEWEATHER", "VULNERABILITY"} {
		t.Setenv(svc+"_ENABLED", "false")
	}
	return dir
}

func TestNewFailsWithoutCredentials(t *testing.T) {
	dir := setBaseEnv(t)
	t.Setenv("TELEGRAM_API_KEY", "")

	_, err := New(filepath.Join(dir, "missing.yaml"))
	if !errors.Is(err, config.ErrMissingCredentials) {
		t.Fatalf("New err = %v, want ErrMissingCredentials", err)
	}
}

func TestNewRejectsBadConfigFile(t *testing.T) {
	dir := setBaseEnv(t)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("unknown_section: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path); err == nil {
		t.Fatal("expected error for unknown config field")
	}
}

func TestStartServesLivenessAndStops(t *testing.T) {
	dir := setBaseEnv(t)
	t.Setenv("SPACEWEATHER_ENABLED", "true")
	// unroutable endpoint: the first cycle fails fast and is only logged
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "sources:\n  spaceweather:\n    endpoint: http://127.0.0.1:1/DONKI/FLR\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.Sources(); len(got) != 1 || got[0] != config.SourceSpaceWeather {
		t.Fatalf("sources = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-a.http.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("http server never bound")
	}

	resp, err := http.Get("http://" + a.http.Addr() + "/")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(got) != httpserver.LivenessText {
		t.Fatalf("GET / = %q", got)
	}

	// the poller's state.loaded event is published right after Start
	deadline := time.Now().Add(3 * time.Second)
	for {
		rep := fetchStatus(t, "http://"+a.http.Addr()+"/status")
		if len(rep.Sources) == 1 && rep.Sources[0].StateLoaded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status never reported state_loaded: %+v", rep.Sources)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
	if err := a.Err(); err != nil {
		t.Fatalf("supervisor error: %v", err)
	}
}

func fetchStatus(t *testing.T, url string) httpserver.StatusReport {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rep httpserver.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return rep
}

func TestBuildFailureClosesStorage(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "automatex.db")
	cfg.Sources.Earthquake.Endpoint = "http://[::1"

	a := &App{bus: eventbus.New(), metrics: metrics.New()}
	err := a.build(cfg, logx.Nop())
	if err == nil || !strings.Contains(err.Error(), "invalid endpoint") {
		t.Fatalf("build err = %v, want invalid endpoint", err)
	}
	if a.store == nil {
		t.Fatal("storage was never opened")
	}
	_, rerr := a.store.Read(context.Background(), "seen_quakes.json")
	if rerr == nil || errors.Is(rerr, storage.ErrNotFound) {
		t.Fatalf("Read after failed build = %v, want closed database error", rerr)
	}
}
