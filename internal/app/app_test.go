package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lounged/internal/config"
	"lounged/internal/queue"
	"lounged/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Provider.StatusURL = "http://127.0.0.1:1/status"
	cfg.Provider.InferenceURL = "http://127.0.0.1:1/models"
	cfg.Prober.Disabled = true
	return cfg
}

func TestNewRejectsUnknownBackends(t *testing.T) {
	cases := map[string]func(*config.Config){
		"store": func(c *config.Config) { c.Store.Backend = "etcd" },
		"cache": func(c *config.Config) { c.Cache.Backend = "memcached" },
		"blob":  func(c *config.Config) { c.Blob.Backend = "ftp" },
		"redis": func(c *config.Config) { c.Store.Backend = "redis" },
	}
	for name, mutate := range cases {
		cfg := testConfig(t)
		mutate(&cfg)
		if _, err := New(context.Background(), cfg, Options{Logger: zerolog.Nop()}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNewRejectsMissingRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistryPath = cfg.DataDir + "/missing.yaml"
	if _, err := New(context.Background(), cfg, Options{}); err == nil || !strings.Contains(err.Error(), "registry") {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestServiceSurface(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cfg := testConfig(t)
	cfg.Store.Backend = "memory"
	a, err := New(context.Background(), cfg, Options{Logger: zerolog.Nop(), Now: clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Ready() {
		t.Fatal("ready before Start")
	}
	if len(a.ListModels()) == 0 {
		t.Fatal("expected builtin models")
	}

	// No token configured: status is reported without a provider call.
	res, err := a.CheckStatus(context.Background(), "stable-diffusion", "")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if res.Status.Error != "No User Access Token provided" || res.Progress != 0 {
		t.Fatalf("status=%+v", res)
	}
	if _, err := a.CheckStatus(context.Background(), "nope", ""); !queue.IsInvalidModel(err) {
		t.Fatalf("expected invalid model, got %v", err)
	}
	if _, err := a.Warmup(context.Background(), "nope", "tok"); !queue.IsInvalidModel(err) {
		t.Fatalf("expected invalid model, got %v", err)
	}

	r, err := a.Enqueue(context.Background(), types.EnqueueRequest{Model: "stable-diffusion", Prompt: "x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	q := a.Queue()
	if q.Pending != 1 || len(q.Requests) != 1 || q.MaxPending != 10 {
		t.Fatalf("queue=%+v", q)
	}
	if got, ok := a.Get(r.ID); !ok || got.Position != 1 {
		t.Fatalf("get=%+v ok=%v", got, ok)
	}

	var seen int
	unsub := a.Subscribe(func(s []types.QueuedRequest) { seen = len(s) })
	unsub()
	if seen != 1 {
		t.Fatalf("subscriber saw %d", seen)
	}
	if err := a.Cancel(r.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	a.Start(context.Background())
	defer a.Stop()
	mu.Lock()
	now = now.Add(90 * time.Second)
	mu.Unlock()
	st := a.Status()
	if !a.Ready() || st.UptimeSeconds != 90 || st.TokenConfigured || st.Queue.Failed != 1 {
		t.Fatalf("status=%+v ready=%v", st, a.Ready())
	}
	if _, err := a.OpenImage(context.Background(), "missing.png"); err == nil {
		t.Fatal("expected missing image error")
	}
}
