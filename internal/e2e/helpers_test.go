package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"lounged/internal/app"
	"lounged/internal/config"
	"lounged/internal/httpapi"
)

// fakeProvider answers status probes as loaded and returns a small PNG for
// every inference call. Calls block while hold is set.
type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	auth    []string
	hold    chan struct{}
	loading bool
	png     []byte
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(64, 48, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	fp := &fakeProvider{png: buf.Bytes()}
	srv := httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(srv.Close)
	return fp, srv
}

func (fp *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	fp.auth = append(fp.auth, r.Header.Get("Authorization"))
	loading := fp.loading
	hold := fp.hold
	fp.mu.Unlock()

	if loading {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"Model is currently loading","estimated_time":40}`))
		return
	}
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"loaded":true,"state":"Loaded"}`))
		return
	}
	var body struct {
		Inputs string `json:"inputs"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Inputs != "test" {
		fp.mu.Lock()
		fp.calls++
		fp.mu.Unlock()
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(fp.png)
}

func (fp *fakeProvider) setHold(ch chan struct{}) {
	fp.mu.Lock()
	fp.hold = ch
	fp.mu.Unlock()
}

func (fp *fakeProvider) setLoading(v bool) {
	fp.mu.Lock()
	fp.loading = v
	fp.mu.Unlock()
}

func (fp *fakeProvider) inferCalls() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.calls
}

func (fp *fakeProvider) lastAuth() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.auth) == 0 {
		return ""
	}
	return fp.auth[len(fp.auth)-1]
}

// stack is a running service wired to a fake provider.
type stack struct {
	app      *app.App
	srv      *httptest.Server
	provider *fakeProvider
	cfg      config.Config
}

func newStack(t *testing.T, mutate func(*config.Config)) *stack {
	t.Helper()
	fp, psrv := newFakeProvider(t)
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Provider.StatusURL = psrv.URL + "/status"
	cfg.Provider.InferenceURL = psrv.URL + "/models"
	cfg.Provider.Token = "hf_configured"
	cfg.Queue.TickInterval = config.Duration(10 * time.Millisecond)
	cfg.Prober.Disabled = true
	if mutate != nil {
		mutate(&cfg)
	}
	return startStack(t, cfg, fp)
}

func startStack(t *testing.T, cfg config.Config, fp *fakeProvider) *stack {
	t.Helper()
	a, err := app.New(context.Background(), cfg, app.Options{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	a.Start(context.Background())
	srv := httptest.NewServer(httpapi.NewMux(a))
	s := &stack{app: a, srv: srv, provider: fp, cfg: cfg}
	t.Cleanup(s.stop)
	return s
}

func (s *stack) stop() {
	s.srv.Close()
	s.app.Stop()
}

func (s *stack) do(t *testing.T, method, path, body string, hdr map[string]string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func (s *stack) getJSON(t *testing.T, path string, out any) {
	t.Helper()
	code, b := s.do(t, http.MethodGet, path, "", nil)
	if code != http.StatusOK {
		t.Fatalf("GET %s: status=%d body=%s", path, code, b)
	}
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
