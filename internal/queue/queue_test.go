package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lounged/internal/events"
	"lounged/internal/registry"
	"lounged/internal/store"
	"lounged/pkg/types"
)

const model = "stable-diffusion"

// blockingGen blocks every call until released or its context ends.
type blockingGen struct {
	mu      sync.Mutex
	started []string
	active  int
	maxSeen int
	release chan error
	ctxErrs chan error
}

func newBlockingGen() *blockingGen {
	return &blockingGen{release: make(chan error, 16), ctxErrs: make(chan error, 16)}
}

func (g *blockingGen) Generate(ctx context.Context, req types.QueuedRequest, progress func(int)) (Result, error) {
	g.mu.Lock()
	g.started = append(g.started, req.ID)
	g.active++
	if g.active > g.maxSeen {
		g.maxSeen = g.active
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()
	progress(50)
	select {
	case err := <-g.release:
		if err != nil {
			return Result{}, err
		}
		return Result{URL: "/images/" + req.ID + ".png"}, nil
	case <-ctx.Done():
		g.ctxErrs <- ctx.Err()
		return Result{}, ctx.Err()
	}
}

func (g *blockingGen) startedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	q     *Queue
	gen   *blockingGen
	clk   *clock
	pub   *events.MemoryPublisher
	store *store.QueueStore
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	reg, err := registry.Load("")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	f := &fixture{
		gen:   newBlockingGen(),
		clk:   &clock{t: time.Unix(1700000000, 0)},
		pub:   events.NewMemoryPublisher(),
		store: store.NewQueueStore(store.NewMemoryBackend(), zerolog.Nop()),
	}
	var n int
	cfg := Config{
		Models:    reg,
		Generator: f.gen,
		Store:     f.store,
		Publisher: f.pub,
		Now:       f.clk.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("job-%d", n)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.q = q
	t.Cleanup(func() {
		q.Stop()
	})
	return f
}

func (f *fixture) enqueue(t *testing.T, prompt string) types.QueuedRequest {
	t.Helper()
	r, err := f.q.Enqueue(context.Background(), model, prompt, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return r
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func statusOf(q *Queue, id string) types.RequestStatus {
	r, _ := q.Get(id)
	return r.Status
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.q.Enqueue(ctx, "nope", "x", nil); !IsInvalidModel(err) {
		t.Fatalf("expected invalid model, got %v", err)
	}
	if _, err := f.q.Enqueue(ctx, model, "x", map[string]any{"num_inference_steps": 500}); !IsInvalidParams(err) {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if len(f.q.Snapshot()) != 0 {
		t.Fatalf("rejected enqueues must not touch the queue")
	}
	r := f.enqueue(t, "cat")
	if r.Status != types.StatusPending || r.Position != 1 || r.Progress != 0 {
		t.Fatalf("unexpected request %+v", r)
	}
	if r.Parameters["num_inference_steps"] != float64(20) {
		t.Fatalf("defaults not applied: %v", r.Parameters)
	}
}

func TestQueueBound(t *testing.T) {
	f := newFixture(t, nil)
	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, f.enqueue(t, fmt.Sprint(i)).ID)
	}
	if _, err := f.q.Enqueue(context.Background(), model, "overflow", nil); !IsQueueFull(err) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if err := f.q.Cancel(ids[3]); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	f.enqueue(t, "fits again")
	if _, err := f.q.Enqueue(context.Background(), model, "overflow", nil); !IsQueueFull(err) {
		t.Fatalf("expected queue full again, got %v", err)
	}
}

func TestFIFOAndConcurrencyBound(t *testing.T) {
	f := newFixture(t, nil)
	var want []string
	for i := 0; i < 4; i++ {
		want = append(want, f.enqueue(t, fmt.Sprint(i)).ID)
	}
	for i := range want {
		f.q.dispatch()
		// A second dispatch while one job is in flight must not start another.
		f.q.dispatch()
		waitFor(t, "job start", func() bool { return len(f.gen.startedIDs()) == i+1 })
		if st := f.q.Stats(); st.Inflight != 1 || st.Processing != 1 {
			t.Fatalf("stats = %+v", st)
		}
		f.gen.release <- nil
		waitFor(t, "job completion", func() bool { return statusOf(f.q, want[i]) == types.StatusComplete })
	}
	got := f.gen.startedIDs()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("start order %v, want %v", got, want)
		}
	}
	f.gen.mu.Lock()
	maxSeen := f.gen.maxSeen
	f.gen.mu.Unlock()
	if maxSeen != 1 {
		t.Fatalf("max concurrent generations = %d", maxSeen)
	}
	r, _ := f.q.Get(want[0])
	if r.Progress != 100 || r.ResultURL != "/images/"+want[0]+".png" || r.Position != 0 {
		t.Fatalf("completed request %+v", r)
	}
}

func TestFailureIsRecorded(t *testing.T) {
	f := newFixture(t, nil)
	r := f.enqueue(t, "x")
	f.q.dispatch()
	f.gen.release <- errors.New("Failed to generate image: boom")
	waitFor(t, "failure", func() bool { return statusOf(f.q, r.ID) == types.StatusFailed })
	got, _ := f.q.Get(r.ID)
	if got.Error != "Failed to generate image: boom" {
		t.Fatalf("error = %q", got.Error)
	}
	waitFor(t, "slot release", func() bool { return f.q.Stats().Inflight == 0 })
}

func TestPanicReleasesSlot(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Generator = GeneratorFunc(func(context.Context, types.QueuedRequest, func(int)) (Result, error) {
			panic("kaboom")
		})
	})
	r := f.enqueue(t, "x")
	f.q.dispatch()
	waitFor(t, "failure", func() bool { return statusOf(f.q, r.ID) == types.StatusFailed })
	if st := f.q.Stats(); st.Inflight != 0 {
		t.Fatalf("slot not released: %+v", st)
	}
}

func TestScenarioPositionsAndCancel(t *testing.T) {
	f := newFixture(t, nil)
	var mu sync.Mutex
	var snaps [][]types.QueuedRequest
	unsub := f.q.Subscribe(func(s []types.QueuedRequest) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	defer unsub()

	a := f.enqueue(t, "A")
	b := f.enqueue(t, "B")
	c := f.enqueue(t, "C")

	mu.Lock()
	last := snaps[len(snaps)-1]
	mu.Unlock()
	if len(last) != 3 {
		t.Fatalf("snapshot = %+v", last)
	}
	for i, r := range last {
		if r.Status != types.StatusPending || r.Position != i+1 {
			t.Fatalf("snapshot[%d] = %+v", i, r)
		}
	}

	f.q.dispatch()
	got := f.q.Snapshot()
	if got[0].ID != a.ID || got[0].Status != types.StatusProcessing || got[0].Position != 0 {
		t.Fatalf("A = %+v", got[0])
	}
	if got[1].Position != 1 || got[2].Position != 2 {
		t.Fatalf("positions after dispatch: B=%d C=%d", got[1].Position, got[2].Position)
	}

	if err := f.q.Cancel(b.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cr, _ := f.q.Get(c.ID)
	if cr.Position != 1 {
		t.Fatalf("C position = %d, want 1", cr.Position)
	}
	br, _ := f.q.Get(b.ID)
	if br.Status != types.StatusFailed || br.Error != "Cancelled by user" || br.Position != 0 {
		t.Fatalf("B = %+v", br)
	}
}

func TestPositionShiftOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, f.enqueue(t, fmt.Sprint(i)).ID)
	}
	before := map[string]int{}
	for _, r := range f.q.Snapshot() {
		before[r.ID] = r.Position
	}
	k := 3
	_ = f.q.Cancel(ids[k-1])
	for _, r := range f.q.Snapshot() {
		if r.ID == ids[k-1] {
			continue
		}
		want := before[r.ID]
		if before[r.ID] > k {
			want--
		}
		if r.Position != want {
			t.Fatalf("%s position %d, want %d", r.ID, r.Position, want)
		}
	}
}

func TestCancelAbortsInFlightCall(t *testing.T) {
	f := newFixture(t, nil)
	r := f.enqueue(t, "x")
	f.q.dispatch()
	waitFor(t, "start", func() bool { return len(f.gen.startedIDs()) == 1 })
	if err := f.q.Cancel(r.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	select {
	case err := <-f.gen.ctxErrs:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("ctx err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("in-flight call was not aborted")
	}
	time.Sleep(10 * time.Millisecond)
	got, _ := f.q.Get(r.ID)
	if got.Status != types.StatusFailed || got.Error != "Cancelled by user" {
		t.Fatalf("cancelled job overwritten: %+v", got)
	}
}

func TestCancelEdgeCases(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.q.Cancel("missing"); !IsRequestNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	r := f.enqueue(t, "x")
	f.q.dispatch()
	f.gen.release <- nil
	waitFor(t, "complete", func() bool { return statusOf(f.q, r.ID) == types.StatusComplete })
	if err := f.q.Cancel(r.ID); err != nil {
		t.Fatalf("cancel of terminal job: %v", err)
	}
	if statusOf(f.q, r.ID) != types.StatusComplete {
		t.Fatalf("terminal job changed by cancel")
	}
}

func TestUpdateProgress(t *testing.T) {
	f := newFixture(t, nil)
	r := f.enqueue(t, "x")
	f.q.UpdateProgress(r.ID, 140)
	if got, _ := f.q.Get(r.ID); got.Progress != 100 {
		t.Fatalf("progress = %d", got.Progress)
	}
	f.q.UpdateProgress(r.ID, -5)
	if got, _ := f.q.Get(r.ID); got.Progress != 0 {
		t.Fatalf("progress = %d", got.Progress)
	}
	f.q.UpdateProgress("missing", 10)
	_ = f.q.Cancel(r.ID)
	f.q.UpdateProgress(r.ID, 30)
	if got, _ := f.q.Get(r.ID); got.Progress != 0 {
		t.Fatalf("terminal job progress changed to %d", got.Progress)
	}
}

func TestEvictionTiming(t *testing.T) {
	f := newFixture(t, nil)
	done := f.enqueue(t, "done")
	f.q.dispatch()
	f.gen.release <- nil
	waitFor(t, "complete", func() bool { return statusOf(f.q, done.ID) == types.StatusComplete })
	pending := f.enqueue(t, "pending")

	f.clk.Advance(10*time.Minute - time.Second)
	f.q.sweep()
	if _, ok := f.q.Get(done.ID); !ok {
		t.Fatalf("evicted before timeout")
	}
	f.clk.Advance(2 * time.Second)
	f.q.sweep()
	if _, ok := f.q.Get(done.ID); ok {
		t.Fatalf("not evicted after timeout")
	}
	f.clk.Advance(time.Hour)
	f.q.sweep()
	if _, ok := f.q.Get(pending.ID); !ok {
		t.Fatalf("pending job must never be evicted")
	}
	var evicted int
	for _, n := range f.pub.Names() {
		if n == "job_evicted" {
			evicted++
		}
	}
	if evicted != 1 {
		t.Fatalf("job_evicted events = %d", evicted)
	}
}

func TestSubscribeSnapshotAndUnsubscribe(t *testing.T) {
	f := newFixture(t, nil)
	f.enqueue(t, "first")
	var calls int
	var firstLen int
	unsub := f.q.Subscribe(func(s []types.QueuedRequest) {
		calls++
		if calls == 1 {
			firstLen = len(s)
		}
	})
	if calls != 1 || firstLen != 1 {
		t.Fatalf("expected immediate snapshot with 1 job, calls=%d len=%d", calls, firstLen)
	}
	f.enqueue(t, "second")
	if calls != 2 {
		t.Fatalf("expected notification on enqueue, calls=%d", calls)
	}
	unsub()
	unsub()
	f.enqueue(t, "third")
	if calls != 2 {
		t.Fatalf("notified after unsubscribe")
	}
}

func TestReloadResetsProcessing(t *testing.T) {
	f := newFixture(t, nil)
	a := f.enqueue(t, "a")
	b := f.enqueue(t, "b")
	f.q.dispatch()
	waitFor(t, "start", func() bool { return len(f.gen.startedIDs()) == 1 })

	// A second queue over the same store sees A mid-flight.
	reg, _ := registry.Load("")
	q2, err := New(Config{Models: reg, Generator: newBlockingGen(), Store: f.store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	snap := q2.Snapshot()
	if len(snap) != 2 || snap[0].ID != a.ID || snap[1].ID != b.ID {
		t.Fatalf("restored = %+v", snap)
	}
	if snap[0].Status != types.StatusPending || snap[0].Position != 1 || snap[1].Position != 2 {
		t.Fatalf("processing job not reset: %+v", snap)
	}
}

func TestStopReturnsInFlightJobToPending(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TickInterval = 5 * time.Millisecond })
	r := f.enqueue(t, "x")
	f.q.Start(context.Background())
	waitFor(t, "start", func() bool { return len(f.gen.startedIDs()) == 1 })
	f.q.Stop()
	got, _ := f.q.Get(r.ID)
	if got.Status != types.StatusPending {
		t.Fatalf("status after stop = %s", got.Status)
	}
	if persisted := f.store.Load(context.Background()); len(persisted) != 1 || persisted[0].Status != types.StatusPending {
		t.Fatalf("persisted = %+v", persisted)
	}
}

func TestLoopsProcessQueue(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.TickInterval = 5 * time.Millisecond })
	f.q.Start(context.Background())
	f.q.Start(context.Background())
	r := f.enqueue(t, "x")
	waitFor(t, "start", func() bool { return len(f.gen.startedIDs()) == 1 })
	f.gen.release <- nil
	waitFor(t, "complete", func() bool { return statusOf(f.q, r.ID) == types.StatusComplete })
	names := f.pub.Names()
	want := []string{"job_enqueued", "job_started", "job_completed"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("events = %v, want prefix %v", names, want)
		}
	}
}

func TestMinDispatchInterval(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MinDispatchInterval = time.Minute })
	a := f.enqueue(t, "a")
	b := f.enqueue(t, "b")
	f.q.dispatch()
	f.gen.release <- nil
	waitFor(t, "a complete", func() bool { return statusOf(f.q, a.ID) == types.StatusComplete })
	f.q.dispatch()
	if statusOf(f.q, b.ID) != types.StatusPending {
		t.Fatalf("dispatched inside the cooldown")
	}
	f.clk.Advance(time.Minute)
	f.q.dispatch()
	if statusOf(f.q, b.ID) != types.StatusProcessing {
		t.Fatalf("not dispatched after the cooldown")
	}
	f.gen.release <- nil
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without Models")
	}
	reg, _ := registry.Load("")
	if _, err := New(Config{Models: reg}); err == nil {
		t.Fatalf("expected error without Generator")
	}
}
