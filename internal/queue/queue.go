package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lounged/internal/events"
	"lounged/internal/store"
	"lounged/pkg/types"
)

// job is the queue's record of one request.
type job struct {
	req     types.QueuedRequest
	started time.Time
}

// Queue is an explicitly constructed request queue. Start launches the
// dispatch and cleanup loops; Stop ends them and cancels in-flight calls.
type Queue struct {
	models  Models
	gen     Generator
	store   *store.QueueStore
	pub     events.Publisher
	log     zerolog.Logger
	now     func() time.Time
	newID   func() string
	maxPend int
	tick    time.Duration
	cleanup time.Duration
	evict   time.Duration
	minGap  time.Duration

	mu           sync.Mutex
	jobs         []*job // enqueue order
	byID         map[string]*job
	inflight     map[string]context.CancelFunc
	lastDispatch time.Time
	seq          uint64
	runCtx       context.Context
	cancelRun    context.CancelFunc
	loopCancel   context.CancelFunc

	notifyMu     sync.Mutex
	subs         map[int]*subscriber
	nextSub      int
	persistedSeq uint64

	loops   sync.WaitGroup
	workers sync.WaitGroup
}

// New constructs a queue and restores the persisted snapshot. Jobs that were
// processing when the snapshot was written are reset to pending.
func New(cfg Config) (*Queue, error) {
	if cfg.Models == nil {
		return nil, errors.New("queue: Models is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("queue: Generator is required")
	}
	q := &Queue{
		models:   cfg.Models,
		gen:      cfg.Generator,
		store:    cfg.Store,
		pub:      events.OrNoop(cfg.Publisher),
		log:      cfg.Logger.With().Str("component", "queue").Logger(),
		now:      cfg.Now,
		newID:    cfg.NewID,
		maxPend:  cfg.MaxPending,
		tick:     cfg.TickInterval,
		cleanup:  cfg.CleanupInterval,
		evict:    cfg.EvictAfter,
		minGap:   cfg.MinDispatchInterval,
		byID:     map[string]*job{},
		inflight: map[string]context.CancelFunc{},
		subs:     map[int]*subscriber{},
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.newID == nil {
		q.newID = uuid.NewString
	}
	if q.maxPend <= 0 {
		q.maxPend = defaultMaxPending
	}
	if q.tick <= 0 {
		q.tick = defaultTickInterval
	}
	if q.cleanup <= 0 {
		q.cleanup = defaultCleanupInterval
	}
	if q.evict <= 0 {
		q.evict = defaultEvictAfter
	}
	q.runCtx, q.cancelRun = context.WithCancel(context.Background())
	q.restore()
	return q, nil
}

func (q *Queue) restore() {
	saved := q.store.Load(context.Background())
	q.mu.Lock()
	reset := 0
	for _, r := range saved {
		if r.ID == "" || q.byID[r.ID] != nil {
			continue
		}
		if r.Status == types.StatusProcessing {
			r.Status = types.StatusPending
			reset++
		}
		j := &job{req: r}
		q.jobs = append(q.jobs, j)
		q.byID[r.ID] = j
	}
	if len(saved) > 0 {
		q.log.Info().Int("jobs", len(q.jobs)).Int("reset", reset).Msg("restored queue")
	}
	seq, snap := q.changedLocked()
	q.mu.Unlock()
	q.emit(seq, snap)
}

// Enqueue validates and appends a pending job. Validation failures are
// returned synchronously and leave the queue untouched.
func (q *Queue) Enqueue(ctx context.Context, modelID, prompt string, raw map[string]any) (types.QueuedRequest, error) {
	if _, ok := q.models.Get(modelID); !ok {
		rejectedTotal.WithLabelValues("invalid_model").Inc()
		return types.QueuedRequest{}, ErrInvalidModel(modelID)
	}
	params, err := q.models.Validate(modelID, raw)
	if err != nil {
		rejectedTotal.WithLabelValues("invalid_params").Inc()
		return types.QueuedRequest{}, ErrInvalidParams(err)
	}

	q.mu.Lock()
	if q.countLocked(types.StatusPending) >= q.maxPend {
		q.mu.Unlock()
		rejectedTotal.WithLabelValues("queue_full").Inc()
		return types.QueuedRequest{}, ErrQueueFull(q.maxPend)
	}
	j := &job{req: types.QueuedRequest{
		ID:         q.newID(),
		ModelID:    modelID,
		Prompt:     prompt,
		Parameters: params,
		Status:     types.StatusPending,
		Timestamp:  q.now(),
	}}
	q.jobs = append(q.jobs, j)
	q.byID[j.req.ID] = j
	seq, snap := q.changedLocked()
	out := cloneReq(j.req)
	q.mu.Unlock()

	q.emit(seq, snap)
	q.pub.Publish(events.Event{Name: "job_enqueued", ID: out.ID, ModelID: modelID, Time: out.Timestamp,
		Fields: map[string]any{"position": out.Position}})
	q.log.Debug().Str("id", out.ID).Str("model", modelID).Int("position", out.Position).Msg("enqueued")
	return out, nil
}

// Cancel fails a pending or processing job with "Cancelled by user" and
// aborts its in-flight call. Cancelling a terminal job is a no-op.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	j := q.byID[id]
	if j == nil {
		q.mu.Unlock()
		return ErrRequestNotFound(id)
	}
	if j.req.Status.Terminal() {
		q.mu.Unlock()
		return nil
	}
	wasProcessing := j.req.Status == types.StatusProcessing
	j.req.Status = types.StatusFailed
	j.req.Error = cancelledMessage
	if cancel, ok := q.inflight[id]; ok {
		cancel()
		delete(q.inflight, id)
	}
	seq, snap := q.changedLocked()
	modelID := j.req.ModelID
	q.mu.Unlock()

	outcomesTotal.WithLabelValues(modelID, "cancelled").Inc()
	q.emit(seq, snap)
	q.pub.Publish(events.Event{Name: "job_cancelled", ID: id, ModelID: modelID, Time: q.now(),
		Fields: map[string]any{"was_processing": wasProcessing}})
	return nil
}

// UpdateProgress sets the advisory progress of a live job, clamped to 0..100.
// Unknown and terminal jobs are ignored.
func (q *Queue) UpdateProgress(id string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	q.mu.Lock()
	j := q.byID[id]
	if j == nil || j.req.Status.Terminal() || j.req.Progress == percent {
		q.mu.Unlock()
		return
	}
	j.req.Progress = percent
	seq, snap := q.changedLocked()
	q.mu.Unlock()
	q.emit(seq, snap)
}

// Get returns a copy of job id.
func (q *Queue) Get(id string) (types.QueuedRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.byID[id]
	if j == nil {
		return types.QueuedRequest{}, false
	}
	return cloneReq(j.req), true
}

// Snapshot returns copies of all jobs in enqueue order.
func (q *Queue) Snapshot() []types.QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// MaxPending is the pending bound enforced by Enqueue.
func (q *Queue) MaxPending() int { return q.maxPend }

// Stats summarises the queue for status reporting.
func (q *Queue) Stats() types.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := types.QueueStats{MaxPending: q.maxPend, Inflight: len(q.inflight)}
	for _, j := range q.jobs {
		switch j.req.Status {
		case types.StatusPending:
			s.Pending++
		case types.StatusProcessing:
			s.Processing++
		case types.StatusComplete:
			s.Complete++
		case types.StatusFailed:
			s.Failed++
		}
	}
	return s
}

func (q *Queue) countLocked(st types.RequestStatus) int {
	n := 0
	for _, j := range q.jobs {
		if j.req.Status == st {
			n++
		}
	}
	return n
}

// renumberLocked assigns 1-based positions to pending jobs in enqueue order
// and clears them elsewhere.
func (q *Queue) renumberLocked() {
	pos := 0
	for _, j := range q.jobs {
		if j.req.Status == types.StatusPending {
			pos++
			j.req.Position = pos
		} else {
			j.req.Position = 0
		}
	}
}

// changedLocked renumbers, refreshes gauges and captures a sequenced
// snapshot for emit.
func (q *Queue) changedLocked() (uint64, []types.QueuedRequest) {
	q.renumberLocked()
	counts := map[types.RequestStatus]int{}
	for _, j := range q.jobs {
		counts[j.req.Status]++
	}
	for _, st := range []types.RequestStatus{types.StatusPending, types.StatusProcessing, types.StatusComplete, types.StatusFailed} {
		jobsGauge.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
	q.seq++
	return q.seq, q.snapshotLocked()
}

func (q *Queue) snapshotLocked() []types.QueuedRequest {
	out := make([]types.QueuedRequest, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = cloneReq(j.req)
	}
	return out
}

func cloneReq(r types.QueuedRequest) types.QueuedRequest {
	r.Parameters = r.Parameters.Clone()
	return r
}
