package queue

import (
	"context"
	"fmt"
	"time"

	"lounged/internal/events"
	"lounged/pkg/types"
)

// Start launches the dispatch and cleanup loops. Calling Start on a running
// queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.loopCancel != nil {
		q.mu.Unlock()
		return
	}
	if q.runCtx.Err() != nil {
		q.runCtx, q.cancelRun = context.WithCancel(context.Background())
	}
	lctx, cancel := context.WithCancel(ctx)
	q.loopCancel = cancel
	q.mu.Unlock()

	q.loops.Add(2)
	go q.every(lctx, q.tick, q.dispatch)
	go q.every(lctx, q.cleanup, q.sweep)
}

// Stop ends both loops, aborts in-flight generation calls and waits for them
// to return. Jobs interrupted this way go back to pending.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.loopCancel
	q.loopCancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	q.loops.Wait()
	q.cancelRun()
	q.workers.Wait()
}

func (q *Queue) every(ctx context.Context, d time.Duration, fn func()) {
	defer q.loops.Done()
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// dispatch claims the earliest pending job when the in-flight set has room
// and runs its generation call in a worker goroutine.
func (q *Queue) dispatch() {
	q.mu.Lock()
	if len(q.inflight) >= concurrency || q.runCtx.Err() != nil {
		q.mu.Unlock()
		return
	}
	now := q.now()
	if q.minGap > 0 && !q.lastDispatch.IsZero() && now.Sub(q.lastDispatch) < q.minGap {
		q.mu.Unlock()
		return
	}
	var next *job
	for _, j := range q.jobs {
		if j.req.Status == types.StatusPending {
			next = j
			break
		}
	}
	if next == nil {
		q.mu.Unlock()
		return
	}
	next.req.Status = types.StatusProcessing
	next.started = now
	q.lastDispatch = now
	ctx, cancel := context.WithCancel(q.runCtx)
	q.inflight[next.req.ID] = cancel
	req := cloneReq(next.req)
	seq, snap := q.changedLocked()
	q.workers.Add(1)
	q.mu.Unlock()

	q.emit(seq, snap)
	q.pub.Publish(events.Event{Name: "job_started", ID: req.ID, ModelID: req.ModelID, Time: now})
	q.log.Debug().Str("id", req.ID).Str("model", req.ModelID).Msg("processing")
	go q.run(ctx, cancel, req)
}

func (q *Queue) run(ctx context.Context, cancel context.CancelFunc, req types.QueuedRequest) {
	defer q.workers.Done()
	defer cancel()
	start := time.Now()
	var res Result
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("generation panicked: %v", r)
			}
		}()
		res, err = q.gen.Generate(ctx, req, func(p int) { q.UpdateProgress(req.ID, p) })
	}()
	jobDuration.WithLabelValues(req.ModelID).Observe(time.Since(start).Seconds())
	q.finish(req, res, err)
}

// finish records the outcome of a generation call. It always releases the
// in-flight slot and never overwrites a job that left processing meanwhile
// (cancelled or evicted).
func (q *Queue) finish(req types.QueuedRequest, res Result, err error) {
	q.mu.Lock()
	delete(q.inflight, req.ID)
	j := q.byID[req.ID]
	var evt events.Event
	switch {
	case j == nil || j.req.Status != types.StatusProcessing:
	case err != nil && q.runCtx.Err() != nil:
		j.req.Status = types.StatusPending
		j.req.Progress = 0
	case err != nil:
		j.req.Status = types.StatusFailed
		j.req.Error = err.Error()
		outcomesTotal.WithLabelValues(req.ModelID, "failed").Inc()
		evt = events.Event{Name: "job_failed", ID: req.ID, ModelID: req.ModelID, Fields: map[string]any{"error": j.req.Error}}
	default:
		j.req.Status = types.StatusComplete
		j.req.Progress = 100
		j.req.ResultURL = res.URL
		j.req.ThumbnailURL = res.ThumbnailURL
		outcomesTotal.WithLabelValues(req.ModelID, "complete").Inc()
		evt = events.Event{Name: "job_completed", ID: req.ID, ModelID: req.ModelID, Fields: map[string]any{"url": res.URL}}
	}
	seq, snap := q.changedLocked()
	q.mu.Unlock()

	q.emit(seq, snap)
	if evt.Name != "" {
		evt.Time = q.now()
		q.pub.Publish(evt)
		q.log.Info().Str("id", req.ID).Str("model", req.ModelID).Str("event", evt.Name).Msg("job finished")
	}
}
