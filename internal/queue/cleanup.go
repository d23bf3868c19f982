package queue

import (
	"lounged/internal/events"
)

// sweep evicts terminal jobs older than the eviction timeout, measured from
// creation. Pending and processing jobs are always kept.
func (q *Queue) sweep() {
	q.mu.Lock()
	now := q.now()
	kept := make([]*job, 0, len(q.jobs))
	var evicted []events.Event
	for _, j := range q.jobs {
		if j.req.Status.Terminal() && now.Sub(j.req.Timestamp) >= q.evict {
			delete(q.byID, j.req.ID)
			evicted = append(evicted, events.Event{Name: "job_evicted", ID: j.req.ID, ModelID: j.req.ModelID, Time: now,
				Fields: map[string]any{"status": string(j.req.Status)}})
			continue
		}
		kept = append(kept, j)
	}
	q.jobs = kept
	seq, snap := q.changedLocked()
	q.mu.Unlock()

	q.emit(seq, snap)
	for _, e := range evicted {
		q.pub.Publish(e)
	}
	if len(evicted) > 0 {
		q.log.Debug().Int("evicted", len(evicted)).Msg("cleanup")
	}
}
