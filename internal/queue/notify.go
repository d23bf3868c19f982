package queue

import (
	"context"
	"sync"

	"lounged/pkg/types"
)

type subscriber struct {
	fn   func([]types.QueuedRequest)
	last uint64
}

// Subscribe registers fn. It receives the current snapshot immediately and
// then one snapshot per mutation, in mutation order. The returned func
// deregisters fn and is safe to call more than once.
func (q *Queue) Subscribe(fn func([]types.QueuedRequest)) (unsubscribe func()) {
	q.notifyMu.Lock()
	q.mu.Lock()
	snap := q.snapshotLocked()
	cur := q.seq
	q.mu.Unlock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = &subscriber{fn: fn, last: cur}
	fn(snap)
	q.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.notifyMu.Lock()
			delete(q.subs, id)
			q.notifyMu.Unlock()
		})
	}
}

// emit persists and delivers the snapshot taken at seq. Snapshots that lost a
// race against a newer one are dropped so neither the store nor any
// subscriber ever goes backwards.
func (q *Queue) emit(seq uint64, snap []types.QueuedRequest) {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()
	if seq > q.persistedSeq {
		q.persistedSeq = seq
		q.store.Save(context.Background(), snap)
	}
	for _, s := range q.subs {
		if seq <= s.last {
			continue
		}
		s.last = seq
		out := make([]types.QueuedRequest, len(snap))
		for i, r := range snap {
			out[i] = cloneReq(r)
		}
		s.fn(out)
	}
}
