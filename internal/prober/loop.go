package prober

import (
	"context"
	"time"

	"lounged/pkg/types"
)

// needsUpdate reports whether st is missing or older than the recheck interval.
func (p *Prober) needsUpdate(st types.ModelLoadStatus, ok bool, now time.Time) bool {
	return !ok || now.Sub(st.LastCheck) > p.recheck
}

// warmAllowed reports whether the backoff lets an automatic warm-up run now.
func warmAllowed(st types.ModelLoadStatus, now time.Time) bool {
	if st.PermanentlyFailed {
		return false
	}
	return st.NextRetry == nil || !now.Before(*st.NextRetry)
}

// Refresh re-probes every registered model whose status is stale and warms
// those that are not loaded, as far as their backoff allows.
func (p *Prober) Refresh(ctx context.Context) {
	if p.token == "" {
		p.log.Debug().Msg("no provider token configured; skipping refresh")
		return
	}
	for _, id := range p.models.IDs() {
		if ctx.Err() != nil {
			return
		}
		prev, ok := p.Status(id)
		if !p.needsUpdate(prev, ok, p.now()) {
			continue
		}
		st := p.CheckStatus(ctx, id, p.token)
		if st.Loaded || !warmAllowed(st, p.now()) {
			continue
		}
		st = p.warm(ctx, id, p.token)
		p.log.Info().Str("model", id).Bool("loading", st.Loading).Str("error", st.Error).Msg("warm-up issued")
	}
}

// Start runs an initial refresh and then re-checks every recheck interval
// until Stop is called or ctx ends.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Refresh(ctx)
		t := time.NewTicker(p.recheck)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.Refresh(ctx)
			}
		}
	}()
}

// Stop ends the refresh loop and waits for an in-progress pass to return.
func (p *Prober) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
