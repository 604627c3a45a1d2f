package agbac

import (
	"context"
	"time"
)

// startBackground launches the maintenance goroutine: periodic replay-cache
// sweeps and, for refreshable keysets, key-material refresh on a schedule
// independent of request handling.
func (p *PEP) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.stopped = make(chan struct{})

	go p.backgroundLoop(ctx)
}

// backgroundLoop runs until the context is canceled.
func (p *PEP) backgroundLoop(ctx context.Context) {
	defer close(p.stopped)

	sweep := time.NewTicker(p.config.ReplaySweepInterval)
	defer sweep.Stop()

	refresher, refreshable := p.keyset.(refreshableKeyset)

	var refreshC <-chan time.Time
	if refreshable {
		refresh := time.NewTicker(p.config.KeyRefreshInterval)
		defer refresh.Stop()
		refreshC = refresh.C

		// Warm the key cache immediately so the first request does not pay
		// the fetch latency.
		p.refreshKeys(ctx, refresher)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if removed := p.replay.Sweep(); removed > 0 {
				p.logger.Debug("replay cache swept", "removed", removed, "remaining", p.replay.Len())
			}
		case <-refreshC:
			p.refreshKeys(ctx, refresher)
		}
	}
}

// refreshKeys refreshes key material. Failures are logged but do not crash:
// cached keys remain valid until their TTL lapses.
func (p *PEP) refreshKeys(ctx context.Context, ks refreshableKeyset) {
	ctx, cancel := context.WithTimeout(ctx, p.config.KeyFetchTimeout)
	defer cancel()
	if err := ks.Refresh(ctx); err != nil {
		p.logger.Warn("key refresh failed", "error", err)
	}
}
