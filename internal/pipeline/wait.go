package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// waitForCallbacks polls the pending-callback count until it reaches zero
// or the configured budget expires. On expiry every record still awaiting
// a callback is swept to timeout in a single bulk update; a callback that
// lands after the sweep finds its guarded update a no-op.
func (p *Pipeline) waitForCallbacks(ctx context.Context) error {
	pending, err := p.store.CountPendingCallbacks(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: count pending callbacks")
	}
	if pending == 0 {
		zap.L().Info("pipeline: no callbacks outstanding")
		return nil
	}

	timeout := p.cfg.Webhook.Timeout()
	interval := p.cfg.Webhook.PollInterval()
	deadline := time.Now().Add(timeout)

	zap.L().Info("pipeline: waiting for callbacks",
		zap.Int64("pending", pending),
		zap.Duration("timeout", timeout),
		zap.Duration("poll_interval", interval),
	)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "pipeline: callback wait canceled")
		case <-time.After(interval):
		}

		pending, err = p.store.CountPendingCallbacks(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline: count pending callbacks")
		}
		if pending == 0 {
			zap.L().Info("pipeline: all callbacks received")
			return nil
		}
		zap.L().Debug("pipeline: still waiting", zap.Int64("pending", pending))
	}

	swept, err := p.store.MarkAllAwaitingTimedOut(ctx)
	if err != nil {
		return eris.Wrap(err, "pipeline: timeout sweep")
	}
	zap.L().Warn("pipeline: callback wait expired",
		zap.Int64("timed_out", swept),
		zap.Duration("timeout", timeout),
	)
	return nil
}
