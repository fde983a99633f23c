package pipeline

import (
	"context"
	"time"
)

const DefaultInterval = 60 * time.Second

// Run repeats RunCycle until ctx is cancelled, waiting interval after each
// cycle finishes. Cycle failures are logged and do not stop the loop.
func (d *Driver) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	d.logger.WithContext(ctx).Infof("Starting sync daemon: interval=%s kinds=%v", interval, d.opts.Kinds)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.WithContext(ctx).Info("Sync daemon stopping")
			return nil
		case <-timer.C:
		}

		// errors are already logged per kind
		_, _ = d.RunCycle(ctx)

		timer.Reset(interval)
	}
}
