// Package janitor schedules expiry sweeps for state that would otherwise
// accumulate forever: buffered mutations whose target never arrived and
// failed local echoes nobody retried. Sweeps are enqueued through the
// reconciler like every other mutation, so the janitor never touches
// timeline state directly.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"roomline/pkg/logger"
)

const defaultCron = "*/10 * * * *"

// Sweeper is the part of the processor the janitor drives.
type Sweeper interface {
	EnqueueSweep() error
}

// Start launches the sweep scheduler. Returns a cancel func. An empty cron
// expression maps to every ten minutes.
func Start(ctx context.Context, cronExpr string, s Sweeper) (context.CancelFunc, error) {
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid janitor cron expression: %s", cronExpr)
	}

	ctx2, cancel := context.WithCancel(ctx)
	go run(ctx2, cronExpr, s)
	logger.Info("janitor_started", "cron", cronExpr)
	return cancel, nil
}

// run computes the next tick with gronx and sleeps until it is due.
func run(ctx context.Context, cronExpr string, s Sweeper) {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			logger.Info("janitor_stopping")
			return
		}

		if err := s.EnqueueSweep(); err != nil {
			logger.Warn("janitor_sweep_enqueue_failed", "error", err)
		}
	}
}
