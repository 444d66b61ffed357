// Package worker runs the periodic sweep that expires stale payment
// requests and executes scheduled payments as they fall due.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zarpay/paycore/internal/clock"
	"github.com/zarpay/paycore/internal/domain"
	"github.com/zarpay/paycore/internal/execution"
	"github.com/zarpay/paycore/internal/metrics"
	"github.com/zarpay/paycore/internal/paylink"
	"github.com/zarpay/paycore/internal/schedule"
)

type DueRunner struct {
	interval  time.Duration
	requests  *paylink.Service
	scheduler *schedule.Scheduler
	coord     *execution.Coordinator
	clock     clock.Clock
	log       *zap.Logger
}

func NewDueRunner(interval time.Duration, requests *paylink.Service, scheduler *schedule.Scheduler, coord *execution.Coordinator, c clock.Clock, log *zap.Logger) *DueRunner {
	return &DueRunner{
		interval:  interval,
		requests:  requests,
		scheduler: scheduler,
		coord:     coord,
		clock:     c,
		log:       log.Named("worker"),
	}
}

// Sweep summarises one pass.
type Sweep struct {
	Expired  int `json:"expired"`
	Due      int `json:"due"`
	Executed int `json:"executed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Run sweeps immediately and then on every tick until ctx ends.
func (r *DueRunner) Run(ctx context.Context) error {
	r.log.Info("due worker started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.log.Info("due worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep. Failed executions are counted and
// logged; they are retried on the next sweep since their schedule did not
// advance.
func (r *DueRunner) RunOnce(ctx context.Context) (Sweep, error) {
	var s Sweep

	expired, err := r.requests.ExpireStale(ctx)
	if err != nil {
		return s, err
	}
	s.Expired = expired

	due, err := r.scheduler.DueItems(ctx, r.clock.Now())
	if err != nil {
		return s, err
	}
	s.Due = len(due)
	metrics.DueItems.Set(float64(len(due)))

	for _, sp := range due {
		if ctx.Err() != nil {
			return s, ctx.Err()
		}
		_, err := r.coord.ExecuteScheduled(ctx, sp.ID)
		switch {
		case err == nil:
			s.Executed++
		case domain.IsTerminal(err):
			s.Skipped++
		default:
			s.Failed++
			r.log.Warn("scheduled payment execution failed", zap.String("id", sp.ID), zap.Error(err))
		}
	}

	if s.Expired+s.Due > 0 {
		r.log.Info("sweep complete",
			zap.Int("expired", s.Expired),
			zap.Int("due", s.Due),
			zap.Int("executed", s.Executed),
			zap.Int("failed", s.Failed),
			zap.Int("skipped", s.Skipped),
		)
	}
	return s, nil
}
