// Package cron runs periodic jobs on a robfig/cron scheduler with a shared
// base context.
package cron

import (
	"context"
	"fmt"
	"time"

	applogger "TradeLoop/pkg/logger"

	"github.com/robfig/cron/v3"
)

type Runner struct {
	cron    *cron.Cron
	logger  *applogger.Logger
	baseCtx context.Context
	cancel  context.CancelFunc
}

func New(baseCtx context.Context, logger *applogger.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = applogger.NewNop()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Every returns the spec running a job each d (at least one second).
func Every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return fmt.Sprintf("@every %s", d)
}

// Add schedules job under name. Overlapping runs of the same job are skipped.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		start := time.Now()
		job(r.baseCtx)
		r.logger.Debug("cron job finished", applogger.String("job", name), applogger.Duration("took_ms", time.Since(start)))
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", name, err)
	}
	r.logger.Info("cron job scheduled", applogger.String("job", name), applogger.String("spec", spec))
	return id, nil
}

// Len returns the number of scheduled jobs.
func (r *Runner) Len() int { return len(r.cron.Entries()) }

func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop cancels the job context and waits for running jobs to return.
func (r *Runner) Stop() {
	r.cancel()
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
