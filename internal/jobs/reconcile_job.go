package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/validation"
)

// Reconciler replays participations to catch up missed transitions.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (validation.ReconcileReport, error)
}

// ReconcileJob runs the participation sweep on a cron schedule.
// A run that is still going when the next one comes due is skipped.
type ReconcileJob struct {
	reconciler Reconciler
	schedule   string
	cron       *cron.Cron
	log        *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReconcileJob creates a job for the given cron spec, e.g. "@every 1m".
func NewReconcileJob(reconciler Reconciler, schedule string, log *zap.Logger) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		schedule:   schedule,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:        logger.OrNop(log).Named("reconcile_job"),
	}
}

// Start registers the sweep and starts the scheduler.
func (j *ReconcileJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancel != nil {
		return errors.New("reconcile job already started")
	}
	if _, err := j.cron.AddFunc(j.schedule, j.RunOnce); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", j.schedule, err)
	}

	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.cron.Start()
	j.log.Info("reconcile job started", zap.String("schedule", j.schedule))
	return nil
}

// RunOnce performs one sweep and logs its report.
func (j *ReconcileJob) RunOnce() {
	j.mu.Lock()
	ctx := j.ctx
	j.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := j.reconciler.ReconcileAll(ctx)
	if err != nil {
		j.log.Error("reconcile job failed", zap.Error(err))
		return
	}
	if report.Delivered > 0 || report.Charged > 0 || report.Failed > 0 {
		j.log.Info("reconcile job applied transitions",
			zap.Int("delivered", report.Delivered),
			zap.Int("charged", report.Charged),
			zap.Int("failed", report.Failed),
		)
	}
}

// Stop cancels a running sweep and waits for it to return.
func (j *ReconcileJob) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-j.cron.Stop().Done()
	j.log.Info("reconcile job stopped")
}
