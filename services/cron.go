// services/cron.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronRunner drives the periodic tasks: the delivery worker tick and the
// reconciliation sync. Overlap protection lives inside each task, so a slow
// run simply causes the next trigger to no-op.
type CronRunner struct {
	c          *cron.Cron
	worker     *DeliveryWorker
	reconciler *ReconciliationSync
	log        *zap.Logger
}

func NewCronRunner(worker *DeliveryWorker, reconciler *ReconciliationSync, log *zap.Logger) *CronRunner {
	return &CronRunner{
		c:          cron.New(),
		worker:     worker,
		reconciler: reconciler,
		log:        log,
	}
}

func (r *CronRunner) Start(workerInterval, reconcileInterval time.Duration) error {
	if _, err := r.c.AddFunc(every(workerInterval), func() {
		r.worker.RunOnce(context.Background())
	}); err != nil {
		return err
	}

	if _, err := r.c.AddFunc(every(reconcileInterval), func() {
		r.reconciler.RunOnce(context.Background())
	}); err != nil {
		return err
	}

	r.c.Start()
	r.log.Info("reminder scheduler started",
		zap.Duration("worker_interval", workerInterval),
		zap.Duration("reconcile_interval", reconcileInterval),
	)
	return nil
}

func (r *CronRunner) Stop() {
	ctx := r.c.Stop()
	<-ctx.Done()
	r.log.Info("reminder scheduler stopped")
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}
