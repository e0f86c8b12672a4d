// services/delivery_worker.go
package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"immune-me-backend/gateway"
	"immune-me-backend/models"
	"immune-me-backend/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// RecipientDirectory supplies render data (patient, vaccine, facility, date)
// from the records side of the application.
type RecipientDirectory interface {
	RenderFields(ctx context.Context, recipientID uuid.UUID, kind models.MessageKind) (map[string]string, error)
}

// SentCache optionally records correlator -> message id after a successful
// send so webhook handling can skip a database lookup.
type SentCache interface {
	StoreSent(ctx context.Context, correlator string, messageID uuid.UUID) error
}

// WorkerStats summarizes one worker tick.
type WorkerStats struct {
	Fetched   int
	Sent      int
	Failed    int
	Cancelled int
	Skipped   int
}

// DeliveryWorker drains due messages in rate-limited batches. One instance
// runs per process; a run-in-progress flag keeps ticks from overlapping, and
// batches are processed sequentially so rate-limit accounting stays correct.
type DeliveryWorker struct {
	messages  repository.MessageRepository
	gate      *ConsentGate
	engine    *TemplateEngine
	provider  gateway.SMSProvider
	retry     *RetryManager
	directory RecipientDirectory
	cache     SentCache

	batchSize   int
	batchDelay  time.Duration
	concurrency int64
	fetchLimit  int

	running atomic.Bool
	log     *zap.Logger
	now     func() time.Time
	sleep   func(time.Duration)
}

type DeliveryWorkerOptions struct {
	Messages  repository.MessageRepository
	Gate      *ConsentGate
	Engine    *TemplateEngine
	Provider  gateway.SMSProvider
	Retry     *RetryManager
	Directory RecipientDirectory
	Cache     SentCache

	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
	FetchLimit  int
	Log         *zap.Logger
}

func NewDeliveryWorker(opts DeliveryWorkerOptions) *DeliveryWorker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 500
	}
	return &DeliveryWorker{
		messages:    opts.Messages,
		gate:        opts.Gate,
		engine:      opts.Engine,
		provider:    opts.Provider,
		retry:       opts.Retry,
		directory:   opts.Directory,
		cache:       opts.Cache,
		batchSize:   opts.BatchSize,
		batchDelay:  opts.BatchDelay,
		concurrency: int64(opts.Concurrency),
		fetchLimit:  opts.FetchLimit,
		log:         opts.Log,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

// IsRunning reports whether a tick is currently in progress.
func (w *DeliveryWorker) IsRunning() bool {
	return w.running.Load()
}

// RunOnce executes one tick. A tick already in progress makes this a no-op.
func (w *DeliveryWorker) RunOnce(ctx context.Context) WorkerStats {
	var stats WorkerStats

	if !w.running.CompareAndSwap(false, true) {
		w.log.Debug("delivery tick skipped: previous run still in progress")
		return stats
	}
	defer w.running.Store(false)

	start := w.now()
	msgs, err := w.messages.FindDuePending(ctx, start, w.fetchLimit)
	if err != nil {
		w.log.Error("failed to fetch due messages", zap.Error(err))
		return stats
	}
	stats.Fetched = len(msgs)
	if len(msgs) == 0 {
		return stats
	}

	for batchStart := 0; batchStart < len(msgs); batchStart += w.batchSize {
		end := batchStart + w.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}

		w.processBatch(ctx, msgs[batchStart:end], &stats)

		if end < len(msgs) && w.batchDelay > 0 {
			w.sleep(w.batchDelay)
		}
	}

	w.log.Info("delivery tick completed",
		zap.Int("fetched", stats.Fetched),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
		zap.Int("cancelled", stats.Cancelled),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", time.Since(start)),
	)
	return stats
}

// processBatch dispatches up to the concurrency allowance in parallel but
// returns only when every message in the batch is finished, preserving
// batch-to-batch ordering.
func (w *DeliveryWorker) processBatch(ctx context.Context, batch []models.Message, stats *WorkerStats) {
	sem := semaphore.NewWeighted(w.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range batch {
		msg := batch[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			outcome := w.processOne(ctx, &msg)
			mu.Lock()
			switch outcome {
			case outcomeSent:
				stats.Sent++
			case outcomeFailed:
				stats.Failed++
			case outcomeCancelled:
				stats.Cancelled++
			case outcomeSkipped:
				stats.Skipped++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeFailed
	outcomeCancelled
	outcomeSkipped
)

func (w *DeliveryWorker) processOne(ctx context.Context, msg *models.Message) sendOutcome {
	// Authoritative consent check. Consent may have changed since scheduling.
	if ok, reason := w.gate.CanSend(ctx, msg.RecipientID, msg.Phone); !ok {
		if reason == ReasonOptedOut {
			if _, err := w.messages.CancelPendingForPhone(ctx, msg.Phone); err != nil {
				w.log.Error("failed to cancel messages for opted-out phone",
					zap.String("phone", msg.Phone), zap.Error(err))
			}
			return outcomeCancelled
		}
		// Other denials leave the row pending; consent may yet be captured.
		w.log.Info("send skipped: consent denied",
			zap.String("message_id", msg.ID.String()),
			zap.String("reason", reason),
		)
		return outcomeSkipped
	}

	body := msg.Body
	if body == "" {
		body = w.renderBody(ctx, msg)
		if err := w.messages.UpdateBody(ctx, msg.ID, body); err != nil {
			w.log.Error("failed to persist rendered body",
				zap.String("message_id", msg.ID.String()), zap.Error(err))
		}
	}

	result, err := w.provider.Send(ctx, []string{msg.Phone}, body, msg.Correlator)
	if err != nil {
		w.retry.HandleFailure(ctx, msg, "", err)
		return outcomeFailed
	}

	sentAt := w.now()
	if _, err := w.messages.MarkSent(ctx, msg.ID, result.ProviderRef, sentAt); err != nil {
		w.log.Error("failed to mark message sent",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return outcomeFailed
	}

	if w.cache != nil {
		if err := w.cache.StoreSent(ctx, msg.Correlator, msg.ID); err != nil {
			w.log.Warn("failed to cache sent message", zap.Error(err))
		}
	}
	return outcomeSent
}

func (w *DeliveryWorker) renderBody(ctx context.Context, msg *models.Message) string {
	if w.directory == nil {
		return FallbackBody
	}

	fields, err := w.directory.RenderFields(ctx, msg.RecipientID, msg.Kind)
	if err != nil {
		w.log.Warn("recipient lookup failed, using fallback body",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return FallbackBody
	}

	body, err := w.engine.Render(ctx, msg.Kind, fields["language"], fields)
	if err != nil {
		w.log.Warn("template render failed, using fallback body",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return FallbackBody
	}
	return body
}
