// services/retry_manager.go
package services

import (
	"context"
	"time"

	"immune-me-backend/gateway"
	"immune-me-backend/models"
	"immune-me-backend/repository"

	"go.uber.org/zap"
)

// RetryManager is the shared failure policy: classify, back off, dead-letter.
type RetryManager struct {
	messages            repository.MessageRepository
	maxRetries          int
	baseDelay           time.Duration
	deadLetterThreshold int
	log                 *zap.Logger
	now                 func() time.Time
}

func NewRetryManager(messages repository.MessageRepository, maxRetries int, baseDelay time.Duration, deadLetterThreshold int, log *zap.Logger) *RetryManager {
	return &RetryManager{
		messages:            messages,
		maxRetries:          maxRetries,
		baseDelay:           baseDelay,
		deadLetterThreshold: deadLetterThreshold,
		log:                 log,
		now:                 time.Now,
	}
}

// BackoffDelay is the wait before attempt retryCount+1: baseDelay * 2^retryCount.
func (r *RetryManager) BackoffDelay(retryCount int) time.Duration {
	return r.baseDelay * (1 << retryCount)
}

// HandleFailure records the failure on the message and either reschedules it
// with exponential backoff or dead-letters it. Permanent errors are never
// retried. code carries the provider delivery code when one is known.
func (r *RetryManager) HandleFailure(ctx context.Context, msg *models.Message, code string, sendErr error) {
	now := r.now()
	reason := sendErr.Error()

	moved, err := r.messages.MarkFailed(ctx, msg.ID, code, reason, now)
	if err != nil {
		r.log.Error("failed to record message failure", zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}
	if !moved {
		// Already advanced by a concurrent writer; nothing to do.
		return
	}

	if gateway.IsPermanent(sendErr) {
		r.log.Warn("permanent send failure, not retrying",
			zap.String("message_id", msg.ID.String()),
			zap.String("reason", reason),
		)
		return
	}

	if msg.RetryCount >= r.maxRetries || msg.RetryCount >= r.deadLetterThreshold {
		if _, err := r.messages.MarkDeadLetter(ctx, msg.ID, reason); err != nil {
			r.log.Error("failed to dead-letter message", zap.String("message_id", msg.ID.String()), zap.Error(err))
			return
		}
		r.log.Warn("message dead-lettered",
			zap.String("message_id", msg.ID.String()),
			zap.Int("retry_count", msg.RetryCount),
			zap.String("reason", reason),
		)
		return
	}

	delay := r.BackoffDelay(msg.RetryCount)
	if _, err := r.messages.Reschedule(ctx, msg.ID, now.Add(delay), msg.RetryCount+1); err != nil {
		r.log.Error("failed to reschedule message", zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}

	r.log.Info("message rescheduled",
		zap.String("message_id", msg.ID.String()),
		zap.Int("retry_count", msg.RetryCount+1),
		zap.Duration("delay", delay),
	)
}
