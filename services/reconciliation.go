// services/reconciliation.go
package services

import (
	"context"
	"sync/atomic"
	"time"

	"immune-me-backend/gateway"
	"immune-me-backend/repository"

	"go.uber.org/zap"
)

// ReconciliationSync closes the gap for messages whose delivery webhook never
// arrived: it polls the provider for anything stuck in sent or waiting past
// the grace window and applies the same status mapping the webhook path uses.
type ReconciliationSync struct {
	messages  repository.MessageRepository
	provider  gateway.SMSProvider
	processor *WebhookProcessor

	grace    time.Duration
	lookback time.Duration
	delay    time.Duration

	running atomic.Bool
	log     *zap.Logger
	now     func() time.Time
	sleep   func(time.Duration)
}

func NewReconciliationSync(messages repository.MessageRepository, provider gateway.SMSProvider, processor *WebhookProcessor, grace, lookback, delay time.Duration, log *zap.Logger) *ReconciliationSync {
	return &ReconciliationSync{
		messages:  messages,
		provider:  provider,
		processor: processor,
		grace:     grace,
		lookback:  lookback,
		delay:     delay,
		log:       log,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// RunOnce queries the provider for each stuck message. Query errors leave the
// message untouched; the next sync tick picks it up again.
func (s *ReconciliationSync) RunOnce(ctx context.Context) (checked, updated int) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("reconciliation skipped: previous run still in progress")
		return 0, 0
	}
	defer s.running.Store(false)

	now := s.now()
	msgs, err := s.messages.FindUndeliveredBetween(ctx, now.Add(-s.grace), now.Add(-s.lookback))
	if err != nil {
		s.log.Error("failed to fetch messages for reconciliation", zap.Error(err))
		return 0, 0
	}

	for i := range msgs {
		msg := msgs[i]
		checked++

		status, err := s.provider.QueryStatus(ctx, msg.Correlator, msg.ProviderRef)
		if err != nil {
			s.log.Warn("delivery status query failed",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
		} else if s.processor.ApplyProviderStatus(ctx, &msg, status.DeliveryStatus, status.Description) {
			updated++
		}

		// Spacing between queries keeps reconciliation inside the provider
		// rate budget alongside regular sends.
		if i < len(msgs)-1 && s.delay > 0 {
			s.sleep(s.delay)
		}
	}

	if checked > 0 {
		s.log.Info("reconciliation completed", zap.Int("checked", checked), zap.Int("updated", updated))
	}
	return checked, updated
}
