package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"immune-me-backend/gateway"
	"immune-me-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSync(messages *fakeMessageRepo, events *fakeEventRepo, provider *fakeProvider) *ReconciliationSync {
	processor := NewWebhookProcessor(messages, events, newTestGate(&fakeConsentRepo{}, messages, 365), nil, zap.NewNop())
	sync := NewReconciliationSync(messages, provider, processor, 30*time.Minute, 72*time.Hour, 0, zap.NewNop())
	sync.sleep = func(time.Duration) {}
	return sync
}

func TestReconciliationResolvesStuckMessage(t *testing.T) {
	h := newProcessorHarness(&fakeConsentRepo{})
	stuck := h.seedSent(t, "+231770000001", "corr-stuck", time.Now().Add(-2*time.Hour))
	provider := &fakeProvider{status: &gateway.StatusResult{DeliveryStatus: gateway.StatusDeliveredToTerminal}}
	sync := newTestSync(h.messages, h.events, provider)

	checked, updated := sync.RunOnce(context.Background())

	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, updated)
	assert.Equal(t, models.StatusDelivered, h.messages.get(stuck.ID).Status)
}

func TestReconciliationSkipsRecentlySentMessages(t *testing.T) {
	h := newProcessorHarness(&fakeConsentRepo{})
	h.seedSent(t, "+231770000001", "corr-fresh", time.Now().Add(-5*time.Minute))
	provider := &fakeProvider{}
	sync := newTestSync(h.messages, h.events, provider)

	checked, _ := sync.RunOnce(context.Background())

	assert.Zero(t, checked)
	assert.Zero(t, provider.queries)
}

func TestReconciliationQueryErrorLeavesMessageUntouched(t *testing.T) {
	h := newProcessorHarness(&fakeConsentRepo{})
	stuck := h.seedSent(t, "+231770000001", "corr-stuck", time.Now().Add(-2*time.Hour))
	provider := &fakeProvider{statusErr: errors.New("gateway timeout")}
	sync := newTestSync(h.messages, h.events, provider)

	checked, updated := sync.RunOnce(context.Background())

	assert.Equal(t, 1, checked)
	assert.Zero(t, updated)
	assert.Equal(t, models.StatusSent, h.messages.get(stuck.ID).Status)
}

func TestReconciliationKeepsPollingWaitingMessages(t *testing.T) {
	h := newProcessorHarness(&fakeConsentRepo{})
	stuck := h.seedSent(t, "+231770000001", "corr-stuck", time.Now().Add(-2*time.Hour))
	provider := &fakeProvider{status: &gateway.StatusResult{DeliveryStatus: gateway.StatusMessageWaiting}}
	sync := newTestSync(h.messages, h.events, provider)

	sync.RunOnce(context.Background())
	require.Equal(t, models.StatusWaiting, h.messages.get(stuck.ID).Status)

	// The device comes online and the final webhook is lost: the next pass
	// must still pick the row up and resolve it from the provider.
	provider.status = &gateway.StatusResult{DeliveryStatus: gateway.StatusDeliveredToTerminal}
	checked, updated := sync.RunOnce(context.Background())

	assert.Equal(t, 1, checked)
	assert.Equal(t, 1, updated)
	assert.Equal(t, models.StatusDelivered, h.messages.get(stuck.ID).Status)
}
