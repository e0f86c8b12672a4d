package services

import (
	"context"
	"testing"
	"time"

	"immune-me-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGate(consents *fakeConsentRepo, messages *fakeMessageRepo, expiryDays int) *ConsentGate {
	return NewConsentGate(consents, messages, expiryDays, zap.NewNop())
}

func TestCanSendNoRecord(t *testing.T) {
	gate := newTestGate(&fakeConsentRepo{}, newFakeMessageRepo(), 365)

	ok, reason := gate.CanSend(context.Background(), uuid.New(), "+231770000001")

	assert.False(t, ok)
	assert.Equal(t, ReasonNoRecord, reason)
}

func TestCanSendOptedOutWinsOverConsent(t *testing.T) {
	recipientID := uuid.New()
	now := time.Now()
	consents := &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID:  recipientID,
		Phone:        "+231770000001",
		ConsentGiven: true,
		ConsentDate:  &now,
		OptedOut:     true,
	}}}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	ok, reason := gate.CanSend(context.Background(), recipientID, "+231770000001")

	assert.False(t, ok)
	assert.Equal(t, ReasonOptedOut, reason)
}

func TestCanSendExpiredConsent(t *testing.T) {
	recipientID := uuid.New()
	old := time.Now().AddDate(-2, 0, 0)
	consents := &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID:  recipientID,
		Phone:        "+231770000001",
		ConsentGiven: true,
		ConsentDate:  &old,
	}}}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	ok, reason := gate.CanSend(context.Background(), recipientID, "+231770000001")

	assert.False(t, ok)
	assert.Equal(t, ReasonConsentExpired, reason)
}

func TestCanSendValidConsent(t *testing.T) {
	recipientID := uuid.New()
	recent := time.Now().AddDate(0, -1, 0)
	consents := &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID:  recipientID,
		Phone:        "+231770000001",
		ConsentGiven: true,
		ConsentDate:  &recent,
	}}}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	ok, reason := gate.CanSend(context.Background(), recipientID, "+231770000001")

	assert.True(t, ok)
	assert.Equal(t, ReasonAllowed, reason)
}

func TestCanSendNormalizesPhone(t *testing.T) {
	recipientID := uuid.New()
	recent := time.Now()
	consents := &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID:  recipientID,
		Phone:        "+231770000001",
		ConsentGiven: true,
		ConsentDate:  &recent,
	}}}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	ok, _ := gate.CanSend(context.Background(), recipientID, "+231 77-000-0001")

	assert.True(t, ok)
}

func TestRecordConsentCreatesAndRefreshes(t *testing.T) {
	recipientID := uuid.New()
	consents := &fakeConsentRepo{}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	record, err := gate.RecordConsent(context.Background(), recipientID, "+231770000001", true, "verbal")
	require.NoError(t, err)
	assert.True(t, record.ConsentGiven)
	assert.NotNil(t, record.ConsentDate)
	assert.Equal(t, "verbal", record.ConsentMethod)

	// Refreshing updates the same record instead of duplicating it.
	_, err = gate.RecordConsent(context.Background(), recipientID, "+231770000001", true, "written")
	require.NoError(t, err)
	assert.Len(t, consents.records, 1)
	assert.Equal(t, "written", consents.records[0].ConsentMethod)
}

func TestHandleOptOutCancelsPendingMessages(t *testing.T) {
	recipientID := uuid.New()
	now := time.Now()
	consents := &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID:  recipientID,
		Phone:        "+231770000001",
		ConsentGiven: true,
		ConsentDate:  &now,
	}}}
	messages := newFakeMessageRepo()
	pending := &models.Message{
		RecipientID: recipientID,
		Correlator:  uuid.NewString(),
		Phone:       "+231770000001",
		Kind:        models.KindSevenDay,
		Status:      models.StatusPending,
		ScheduledAt: now,
	}
	require.NoError(t, messages.Create(context.Background(), pending))

	gate := newTestGate(consents, messages, 365)
	require.NoError(t, gate.HandleOptOut(context.Background(), "+231770000001", "sms_reply"))

	assert.True(t, consents.records[0].OptedOut)
	assert.Equal(t, models.StatusCancelled, messages.get(pending.ID).Status)

	ok, reason := gate.CanSend(context.Background(), recipientID, "+231770000001")
	assert.False(t, ok)
	assert.Equal(t, ReasonOptedOut, reason)
}

func TestHandleOptOutWithoutRecordIsDurable(t *testing.T) {
	consents := &fakeConsentRepo{}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	// STOP from a phone we have never captured consent for.
	require.NoError(t, gate.HandleOptOut(context.Background(), "+231770000009", "sms_reply"))

	require.Len(t, consents.records, 1)
	assert.True(t, consents.records[0].OptedOut)
	assert.Equal(t, "sms_reply", consents.records[0].OptOutMethod)

	// A consent capture that arrives later must not re-enable sends.
	recipientID := uuid.New()
	_, err := gate.RecordConsent(context.Background(), recipientID, "+231770000009", true, "written")
	require.NoError(t, err)

	ok, reason := gate.CanSend(context.Background(), recipientID, "+231770000009")
	assert.False(t, ok)
	assert.Equal(t, ReasonOptedOut, reason)

	// Only an explicit opt-in lifts the block.
	require.NoError(t, gate.HandleOptIn(context.Background(), "+231770000009", "sms_reply"))
	ok, _ = gate.CanSend(context.Background(), recipientID, "+231770000009")
	assert.True(t, ok)
}

func TestHandleOptInRestoresConsent(t *testing.T) {
	recipientID := uuid.New()
	past := time.Now().Add(-time.Hour)
	consents := &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID: recipientID,
		Phone:       "+231770000001",
		OptedOut:    true,
		OptOutDate:  &past,
	}}}
	gate := newTestGate(consents, newFakeMessageRepo(), 365)

	require.NoError(t, gate.HandleOptIn(context.Background(), "+231770000001", "sms_reply"))

	ok, reason := gate.CanSend(context.Background(), recipientID, "+231770000001")
	assert.True(t, ok)
	assert.Equal(t, ReasonAllowed, reason)
}
