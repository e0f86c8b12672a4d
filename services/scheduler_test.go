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

func consentedRepo(recipientID uuid.UUID, phone string) *fakeConsentRepo {
	now := time.Now()
	return &fakeConsentRepo{records: []*models.ConsentRecord{{
		RecipientID:  recipientID,
		Phone:        phone,
		ConsentGiven: true,
		ConsentDate:  &now,
	}}}
}

func TestScheduleRemindersCreatesThreeMessages(t *testing.T) {
	recipientID := uuid.New()
	phone := "+231770000001"
	messages := newFakeMessageRepo()
	gate := newTestGate(consentedRepo(recipientID, phone), messages, 365)
	scheduler := NewReminderScheduler(messages, gate, time.UTC, zap.NewNop())

	dueDate := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	created, err := scheduler.ScheduleReminders(context.Background(), recipientID, phone, dueDate)
	require.NoError(t, err)
	require.Len(t, created, 3)

	byKind := map[models.MessageKind]models.Message{}
	for _, m := range created {
		byKind[m.Kind] = m
		assert.Equal(t, models.StatusPending, m.Status)
		assert.Equal(t, phone, m.Phone)
	}

	assert.Equal(t, time.Date(2026, 9, 8, 9, 0, 0, 0, time.UTC), byKind[models.KindSevenDay].ScheduledAt)
	assert.Equal(t, time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC), byKind[models.KindOneDay].ScheduledAt)
	assert.Equal(t, time.Date(2026, 9, 16, 14, 0, 0, 0, time.UTC), byKind[models.KindOverdue].ScheduledAt)
}

func TestScheduleRemindersCorrelatorsAreUnique(t *testing.T) {
	recipientID := uuid.New()
	phone := "+231770000001"
	messages := newFakeMessageRepo()
	gate := newTestGate(consentedRepo(recipientID, phone), messages, 365)
	scheduler := NewReminderScheduler(messages, gate, time.UTC, zap.NewNop())

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		created, err := scheduler.ScheduleReminders(context.Background(), recipientID, phone, time.Now().AddDate(0, 0, 10))
		require.NoError(t, err)
		for _, m := range created {
			require.NotEmpty(t, m.Correlator)
			require.False(t, seen[m.Correlator], "correlator %s issued twice", m.Correlator)
			seen[m.Correlator] = true
		}
	}
}

func TestScheduleRemindersPastTimesStillScheduled(t *testing.T) {
	recipientID := uuid.New()
	phone := "+231770000001"
	messages := newFakeMessageRepo()
	gate := newTestGate(consentedRepo(recipientID, phone), messages, 365)
	scheduler := NewReminderScheduler(messages, gate, time.UTC, zap.NewNop())

	// Due date two days out: the seven-day slot is already in the past but
	// the worker will treat it as immediately due.
	created, err := scheduler.ScheduleReminders(context.Background(), recipientID, phone, time.Now().AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Len(t, created, 3)

	due, err := messages.FindDuePending(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
	assert.Equal(t, models.KindSevenDay, due[0].Kind)
}

func TestScheduleRemindersSkipsWithoutConsent(t *testing.T) {
	messages := newFakeMessageRepo()
	gate := newTestGate(&fakeConsentRepo{}, messages, 365)
	scheduler := NewReminderScheduler(messages, gate, time.UTC, zap.NewNop())

	created, err := scheduler.ScheduleReminders(context.Background(), uuid.New(), "+231770000001", time.Now().AddDate(0, 0, 10))

	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestScheduleRemindersSkipsInvalidPhone(t *testing.T) {
	recipientID := uuid.New()
	messages := newFakeMessageRepo()
	gate := newTestGate(consentedRepo(recipientID, "0770000001"), messages, 365)
	scheduler := NewReminderScheduler(messages, gate, time.UTC, zap.NewNop())

	created, err := scheduler.ScheduleReminders(context.Background(), recipientID, "0770000001", time.Now().AddDate(0, 0, 10))

	require.NoError(t, err)
	assert.Empty(t, created)
}
