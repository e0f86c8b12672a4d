// services/scheduler.go
package services

import (
	"context"
	"time"

	"immune-me-backend/models"
	"immune-me-backend/repository"
	"immune-me-backend/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderScheduler turns a due-date event into the three reminder messages.
// Past send times are still scheduled; the worker treats them as immediately
// due.
type ReminderScheduler struct {
	messages repository.MessageRepository
	gate     *ConsentGate
	location *time.Location
	log      *zap.Logger
	now      func() time.Time
}

func NewReminderScheduler(messages repository.MessageRepository, gate *ConsentGate, location *time.Location, log *zap.Logger) *ReminderScheduler {
	if location == nil {
		location = time.UTC
	}
	return &ReminderScheduler{
		messages: messages,
		gate:     gate,
		location: location,
		log:      log,
		now:      time.Now,
	}
}

// ScheduleReminders creates the seven-day, one-day and overdue messages for a
// due date. A missing phone or denied consent creates zero rows; that is a
// logged skip, not an error.
func (s *ReminderScheduler) ScheduleReminders(ctx context.Context, recipientID uuid.UUID, phone string, dueDate time.Time) ([]models.Message, error) {
	phone = utils.NormalizePhone(phone)
	if !utils.ValidatePhone(phone) {
		s.log.Warn("skipping reminder scheduling: unusable phone number",
			zap.String("recipient_id", recipientID.String()),
		)
		return nil, nil
	}

	// Advisory check only. The worker re-checks right before each send.
	if ok, reason := s.gate.CanSend(ctx, recipientID, phone); !ok {
		s.log.Info("skipping reminder scheduling: consent denied",
			zap.String("recipient_id", recipientID.String()),
			zap.String("reason", reason),
		)
		return nil, nil
	}

	due := dueDate.In(s.location)
	slots := []struct {
		kind models.MessageKind
		at   time.Time
	}{
		{models.KindSevenDay, utils.AtHour(due.AddDate(0, 0, -7), 9)},
		{models.KindOneDay, utils.AtHour(due.AddDate(0, 0, -1), 9)},
		{models.KindOverdue, utils.AtHour(due.AddDate(0, 0, 1), 14)},
	}

	created := make([]models.Message, 0, len(slots))
	for _, slot := range slots {
		msg := models.Message{
			RecipientID: recipientID,
			Correlator:  uuid.NewString(),
			Phone:       phone,
			Kind:        slot.kind,
			Status:      models.StatusPending,
			ScheduledAt: slot.at,
		}
		if err := s.messages.Create(ctx, &msg); err != nil {
			return created, err
		}
		created = append(created, msg)
	}

	s.log.Info("reminders scheduled",
		zap.String("recipient_id", recipientID.String()),
		zap.Time("due_date", due),
		zap.Int("count", len(created)),
	)
	return created, nil
}
