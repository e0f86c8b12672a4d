package repository

import (
	"context"

	"immune-me-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RecipientDirectory resolves render fields for a recipient from the
// reminder_recipients projection.
type RecipientDirectory struct {
	db *gorm.DB
}

func NewRecipientDirectory(db *gorm.DB) *RecipientDirectory {
	return &RecipientDirectory{db: db}
}

func (d *RecipientDirectory) RenderFields(ctx context.Context, recipientID uuid.UUID, kind models.MessageKind) (map[string]string, error) {
	var recipient models.ReminderRecipient
	err := d.db.WithContext(ctx).
		First(&recipient, "recipient_id = ?", recipientID).Error
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"patient":   recipient.PatientName,
		"vaccine":   recipient.VaccineName,
		"facility":  recipient.FacilityName,
		"date":      recipient.DueDate.Format("02 Jan 2006"),
		"dateShort": recipient.DueDate.Format("02/01"),
		"language":  recipient.LanguageCode,
	}, nil
}
