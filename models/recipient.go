package models

import (
	"time"

	"github.com/google/uuid"
)

// ReminderRecipient is a read-only projection maintained by the patient
// records side of the application. The reminder engine only reads it to
// render message bodies.
type ReminderRecipient struct {
	RecipientID  uuid.UUID `gorm:"type:uuid;primary_key"`
	PatientName  string
	VaccineName  string
	FacilityName string
	DueDate      time.Time
	LanguageCode string
}

func (ReminderRecipient) TableName() string {
	return "reminder_recipients"
}
