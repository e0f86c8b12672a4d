package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ConsentRecord tracks one recipient's SMS permission state. At most one
// active record exists per (recipient, phone) pair; opt-out always wins over
// a previously captured consent.
type ConsentRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	RecipientID uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_recipient_phone,priority:1;not null"`
	Phone       string    `gorm:"type:varchar(20);uniqueIndex:idx_recipient_phone,priority:2;index;not null"`

	ConsentGiven  bool `gorm:"default:false"`
	ConsentDate   *time.Time
	ConsentMethod string `gorm:"type:varchar(30)"`

	OptedOut     bool `gorm:"default:false"`
	OptOutDate   *time.Time
	OptOutMethod string `gorm:"type:varchar(30)"`

	gorm.Model
}

func (c *ConsentRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return
}
