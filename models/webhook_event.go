package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WebhookEventType string

const (
	EventDeliveryStatus WebhookEventType = "delivery_status"
	EventInboundMessage WebhookEventType = "inbound_message"
)

// WebhookEvent is an append-only audit record of every inbound callback.
// Rows are written before processing starts and only ever updated to record
// the processing outcome.
type WebhookEvent struct {
	ID   uuid.UUID        `gorm:"type:uuid;primary_key"`
	Type WebhookEventType `gorm:"type:varchar(20);index;not null"`

	Payload       string `gorm:"type:text;not null"`
	SourceAddress string `gorm:"type:varchar(45)"`

	Processed        bool `gorm:"default:false"`
	RelatedMessageID *uuid.UUID
	ProcessingError  string `gorm:"type:text"`

	gorm.Model
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return
}
