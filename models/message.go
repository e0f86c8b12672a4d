// models/message.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageStatus is the closed set of lifecycle states for an outbound SMS.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusSent       MessageStatus = "sent"
	StatusWaiting    MessageStatus = "waiting"
	StatusDelivered  MessageStatus = "delivered"
	StatusFailed     MessageStatus = "failed"
	StatusCancelled  MessageStatus = "cancelled"
	StatusDeadLetter MessageStatus = "dead_letter"
)

// MessageKind identifies which reminder a message carries.
type MessageKind string

const (
	KindSevenDay MessageKind = "seven_day"
	KindOneDay   MessageKind = "one_day"
	KindOverdue  MessageKind = "overdue"
)

type Message struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	RecipientID uuid.UUID `gorm:"type:uuid;index;not null"`

	// Correlator is generated once at creation and never changes. Provider
	// responses and webhooks are matched back to the row through it.
	Correlator string `gorm:"type:varchar(64);uniqueIndex;not null"`

	Phone  string        `gorm:"type:varchar(20);index;not null"`
	Body   string        `gorm:"type:text"`
	Kind   MessageKind   `gorm:"type:varchar(20);not null"`
	Status MessageStatus `gorm:"type:varchar(20);index;not null;default:pending"`

	RetryCount  int       `gorm:"default:0"`
	ScheduledAt time.Time `gorm:"index;not null"`
	SentAt      *time.Time
	DeliveredAt *time.Time
	FailedAt    *time.Time

	// ProviderRef holds the gateway-side identifier (e.g. a Twilio SID) when
	// the provider issues one at send time.
	ProviderRef          string `gorm:"type:varchar(100)"`
	ProviderDeliveryCode string `gorm:"type:varchar(50)"`
	LastError            string `gorm:"type:text"`

	gorm.Model
}

func (m *Message) BeforeCreate(tx *gorm.DB) (err error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return
}

// statusRank orders states so that updates can only move forward. waiting
// shares sent's rank: it records a device-offline signal without progressing
// the lifecycle.
var statusRank = map[MessageStatus]int{
	StatusPending:    0,
	StatusSent:       1,
	StatusWaiting:    1,
	StatusFailed:     2,
	StatusDelivered:  3,
	StatusCancelled:  3,
	StatusDeadLetter: 3,
}

// IsTerminal reports whether no further transition is allowed from s.
// failed is not terminal: the retry policy may move it back to pending.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusDeadLetter:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// step in the state machine.
func (s MessageStatus) CanTransitionTo(next MessageStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusCancelled || next == StatusFailed
	case StatusSent, StatusWaiting:
		return next == StatusDelivered || next == StatusFailed || next == StatusWaiting
	case StatusFailed:
		return next == StatusPending || next == StatusDeadLetter
	}
	return false
}

// MessageFilter narrows the ops listing endpoint.
type MessageFilter struct {
	Status   MessageStatus
	Phone    string
	Kind     MessageKind
	Page     int
	PageSize int
}
