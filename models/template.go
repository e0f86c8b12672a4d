package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageTemplate is a reusable message skeleton with named placeholders of
// the form {name}. Exactly one active template exists per (kind, language).
type MessageTemplate struct {
	ID           uuid.UUID   `gorm:"type:uuid;primary_key"`
	Kind         MessageKind `gorm:"type:varchar(20);uniqueIndex:idx_kind_lang,priority:1;not null"`
	LanguageCode string      `gorm:"type:varchar(8);uniqueIndex:idx_kind_lang,priority:2;not null;default:en"`
	Body         string      `gorm:"type:text;not null"`

	// RenderedLength caches the character count of the body with empty
	// placeholder values, for template-management screens.
	RenderedLength int  `gorm:"default:0"`
	IsActive       bool `gorm:"default:true"`

	gorm.Model
}

func (t *MessageTemplate) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}
