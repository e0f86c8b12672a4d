package repository

import (
	"context"

	"immune-me-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WebhookEventRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	// MarkProcessed records the processing outcome; events are otherwise
	// append-only.
	MarkProcessed(ctx context.Context, id uuid.UUID, relatedMessageID *uuid.UUID, processingError string) error
}

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uuid.UUID, relatedMessageID *uuid.UUID, processingError string) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":          true,
			"related_message_id": relatedMessageID,
			"processing_error":   processingError,
		}).Error
}
