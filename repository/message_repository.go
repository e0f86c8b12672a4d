package repository

import (
	"context"
	"errors"
	"time"

	"immune-me-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = gorm.ErrRecordNotFound

// MessageRepository is the durable ledger of outbound messages. Transition
// methods apply conditional single-row updates and report whether the row
// actually moved, so concurrent writers (worker, webhook ingestor,
// reconciliation) cannot push a message backwards in its lifecycle.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	GetByCorrelator(ctx context.Context, correlator string) (*models.Message, error)

	// FindDuePending returns pending messages with scheduledAt <= now,
	// oldest first, capped at limit.
	FindDuePending(ctx context.Context, now time.Time, limit int) ([]models.Message, error)

	// FindRecentSentByPhone is the webhook fallback lookup: the most recent
	// message to the phone that reached sent within the window.
	FindRecentSentByPhone(ctx context.Context, phone string, since time.Time) (*models.Message, error)

	// FindUndeliveredBetween returns messages stuck in sent or waiting whose
	// sentAt falls in (youngerThan, olderThan], for reconciliation. waiting
	// rows stay in scope: the device may come online long after the offline
	// signal, and the final delivery webhook can be lost.
	FindUndeliveredBetween(ctx context.Context, olderThan, youngerThan time.Time) ([]models.Message, error)

	List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int64, error)

	MarkSent(ctx context.Context, id uuid.UUID, providerRef string, at time.Time) (bool, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, code string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, code, reason string, at time.Time) (bool, error)
	MarkWaiting(ctx context.Context, id uuid.UUID, code string) (bool, error)

	// Reschedule moves a failed message back to pending with an incremented
	// retry counter.
	Reschedule(ctx context.Context, id uuid.UUID, at time.Time, retryCount int) (bool, error)
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) (bool, error)

	// CancelPendingForPhone cancels every pending message addressed to the
	// phone and returns how many rows moved.
	CancelPendingForPhone(ctx context.Context, phone string) (int64, error)

	UpdateBody(ctx context.Context, id uuid.UUID, body string) error
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) GetByCorrelator(ctx context.Context, correlator string) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, "correlator = ?", correlator).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindDuePending(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.StatusPending, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) FindRecentSentByPhone(ctx context.Context, phone string, since time.Time) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("phone = ? AND status = ? AND sent_at >= ?", phone, models.StatusSent, since).
		Order("sent_at DESC").
		First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) FindUndeliveredBetween(ctx context.Context, olderThan, youngerThan time.Time) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("status IN ? AND sent_at <= ? AND sent_at >= ?",
			[]models.MessageStatus{models.StatusSent, models.StatusWaiting}, olderThan, youngerThan).
		Order("sent_at ASC").
		Find(&msgs).Error
	return msgs, err
}

func (r *messageRepository) List(ctx context.Context, filter models.MessageFilter) ([]models.Message, int64, error) {
	var msgs []models.Message
	var total int64

	if filter.PageSize < 1 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	query := r.db.WithContext(ctx).Model(&models.Message{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Phone != "" {
		query = query.Where("phone = ?", filter.Phone)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("scheduled_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&msgs).Error
	return msgs, total, err
}

// transition applies updates only when the row is currently in one of the
// allowed states. RowsAffected distinguishes "moved" from "already past".
func (r *messageRepository) transition(ctx context.Context, id uuid.UUID, allowed []models.MessageStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND status IN ?", id, allowed).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *messageRepository) MarkSent(ctx context.Context, id uuid.UUID, providerRef string, at time.Time) (bool, error) {
	return r.transition(ctx, id,
		[]models.MessageStatus{models.StatusPending},
		map[string]any{
			"status":       models.StatusSent,
			"sent_at":      at,
			"provider_ref": providerRef,
		})
}

func (r *messageRepository) MarkDelivered(ctx context.Context, id uuid.UUID, code string, at time.Time) (bool, error) {
	return r.transition(ctx, id,
		[]models.MessageStatus{models.StatusSent, models.StatusWaiting},
		map[string]any{
			"status":                 models.StatusDelivered,
			"delivered_at":           at,
			"provider_delivery_code": code,
		})
}

func (r *messageRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, reason string, at time.Time) (bool, error) {
	return r.transition(ctx, id,
		[]models.MessageStatus{models.StatusPending, models.StatusSent, models.StatusWaiting},
		map[string]any{
			"status":                 models.StatusFailed,
			"failed_at":              at,
			"provider_delivery_code": code,
			"last_error":             reason,
		})
}

func (r *messageRepository) MarkWaiting(ctx context.Context, id uuid.UUID, code string) (bool, error) {
	return r.transition(ctx, id,
		[]models.MessageStatus{models.StatusSent, models.StatusWaiting},
		map[string]any{
			"status":                 models.StatusWaiting,
			"provider_delivery_code": code,
		})
}

func (r *messageRepository) Reschedule(ctx context.Context, id uuid.UUID, at time.Time, retryCount int) (bool, error) {
	return r.transition(ctx, id,
		[]models.MessageStatus{models.StatusFailed},
		map[string]any{
			"status":       models.StatusPending,
			"scheduled_at": at,
			"retry_count":  retryCount,
		})
}

func (r *messageRepository) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	return r.transition(ctx, id,
		[]models.MessageStatus{models.StatusFailed},
		map[string]any{
			"status":     models.StatusDeadLetter,
			"last_error": reason,
		})
}

func (r *messageRepository) CancelPendingForPhone(ctx context.Context, phone string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("phone = ? AND status = ?", phone, models.StatusPending).
		Update("status", models.StatusCancelled)
	return result.RowsAffected, result.Error
}

func (r *messageRepository) UpdateBody(ctx context.Context, id uuid.UUID, body string) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("body", body).Error
}

// IsNotFound reports whether err is the store's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
