package repository

import (
	"context"
	"time"

	"immune-me-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConsentRepository interface {
	FindByRecipientAndPhone(ctx context.Context, recipientID uuid.UUID, phone string) (*models.ConsentRecord, error)
	FindByPhone(ctx context.Context, phone string) (*models.ConsentRecord, error)
	Save(ctx context.Context, record *models.ConsentRecord) error

	// SetOptOut flips the opt-out flag for every record matching the phone.
	SetOptOut(ctx context.Context, phone, method string, at time.Time) (int64, error)
	// SetOptIn clears the opt-out flag and re-captures consent.
	SetOptIn(ctx context.Context, phone, method string, at time.Time) (int64, error)
}

type consentRepository struct {
	db *gorm.DB
}

func NewConsentRepository(db *gorm.DB) ConsentRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) FindByRecipientAndPhone(ctx context.Context, recipientID uuid.UUID, phone string) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := r.db.WithContext(ctx).
		First(&record, "recipient_id = ? AND phone = ?", recipientID, phone).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *consentRepository) FindByPhone(ctx context.Context, phone string) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").
		First(&record, "phone = ?", phone).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *consentRepository) Save(ctx context.Context, record *models.ConsentRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *consentRepository) SetOptOut(ctx context.Context, phone, method string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ConsentRecord{}).
		Where("phone = ?", phone).
		Updates(map[string]any{
			"opted_out":      true,
			"opt_out_date":   at,
			"opt_out_method": method,
		})
	return result.RowsAffected, result.Error
}

func (r *consentRepository) SetOptIn(ctx context.Context, phone, method string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ConsentRecord{}).
		Where("phone = ?", phone).
		Updates(map[string]any{
			"opted_out":      false,
			"opt_out_date":   nil,
			"opt_out_method": "",
			"consent_given":  true,
			"consent_date":   at,
			"consent_method": method,
		})
	return result.RowsAffected, result.Error
}
