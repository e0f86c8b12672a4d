package repository

import (
	"context"

	"immune-me-backend/models"

	"gorm.io/gorm"
)

type TemplateRepository interface {
	FindActive(ctx context.Context, kind models.MessageKind, languageCode string) (*models.MessageTemplate, error)
	// Find looks a template up regardless of its active flag, for the
	// management endpoints that deactivate and re-activate templates.
	Find(ctx context.Context, kind models.MessageKind, languageCode string) (*models.MessageTemplate, error)
	ListAll(ctx context.Context) ([]models.MessageTemplate, error)
	Save(ctx context.Context, template *models.MessageTemplate) error
}

type templateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{db: db}
}

func (r *templateRepository) FindActive(ctx context.Context, kind models.MessageKind, languageCode string) (*models.MessageTemplate, error) {
	var template models.MessageTemplate
	err := r.db.WithContext(ctx).
		First(&template, "kind = ? AND language_code = ? AND is_active = true", kind, languageCode).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *templateRepository) Find(ctx context.Context, kind models.MessageKind, languageCode string) (*models.MessageTemplate, error) {
	var template models.MessageTemplate
	err := r.db.WithContext(ctx).
		First(&template, "kind = ? AND language_code = ?", kind, languageCode).Error
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *templateRepository) ListAll(ctx context.Context) ([]models.MessageTemplate, error) {
	var templates []models.MessageTemplate
	err := r.db.WithContext(ctx).Order("kind, language_code").Find(&templates).Error
	return templates, err
}

func (r *templateRepository) Save(ctx context.Context, template *models.MessageTemplate) error {
	return r.db.WithContext(ctx).Save(template).Error
}
