package docstate

import (
	"context"

	"gorm.io/gorm"

	"github.com/docsignal/DocSignal/app/models"
)

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a document repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetDocument(ctx context.Context, uuid string) (*models.Document, error) {
	var doc models.Document
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&doc).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *gormRepository) UpdateStatus(ctx context.Context, uuid, status string) error {
	return r.db.WithContext(ctx).Model(&models.Document{}).
		Where("uuid = ?", uuid).
		Update("status", status).Error
}

func (r *gormRepository) MarkDeleted(ctx context.Context, uuid string) error {
	return r.db.WithContext(ctx).Model(&models.Document{}).
		Where("uuid = ?", uuid).
		Update("deleted", true).Error
}
