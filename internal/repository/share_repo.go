package repository

import (
	"context"
	"errors"
	"fmt"

	"docsync/internal/models"

	"gorm.io/gorm"
)

// ShareRepositoryImpl stores share links. Links are created on demand
// and never expire or get revoked, so this is insert-and-lookup only.
type ShareRepositoryImpl struct {
	db *gorm.DB
}

// NewShareRepository creates a new share link repository
func NewShareRepository(db *gorm.DB) *ShareRepositoryImpl {
	return &ShareRepositoryImpl{db: db}
}

// Create mints a new share token for a document. The token itself is
// generated in the BeforeCreate hook.
func (r *ShareRepositoryImpl) Create(ctx context.Context, documentID string, canEdit bool) (*models.ShareLink, error) {
	link := &models.ShareLink{
		DocumentID: documentID,
		CanEdit:    canEdit,
	}

	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to create share link: %w", err)
	}

	return link, nil
}

// GetByShareID resolves an opaque token to its link record.
func (r *ShareRepositoryImpl) GetByShareID(ctx context.Context, shareID string) (*models.ShareLink, error) {
	var link models.ShareLink

	err := r.db.WithContext(ctx).First(&link, "share_id = ?", shareID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("share link %s: %w", shareID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share link: %w", err)
	}

	return &link, nil
}

// ListByDocument returns all outstanding links for a document.
func (r *ShareRepositoryImpl) ListByDocument(ctx context.Context, documentID string) ([]*models.ShareLink, error) {
	var links []*models.ShareLink

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		Find(&links).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list share links: %w", err)
	}

	return links, nil
}
