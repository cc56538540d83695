package repository

import (
	"context"
	"errors"
	"fmt"

	"docsync/internal/models"

	"gorm.io/gorm"
)

// VersionRepositoryImpl stores the append-only version chains. Rows are
// only ever inserted; restore and list never write.
type VersionRepositoryImpl struct {
	db *gorm.DB
}

// NewVersionRepository creates a new version repository
func NewVersionRepository(db *gorm.DB) *VersionRepositoryImpl {
	return &VersionRepositoryImpl{db: db}
}

// Append inserts a new version row. The caller (the version store
// service) has already computed the hash and parent linkage under the
// document's append lock.
func (r *VersionRepositoryImpl) Append(ctx context.Context, version *models.Version) error {
	if err := r.db.WithContext(ctx).Create(version).Error; err != nil {
		return fmt.Errorf("failed to append version: %w", err)
	}
	return nil
}

// Head returns the most recent version of a document's chain, or
// ErrNotFound when the document has no versions yet. The hash breaks
// created_at ties deterministically; Postgres timestamps have finite
// precision, so two appends can land on the same instant.
func (r *VersionRepositoryImpl) Head(ctx context.Context, documentID string) (*models.Version, error) {
	var version models.Version

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC, hash DESC").
		First(&version).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("head of document %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get head version: %w", err)
	}

	return &version, nil
}

// GetByHash retrieves one version, scoped to a document so a hash from
// another document's chain cannot be restored across documents.
func (r *VersionRepositoryImpl) GetByHash(ctx context.Context, documentID, hash string) (*models.Version, error) {
	var version models.Version

	err := r.db.WithContext(ctx).
		Where("document_id = ? AND hash = ?", documentID, hash).
		First(&version).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("version %s of document %s: %w", hash, documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return &version, nil
}

// ListByDocument returns every version of a document keyed by hash, for
// chain walking in the version store. Listing may run concurrently with
// an in-flight append; the walk starts from the head the caller chose.
func (r *VersionRepositoryImpl) ListByDocument(ctx context.Context, documentID string) (map[string]*models.Version, error) {
	var versions []*models.Version

	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Find(&versions).Error

	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	byHash := make(map[string]*models.Version, len(versions))
	for _, v := range versions {
		byHash[v.Hash] = v
	}

	return byHash, nil
}
