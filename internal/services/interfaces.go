package services

import (
	"context"

	"docsync/internal/models"
)

// Interfaces are declared here, by the consumer, not next to their
// implementations in the repository package. Each one names only the
// methods the services actually call, which keeps test fakes small.

// DocumentRepository defines what the services need from document storage
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error)
	Put(ctx context.Context, id, title, content string) error
}

// VersionRepository defines what the version store needs from version storage
type VersionRepository interface {
	Append(ctx context.Context, version *models.Version) error
	Head(ctx context.Context, documentID string) (*models.Version, error)
	GetByHash(ctx context.Context, documentID, hash string) (*models.Version, error)
	ListByDocument(ctx context.Context, documentID string) (map[string]*models.Version, error)
}

// ShareRepository defines what the permission gate needs from share storage
type ShareRepository interface {
	GetByShareID(ctx context.Context, shareID string) (*models.ShareLink, error)
}
