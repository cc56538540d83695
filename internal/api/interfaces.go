package api

import (
	"context"

	"docsync/internal/models"
	"docsync/internal/services"
)

// Interfaces for everything the handlers call, declared here by the
// consumer so tests can substitute fakes.

// DocumentStore is the persistence surface the handlers need.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error)
	Delete(ctx context.Context, id string) error
}

// ShareStore mints and resolves share links.
type ShareStore interface {
	Create(ctx context.Context, documentID string, canEdit bool) (*models.ShareLink, error)
	GetByShareID(ctx context.Context, shareID string) (*models.ShareLink, error)
	ListByDocument(ctx context.Context, documentID string) ([]*models.ShareLink, error)
}

// VersionService is the snapshot history surface.
type VersionService interface {
	CreateVersion(ctx context.Context, documentID, title, content, message, author string) (*models.Version, error)
	ListVersions(ctx context.Context, documentID string) ([]*models.Version, error)
	RestoreVersion(ctx context.Context, documentID, hash string) (*models.Document, *models.Version, error)
}

// Collaborator is the live-room surface: pushing externally persisted
// state into connected editors and reading the presence set.
type Collaborator interface {
	AnnounceState(state models.DocumentState)
	Presence(documentID string) []models.PresenceEntry
}

// Flusher drains pending write-behind state to the store.
type Flusher interface {
	Flush(ctx context.Context) error
}

// PermissionResolver maps a share token to the access it grants.
type PermissionResolver interface {
	Resolve(ctx context.Context, shareID string) (services.Access, error)
}
