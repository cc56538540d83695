package services

import "context"

// Access is what a share token resolves to: the document it names and
// whether the holder may write.
type Access struct {
	DocumentID string
	CanEdit    bool
}

// PermissionGate resolves opaque share tokens. It is capability based:
// possession of the token grants the encoded right, no authentication
// of the requester happens here. Enforcement of the resolved right is
// the session manager's and the handlers' job, always server side.
type PermissionGate struct {
	shares ShareRepository
}

// NewPermissionGate creates a new permission gate
func NewPermissionGate(shares ShareRepository) *PermissionGate {
	return &PermissionGate{shares: shares}
}

// Resolve maps a share token to its document and edit right. Unknown
// tokens surface the repository's ErrNotFound.
func (g *PermissionGate) Resolve(ctx context.Context, shareID string) (Access, error) {
	link, err := g.shares.GetByShareID(ctx, shareID)
	if err != nil {
		return Access{}, err
	}

	return Access{
		DocumentID: link.DocumentID,
		CanEdit:    link.CanEdit,
	}, nil
}
