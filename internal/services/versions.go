package services

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"docsync/internal/models"
	"docsync/internal/repository"

	"github.com/zeebo/blake3"
)

// VersionStore maintains the content-addressed, append-only snapshot
// history of every document. Appends to one document's chain are
// serialized by a per-document mutex, because assigning the parent hash
// is a read-modify-write on the chain head. Reads never take that lock.
type VersionStore struct {
	versions VersionRepository
	docs     DocumentRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex // documentID -> append lock
}

// NewVersionStore creates a new version store
func NewVersionStore(versions VersionRepository, docs DocumentRepository) *VersionStore {
	return &VersionStore{
		versions: versions,
		docs:     docs,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *VersionStore) appendLock(documentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[documentID] = lock
	}
	return lock
}

// CreateVersion appends a snapshot to a document's chain. The new
// version's parent is the current head (empty for the first version).
func (s *VersionStore) CreateVersion(ctx context.Context, documentID, title, content, message, author string) (*models.Version, error) {
	lock := s.appendLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	parentHash := ""
	head, err := s.versions.Head(ctx, documentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if head != nil {
		parentHash = head.Hash
	}

	now := time.Now()
	version := &models.Version{
		Hash:       snapshotHash(parentHash, documentID, title, content, author, message, now),
		DocumentID: documentID,
		ParentHash: parentHash,
		Title:      title,
		Content:    content,
		Author:     author,
		Message:    message,
		CreatedAt:  now,
	}

	if err := s.versions.Append(ctx, version); err != nil {
		return nil, err
	}

	return version, nil
}

// ListVersions returns a document's history newest first, by walking
// the parent chain from the head. A version whose parent is missing
// fails the whole listing with ErrChainIntegrity; it is never skipped.
// A document with no versions yet lists as empty.
func (s *VersionStore) ListVersions(ctx context.Context, documentID string) ([]*models.Version, error) {
	head, err := s.versions.Head(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return []*models.Version{}, nil
		}
		return nil, err
	}

	byHash, err := s.versions.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	chain := make([]*models.Version, 0, len(byHash))
	for current := head; ; {
		chain = append(chain, current)
		if current.ParentHash == "" {
			break
		}
		parent, ok := byHash[current.ParentHash]
		if !ok {
			return nil, fmt.Errorf("version %s references missing parent %s: %w",
				current.ShortHash(), current.ParentHash, ErrChainIntegrity)
		}
		// A well-formed chain is a simple linked list; visiting more
		// versions than exist means a cycle.
		if len(chain) > len(byHash) {
			return nil, fmt.Errorf("version chain of document %s cycles: %w", documentID, ErrChainIntegrity)
		}
		current = parent
	}

	// Every stored version must be on the walked chain. A shortfall
	// means a fork or an unreachable row, not a listable history.
	if len(chain) != len(byHash) {
		return nil, fmt.Errorf("version chain of document %s reaches %d of %d stored versions: %w",
			documentID, len(chain), len(byHash), ErrChainIntegrity)
	}

	return chain, nil
}

// RestoreVersion overwrites the document's current title and content
// with the snapshot's values and returns both the updated document and
// the snapshot it came from. This is an ordinary edit: the chain is
// untouched, and whether to commit the restore as a new version is the
// caller's call.
func (s *VersionStore) RestoreVersion(ctx context.Context, documentID, hash string) (*models.Document, *models.Version, error) {
	version, err := s.versions.GetByHash(ctx, documentID, hash)
	if err != nil {
		return nil, nil, err
	}

	doc, err := s.docs.Update(ctx, documentID, &models.DocumentUpdate{
		Title:   &version.Title,
		Content: &version.Content,
	})
	if err != nil {
		return nil, nil, err
	}

	return doc, version, nil
}

// RestoreMessage is the commit message used when a restore is
// auto-committed as a new version.
func RestoreMessage(title string, restored *models.Version) string {
	return fmt.Sprintf("Restored document '%s' to version %s", title, restored.ShortHash())
}

// snapshotHash derives the version identifier: a BLAKE3 digest over the
// parent hash and the snapshot fields, with the creation timestamp as
// the uniqueness source. Identical content snapshotted at different
// instants therefore gets distinct hashes and the chain cannot collide.
// Fields are length-prefixed so no two field sequences share an encoding.
func snapshotHash(parentHash, documentID, title, content, author, message string, ts time.Time) string {
	hasher := blake3.New()

	writeField := func(field string) {
		var length [8]byte
		binary.LittleEndian.PutUint64(length[:], uint64(len(field)))
		hasher.Write(length[:])
		hasher.Write([]byte(field))
	}

	writeField(parentHash)
	writeField(documentID)
	writeField(title)
	writeField(content)
	writeField(author)
	writeField(message)

	var nanos [8]byte
	binary.LittleEndian.PutUint64(nanos[:], uint64(ts.UnixNano()))
	hasher.Write(nanos[:])

	return hex.EncodeToString(hasher.Sum(nil))
}
