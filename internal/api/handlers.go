package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"docsync/internal/models"
	"docsync/internal/repository"
	"docsync/internal/services"
	"docsync/internal/services/collaboration"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests. Dependencies come in through the
// interfaces declared in this package.
type Handler struct {
	docs      DocumentStore
	shares    ShareStore
	versions  VersionService
	collab    Collaborator
	persister Flusher
	gate      PermissionResolver
	wsHandler *collaboration.WebSocketHandler

	shareBaseURL string
}

func NewHandler(
	docs DocumentStore,
	shares ShareStore,
	versions VersionService,
	collab Collaborator,
	persister Flusher,
	gate PermissionResolver,
	wsHandler *collaboration.WebSocketHandler,
	shareBaseURL string,
) *Handler {
	return &Handler{
		docs:         docs,
		shares:       shares,
		versions:     versions,
		collab:       collab,
		persister:    persister,
		gate:         gate,
		wsHandler:    wsHandler,
		shareBaseURL: shareBaseURL,
	}
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.DocumentCreate
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.docs.Create(r.Context(), &doc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	documents, err := h.docs.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": documents,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// UpdateDocument applies a partial REST edit and announces the result
// to the document's live room, so connected editors converge on it the
// same way they would on a websocket update.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.authorizeEdit(r, id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var update models.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.docs.Update(r.Context(), id, &update)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	h.collab.AnnounceState(models.DocumentState{
		ID:      updated.ID,
		Title:   updated.Title,
		Content: updated.Content,
	})

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.docs.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Version handlers

// CreateVersion commits a snapshot of the document. Pending write-behind
// state is flushed first so the snapshot never captures edits that are
// not yet durable. Omitted title/content default to the document's
// current state.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.authorizeEdit(r, id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var req models.VersionCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.persister.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	doc, err := h.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	title, content := req.Title, req.Content
	if title == "" {
		title = doc.Title
	}
	if content == "" {
		content = doc.Content
	}

	version, err := h.versions.CreateVersion(r.Context(), id, title, content, req.Comment, author(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, version)
}

func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	versions, err := h.versions.ListVersions(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// RestoreVersion rewinds the document to a snapshot, commits the restore
// as a new version on top of the chain, and announces the state to the
// live room.
func (h *Handler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	hash := vars["hash"]

	if err := h.authorizeEdit(r, id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if err := h.persister.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	doc, restored, err := h.versions.RestoreVersion(r.Context(), id, hash)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	commit, err := h.versions.CreateVersion(r.Context(), id, doc.Title, doc.Content,
		services.RestoreMessage(doc.Title, restored), author(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.collab.AnnounceState(models.DocumentState{
		ID:      doc.ID,
		Title:   doc.Title,
		Content: doc.Content,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document":      doc,
		"restored_from": restored.Hash,
		"version":       commit,
	})
}

// Share handlers

func (h *Handler) CreateShareLink(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.docs.GetByID(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var req models.ShareCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	link, err := h.shares.Create(r.Context(), id, req.CanEdit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"shareId": link.ShareID,
		"url":     fmt.Sprintf("%s/%s", h.shareBaseURL, link.ShareID),
		"docId":   link.DocumentID,
		"canEdit": link.CanEdit,
	})
}

func (h *Handler) ListShareLinks(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	links, err := h.shares.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"shares": links,
		"count":  len(links),
	})
}

// ResolveShareLink is the landing endpoint of a share URL: it returns
// the document together with the rights the token grants.
func (h *Handler) ResolveShareLink(w http.ResponseWriter, r *http.Request) {
	shareID := mux.Vars(r)["shareId"]

	link, err := h.shares.GetByShareID(r.Context(), shareID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	doc, err := h.docs.GetByID(r.Context(), link.DocumentID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document": doc,
		"share_info": map[string]interface{}{
			"can_edit": link.CanEdit,
		},
	})
}

// Presence handler

func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	participants := h.collab.Presence(id)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"participants": participants,
		"count":        len(participants),
	})
}

// authorizeEdit enforces write access on mutating REST endpoints. A
// request carrying a shareId query parameter is bound by that token: it
// must resolve, name this document and grant edit. Requests without a
// token are direct access and keep full rights.
func (h *Handler) authorizeEdit(r *http.Request, documentID string) error {
	shareID := r.URL.Query().Get("shareId")
	if shareID == "" {
		return nil
	}

	access, err := h.gate.Resolve(r.Context(), shareID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("unknown share token: %w", services.ErrForbidden)
		}
		return err
	}
	if access.DocumentID != documentID {
		return fmt.Errorf("share token does not grant access to document %s: %w", documentID, services.ErrForbidden)
	}
	if !access.CanEdit {
		return fmt.Errorf("share token is read-only: %w", services.ErrForbidden)
	}

	return nil
}

// author identifies who performed a mutating request, for version
// attribution.
func author(r *http.Request) string {
	if name := r.URL.Query().Get("author"); name != "" {
		return name
	}
	return "anonymous"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}
