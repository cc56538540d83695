package api

import "net/http"

// HandleDocumentWebSocket upgrades a connection into a live editing
// session on the document named in the path.
func (h *Handler) HandleDocumentWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleDocumentConnection(w, r)
}
