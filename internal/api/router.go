package api

import (
	"net/http"

	"docsync/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order: tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	api := r.PathPrefix("/api").Subrouter()

	// Document endpoints
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.UpdateDocument).Methods("PUT")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")

	// Version history endpoints
	api.HandleFunc("/documents/{id}/versions", h.CreateVersion).Methods("POST")
	api.HandleFunc("/documents/{id}/versions", h.ListVersions).Methods("GET")
	api.HandleFunc("/documents/{id}/versions/{hash}/restore", h.RestoreVersion).Methods("POST")

	// Share link endpoints
	api.HandleFunc("/documents/{id}/share", h.CreateShareLink).Methods("POST")
	api.HandleFunc("/documents/{id}/share", h.ListShareLinks).Methods("GET")
	api.HandleFunc("/shared/{shareId}", h.ResolveShareLink).Methods("GET")

	// Presence endpoint
	api.HandleFunc("/documents/{id}/participants", h.GetParticipants).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// WebSocket routes
	r.HandleFunc("/ws/document/{id}", h.HandleDocumentWebSocket)

	return r
}
