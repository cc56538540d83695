package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docsync/internal/api"
	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/repository"
	"docsync/internal/services"
	"docsync/internal/services/collaboration"
	"docsync/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting docsync server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Initialize Jaeger tracing first so everything below is traced
	jaegerShutdown, err := telemetry.InitJaeger("docsync", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Initialize GORM database
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Initialize repositories
	docRepo := repository.NewDocumentRepository(database.DB)
	versionRepo := repository.NewVersionRepository(database.DB)
	shareRepo := repository.NewShareRepository(database.DB)

	// Write-behind persister pool for room state
	persister := services.NewPersister(docRepo, cfg.PersistWorkers, cfg.PersistQueueSize)
	persister.Start()

	// Domain services
	versionStore := services.NewVersionStore(versionRepo, docRepo)
	gate := services.NewPermissionGate(shareRepo)

	// Live collaboration: one room per document with sessions
	sessionManager := collaboration.NewSessionManager(persister, cfg.SessionIdleTimeout)
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager, docRepo, gate)

	// HTTP handlers and routes
	handler := api.NewHandler(docRepo, shareRepo, versionStore, sessionManager,
		persister, gate, wsHandler, cfg.ShareBaseURL)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 API Endpoints:")
		log.Printf("   POST   /api/documents                         - Create document")
		log.Printf("   GET    /api/documents                         - List documents")
		log.Printf("   GET    /api/documents/:id                     - Get document")
		log.Printf("   PUT    /api/documents/:id                     - Update document")
		log.Printf("   DELETE /api/documents/:id                     - Delete document (soft)")
		log.Printf("   POST   /api/documents/:id/versions            - Commit version")
		log.Printf("   GET    /api/documents/:id/versions            - Version history")
		log.Printf("   POST   /api/documents/:id/versions/:h/restore - Restore version")
		log.Printf("   POST   /api/documents/:id/share               - Create share link")
		log.Printf("   GET    /api/shared/:shareId                   - Resolve share link")
		log.Printf("   GET    /api/documents/:id/participants        - Live participants")
		log.Printf("   WS     /ws/document/:id                       - Live editing session")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Close live sessions first so no more dirty state is produced, then
	// flush the persister so nothing typed is lost.
	sessionManager.Shutdown()
	persister.Shutdown()

	log.Println("✓ Server shutdown complete")
}
