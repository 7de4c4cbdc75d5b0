package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pdf-region-tagger/internal/config"
	"pdf-region-tagger/internal/handler"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or could not be loaded: %v", err)
	}
	// Wiring
	container := config.NewContainer()

	// Warm the taxonomy lists. Load logs its own warning on failure and kinds
	// that failed fall back to the offline snapshot, so the error is not
	// reported again here.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = container.TaxonomyService.Load(ctx)
	}()

	// Router
	router := handler.NewRouter(
		container.SessionHandler,
		container.TaxonomyHandler,
		container.CroppedImageHandler,
		container.Config.GetAllowedOrigins(),
		handler.Recoverer(container.Logger),
		handler.RequestLogger(container.Logger),
	)

	// start server
	server := &http.Server{
		Addr:              ":" + container.Config.GetServerPort(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Run server
	go func() {
		container.Logger.Info("Server listening",
			"address", server.Addr,
			"backend", container.Config.GetCatalogBackend(),
			"target", container.Config.GetPersistenceTarget(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Error("Server failed to start", err)
			os.Exit(1)
		}
	}()
	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	container.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		container.Logger.Warn("Forced server close", "error", err)
		_ = server.Close()
	}
	container.Sessions.CloseAll()

	container.Logger.Info("Server exited")
}
