package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	_ "github.com/gallery/server/docs"
	"github.com/gallery/server/internal/config"
	"github.com/gallery/server/internal/handlers"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/repository"
	"github.com/gallery/server/internal/services"
)

const (
	serviceName = "gallery-server"

	thumbnailMaxDim  = 400
	thumbnailQuality = 85
	mediaPrefix      = "/media"

	maintenanceInterval = time.Hour
)

// @title Gallery API
// @version 1.0
// @description Photo gallery with ordered category membership.
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	cfg, err := config.Load()
	if err != nil {
		fatalf("Failed to load configuration: %v", err)
	}
	logger := observability.GetLogger()
	logger.SetLevel(observability.ParseLevel(cfg.LogLevel))
	logger.SetFormat(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.Initialize(ctx, observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: handlers.Version,
		Environment:    cfg.Telemetry.Environment,
		Endpoint:       cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval(),
		Attributes: []attribute.KeyValue{
			attribute.String("gallery.database", cfg.Backend()),
			attribute.String("gallery.storage", cfg.Storage.Backend),
		},
	})
	if err != nil {
		fatalf("Failed to initialize telemetry: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		fatalf("Failed to open %s store: %v", cfg.Backend(), err)
	}
	defer store.Close()

	galleryMetrics, err := observability.NewGalleryMetrics()
	if err != nil {
		observability.Warnf("Gallery metrics disabled: %v", err)
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		observability.Warnf("HTTP metrics disabled: %v", err)
	}

	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	objects, mediaRoot, err := openObjectStore(ctx, cfg.Storage)
	if err != nil {
		fatalf("Failed to initialize %s object storage: %v", cfg.Storage.Backend, err)
	}

	ordering := services.NewOrderingService(store.Tx, hub, galleryMetrics, services.OrderingOptions{
		MaxRetries: cfg.Ordering.MaxRetries,
		BaseDelay:  cfg.Ordering.RetryBaseDelay(),
		Timeout:    cfg.Ordering.OperationTimeout(),
	})
	gallery := services.NewGalleryService(store.Repositories, ordering, objects, hub)
	uploads := services.NewUploadService(store.Photos, objects,
		services.NewEXIFService(), services.NewThumbnailService(thumbnailMaxDim, thumbnailQuality),
		hub, galleryMetrics, cfg.Storage.AllowedExtensions, cfg.Storage.MaxFileSize())
	auth := services.NewAuthService(store.Sessions, cfg.OAuth, cfg.Security, cfg.Session, galleryMetrics)

	maintenance := services.NewMaintenanceService(store.Categories, store.Sessions, ordering)
	go maintenance.Run(ctx, maintenanceInterval)

	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName:  serviceName,
		HTTPMetrics:  httpMetrics,
		Auth:         auth,
		APIKeyHeader: cfg.Security.APIKeyHeader,
		CookieName:   cfg.Session.CookieName,
		Categories:   handlers.NewCategoryHandler(gallery, ordering),
		Photos:       handlers.NewPhotoHandler(gallery, uploads, cfg.Storage.MaxFileSize()),
		Health:       handlers.NewHealthHandler(store),
		Sessions:     handlers.NewAuthHandler(auth, cfg.Session),
		WebSocket:    handlers.NewWebSocketHandler(hub),
		Admin:        handlers.NewAdminHandler(maintenance, hub),
		MediaRoot:    mediaRoot,
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Longer for uploads
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		observability.WithFields(map[string]interface{}{
			"address":  cfg.ServerAddress,
			"database": cfg.Backend(),
			"storage":  cfg.Storage.Backend,
			"oauth":    cfg.OAuth.Enabled(),
		}).Info("Gallery server starting")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	observability.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		observability.Errorf("Server forced to shutdown: %v", err)
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		observability.Warnf("Telemetry shutdown: %v", err)
	}

	observability.Info("Server stopped")
}

func openStore(cfg *config.Config) (*repository.Store, error) {
	switch cfg.Backend() {
	case "postgres":
		return repository.OpenPostgres(cfg.DatabaseURL)
	case "memory":
		observability.Warn("Using the in-memory store; data is lost on restart")
		return repository.NewInMemoryStore(), nil
	default:
		return repository.OpenSQLite(cfg.DatabasePath)
	}
}

// openObjectStore returns the object store and, for local storage, the
// directory to serve under /media
func openObjectStore(ctx context.Context, cfg config.Storage) (services.ObjectStore, string, error) {
	if cfg.Backend == "s3" {
		objects, err := services.NewS3ObjectStore(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return objects, "", nil
	}

	objects, err := services.NewLocalObjectStore(cfg.BasePath, mediaPrefix)
	if err != nil {
		return nil, "", err
	}
	return objects, objects.Root(), nil
}

func fatalf(format string, args ...interface{}) {
	observability.Errorf(format, args...)
	os.Exit(1)
}
