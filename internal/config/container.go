package config

import (
	"time"

	"pdf-region-tagger/internal/domain"
	"pdf-region-tagger/internal/handler"
	"pdf-region-tagger/internal/infra/fitz"
	"pdf-region-tagger/internal/infra/supabase"
	"pdf-region-tagger/internal/repository"
	"pdf-region-tagger/internal/service"
	"pdf-region-tagger/pkg/logger"
)

const pageRenderTimeout = 90 * time.Second

// CatalogBackend is what the container needs from a catalog implementation.
type CatalogBackend interface {
	domain.TaxonomyRepository
	domain.BulkUploader
	CroppedImages() domain.CroppedImageRepository
}

// Container holds all application dependencies
type Container struct {
	Config              domain.Config
	Logger              domain.Logger
	SupabaseClient      domain.SupabaseClient
	Catalog             CatalogBackend
	Cache               domain.KeyValueStore
	Sessions            *service.SessionManager
	TaxonomyService     *service.TaxonomyService
	CroppedImageService *service.CroppedImageService

	SessionHandler      *handler.SessionHandler
	TaxonomyHandler     *handler.TaxonomyHandler
	CroppedImageHandler *handler.CroppedImageHandler
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return NewContainerWithConfig(NewConfig(), nil)
}

// NewContainerWithConfig wires everything from cfg. A nil log uses a logger
// at the configured level.
func NewContainerWithConfig(cfg domain.Config, log domain.Logger) *Container {
	if log == nil {
		log = logger.NewLogger(cfg.GetLogLevel())
	}
	c := &Container{Config: cfg, Logger: log}

	switch cfg.GetCatalogBackend() {
	case "supabase":
		c.SupabaseClient = supabase.NewSupabaseClient(cfg, log.With("component", "supabase"))
		if err := c.SupabaseClient.Initialize(); err != nil {
			log.Error("Supabase catalog unavailable", err)
		}
		c.Catalog = repository.NewSupabaseCatalogRepository(c.SupabaseClient, log.With("component", "catalog"))
	default:
		timeout := time.Duration(cfg.GetUploadTimeoutSeconds()) * time.Second
		c.Catalog = repository.NewCatalogHTTPClient(cfg.GetCatalogAPIBase(), timeout, log.With("component", "catalog"))
	}

	if cache, err := repository.NewFileCache(cfg.GetCacheDir(), log.With("component", "cache")); err != nil {
		log.Warn("Local cache disabled", "dir", cfg.GetCacheDir(), "error", err)
	} else {
		c.Cache = cache
	}

	opener := fitz.NewOpener(pageRenderTimeout, log.With("component", "renderer"))
	exporter := repository.NewLocalExporter(cfg.GetExportDir(), log.With("component", "export"))
	c.Sessions = service.NewSessionManager(opener, c.Catalog, exporter, service.SessionOptions{
		MinBoxSize:     cfg.GetMinBoxSize(),
		ResizeFloor:    cfg.GetResizeFloor(),
		DefaultZoom:    cfg.GetDefaultZoom(),
		MultiPage:      cfg.IsMultiPage(),
		Grouping:       cfg.IsGroupingEnabled(),
		RequireChapter: cfg.RequiresChapter(),
		Target:         cfg.GetPersistenceTarget(),
	}, log)

	c.TaxonomyService = service.NewTaxonomyService(c.Catalog, c.Cache, cfg.GetPersistenceTarget(), log.With("component", "taxonomy"))
	c.CroppedImageService = service.NewCroppedImageService(c.Catalog.CroppedImages(), cfg.GetCatalogAPIBase(), log)

	uploadTimeout := time.Duration(cfg.GetUploadTimeoutSeconds()) * time.Second
	c.SessionHandler = handler.NewSessionHandler(c.Sessions, cfg.GetMaxFileSize(), uploadTimeout, log)
	c.TaxonomyHandler = handler.NewTaxonomyHandler(c.TaxonomyService, log)
	c.CroppedImageHandler = handler.NewCroppedImageHandler(c.CroppedImageService, log)

	return c
}

// GetConfig returns the configuration instance
func (c *Container) GetConfig() domain.Config {
	return c.Config
}

// GetLogger returns the logger instance
func (c *Container) GetLogger() domain.Logger {
	return c.Logger
}
