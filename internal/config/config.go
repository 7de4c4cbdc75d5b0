package config

import (
	"os"
	"strconv"
	"strings"

	"pdf-region-tagger/internal/domain"
)

// AppConfig implements the domain.Config interface
type AppConfig struct {
	ServerPort     string
	LogLevel       string
	MaxFileSize    int64
	AllowedOrigins []string

	CatalogBackend       string
	CatalogAPIBase       string
	PersistenceTarget    domain.PersistenceTarget
	ExportDir            string
	CacheDir             string
	UploadTimeoutSeconds int

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	MinBoxSize      float64
	ResizeFloor     float64
	DefaultZoom     float64
	MultiPage       bool
	GroupingEnabled bool
	RequireChapter  bool
}

// NewConfig creates a new configuration instance with default values
func NewConfig() domain.Config {
	return &AppConfig{
		// Cloud Run (and many PaaS) provide the listening port via PORT.
		// Keep SERVER_PORT for local/dev compatibility.
		ServerPort:     getEnvOrDefault("PORT", getEnvOrDefault("SERVER_PORT", "8080")),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		MaxFileSize:    getEnvInt64OrDefault("MAX_FILE_SIZE", 50*1024*1024), // 50MB default
		AllowedOrigins: getEnvListOrDefault("ALLOWED_ORIGINS", nil),

		CatalogBackend:       strings.ToLower(getEnvOrDefault("CATALOG_BACKEND", "rest")),
		CatalogAPIBase:       strings.TrimRight(getEnvOrDefault("CATALOG_API_BASE", "http://localhost:8000"), "/"),
		PersistenceTarget:    parseTarget(os.Getenv("PERSISTENCE_TARGET")),
		ExportDir:            getEnvOrDefault("EXPORT_DIR", "./exports"),
		CacheDir:             getEnvOrDefault("CACHE_DIR", "./cache"),
		UploadTimeoutSeconds: int(getEnvInt64OrDefault("UPLOAD_TIMEOUT_SECONDS", 120)),

		SupabaseURL:    getEnvOrDefault("SUPABASE_URL", ""),
		SupabaseKey:    getEnvOrDefault("SUPABASE_ANON_KEY", ""),
		SupabaseBucket: getEnvOrDefault("SUPABASE_BUCKET", "cropped-images"),

		// 1cm at 96dpi.
		MinBoxSize:      getEnvFloatOrDefault("MIN_BOX_SIZE_PX", 38),
		ResizeFloor:     getEnvFloatOrDefault("RESIZE_FLOOR_PX", 10),
		DefaultZoom:     getEnvFloatOrDefault("DEFAULT_ZOOM", 1.5),
		MultiPage:       getEnvBoolOrDefault("MULTI_PAGE", false),
		GroupingEnabled: getEnvBoolOrDefault("GROUPING_ENABLED", true),
		RequireChapter:  getEnvBoolOrDefault("REQUIRE_CHAPTER", true),
	}
}

// GetServerPort returns the server port
func (c *AppConfig) GetServerPort() string {
	return c.ServerPort
}

// GetLogLevel returns the logging level
func (c *AppConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetMaxFileSize returns the maximum allowed file size
func (c *AppConfig) GetMaxFileSize() int64 {
	return c.MaxFileSize
}

// GetAllowedOrigins returns the CORS origins; empty means the dev defaults.
func (c *AppConfig) GetAllowedOrigins() []string {
	return c.AllowedOrigins
}

// GetCatalogBackend returns "rest" or "supabase"
func (c *AppConfig) GetCatalogBackend() string {
	return c.CatalogBackend
}

// GetCatalogAPIBase returns the catalog REST base URL, also used for media URLs
func (c *AppConfig) GetCatalogAPIBase() string {
	return c.CatalogAPIBase
}

// GetPersistenceTarget returns where uploads go
func (c *AppConfig) GetPersistenceTarget() domain.PersistenceTarget {
	return c.PersistenceTarget
}

// GetExportDir returns the local export folder
func (c *AppConfig) GetExportDir() string {
	return c.ExportDir
}

// GetCacheDir returns the local cache folder
func (c *AppConfig) GetCacheDir() string {
	return c.CacheDir
}

// GetUploadTimeoutSeconds returns the upload deadline
func (c *AppConfig) GetUploadTimeoutSeconds() int {
	return c.UploadTimeoutSeconds
}

// GetSupabaseURL returns the Supabase URL
func (c *AppConfig) GetSupabaseURL() string {
	return c.SupabaseURL
}

// GetSupabaseKey returns the Supabase anon key
func (c *AppConfig) GetSupabaseKey() string {
	return c.SupabaseKey
}

// GetSupabaseBucket returns the storage bucket for image blobs
func (c *AppConfig) GetSupabaseBucket() string {
	return c.SupabaseBucket
}

func (c *AppConfig) GetMinBoxSize() float64  { return c.MinBoxSize }
func (c *AppConfig) GetResizeFloor() float64 { return c.ResizeFloor }
func (c *AppConfig) GetDefaultZoom() float64 { return c.DefaultZoom }
func (c *AppConfig) IsMultiPage() bool       { return c.MultiPage }
func (c *AppConfig) IsGroupingEnabled() bool { return c.GroupingEnabled }
func (c *AppConfig) RequiresChapter() bool   { return c.RequireChapter }

func parseTarget(v string) domain.PersistenceTarget {
	if strings.EqualFold(strings.TrimSpace(v), string(domain.TargetLocal)) {
		return domain.TargetLocal
	}
	return domain.TargetRemote
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
