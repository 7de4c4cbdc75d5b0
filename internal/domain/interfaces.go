package domain

// Logger defines the interface for logging operations
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, err error, fields ...interface{})
	Debug(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	// With returns a logger that prepends fields to every entry.
	With(fields ...interface{}) Logger
}

// Config defines the interface for configuration management
type Config interface {
	GetServerPort() string
	GetLogLevel() string
	GetMaxFileSize() int64
	GetAllowedOrigins() []string

	GetCatalogBackend() string
	GetCatalogAPIBase() string
	GetPersistenceTarget() PersistenceTarget
	GetExportDir() string
	GetCacheDir() string
	GetUploadTimeoutSeconds() int

	GetSupabaseURL() string
	GetSupabaseKey() string
	GetSupabaseBucket() string

	GetMinBoxSize() float64
	GetResizeFloor() float64
	GetDefaultZoom() float64
	IsMultiPage() bool
	IsGroupingEnabled() bool
	RequiresChapter() bool
}
