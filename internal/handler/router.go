package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

var defaultAllowedOrigins = []string{
	"http://localhost:5173", // Vite dev server
	"http://localhost:4173", // Vite preview
	"http://localhost:3000", // Alternative dev port
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	sessionHandler *SessionHandler,
	taxonomyHandler *TaxonomyHandler,
	croppedImageHandler *CroppedImageHandler,
	allowedOrigins []string,
	middlewares ...mux.MiddlewareFunc,
) http.Handler {
	router := mux.NewRouter()
	router.Use(middlewares...)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pdf-region-tagger"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Document sessions
	api.HandleFunc("/sessions", sessionHandler.OpenDocument).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", sessionHandler.GetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", sessionHandler.CloseSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/view", sessionHandler.UpdateView).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/pages/{page:[0-9]+}/image", sessionHandler.PageImage).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/pointer", sessionHandler.Pointer).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/defaults", sessionHandler.SetDefaults).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/selections", sessionHandler.ListSelections).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/selections", sessionHandler.ClearSelections).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/selections/{sid}", sessionHandler.UpdateSelection).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{id}/selections/{sid}", sessionHandler.DeleteSelection).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/selections/{sid}/activate", sessionHandler.ActivateSelection).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/selections/{sid}/group", sessionHandler.GroupSelection).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/upload", sessionHandler.Upload).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/upload", sessionHandler.UploadStatus).Methods(http.MethodGet)

	// Taxonomy
	api.HandleFunc("/taxonomy", taxonomyHandler.GetAll).Methods(http.MethodGet)
	api.HandleFunc("/taxonomy/options", taxonomyHandler.GetOptions).Methods(http.MethodGet)
	api.HandleFunc("/taxonomy/concept-tree", taxonomyHandler.SaveConceptTree).Methods(http.MethodPost)
	api.HandleFunc("/taxonomy/{kind}", taxonomyHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/taxonomy/{kind}/bulk", taxonomyHandler.SaveBulk).Methods(http.MethodPost)
	api.HandleFunc("/taxonomy/{kind}/override", taxonomyHandler.ResetOverride).Methods(http.MethodDelete)

	// Cropped images
	api.HandleFunc("/cropped-images", croppedImageHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/cropped-images/{id}", croppedImageHandler.Update).Methods(http.MethodPatch)
	api.HandleFunc("/cropped-images/{id}", croppedImageHandler.Delete).Methods(http.MethodDelete)

	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
		},
		ExposedHeaders: []string{
			"X-Viewport-Scale",
		},
		MaxAge: 300, // Maximum value not ignored by any of major browsers
	})

	return c.Handler(router)
}
