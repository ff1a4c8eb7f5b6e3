package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"tubetunnel/internal/observability/logging"
)

// NewRouter configures the HTTP routes with CORS and request logging.
func NewRouter(handler *Handler, allowedOrigins []string) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", handler.handleHealthz).Methods("GET")
	r.HandleFunc("/api/v1/jobs", handler.handleSubmit).Methods("POST")
	r.HandleFunc("/api/v1/jobs", handler.handleCleanAll).Methods("DELETE")
	r.HandleFunc("/api/v1/jobs/{id}", handler.handleCleanJob).Methods("DELETE")
	r.HandleFunc("/api/v1/jobs/{id}/status", handler.handleStatus).Methods("GET")
	r.HandleFunc("/api/v1/jobs/{id}/playlist.m3u8", handler.handlePlaylist).Methods("GET")
	r.HandleFunc("/api/v1/credential", handler.handleSaveCredential).Methods("PUT")
	r.HandleFunc("/api/v1/storage", handler.handleCleanStorage).Methods("DELETE")

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	logged := logging.RequestLogger(logging.RequestLoggerConfig{Logger: handler.logger})
	return c.Handler(logged(r))
}
