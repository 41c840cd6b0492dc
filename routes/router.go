package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"

	"mediaconvert/conversions"
	"mediaconvert/identity"
	"mediaconvert/logger"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Conversions    *conversions.Service
	Resolver       *identity.Resolver
	Checks         []Check
	FilesDir       string // served under /files/ when set (local artifact backend)
	AllowedOrigins []string
	MaxUploadBytes int64
}

type Server struct {
	svc       *conversions.Service
	resolver  *identity.Resolver
	checks    []Check
	maxUpload int64
}

// NewRouter builds the HTTP handler for the service.
func NewRouter(d Deps) http.Handler {
	s := &Server{svc: d.Conversions, resolver: d.Resolver, checks: d.Checks, maxUpload: d.MaxUploadBytes}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.HealthHandler)
	r.Get("/version", VersionHandler)

	r.Route("/api/conversions", func(r chi.Router) {
		r.Post("/", s.UploadHandler)
		r.Get("/limits", s.LimitsHandler)
		r.Get("/history", s.HistoryHandler)
		r.Get("/{id}", s.StatusHandler)
		r.Get("/{id}/download", s.DownloadHandler)
	})

	if d.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", fileServer(d.FilesDir)))
		logger.Infof("Serving local artifacts from %s under /files/", d.FilesDir)
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(r)
}
