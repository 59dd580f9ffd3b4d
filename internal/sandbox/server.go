// Package sandbox serves an in-memory provisioning API for rehearsing runs.
//
// It speaks the same routes the provisioning client uses:
//
//	GET  /v1/locations?name=...          PUT /v1/locations/{id}
//	GET  /v1/people?email=...            PUT /v1/people/{id}
//	GET  /v1/workspaces?displayName=...  PUT /v1/workspaces/{id}
//	POST to each collection creates an entity.
//
// Any natural key can be made to fail with a chosen status via Directory.Fail,
// which is how pending-row handling is rehearsed without a real tenant.
package sandbox

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/provisioner/internal/provisioning"
)

// Server is the sandbox HTTP server.
type Server struct {
	dir    *Directory
	router *chi.Mux
	server *http.Server
	token  string
}

// NewServer creates a server over dir that accepts only token.
func NewServer(dir *Directory, token string) *Server {
	s := &Server{
		dir:    dir,
		router: chi.NewRouter(),
		token:  token,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.token))

		mountCollection(r, provisioning.LocationsPath, s.dir, s.dir.locations)
		mountCollection(r, provisioning.PeoplePath, s.dir, s.dir.people)
		mountCollection(r, provisioning.WorkspacesPath, s.dir, s.dir.workspaces)
	})
}

func mountCollection[T any](r chi.Router, path string, d *Directory, c *collection[T]) {
	r.Route(path, func(r chi.Router) {
		r.Get("/", listHandler(d, c))
		r.Post("/", createHandler(d, c))
		r.Put("/{id}", updateHandler(d, c))
	})
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("sandbox listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Directory returns the backing store.
func (s *Server) Directory() *Directory {
	return s.dir
}
