package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/tapestry/pkg/domain/model"
	"github.com/secmon-lab/tapestry/pkg/usecase"
	"github.com/secmon-lab/tapestry/pkg/utils/errutil"
	"github.com/secmon-lab/tapestry/pkg/utils/safe"
)

// maxBodySize caps JSON request bodies
const maxBodySize = 1 << 20

type Server struct {
	router  *chi.Mux
	uc      *usecase.UseCases
	version string
}

type Options func(*Server)

// WithVersion sets the version reported by the root endpoint
func WithVersion(version string) Options {
	return func(s *Server) {
		s.version = version
	}
}

func New(uc *usecase.UseCases, opts ...Options) (*Server, error) {
	if uc == nil {
		return nil, goerr.Wrap(model.ErrConfiguration, "use cases are required")
	}

	r := chi.NewRouter()
	s := &Server{
		router:  r,
		uc:      uc,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.rootHandler)
	r.Get("/health", s.healthHandler)
	r.Post("/admin/reconnect-db", s.reconnectHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.listDocumentsHandler)
			r.Post("/process", s.processHandler)
			r.Post("/batch-process", s.batchProcessHandler)
			r.Post("/search", s.searchHandler)
			r.Get("/{id}", s.getDocumentHandler)
			r.Delete("/{id}", s.deleteDocumentHandler)
		})
		r.Get("/drive/files", s.driveFilesHandler)
	})

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "tapestry PDF ingestion API",
		"version": s.version,
	})
}

// writeJSON writes v with status. A value that cannot be encoded becomes a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		handleError(w, r, goerr.Wrap(err, "failed to encode response"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	safe.Write(r.Context(), w, append(body, '\n'))
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return goerr.Wrap(model.ErrValidation, "invalid request body: "+err.Error())
	}
	return nil
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	errutil.HandleHTTP(r.Context(), w, err)
}
