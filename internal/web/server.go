// Package web serves the model forms and a JSON API over a workspace.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"slices"
	"time"

	"dbtyaml/internal/fields"
	"dbtyaml/internal/form"
	"dbtyaml/internal/store"
	"dbtyaml/internal/workspace"

	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"hint": fields.Short,
	"inc":  func(i int) int { return i + 1 },
	"has":  func(list []string, s string) bool { return slices.Contains(list, s) },
}

var pages = template.Must(template.New("pages").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))

// Options of the server.
type Options struct {
	// SupportedVersions is used by the validation page.
	SupportedVersions string
	// ShutdownTimeout is the time given to running requests on shutdown.
	ShutdownTimeout time.Duration
	// EmptyColumns is the number of blank column rows of the add form.
	EmptyColumns int
}

const (
	defaultShutdownTimeout = 5 * time.Second
	defaultEmptyColumns    = 3
	maxColumns             = 200
	maxBodySize            = 1 << 20
)

// Server handles the HTTP requests on a workspace.
type Server struct {
	ws   *workspace.Workspace
	opts Options
}

// New returns a server on ws.
func New(ws *workspace.Workspace, opts Options) *Server {
	if opts.SupportedVersions == "" {
		opts.SupportedVersions = store.DefaultSupportedVersions
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	if opts.EmptyColumns <= 0 {
		opts.EmptyColumns = defaultEmptyColumns
	}
	return &Server{ws: ws, opts: opts}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /add", s.handleAddForm)
	mux.HandleFunc("POST /add", s.handleAdd)
	mux.HandleFunc("GET /update", s.handleUpdateForm)
	mux.HandleFunc("POST /update", s.handleUpdate)
	mux.HandleFunc("POST /delete", s.handleDelete)
	mux.HandleFunc("GET /validate", s.handleValidateForm)
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("GET /api/files/{file}/models", s.handleListModels)
	mux.HandleFunc("GET /api/files/{file}/models/{name}", s.handleGetModel)
	mux.HandleFunc("PUT /api/files/{file}/models/{name}", s.handlePutModel)
	mux.HandleFunc("DELETE /api/files/{file}/models/{name}", s.handleDeleteModel)
	return logRequests(mux)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ctx, listener)
}

// ServeListener serves on listener until ctx is done.
func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"address": listener.Addr().String(),
			"dir":     s.ws.Dir(),
		}).Info("starting HTTP server")
		errc <- server.Serve(listener)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	log.Info("HTTP server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs every request with its status and duration.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		entry := log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
		if rec.status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	})
}

// statusOf maps an error to the HTTP status reported to the client.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, workspace.ErrNoFile):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate),
		errors.Is(err, workspace.ErrAmbiguous):
		return http.StatusConflict
	case errors.Is(err, store.ErrParse),
		errors.Is(err, store.ErrInvalid),
		errors.Is(err, workspace.ErrInvalidFile),
		errors.Is(err, form.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
