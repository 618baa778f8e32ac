// Package server exposes the queue over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"queuectl/jobqueue"
	"queuectl/registry"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Supervisor starts and stops worker processes.
type Supervisor interface {
	Start(ctx context.Context, count int) ([]int, error)
	Stop(ctx context.Context) (int, error)
	Workers(ctx context.Context) ([]registry.WorkerStatus, error)
}

type Options struct {
	// AllowedOrigins defaults to every origin.
	AllowedOrigins []string
	Logger         Logger
}

type Server struct {
	q    *jobqueue.Queue
	sup  Supervisor
	opts Options
}

func New(q *jobqueue.Queue, sup Supervisor, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{q: q, sup: sup, opts: opts}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/data", s.data)

		r.Post("/jobs", s.enqueue)
		r.Get("/jobs/{id}", s.job)

		r.Post("/workers/start", s.startWorkers)
		r.Post("/workers/stop", s.stopWorkers)

		r.Post("/dlq/retry/{id}", s.retryDead)

		r.Put("/config", s.updateConfig)
	})

	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logf("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logf(format string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps err to a status code. Invalid input is the caller's fault; anything else is ours.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, jobqueue.ErrInvalidArgument) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logf("%s %s: %s: %v", r.Method, r.URL.Path, msg, err)
	writeError(w, http.StatusInternalServerError, msg)
}
