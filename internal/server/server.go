// Package server exposes the viewer-facing HTTP surface: pull endpoints
// mirroring the live state, Prometheus metrics, and the websocket upgrade.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contestmap/contestmap/internal/hub"
	"github.com/contestmap/contestmap/internal/state"
)

// Server serves status, recent activity, messages, metrics, and the
// websocket push channel.
type Server struct {
	logger *slog.Logger
	addr   string
	store  *state.Store
	hub    *hub.Hub
}

// New creates a server over the given state store and websocket hub.
func New(logger *slog.Logger, addr string, store *state.Store, h *hub.Hub) *Server {
	return &Server{
		logger: logger,
		addr:   addr,
		store:  store,
		hub:    h,
	}
}

// Router builds the route table. Pull endpoints return the same payload
// shapes the push channel broadcasts, so a poller and a subscriber converge
// on identical state.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/recent", s.handleRecent)
	r.Get("/messages", s.handleMessages)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", hub.ServeWS(s.hub, s.logger))

	return r
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"service":   "contestmap",
		"status":    "/status",
		"recent":    "/recent",
		"messages":  "/messages",
		"metrics":   "/metrics",
		"websocket": "/ws",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Status())
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Recent())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.Messages())
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}
