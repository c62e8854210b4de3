// Package status serves the live overlay state and today's attendance over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrCodeEU/rollcall/pkg/attendance"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/pipeline"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// LoopState exposes the read-only state of a running frame loop.
type LoopState interface {
	Overlay() pipeline.Overlay
	Stats() pipeline.Stats
}

// Server is the status HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	loop       LoopState
	ledger     attendance.Ledger
	now        func() time.Time
}

// NewServer creates a server listening on addr.
func NewServer(addr string, loop LoopState, ledger attendance.Ledger) *Server {
	r := chi.NewRouter()
	s := &Server{
		router: r,
		loop:   loop,
		ledger: ledger,
		now:    time.Now,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/overlay", s.handleOverlay)
	r.Get("/stats", s.handleStats)
	r.Route("/attendance", func(r chi.Router) {
		r.Get("/today", s.handleToday)
		r.Get("/{date}", s.handleDay)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logging.Component("status").Infof("Starting status server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start status server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Component("status").Debug("Shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.loop.Overlay())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.loop.Stats())
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	s.respondEntries(w, r, s.now())
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation(attendance.DayLayout, chi.URLParam(r, "date"), time.Local)
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	s.respondEntries(w, r, day)
}

func (s *Server) respondEntries(w http.ResponseWriter, r *http.Request, day time.Time) {
	entries, err := s.ledger.Entries(r.Context(), day)
	if err != nil {
		logging.Component("status").WithError(err).Error("Failed to read attendance")
		respondError(w, http.StatusInternalServerError, "failed to read attendance")
		return
	}
	if entries == nil {
		entries = []attendance.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"date":    attendance.DayKey(day),
		"entries": entries,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs each request through logrus at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Component("status").WithFields(logging.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": chiMiddleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}
