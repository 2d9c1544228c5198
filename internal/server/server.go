package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/logging"
)

// Server is the recall HTTP API server.
type Server struct {
	eng     *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a Server over eng.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		eng:     eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(hlog.NewHandler(logging.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Int("status", status).
			Int("size", size).
			Dur("took", d).
			Msg("http: request")
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Post("/messages", s.handleAddMessage)
			r.Post("/analyze", s.handleAnalyze)
			r.Get("/recommendations", s.handleRecommendations)
		})
		r.Get("/search", s.handleSearch)
		r.Post("/prompt", s.handlePrompt)
		r.Get("/context", s.handleContext)

		r.Get("/records", s.handleListRecords)
		r.Post("/records", s.handleAddRecord)
		r.Delete("/records/{recordID}", s.handleDeleteRecord)
		r.Post("/watermarks/reset", s.handleResetWatermarks)

		r.Get("/lists", s.handleLists)
		r.Post("/lists", s.handleCreateList)
		r.Post("/lists/{listID}/activate", s.handleSetListActive(true))
		r.Post("/lists/{listID}/deactivate", s.handleSetListActive(false))
		r.Delete("/lists/{listID}", s.handleDeleteList)

		r.Post("/refresh", s.handleRefresh)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"stats":   s.eng.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps invalid input to 400 and everything else to 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if engine.IsInvalidInput(err) {
		status = http.StatusBadRequest
	} else {
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

// limitParam reads ?limit=, returning 0 (engine default) when absent or bad.
func limitParam(r *http.Request) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
