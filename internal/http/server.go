// Package http exposes the recording core over a narrow REST/SSE surface:
// fleet state, archive queries, clip requests and progress events. It keeps
// no state of its own and delegates every API request, including room changes,
// clips and cancellation, to the manager; all media handling stays in the
// recorder.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Xinrea/shadowreplay/internal/config"
	"github.com/Xinrea/shadowreplay/internal/models"
	"github.com/Xinrea/shadowreplay/internal/recorder"
	"github.com/Xinrea/shadowreplay/internal/version"
)

// Server is the HTTP/SSE surface over the recorder manager.
type Server struct {
	cfg     config.ServerConfig
	manager *recorder.Manager
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer builds the server and its routes.
func NewServer(cfg config.ServerConfig, manager *recorder.Manager, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		logger:  logger.With(slog.String("component", "http")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.handleListRooms)
		r.Post("/rooms", s.handleAddRoom)
		r.Route("/rooms/{platform}/{roomID}", func(r chi.Router) {
			r.Delete("/", s.handleRemoveRoom)
			r.Post("/enable", s.handleEnableRoom)
			r.Get("/archives", s.handleGetArchives)
			r.Delete("/archives/{liveID}", s.handleDeleteArchive)
		})
		r.Post("/clip", s.handleClip)
		r.Post("/cancel/{eventID}", s.handleCancel)
		r.Get("/events", s.handleEvents)
	})

	s.srv = &http.Server{
		Addr:        cfg.Address(),
		Handler:     r,
		ReadTimeout: cfg.ReadTimeout,
		// No write timeout: /api/events is a long-lived SSE stream.
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.cfg.Address()))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// roomKeyFromURL parses the {platform}/{roomID} route parameters.
func roomKeyFromURL(r *http.Request) (models.RoomKey, error) {
	key := models.RoomKey{
		Platform: chi.URLParam(r, "platform"),
		RoomID:   chi.URLParam(r, "roomID"),
	}
	return key, key.Validate()
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response encoding failed", slog.String("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Short(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.manager.List(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"rooms": rooms,
		"cache": s.manager.CacheStats(),
	})
}

func (s *Server) handleAddRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Platform string `json:"platform"`
		RoomID   string `json:"room_id"`
		Extra    string `json:"extra"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	key := models.RoomKey{Platform: req.Platform, RoomID: req.RoomID}
	if err := s.manager.AddRecorder(r.Context(), key, req.Extra); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, key)
}

func (s *Server) handleRemoveRoom(w http.ResponseWriter, r *http.Request) {
	key, err := roomKeyFromURL(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := s.manager.RemoveRecorder(r.Context(), key, cascade); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableRoom(w http.ResponseWriter, r *http.Request) {
	key, err := roomKeyFromURL(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.SetEnabled(r.Context(), key, req.Enabled); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetArchives(w http.ResponseWriter, r *http.Request) {
	key, err := roomKeyFromURL(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	archives, total, err := s.manager.GetArchives(r.Context(), key, offset, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"archives": archives,
		"total":    total,
	})
}

func (s *Server) handleDeleteArchive(w http.ResponseWriter, r *http.Request) {
	key, err := roomKeyFromURL(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	liveID := chi.URLParam(r, "liveID")
	if err := s.manager.DeleteArchive(r.Context(), key, liveID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	var req recorder.ClipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Key.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}

	item, err := s.manager.Clip(r.Context(), req)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, item)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if !s.manager.Cancel(eventID) {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("no active operation for %q", eventID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams progress events as server-sent events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.manager.Events().Subscribe()
	defer s.manager.Events().Unsubscribe(sub.ID)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
