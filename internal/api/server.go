// Package api serves the status snapshot and the secondary pump/valve
// override. It only touches the state store, never the link.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/speedwagon-io/tankgate/internal/config"
	"github.com/speedwagon-io/tankgate/internal/lib/logger/sl"
	"github.com/speedwagon-io/tankgate/internal/model"
)

const maxBodyBytes = 1 << 10

var ErrInvalidRequest = errors.New("invalid request")

// Store is the part of state.Store the API needs.
type Store interface {
	Snapshot() model.Snapshot
	SetIntent(ctx context.Context, on bool) error
}

type Server struct {
	log      *slog.Logger
	cfg      config.APIConfig
	store    Store
	server   *http.Server
	checkers []Checker
	mu       sync.RWMutex
}

func NewServer(log *slog.Logger, cfg config.APIConfig, store Store) *Server {
	return &Server{
		log:      log.With(slog.String("component", "api")),
		cfg:      cfg,
		store:    store,
		checkers: make([]Checker, 0),
	}
}

func (s *Server) AddChecker(checker Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers = append(s.checkers, checker)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Post("/control/secondary", s.handleControlSecondary)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)

	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info("starting api server", slog.String("address", s.cfg.Address))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", sl.Err(err))
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.NewStatusResponse(s.store.Snapshot()))
}

func (s *Server) handleControlSecondary(w http.ResponseWriter, r *http.Request) {
	on, err := parseControlRequest(w, r)
	if err != nil {
		s.log.Warn("rejected control request", sl.Err(err))
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	if err := s.store.SetIntent(r.Context(), on); err != nil {
		s.log.Error("failed to set intent", sl.Err(err))
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: "internal error"})
		return
	}

	state := model.OnOff(on)
	s.log.Info("secondary intent changed", slog.String("state", state))

	writeJSON(w, http.StatusOK, model.ControlResponse{
		Message:          fmt.Sprintf("Secondary pump/valve desired state set to %s", state),
		DesiredStateP2V2: state,
	})
}

func parseControlRequest(w http.ResponseWriter, r *http.Request) (bool, error) {
	var req model.ControlRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return false, fmt.Errorf("%w: malformed body: %v", ErrInvalidRequest, err)
	}

	if req.State == nil {
		return false, fmt.Errorf("%w: missing field \"state\"", ErrInvalidRequest)
	}

	switch strings.ToUpper(strings.TrimSpace(*req.State)) {
	case model.StateOn:
		return true, nil
	case model.StateOff:
		return false, nil
	default:
		return false, fmt.Errorf("%w: state must be ON or OFF, got %q", ErrInvalidRequest, *req.State)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			s.log.Debug("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
