// Package server exposes the session protocol over websockets plus a
// small HTTP surface for health checks.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"

	"github.com/chartwork/mapsync/internal/influx"
	"github.com/chartwork/mapsync/internal/session"
	"github.com/chartwork/mapsync/internal/store"
	"github.com/chartwork/mapsync/pkg/mapdata"
)

const activityBucket = "map_activity"

// Server accepts client connections and hands each one a session.
type Server struct {
	addr   string
	deps   session.Deps
	logger *slog.Logger
	influx *influx.Manager

	httpServer *http.Server
	upgrader   ws.Upgrader

	sessions atomic.Int64

	mu    sync.Mutex
	conns map[*conn]struct{}
}

// New builds the server. deps are shared by all sessions.
func New(addr string, deps session.Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:   addr,
		deps:   deps,
		logger: logger,
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Slug possession is the access model; no origin gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/maps", s.handleCreateMap)
	r.Get("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetMetrics enables map activity metrics. Call before ListenAndServe.
func (s *Server) SetMetrics(m *influx.Manager) {
	s.influx = m
}

// SessionCount returns the number of live connections.
func (s *Server) SessionCount() int64 {
	return s.sessions.Load()
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the live ones.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(sock, s.deps, s.logger)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.sessions.Add(1)
	s.logger.Debug("connection opened", "remote", r.RemoteAddr)

	c.run(r.Context())

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.sessions.Add(-1)
	s.logger.Debug("connection closed", "remote", r.RemoteAddr)
}

// handleCreateMap creates a new map. Slugs left empty in the request
// body are generated; the response carries all three so the creator can
// hand out the read and write ones.
func (s *Server) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var m mapdata.Map
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, "invalid map payload", http.StatusBadRequest)
		return
	}

	if err := s.deps.Store.CreateMap(r.Context(), &m); err != nil {
		if errors.Is(err, store.ErrSlugTaken) {
			http.Error(w, "slug already taken", http.StatusConflict)
			return
		}
		s.logger.Error("map create failed", "error", err)
		http.Error(w, "map create failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info("map created", "mapId", m.ID)
	if s.influx != nil {
		point := influx.NewMapActivityPoint(m.ID, "created")
		if err := s.influx.WritePoint(r.Context(), activityBucket, point); err != nil {
			s.logger.Debug("map activity point dropped", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(m); err != nil {
		s.logger.Debug("map create encode failed", "error", err)
	}
}

type healthStatus struct {
	Status   string            `json:"status"`
	Sessions int64             `json:"sessions"`
	Store    string            `json:"store"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:   "ok",
		Sessions: s.sessions.Load(),
		Store:    "ok",
	}
	if s.deps.Router != nil {
		status.Breakers = s.deps.Router.BreakerState()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Debug("healthz encode failed", "error", err)
	}
}
