// Package stateapi exposes the reconciled local projection over HTTP so
// presentation frontends can poll it. It serves reads only; mutations go
// through the syncer, which talks to the backend first.
package stateapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/deskstream/deskstream/internal/metrics"
	"github.com/deskstream/deskstream/internal/model"
	"github.com/deskstream/deskstream/internal/store"
)

// ConnStatus reports whether a named socket concern is currently up.
type ConnStatus interface {
	Connected() bool
}

// Server is the local state HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      *store.Store
	listenAddr string
	logger     *slog.Logger
	startTime  time.Time

	notifConn    ConnStatus
	presenceConn ConnStatus
}

// NewServer creates a new state API server.
func NewServer(st *store.Store, notifConn, presenceConn ConnStatus, listenAddr string, logger *slog.Logger) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		store:        st,
		listenAddr:   listenAddr,
		logger:       logger,
		startTime:    time.Now(),
		notifConn:    notifConn,
		presenceConn: presenceConn,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/state", func(r chi.Router) {
		r.Get("/notifications", s.handleNotifications)
		r.Get("/agents", s.handleAgents)
		r.Get("/queue", s.handleQueue)
	})
}

// NotificationsResponse is the response for GET /state/notifications
type NotificationsResponse struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
	Loading       bool                 `json:"loading"`
}

// AgentsResponse is the response for GET /state/agents
type AgentsResponse struct {
	Agents []model.AgentStatus `json:"agents"`
}

// QueueResponse is the response for GET /state/queue
type QueueResponse struct {
	Queue       *model.QueueSnapshot `json:"queue"`
	Approximate bool                 `json:"approximate"`
}

// HealthResponse is the response for GET /healthz
type HealthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Notifications bool   `json:"notificationsConnected"`
	Presence      bool   `json:"presenceConnected"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, NotificationsResponse{
		Notifications: s.store.Notifications(),
		UnreadCount:   s.store.UnreadCount(),
		Loading:       s.store.Loading(),
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, AgentsResponse{
		Agents: s.store.Agents(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	q, ok := s.store.Queue()
	if !ok {
		s.sendJSON(w, http.StatusOK, QueueResponse{})
		return
	}
	s.sendJSON(w, http.StatusOK, QueueResponse{
		Queue:       &q,
		Approximate: q.Approximate,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.notifConn != nil {
		resp.Notifications = s.notifConn.Connected()
	}
	if s.presenceConn != nil {
		resp.Presence = s.presenceConn.Connected()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// sendJSON writes a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Handler returns the underlying router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting state API server", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down state API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
