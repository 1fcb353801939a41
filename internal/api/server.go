// Package api is the development backend: the notification REST endpoints
// and the websocket push hub, backed by sqlite.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/schoolhub/schoolhub/internal/logging"
	"github.com/schoolhub/schoolhub/internal/notifications"
	"github.com/schoolhub/schoolhub/internal/storage"
)

// RoleAdmin may create notifications and alerts.
const RoleAdmin = "admin"

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	logger     *logging.Logger

	db      *storage.DB
	service *notifications.Service
	auth    *Authenticator
	hub     *Hub
}

// Config for the server
type Config struct {
	Port      int
	DB        *storage.DB
	JWTSecret string
	Logger    *logging.Logger
}

// New creates a new API server
func New(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, errors.New("api: database required")
	}
	auth, err := NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	logger := logging.OrDefault(cfg.Logger)

	service := notifications.NewService(cfg.DB)
	hub := NewHub(HubConfig{Auth: auth, Service: service, Logger: logger})
	service.Subscribe(hub)

	s := &Server{
		db:      cfg.DB,
		service: service,
		auth:    auth,
		hub:     hub,
		logger:  logger.WithField("component", "api"),
	}
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Service returns the notification service
func (s *Server) Service() *notifications.Service { return s.service }

// Auth returns the token authenticator
func (s *Server) Auth() *Authenticator { return s.auth }

// Hub returns the websocket hub
func (s *Server) Hub() *Hub { return s.hub }

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "clients": s.hub.ClientCount()})
	})

	notifAPI := NewNotificationsAPI(s.service, s.hub)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(s.auth.RequireAuth)

		notifAPI.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(RoleAdmin))
			notifAPI.RegisterAdminRoutes(r)
		})
	})

	r.Handle("/ws/notifications", s.hub)

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ClaimsFromContext(r.Context())
			if !ok || c.Role != role {
				respondError(w, http.StatusForbidden, role+" role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Start listens until Stop. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("API server starting on http://localhost%s", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve runs the server on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop disconnects websocket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
