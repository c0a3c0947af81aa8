package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"slackmatrix/internal/constants"
	"slackmatrix/internal/metrics"
	"slackmatrix/pkg/matrix"
	"slackmatrix/pkg/slack"
)

// healthStore is what the health endpoint probes.
type healthStore interface {
	Ping(ctx context.Context) error
}

// socketStatus reports the Slack socket connection state.
type socketStatus interface {
	State() slack.State
}

// Server is the bridge's HTTP surface: the appservice transaction API
// plus health and metrics.
type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	registry *metrics.Registry
	store    healthStore
	socket   socketStatus
	server   *http.Server
	port     int
}

func NewServer(port int, appservice *matrix.Appservice, registry *metrics.Registry, store healthStore, socket socketStatus, logger *logrus.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		registry: registry,
		store:    store,
		socket:   socket,
		port:     port,
	}

	appservice.RegisterRoutes(s.router)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return s
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.WithField("port", s.port).Info("Starting HTTP server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if err := s.store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		body = map[string]string{"status": "degraded", "error": "store unreachable"}
		s.logger.WithError(err).Warn("Health check failed")
	}
	if s.socket != nil {
		body["socket"] = s.socket.State().String()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(s.registry.Export())
}
