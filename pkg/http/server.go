package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/broadcast"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/config"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/database"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/eventsocket"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/metrics"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/pipeline"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/queue"
	"github.com/luminouslabsbd/voiceerp-transcript-listener/pkg/session"

	"github.com/sirupsen/logrus"
)

// Server exposes health, metrics, call inspection, recording notifications
// and the WebSocket subscription endpoint.
type Server struct {
	logger     *logrus.Logger
	config     config.HTTPConfig
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time

	listener *pipeline.Listener
	tracker  *session.Tracker
	queue    *queue.Manager
	hub      *broadcast.Hub
	manager  *eventsocket.Manager
	store    database.Store
}

// NewServer creates the HTTP server and registers its routes
func NewServer(
	logger *logrus.Logger,
	cfg config.HTTPConfig,
	listener *pipeline.Listener,
	tracker *session.Tracker,
	queueManager *queue.Manager,
	hub *broadcast.Hub,
	manager *eventsocket.Manager,
	store database.Store,
) *Server {
	server := &Server{
		logger:    logger,
		config:    cfg,
		startTime: time.Now(),
		listener:  listener,
		tracker:   tracker,
		queue:     queueManager,
		hub:       hub,
		manager:   manager,
		store:     store,
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("/health", server.healthHandler)
	mux.HandleFunc("/health/live", server.livenessHandler)
	mux.HandleFunc("/health/ready", server.readinessHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/calls", server.activeCallsHandler)
	mux.HandleFunc("/api/calls/history", server.callHistoryHandler)
	mux.HandleFunc("/api/queue", server.queueStatsHandler)
	mux.HandleFunc("/api/recordings/complete", server.recordingCompleteHandler)
	mux.HandleFunc("/ws", hub.ServeWs)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start begins serving in a goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
}

// Shutdown stops the server, allowing in-flight requests to finish
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
