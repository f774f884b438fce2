// Package api serves the read-only web dashboard: a JSON snapshot
// endpoint plus a WebSocket stream that pushes the same snapshot on the
// display tick.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kalshi-arb/internal/config"
)

// Server runs the HTTP/WebSocket API for the dashboard.
type Server struct {
	cfg      config.Config
	provider StatusProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates the dashboard server.
func NewServer(cfg config.Config, provider StatusProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Dashboard.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start runs the hub, the snapshot pusher, and the HTTP listener. It
// blocks until the listener stops.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run()
	go s.pushSnapshots(ctx)

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// pushSnapshots broadcasts a fresh snapshot to stream clients on the
// display tick.
func (s *Server) pushSnapshots(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Engine.UITick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.hub.clientCount() == 0 {
				continue
			}
			s.hub.BroadcastSnapshot(BuildSnapshot(s.provider, s.cfg))
		case <-ctx.Done():
			return
		}
	}
}
