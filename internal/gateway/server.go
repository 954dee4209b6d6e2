// Package gateway serves run events to websocket observers.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/visor-agent/visor/pkg/events"
)

// Server exposes the event broadcaster over websocket. Observers connect to
// /ws and receive every run event in publish order.
type Server struct {
	addr        string
	broadcaster *events.Broadcaster
	server      *http.Server
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewServer creates a gateway server bound to addr.
func NewServer(addr string, broadcaster *events.Broadcaster, logger zerolog.Logger) (*Server, error) {
	return &Server{
		addr:        addr,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local observers only
			},
		},
	}, nil
}

// Start serves in a background goroutine until Stop or context cancellation.
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down gateway server")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	s.broadcaster.Attach(clientID, conn)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Observer connected")

	// Drain reads so pings are answered; detach on error.
	go func() {
		defer func() {
			s.broadcaster.Detach(clientID)
			conn.Close()
			s.logger.Info().Str("clientId", clientID).Msg("Observer disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
