package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Frame is the wire envelope for events forwarded to websocket clients.
type Frame struct {
	Type      string `json:"type"`
	Event     Event  `json:"event"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster fans events out to attached websocket clients. Its Handle
// method satisfies the bus Handler signature, so it plugs in as a run's
// observer directly.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*websocket.Conn
	logger  zerolog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*websocket.Conn),
		logger:  logger,
	}
}

// Attach registers a client connection under an id, replacing any previous
// connection with the same id.
func (b *Broadcaster) Attach(id string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.clients[id]; ok {
		old.Close()
	}
	b.clients[id] = conn
	b.logger.Debug().Str("client_id", id).Msg("Client attached")
}

// Detach removes and closes a client connection.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn, ok := b.clients[id]; ok {
		conn.Close()
		delete(b.clients, id)
		b.logger.Debug().Str("client_id", id).Msg("Client detached")
	}
}

// ClientCount returns the number of attached clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Handle forwards one event to every attached client. Clients whose write
// fails are dropped; a dead UI must not stall the run.
func (b *Broadcaster) Handle(evt Event) {
	frame := Frame{
		Type:      "event",
		Event:     evt,
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		b.logger.Error().Err(err).Str("kind", string(evt.Kind)).Msg("Failed to marshal event frame")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			b.logger.Warn().
				Err(err).
				Str("client_id", id).
				Str("kind", string(evt.Kind)).
				Int64("seq", evt.Seq).
				Msg("Failed to forward event, dropping client")
			conn.Close()
			delete(b.clients, id)
		}
	}
}
