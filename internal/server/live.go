package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/hub-server/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// LiveFeed pushes every accepted reading record to connected websocket
// clients, for dashboards that want updates without polling the API.
type LiveFeed struct {
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
	allowedOrigins []string

	mutex   sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewLiveFeed creates a live feed handler.
func NewLiveFeed(logger zerolog.Logger, allowedOrigins ...string) *LiveFeed {
	f := &LiveFeed{
		logger:         logger,
		allowedOrigins: allowedOrigins,
		clients:        make(map[*websocket.Conn]struct{}),
	}

	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     f.checkOrigin,
	}

	return f
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (f *LiveFeed) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	for _, allowed := range f.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	f.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP upgrades the connection and streams records until the client
// disconnects.
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	f.mutex.Lock()
	f.clients[conn] = struct{}{}
	count := len(f.clients)
	f.mutex.Unlock()

	f.logger.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", count).Msg("Live feed client connected")

	// Read loop exists only to notice disconnects and answer pings; the
	// feed is one-way.
	go f.readLoop(conn)
}

// readLoop discards inbound messages and removes the client on error.
func (f *LiveFeed) readLoop(conn *websocket.Conn) {
	defer f.removeClient(conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug().Err(err).Msg("Live feed client read error")
			}
			return
		}
	}
}

// Broadcast sends a record to every connected client. Clients that cannot
// keep up within the write deadline are dropped.
func (f *LiveFeed) Broadcast(record *models.ReadingRecord) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for conn := range f.clients {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(record); err != nil {
			f.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("Dropping slow live feed client")
			conn.Close()
			delete(f.clients, conn)
		}
	}
}

// removeClient closes and deregisters a connection.
func (f *LiveFeed) removeClient(conn *websocket.Conn) {
	conn.Close()

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if _, ok := f.clients[conn]; ok {
		delete(f.clients, conn)
		f.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Live feed client disconnected")
	}
}

// ClientCount returns the number of connected clients.
func (f *LiveFeed) ClientCount() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.clients)
}

// Close disconnects all clients.
func (f *LiveFeed) Close() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for conn := range f.clients {
		conn.Close()
		delete(f.clients, conn)
	}
}
