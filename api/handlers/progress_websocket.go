package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/fetchq-go/internal/domain"
	"github.com/yourusername/fetchq-go/pkg/logger"
)

const (
	clientBuffer = 16
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressHub streams aggregate progress snapshots to WebSocket clients.
// It is registered with the orchestrator as a progress sink.
type ProgressHub struct {
	summary func() domain.AggregateSnapshot
	logger  *zap.Logger
	clients map[*progressClient]struct{}
	mu      sync.RWMutex
}

type progressClient struct {
	send chan []byte
}

// NewProgressHub creates a hub; summary provides the snapshot sent on connect
func NewProgressHub(summary func() domain.AggregateSnapshot, log *zap.Logger) *ProgressHub {
	return &ProgressHub{
		summary: summary,
		logger:  logger.OrNop(log),
		clients: make(map[*progressClient]struct{}),
	}
}

// OnProgress broadcasts a snapshot; slow clients miss updates instead of blocking
func (h *ProgressHub) OnProgress(snapshot domain.AggregateSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Error("Failed to marshal progress snapshot", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients
func (h *ProgressHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *ProgressHub) register() *progressClient {
	client := &progressClient{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *ProgressHub) unregister(client *progressClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
}

// HandleWebSocket handles GET /api/v1/progress/ws
func (h *ProgressHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	client := h.register()
	defer h.unregister(client)

	h.logger.Info("Progress client connected", zap.String("remote_addr", c.Request.RemoteAddr))

	if h.summary != nil {
		if err := conn.WriteJSON(h.summary()); err != nil {
			h.logger.Debug("Failed to send initial progress", zap.Error(err))
			return
		}
	}

	// reads only detect the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("Failed to send progress", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
