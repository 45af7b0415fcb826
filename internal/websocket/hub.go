package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"ispring-backend/internal/logger"
	"ispring-backend/internal/metrics"
	"ispring-backend/internal/middleware"
	"ispring-backend/internal/models"
)

func channelFor(userID int64) string {
	return "user_updates:" + strconv.FormatInt(userID, 10)
}

type client struct {
	conn *websocket.Conn
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans player events out to every open tab of a user. With a Redis
// client, events published on any instance reach tabs connected to any
// other instance.
type Hub struct {
	mu          sync.RWMutex
	connections map[int64][]*client
	cancelFuncs map[int64]context.CancelFunc
	redisClient *redis.Client
	auth        *middleware.JWTAuth
	upgrader    websocket.Upgrader
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// NewHub accepts a nil redisClient, in which case events stay on this
// instance.
func NewHub(redisClient *redis.Client, auth *middleware.JWTAuth, allowedOrigin string, baseLog *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		connections: make(map[int64][]*client),
		cancelFuncs: make(map[int64]context.CancelFunc),
		redisClient: redisClient,
		auth:        auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || strings.EqualFold(origin, allowedOrigin)
			},
		},
		log:     baseLog.With("component", "websocket"),
		metrics: m,
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := h.auth.Parse(tokenStr)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "user_id", id.UserID, "error", err)
		return
	}

	c := &client{conn: conn}
	h.registerConnection(id.UserID, c)

	// Keep connection alive and handle disconnect
	go func() {
		defer h.unregisterConnection(id.UserID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) registerConnection(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.connections[userID] = append(h.connections[userID], c)

	// Start pub/sub subscription if this is the first connection for this user
	if len(h.connections[userID]) == 1 && h.redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancelFuncs[userID] = cancel
		go h.subscribeToPubSub(ctx, userID)
	}

	h.metrics.RealtimeConnected(1)
	h.log.Debug("WebSocket connected", "user_id", userID, "total", len(h.connections[userID]))
}

func (h *Hub) unregisterConnection(userID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[userID]
	for i, existing := range conns {
		if existing == c {
			h.connections[userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[userID]) == 0 {
		delete(h.connections, userID)
		if cancel, ok := h.cancelFuncs[userID]; ok {
			cancel()
			delete(h.cancelFuncs, userID)
		}
	}

	h.metrics.RealtimeConnected(-1)
	h.log.Debug("WebSocket disconnected", "user_id", userID)
}

func (h *Hub) subscribeToPubSub(ctx context.Context, userID int64) {
	pubsub := h.redisClient.Subscribe(ctx, channelFor(userID))
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(userID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(userID int64, data []byte) {
	h.mu.RLock()
	conns := append([]*client(nil), h.connections[userID]...)
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			h.log.Debug("WebSocket write failed", "user_id", userID, "error", err)
		}
	}
}

// Publish delivers msg to every tab userID has open on any instance.
func (h *Hub) Publish(ctx context.Context, userID int64, msg models.WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Type, err)
	}
	if h.redisClient == nil {
		h.broadcast(userID, data)
		return nil
	}
	if err := h.redisClient.Publish(ctx, channelFor(userID), data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", msg.Type, err)
	}
	return nil
}

// Connections returns the number of open tabs for userID on this instance.
func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}
