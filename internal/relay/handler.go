package relay

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Manager hands out one Hub per room id, creating hubs on demand.
type Manager struct {
	mu              sync.Mutex
	store           *StateStore
	startingBalance float64
	hubs            map[string]*Hub
}

// NewManager creates an empty manager. store may be nil for ephemeral rooms;
// startingBalance is the bankroll every new member's presence is seeded with.
func NewManager(store *StateStore, startingBalance float64) *Manager {
	return &Manager{store: store, startingBalance: startingBalance, hubs: make(map[string]*Hub)}
}

// Hub returns the hub for roomID, creating it if needed.
func (m *Manager) Hub(roomID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.hubs[roomID]; ok {
		return h
	}
	h := NewHub(roomID, m.store, m.startingBalance)
	m.hubs[roomID] = h
	return h
}

// Handler exposes the relay's HTTP surface.
type Handler struct {
	manager *Manager
	tokens  *TokenService
	store   *StateStore
}

// NewHandler wires the relay endpoints.
func NewHandler(manager *Manager, tokens *TokenService, store *StateStore) *Handler {
	return &Handler{manager: manager, tokens: tokens, store: store}
}

type joinRequest struct {
	Room     string `json:"room" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// Join issues a signed join token for a room.
func (h *Handler) Join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if h.store != nil {
		allowed, err := h.store.CheckRateLimit(c.ClientIP(), "join", 30, time.Minute)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many join attempts. Please wait."})
			return
		}
	}

	token, clientID, err := h.tokens.Issue(req.Room, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue join token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"client_id": clientID,
		"room":      req.Room,
	})
}

// ServeWS upgrades an authenticated request and attaches the client to its
// room's hub. Blocks until the connection drops.
func (h *Handler) ServeWS(c *gin.Context) {
	roomID := c.GetString("room_id")
	clientID := c.GetString("client_id")
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade to websocket: %v", err)
		return
	}

	hub := h.manager.Hub(roomID)
	cl := &client{
		hub:      hub,
		id:       clientID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, 64),
	}

	go cl.writePump()
	hub.register <- cl
	cl.readPump()
}

// RecentEvents returns the newest journaled events for a room.
func (h *Handler) RecentEvents(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, gin.H{"events": []any{}})
		return
	}

	events, err := h.store.RecentEvents(c.GetString("room_id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
