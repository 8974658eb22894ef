package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/rpc"
	v1 "github.com/kandev/daemon/pkg/api/v1"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// clientSendBuffer bounds how far a slow subscriber can lag before the
	// hub starts dropping its oldest unsent events (spec §4.3/§5): a
	// wedged client must never block delivery to every other client.
	clientSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClient is one connected WebSocket subscriber, auto-subscribed to every
// Event Bus event.
type wsClient struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// Hub fans Event Bus events out to every connected WebSocket client and
// dispatches inbound RPC frames back through the shared Router.
type Hub struct {
	router *rpc.Router
	bus    eventbus.Bus
	log    *logger.Logger

	mu      sync.RWMutex
	clients map[*wsClient]bool

	sub eventbus.Subscription

	register   chan *wsClient
	unregister chan *wsClient
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewHub constructs a Hub; call Run to start its dispatch loop.
func NewHub(router *rpc.Router, bus eventbus.Bus, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		router:     router,
		bus:        bus,
		log:        log,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub's registration loop and its Event Bus subscription.
func (h *Hub) Run() {
	if h.bus != nil {
		sub, err := h.bus.Subscribe(">", h.broadcastEvent)
		if err != nil {
			h.log.Error("transport: hub subscribe: %v", err)
		} else {
			h.sub = sub
		}
	}

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop halts the hub and unsubscribes from the Event Bus.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		if h.sub != nil {
			_ = h.sub.Unsubscribe()
		}
		close(h.stop)
	})
}

func (h *Hub) broadcastEvent(_ context.Context, evt v1.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.enqueue(data)
	}
	return nil
}

// enqueue delivers data to the client's send buffer, dropping the oldest
// buffered message instead of blocking when the buffer is full (spec
// §4.3/§5: a slow subscriber never stalls the bus, and surviving messages
// are never reordered).
func (c *wsClient) enqueue(data []byte) {
	select {
	case c.send <- data:
		return
	default:
	}
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("transport: websocket upgrade: %v", err)
		return
	}

	client := &wsClient{id: c.Query("id"), conn: conn, hub: s.hub, send: make(chan []byte, clientSendBuffer)}
	if client.id == "" {
		client.id = conn.RemoteAddr().String()
	}
	s.hub.register <- client

	go client.writePump()
	client.readPump(c.Request.Context(), s.router)
}

func (c *wsClient) readPump(ctx context.Context, router *rpc.Router) {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		resp := router.HandleRaw(ctx, message)
		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		c.enqueue(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
