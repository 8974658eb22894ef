// Package transport exposes the RPC Router over three transports: HTTP
// POST /rpc, WebSocket /ws, and a raw unix-domain socket, plus an SSE
// /events stream for one-way Event Bus fanout, per spec §4.2/§4.3.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kandev/daemon/internal/eventbus"
	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/rpc"
)

// Config controls which transports are started and where they listen.
type Config struct {
	HTTPHost         string
	HTTPPort         int
	EnableHTTP       bool
	EnableWebSocket  bool
	EnableUnixSocket bool
	SocketPath       string
}

// Server owns the gin engine (HTTP + WebSocket), the unix-socket accept
// loop, and the underlying http.Server.
type Server struct {
	cfg    Config
	router *rpc.Router
	bus    eventbus.Bus
	log    *logger.Logger

	engine *gin.Engine
	http   *http.Server
	hub    *Hub
	unix   *unixServer
}

// New constructs a Server wired to router and bus. Call Start to begin
// accepting connections and Shutdown to stop gracefully.
func New(cfg Config, router *rpc.Router, bus eventbus.Bus, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8420
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{cfg: cfg, router: router, bus: bus, log: log, engine: engine}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "kandev"})
	})

	if cfg.EnableHTTP {
		engine.POST("/rpc", s.handleHTTPRPC)
		engine.GET("/events", s.handleSSE)
	}
	if cfg.EnableWebSocket {
		s.hub = NewHub(router, bus, log)
		go s.hub.Run()
		engine.GET("/ws", s.handleWebSocket)
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE and WebSocket connections are long-lived
	}

	if cfg.EnableUnixSocket && cfg.SocketPath != "" {
		s.unix = newUnixServer(cfg.SocketPath, router, log)
	}

	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version, Sec-WebSocket-Protocol")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Start begins listening on every enabled transport. It returns once the
// listeners are bound; serving happens on background goroutines.
func (s *Server) Start() error {
	if s.cfg.EnableHTTP || s.cfg.EnableWebSocket {
		go func() {
			if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.log.Error("transport: http server: %v", err)
			}
		}()
		s.log.Info("transport: http/ws listening on %s", s.http.Addr)
	}
	if s.unix != nil {
		if err := s.unix.listen(); err != nil {
			return err
		}
		go s.unix.serve()
		s.log.Info("transport: unix socket listening on %s", s.cfg.SocketPath)
	}
	return nil
}

// Shutdown stops every transport, waiting up to the context deadline for
// in-flight connections to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.unix != nil {
		s.unix.close()
	}
	if s.cfg.EnableHTTP || s.cfg.EnableWebSocket {
		return s.http.Shutdown(ctx)
	}
	return nil
}
