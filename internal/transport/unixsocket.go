package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/kandev/daemon/internal/platform/logger"
	"github.com/kandev/daemon/internal/rpc"
)

// unixServer accepts newline-delimited JSON-RPC requests over a unix-domain
// socket, one request per line, one response per line, for local clients
// that would rather not speak HTTP (spec §4.2).
type unixServer struct {
	path   string
	router *rpc.Router
	log    *logger.Logger

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
}

func newUnixServer(path string, router *rpc.Router, log *logger.Logger) *unixServer {
	return &unixServer{path: path, router: router, log: log, conns: make(map[net.Conn]struct{})}
}

func (u *unixServer) listen() error {
	_ = os.Remove(u.path)
	ln, err := net.Listen("unix", u.path)
	if err != nil {
		return err
	}
	u.ln = ln
	return nil
}

func (u *unixServer) serve() {
	for {
		conn, err := u.ln.Accept()
		if err != nil {
			u.mu.Lock()
			closed := u.closed
			u.mu.Unlock()
			if closed {
				return
			}
			u.log.Error("transport: unix accept: %v", err)
			return
		}
		u.mu.Lock()
		u.conns[conn] = struct{}{}
		u.mu.Unlock()
		go u.handleConn(conn)
	}
}

func (u *unixServer) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		u.mu.Lock()
		delete(u.conns, conn)
		u.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 4*1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := u.router.HandleRaw(context.Background(), line)
		_ = enc.Encode(resp)
	}
}

func (u *unixServer) close() {
	u.mu.Lock()
	u.closed = true
	for c := range u.conns {
		_ = c.Close()
	}
	u.mu.Unlock()
	if u.ln != nil {
		_ = u.ln.Close()
	}
	_ = os.Remove(u.path)
}

// handleHTTPRPC is the shared gin handler for POST /rpc.
func (s *Server) handleHTTPRPC(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}
	resp := s.router.HandleRaw(c.Request.Context(), body)
	c.JSON(http.StatusOK, resp)
}
