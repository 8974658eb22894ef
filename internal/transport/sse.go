package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"

	v1 "github.com/kandev/daemon/pkg/api/v1"
)

// handleSSE streams every Event Bus event to the client as a Server-Sent
// Event until the request context is cancelled. It is one-way: clients
// that need to issue RPCs use /rpc or /ws instead.
func (s *Server) handleSSE(c *gin.Context) {
	if s.bus == nil {
		c.Status(503)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ch := make(chan v1.Event, clientSendBuffer)
	sub, err := s.bus.Subscribe(">", func(_ context.Context, evt v1.Event) error {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("transport: sse subscribe: %v", err)
		c.Status(503)
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			data, err := json.Marshal(evt)
			if err != nil {
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, data)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
