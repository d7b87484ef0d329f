package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/protocol"
)

// ConnState represents the lifecycle state of a connection.
type ConnState string

const (
	StateConnecting  ConnState = "connecting"
	StateEstablished ConnState = "established"
	StateClosed      ConnState = "closed"
)

// WebSocket is the interface for the underlying WebSocket connection.
type WebSocket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ConnHandler receives lifecycle events from a Conn.
type ConnHandler interface {
	OnEstablished(ctx context.Context, conn *Conn) error
	OnMessage(ctx context.Context, conn *Conn, data []byte) error
	OnClosed(conn *Conn)
}

// Conn manages a single WebSocket connection: the session sniff, the
// established message loop and the keepalive pings.
type Conn struct {
	ws       WebSocket
	cfg      ServerConfig
	handler  ConnHandler
	Channel  client.Channel
	Identity client.Identity
	ClientID string
	State    ConnState
	mu       sync.Mutex
	writeMu  sync.Mutex
}

// NewConn creates a new connection in the connecting state.
func NewConn(ws WebSocket, cfg ServerConfig, ch client.Channel, id client.Identity, handler ConnHandler) *Conn {
	return &Conn{
		ws:       ws,
		cfg:      cfg.withDefaults(),
		handler:  handler,
		Channel:  ch,
		Identity: id,
		State:    StateConnecting,
	}
}

// Send writes a text message (thread-safe). It satisfies client.Transport.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		IncError("write")
		return err
	}
	IncMessageOut()
	return nil
}

// Close closes the underlying socket, which ends Run.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) state() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

// Run drives the connection lifecycle: session sniff → establish → read loop.
// It blocks until the connection is closed or the context is cancelled.
func (c *Conn) Run(ctx context.Context) {
	defer c.shutdown()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close websocket on context cancellation to unblock reads.
	go func() {
		<-ctx.Done()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	inbox := make(chan []byte, 16)
	go c.readPump(ctx, inbox)
	go c.pingLoop(ctx)

	// 1. Give the client a short window to announce its session.
	var pending []byte
	timer := time.NewTimer(c.cfg.SessionWait)
	select {
	case data, ok := <-inbox:
		timer.Stop()
		if !ok {
			return
		}
		if token, isSession := protocol.SniffSessionToken(data); isSession {
			if token != "" {
				c.Identity.Explicit = token
			}
		} else {
			pending = data
		}
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return
	}

	// 2. Register.
	c.mu.Lock()
	c.State = StateEstablished
	c.mu.Unlock()
	if err := c.handler.OnEstablished(ctx, c); err != nil {
		slog.Warn("connection rejected", "channel", c.Channel, "error", err)
		return
	}

	// 3. Established read loop
	if pending != nil {
		c.dispatch(ctx, pending)
	}
	for data := range inbox {
		c.dispatch(ctx, data)
	}
}

func (c *Conn) dispatch(ctx context.Context, data []byte) {
	if err := c.handler.OnMessage(ctx, c, data); err != nil {
		slog.Debug("message handling failed", "client_id", c.ClientID, "error", err)
	}
}

func (c *Conn) readPump(ctx context.Context, inbox chan<- []byte) {
	defer close(inbox)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read failed", "channel", c.Channel, "error", err)
			}
			return
		}
		IncMessageIn()
		select {
		case inbox <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.ws.Close()
				return
			}
		}
	}
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	wasEstablished := c.State == StateEstablished
	c.State = StateClosed
	c.mu.Unlock()

	c.ws.Close()

	if wasEstablished {
		c.handler.OnClosed(c)
	}
}
