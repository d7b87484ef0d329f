package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rvald/twinctl/internal/client"
	"github.com/rvald/twinctl/internal/dispatch"
	"github.com/rvald/twinctl/internal/operation"
	"github.com/rvald/twinctl/internal/protocol"
	"github.com/rvald/twinctl/internal/relay"
	"github.com/rvald/twinctl/internal/translate"
)

// GatewayConfig configures the gateway.
type GatewayConfig struct {
	Server ServerConfig
	// TickInterval is the period of status and health pushes. Zero disables them.
	TickInterval time.Duration

	Dispatch     dispatch.Config
	Workers      int
	SendTimeout  time.Duration
	DefaultAngle float64 // translator default

	// Evaluator is the direct execution path. Optional.
	Evaluator dispatch.Evaluator
	// Bus relays broadcasts to other instances. Optional.
	Bus          relay.Bus
	RelaySubject string
	Instance     string
}

// Gateway is the top-level orchestrator that ties together the WebSocket
// server, client registry, operation registry and dispatcher.
type Gateway struct {
	config     GatewayConfig
	server     *Server
	clients    *client.Registry
	ops        *operation.Registry
	dispatcher *dispatch.Dispatcher
	translator *translate.Translator
	relay      *relay.Relay
	started    time.Time
}

// New creates and wires up a new Gateway.
func New(config GatewayConfig) (*Gateway, error) {
	gw := &Gateway{
		config:     config,
		ops:        operation.NewRegistry(),
		translator: translate.New(translate.WithDefaultAngle(config.DefaultAngle)),
		started:    time.Now(),
	}

	gw.clients = client.NewRegistry(client.Options{
		Workers:     config.Workers,
		SendTimeout: config.SendTimeout,
		SupersedeNotice: func(old client.Info) []byte {
			msg, err := protocol.MarshalSuperseded(old.ClientID)
			if err != nil {
				return nil
			}
			return msg
		},
		OnSupersede: func(client.Info) { SupersededTotal.Inc() },
		OnPrune:     func(client.Info) { PrunedTotal.Inc() },
	})

	if config.Bus != nil {
		gw.relay = relay.New(gw.clients, config.Bus, relay.Options{
			Subject:  config.RelaySubject,
			Instance: config.Instance,
		})
	}

	gw.dispatcher = dispatch.New(gw.ops, config.Evaluator, gw, config.Dispatch)
	gw.dispatcher.RegisterBuiltins()
	gw.dispatcher.SetObserver(ObserveCommand)

	gw.server = NewServer(config.Server, gw)
	gw.registerAPI()
	return gw, nil
}

// Run starts the gateway server and tick loop. Blocks until ctx is cancelled.
func (gw *Gateway) Run(ctx context.Context) error {
	if gw.relay != nil {
		if err := gw.relay.Start(ctx); err != nil {
			return err
		}
		defer gw.relay.Stop()
	}
	if gw.config.TickInterval > 0 {
		go gw.tickLoop(ctx)
	}
	return gw.server.ListenAndServe(ctx)
}

// Handle mounts an extra HTTP handler, e.g. the MCP endpoint.
func (gw *Gateway) Handle(pattern string, h http.Handler) { gw.server.Handle(pattern, h) }

// Addr returns the listen address once the server is up.
func (gw *Gateway) Addr() string { return gw.server.Addr() }

// Dispatcher returns the gateway's dispatcher for external use (e.g. Discord bot).
func (gw *Gateway) Dispatcher() *dispatch.Dispatcher { return gw.dispatcher }

// Translator returns the natural-language translator.
func (gw *Gateway) Translator() *translate.Translator { return gw.translator }

// Clients returns the gateway's client registry.
func (gw *Gateway) Clients() *client.Registry { return gw.clients }

// Operations returns the operation registry so callers can add operations.
func (gw *Gateway) Operations() *operation.Registry { return gw.ops }

// Broadcast sends msg to clients on ch, through the relay when one is
// configured.
func (gw *Gateway) Broadcast(ctx context.Context, msg []byte, ch client.Channel, exclude string) client.Delivery {
	var d client.Delivery
	if gw.relay != nil {
		d = gw.relay.Broadcast(ctx, msg, ch, exclude)
	} else {
		d = gw.clients.Broadcast(ctx, msg, ch, exclude)
	}
	observeDelivery(d)
	return d
}

// Shutdown sends a shutdown message to all local connections and gracefully
// stops the server.
func (gw *Gateway) Shutdown(ctx context.Context) error {
	if msg, err := protocol.MarshalShutdown(); err == nil {
		gw.clients.Broadcast(ctx, msg, "", "")
	}
	return gw.server.Shutdown(ctx)
}

// --- ConnHandler implementation ---

func (gw *Gateway) OnEstablished(ctx context.Context, conn *Conn) error {
	id := gw.clients.Connect(ctx, conn, conn.Channel, conn.Identity)
	conn.ClientID = id
	IncConnectedClients(conn.Channel)

	session := ""
	if c, ok := gw.clients.Get(id); ok {
		session = c.SessionToken
	}
	msg, err := protocol.MarshalEstablished(id, string(conn.Channel), session)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, msg); err != nil {
		return err
	}

	switch conn.Channel {
	case client.ChannelStatus:
		return gw.reply(ctx, conn, gw.statusMessage(""))
	case client.ChannelHealth:
		return gw.reply(ctx, conn, gw.healthMessage(ctx, protocol.TypeHealth, ""))
	}
	return nil
}

func (gw *Gateway) OnMessage(ctx context.Context, conn *Conn, data []byte) error {
	gw.clients.Touch(conn.ClientID)

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		IncError("protocol")
		return gw.replyError(ctx, conn, "", err)
	}

	switch m := msg.(type) {
	case *protocol.CommandMessage:
		// Invalid commands still reach the dispatcher, which answers them
		// with a correlated failure.
		cmd, _ := m.ToCommand()
		res := gw.dispatcher.Dispatch(dispatch.WithOrigin(ctx, conn.ClientID), cmd)
		out, err := protocol.MarshalResponse(res)
		if err != nil {
			return err
		}
		return conn.Send(ctx, out)

	case *protocol.PingMessage:
		out, err := protocol.MarshalPong(m)
		if err != nil {
			return err
		}
		return conn.Send(ctx, out)

	case *protocol.SessionMessage:
		// The session is fixed once registered; repeat the assignment.
		if tok := m.SessionToken(); tok != "" && tok != conn.Identity.Explicit {
			slog.Debug("late session announcement ignored", "client_id", conn.ClientID, "token", tok)
		}
		session := ""
		if c, ok := gw.clients.Get(conn.ClientID); ok {
			session = c.SessionToken
		}
		out, err := protocol.MarshalEstablished(conn.ClientID, string(conn.Channel), session)
		if err != nil {
			return err
		}
		return conn.Send(ctx, out)

	case *protocol.StatusRequest:
		return gw.reply(ctx, conn, gw.statusMessage(m.ID))

	case *protocol.HealthCheck:
		return gw.reply(ctx, conn, gw.healthMessage(ctx, protocol.TypeHealthState, m.ID))

	case *protocol.CommandResultMessage:
		outcome := "failure"
		if m.OK() {
			outcome = "success"
		}
		RendererReportsTotal.WithLabelValues(outcome).Inc()
		slog.Info("renderer reported command result",
			"client_id", conn.ClientID, "command_id", m.ID(), "outcome", outcome, "message", m.Message, "error", m.Error)
		return nil
	}
	return nil
}

func (gw *Gateway) OnClosed(conn *Conn) {
	if conn.ClientID != "" {
		gw.clients.DisconnectTransport(conn)
	}
	DecConnectedClients(conn.Channel)
}

func (gw *Gateway) reply(ctx context.Context, conn *Conn, msg any) error {
	out, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Send(ctx, out)
}

func (gw *Gateway) replyError(ctx context.Context, conn *Conn, id string, cause error) error {
	out, err := protocol.MarshalError(id, cause)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, out); err != nil {
		return err
	}
	return cause
}

// --- status & health ---

func (gw *Gateway) statusMessage(id string) protocol.StatusMessage {
	counts := make(map[string]int, len(client.Channels))
	total := 0
	for _, ch := range client.Channels {
		n := gw.clients.Count(ch)
		counts[string(ch)] = n
		total += n
	}
	return protocol.StatusMessage{
		Type:        protocol.TypeStatus,
		ID:          id,
		Connections: counts,
		Total:       total,
		Operations:  gw.dispatcher.Operations(),
		Timestamp:   protocol.Timestamp(time.Now()),
	}
}

func (gw *Gateway) healthMessage(ctx context.Context, typ protocol.MessageType, id string) protocol.HealthMessage {
	return protocol.HealthMessage{
		Type:          typ,
		ID:            id,
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(gw.started).Seconds()),
		Direct:        gw.dispatcher.DirectAvailable(ctx),
		Timestamp:     protocol.Timestamp(time.Now()),
	}
}

// --- tick & broadcast ---

func (gw *Gateway) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(gw.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gw.push(ctx, client.ChannelStatus, gw.statusMessage(""))
			gw.push(ctx, client.ChannelHealth, gw.healthMessage(ctx, protocol.TypeHealth, ""))
		}
	}
}

// push is local only; every instance runs its own tick loop.
func (gw *Gateway) push(ctx context.Context, ch client.Channel, msg any) {
	if gw.clients.Count(ch) == 0 {
		return
	}
	out, err := protocol.Marshal(msg)
	if err != nil {
		slog.Error("encode push", "channel", ch, "error", err)
		return
	}
	gw.clients.Broadcast(ctx, out, ch, "")
}
