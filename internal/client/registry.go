package client

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNotConnected is returned by SendTo for unknown client ids.
var ErrNotConnected = errors.New("client not connected")

// Transport is the duplex send capability a connection is reached through.
// The registry borrows it; the transport's owner decides when it ends.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Connection is one registered duplex connection.
type Connection struct {
	ClientID     string
	Channel      Channel
	SessionToken string
	ConnectedAt  time.Time
	transport    Transport
	lastActivity atomic.Int64
}

// Transport returns the connection's transport.
func (c *Connection) Transport() Transport { return c.transport }

// LastActivity is the time of the most recent inbound or outbound message.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// Info is a read-only snapshot of a Connection.
type Info struct {
	ClientID     string    `json:"client_id"`
	Channel      Channel   `json:"channel"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (c *Connection) info() Info {
	return Info{
		ClientID:     c.ClientID,
		Channel:      c.Channel,
		ConnectedAt:  c.ConnectedAt,
		LastActivity: c.LastActivity(),
	}
}

// Delivery reports the outcome of a broadcast.
type Delivery struct {
	Delivered int
	Pruned    []string
}

// Options tunes a Registry.
type Options struct {
	// Workers bounds broadcast fan-out concurrency.
	Workers int
	// SendTimeout bounds each individual broadcast send.
	SendTimeout time.Duration
	// SupersedeNotice builds the message sent to a connection that is being
	// replaced. Nil skips the notice.
	SupersedeNotice func(old Info) []byte
	// OnSupersede and OnPrune observe registry housekeeping.
	OnSupersede func(old Info)
	OnPrune     func(pruned Info)
}

// Registry tracks live connections per session and channel.
type Registry struct {
	byClientID map[string]*Connection
	byChannel  map[Channel]map[string]*Connection
	opts       Options
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	r := &Registry{
		byClientID: make(map[string]*Connection),
		byChannel:  make(map[Channel]map[string]*Connection),
		opts:       opts,
	}
	for _, ch := range Channels {
		r.byChannel[ch] = make(map[string]*Connection)
	}
	return r
}

// Connect registers t on ch and returns its client id. A live connection
// with the same session on the same channel is retired: it is removed,
// sent a superseded notice and closed.
func (r *Registry) Connect(ctx context.Context, t Transport, ch Channel, id Identity) string {
	token := id.Token()
	now := time.Now()
	conn := &Connection{
		ClientID:     ClientID(ch, token),
		Channel:      ch,
		SessionToken: token,
		ConnectedAt:  now,
		transport:    t,
	}
	conn.touch()

	r.mu.Lock()
	old := r.byClientID[conn.ClientID]
	if old != nil {
		delete(r.byChannel[old.Channel], old.ClientID)
	}
	r.byClientID[conn.ClientID] = conn
	if r.byChannel[ch] == nil {
		r.byChannel[ch] = make(map[string]*Connection)
	}
	r.byChannel[ch][conn.ClientID] = conn
	r.mu.Unlock()

	if old != nil && old.transport != t {
		r.retire(ctx, old)
	}

	slog.Info("client connected", "client_id", conn.ClientID, "channel", ch)
	return conn.ClientID
}

func (r *Registry) retire(ctx context.Context, old *Connection) {
	info := old.info()
	if r.opts.SupersedeNotice != nil {
		if msg := r.opts.SupersedeNotice(info); msg != nil {
			sendCtx, cancel := context.WithTimeout(ctx, r.opts.SendTimeout)
			if err := old.transport.Send(sendCtx, msg); err != nil {
				slog.Debug("superseded notice not delivered", "client_id", old.ClientID, "error", err)
			}
			cancel()
		}
	}
	if err := old.transport.Close(); err != nil {
		slog.Debug("close superseded transport", "client_id", old.ClientID, "error", err)
	}
	slog.Info("client superseded", "client_id", old.ClientID, "channel", old.Channel)
	if r.opts.OnSupersede != nil {
		r.opts.OnSupersede(info)
	}
}

// Disconnect removes a client. Unknown ids are ignored.
func (r *Registry) Disconnect(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byClientID[clientID]
	if !ok {
		return false
	}
	r.removeLocked(conn)
	return true
}

// DisconnectTransport removes whichever connection is registered with t.
// A transport that was already superseded never removes its replacement.
func (r *Registry) DisconnectTransport(t Transport) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.byClientID {
		if conn.transport == t {
			r.removeLocked(conn)
			return id, true
		}
	}
	return "", false
}

func (r *Registry) removeLocked(conn *Connection) {
	if cur, ok := r.byClientID[conn.ClientID]; ok && cur == conn {
		delete(r.byClientID, conn.ClientID)
	}
	if chans, ok := r.byChannel[conn.Channel]; ok {
		if cur, ok := chans[conn.ClientID]; ok && cur == conn {
			delete(chans, conn.ClientID)
		}
	}
}

// Get retrieves a connection by client id.
func (r *Registry) Get(clientID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byClientID[clientID]
	return c, ok
}

// Touch records inbound activity on a client.
func (r *Registry) Touch(clientID string) {
	if c, ok := r.Get(clientID); ok {
		c.touch()
	}
}

// SendTo delivers msg to one client. A failed send does not remove it.
func (r *Registry) SendTo(ctx context.Context, clientID string, msg []byte) error {
	conn, ok := r.Get(clientID)
	if !ok {
		return ErrNotConnected
	}
	if err := conn.transport.Send(ctx, msg); err != nil {
		return err
	}
	conn.touch()
	return nil
}

// Broadcast sends msg to every connection on ch (all channels when ch is
// empty) except exclude. Connections whose send fails are pruned after the
// sweep. Cancelling ctx does not abort sends already started; each send is
// bounded by SendTimeout only.
func (r *Registry) Broadcast(ctx context.Context, msg []byte, ch Channel, exclude string) Delivery {
	targets := r.snapshot(ch)
	if exclude != "" {
		kept := targets[:0]
		for _, c := range targets {
			if c.ClientID != exclude {
				kept = append(kept, c)
			}
		}
		targets = kept
	}
	if len(targets) == 0 {
		return Delivery{}
	}

	failed := make([]bool, len(targets))
	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, conn := range targets {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(base, r.opts.SendTimeout)
			defer cancel()
			if err := conn.transport.Send(sendCtx, msg); err != nil {
				slog.Debug("broadcast send failed", "client_id", conn.ClientID, "error", err)
				failed[i] = true
				return nil
			}
			conn.touch()
			return nil
		})
	}
	_ = g.Wait()

	var d Delivery
	for i, conn := range targets {
		if !failed[i] {
			d.Delivered++
			continue
		}
		r.mu.Lock()
		r.removeLocked(conn)
		r.mu.Unlock()
		_ = conn.transport.Close()
		d.Pruned = append(d.Pruned, conn.ClientID)
		if r.opts.OnPrune != nil {
			r.opts.OnPrune(conn.info())
		}
	}
	if len(d.Pruned) > 0 {
		slog.Info("pruned dead clients", "channel", ch, "count", len(d.Pruned))
	}
	return d
}

func (r *Registry) snapshot(ch Channel) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var src map[string]*Connection
	if ch == "" {
		src = r.byClientID
	} else {
		src = r.byChannel[ch]
	}
	out := make([]*Connection, 0, len(src))
	for _, c := range src {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Count returns the number of connections on ch, or all when ch is empty.
func (r *Registry) Count(ch Channel) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ch == "" {
		return len(r.byClientID)
	}
	return len(r.byChannel[ch])
}

// ClientIDs returns the sorted client ids on ch, or all when ch is empty.
func (r *Registry) ClientIDs(ch Channel) []string {
	conns := r.snapshot(ch)
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.ClientID
	}
	return out
}

// Snapshot returns diagnostics for the connections on ch.
func (r *Registry) Snapshot(ch Channel) []Info {
	conns := r.snapshot(ch)
	out := make([]Info, len(conns))
	for i, c := range conns {
		out[i] = c.info()
	}
	return out
}
