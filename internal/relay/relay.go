package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rvald/twinctl/internal/client"
)

// DefaultSubject is the bus subject broadcasts are relayed on.
const DefaultSubject = "twinctl.broadcast"

// Local is the instance's own broadcaster, usually a *client.Registry.
type Local interface {
	Broadcast(ctx context.Context, msg []byte, ch client.Channel, exclude string) client.Delivery
}

// Envelope is the relayed form of a broadcast.
type Envelope struct {
	Instance string          `json:"instance"`
	Channel  client.Channel  `json:"channel"`
	Exclude  string          `json:"exclude,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

type Options struct {
	Subject string
	// Instance identifies this gateway on the bus. Defaults to a random uuid.
	Instance string
}

// Relay broadcasts locally and mirrors every broadcast onto the bus.
// Broadcasts received from other instances are delivered locally.
type Relay struct {
	local    Local
	bus      Bus
	subject  string
	instance string
	mu       sync.Mutex
	sub      Subscription
}

func New(local Local, bus Bus, opts Options) *Relay {
	if opts.Subject == "" {
		opts.Subject = DefaultSubject
	}
	if opts.Instance == "" {
		opts.Instance = uuid.NewString()
	}
	return &Relay{
		local:    local,
		bus:      bus,
		subject:  opts.Subject,
		instance: opts.Instance,
	}
}

// Instance returns the id this relay stamps on outgoing envelopes.
func (r *Relay) Instance() string { return r.instance }

// Broadcast delivers msg to local clients and publishes it for the other
// instances. The returned Delivery counts local recipients only.
func (r *Relay) Broadcast(ctx context.Context, msg []byte, ch client.Channel, exclude string) client.Delivery {
	d := r.local.Broadcast(ctx, msg, ch, exclude)
	if err := r.publish(ctx, msg, ch, exclude); err != nil {
		slog.Warn("relay publish failed", "channel", ch, "error", err)
	}
	return d
}

func (r *Relay) publish(ctx context.Context, msg []byte, ch client.Channel, exclude string) error {
	data, err := json.Marshal(Envelope{
		Instance: r.instance,
		Channel:  ch,
		Exclude:  exclude,
		Payload:  msg,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.bus.Publish(ctx, r.subject, data)
}

// Start subscribes to the relay subject. It is a no-op when already started.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}
	sub, err := r.bus.Subscribe(ctx, r.subject, func(data []byte) { r.receive(ctx, data) })
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.sub = sub
	slog.Info("relay started", "subject", r.subject, "instance", r.instance)
	return nil
}

func (r *Relay) receive(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("relay envelope dropped", "error", err)
		return
	}
	if env.Instance == r.instance {
		return
	}
	d := r.local.Broadcast(ctx, env.Payload, env.Channel, env.Exclude)
	slog.Debug("relayed broadcast delivered", "from", env.Instance, "channel", env.Channel, "delivered", d.Delivered)
}

// Stop unsubscribes. The bus itself is left open.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}
