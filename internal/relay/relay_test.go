package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rvald/twinctl/internal/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	msg     string
	channel client.Channel
	exclude string
}

type recordingLocal struct {
	mu    sync.Mutex
	seen  []delivered
	count int
}

func (l *recordingLocal) Broadcast(ctx context.Context, msg []byte, ch client.Channel, exclude string) client.Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, delivered{string(msg), ch, exclude})
	return client.Delivery{Delivered: l.count}
}

func (l *recordingLocal) received() []delivered {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]delivered(nil), l.seen...)
}

func TestRelay_ForwardsBetweenInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	defer bus.Close()

	localA := &recordingLocal{count: 2}
	localB := &recordingLocal{}
	a := New(localA, bus, Options{Instance: "a"})
	b := New(localB, bus, Options{Instance: "b"})
	require.NoError(t, a.Start(ctx))
	require.NoError(t, b.Start(ctx))

	d := a.Broadcast(ctx, []byte(`{"type":"mcp.command"}`), client.ChannelCommand, "mcp_x")
	assert.Equal(t, 2, d.Delivered, "delivery counts local recipients")

	require.Eventually(t, func() bool { return len(localB.received()) == 1 }, time.Second, 10*time.Millisecond)
	got := localB.received()[0]
	assert.Equal(t, `{"type":"mcp.command"}`, got.msg)
	assert.Equal(t, client.ChannelCommand, got.channel)
	assert.Equal(t, "mcp_x", got.exclude)

	// The sender never receives its own envelope a second time.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, localA.received(), 1)
}

func TestRelay_StopAndRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	local := &recordingLocal{}
	r := New(local, bus, Options{})
	assert.NotEmpty(t, r.Instance())

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())

	other := New(&recordingLocal{}, bus, Options{})
	other.Broadcast(ctx, []byte(`{}`), client.ChannelStatus, "")
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, local.received())
}

func TestRelay_DropsGarbage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryBus()
	local := &recordingLocal{}
	r := New(local, bus, Options{Subject: "test.subject"})
	require.NoError(t, r.Start(ctx))

	require.NoError(t, bus.Publish(ctx, "test.subject", []byte("not json")))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, local.received())
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), "x", nil), ErrClosed)
	_, err := bus.Subscribe(context.Background(), "x", func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRelay_PublishFailureKeepsLocalDelivery(t *testing.T) {
	bus := NewMemoryBus()
	bus.Close()
	local := &recordingLocal{count: 1}
	r := New(local, bus, Options{})
	d := r.Broadcast(context.Background(), []byte(`{}`), client.ChannelCommand, "")
	assert.Equal(t, 1, d.Delivered)
}
