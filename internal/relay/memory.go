package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-process Bus. Instances that share one MemoryBus behave
// like gateways sharing a NATS server.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySubscription
	closed atomic.Bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySubscription)}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	msg := make([]byte, len(data))
	copy(msg, data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[subject] {
		if sub.closed.Load() {
			continue
		}
		// Non-blocking send; a full buffer drops the message.
		select {
		case sub.messages <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler func([]byte)) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySubscription{
		subject:  subject,
		messages: make(chan []byte, 256),
		done:     make(chan struct{}),
		handler:  handler,
		bus:      b,
	}
	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string][]*memorySubscription)
	b.mu.Unlock()
	for _, list := range subs {
		for _, s := range list {
			s.stop()
		}
	}
	return nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.subject]
	for i, s := range list {
		if s == sub {
			b.subs[sub.subject] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

type memorySubscription struct {
	subject  string
	messages chan []byte
	done     chan struct{}
	handler  func([]byte)
	bus      *MemoryBus
	closed   atomic.Bool
}

func (s *memorySubscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.messages:
			s.handler(msg)
		}
	}
}

func (s *memorySubscription) stop() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.stop()
	return nil
}
