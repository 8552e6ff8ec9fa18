// Package eventbus is a minimal in-memory pub/sub bus. The alert manager
// publishes notifications on it and the enabled channels subscribe; nothing
// here is durable.
package eventbus

import (
	"context"
	"sync"
)

// Topics used by the monitoring subsystem.
const (
	TopicAlertCreated     = "alert.created"
	TopicCorrelationFired = "correlation.fired"
	TopicScanCompleted    = "scan.completed"
)

// Message is a single cross-component notification.
type Message struct {
	Topic   string
	Source  string
	Payload any
}

// Publisher publishes messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscriber receives messages for the topics it names.
type Subscriber interface {
	Handle(ctx context.Context, msg Message)
	Topics() []string
}

// Bus fans messages out to registered subscribers via a single dispatch
// goroutine.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string][]Subscriber
	queue chan Message
	stop  chan struct{}
	wg    sync.WaitGroup
}

// NewBus constructs a Bus with the given queue depth.
func NewBus(buffer int) *Bus {
	b := &Bus{
		subs:  make(map[string][]Subscriber),
		queue: make(chan Message, buffer),
		stop:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	for {
		select {
		case msg := <-b.queue:
			b.dispatch(msg)
		case <-b.stop:
			return
		}
	}
}

// Close stops dispatching and waits for in-flight handlers.
func (b *Bus) Close() {
	close(b.stop)
	b.wg.Wait()
}

// Register adds a subscriber for all of its topics.
func (b *Bus) Register(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range sub.Topics() {
		b.subs[t] = append(b.subs[t], sub)
	}
}

// Publish enqueues a message; it blocks only when the queue is full.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	select {
	case b.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[msg.Topic]...)
	b.mu.RUnlock()
	for _, s := range subs {
		b.wg.Add(1)
		go func(s Subscriber) {
			defer b.wg.Done()
			s.Handle(context.Background(), msg)
		}(s)
	}
}
