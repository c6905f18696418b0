// Package events is the in-process publish/subscribe point connecting the
// trade-execution side to the replication engine.
package events

import "sync"

// Handler consumes one published payload.
type Handler func(payload any)

// Bus routes published payloads to the handlers registered on a topic.
// Publish invokes handlers synchronously in registration order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[string][]subscription
}

type subscription struct {
	id      int
	handler Handler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
	}
}

// Register subscribes handler to topic and returns the subscription id
// used to unregister it.
func (b *Bus) Register(topic string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.topics[topic] = append(b.topics[topic], subscription{id: b.nextID, handler: handler})

	return b.nextID
}

// Unregister removes the subscription with the given id from topic.
// Unknown ids are ignored, so teardown callbacks can run more than once.
func (b *Bus) Unregister(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers payload to every handler registered on topic.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := make([]subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(payload)
	}
}
