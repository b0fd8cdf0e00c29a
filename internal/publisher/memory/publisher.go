// Package memory provides the in-process event publisher used by tests and
// runs without a Pub/Sub project configured.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher records stage lifecycle events in memory instead of sending them
// anywhere. Recorded events are inspectable through Messages.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one published stage event.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns an empty in-memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded events in publish order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
