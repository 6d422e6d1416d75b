// Package events fans realtime notifications out to UI audiences. Delivery is
// fire-and-forget: publishers never block business flows on subscribers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Publisher delivers one event to every audience scope.
type Publisher interface {
	Publish(ctx context.Context, scopes []string, event string, payload any) error
}

// Message is the wire shape of a published event.
type Message struct {
	Scope   string          `json:"scope"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, []string, string, any) error { return nil }

// MemoryPublisher records events in-process. Intended for tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(ctx context.Context, scopes []string, event string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range scopes {
		p.messages = append(p.messages, Message{Scope: s, Event: event, Payload: b, At: now})
	}
	return nil
}

func (p *MemoryPublisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns the distinct event names published, in order.
func (p *MemoryPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	seen := map[string]bool{}
	for _, m := range p.messages {
		key := m.Event + "|" + string(m.Payload)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.Event)
	}
	return out
}

// Scopes returns every scope that received event.
func (p *MemoryPublisher) Scopes(event string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.messages {
		if m.Event == event {
			out = append(out, m.Scope)
		}
	}
	return out
}

// Union merges scope lists keeping first-seen order and dropping blanks.
func Union(lists ...[]string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, l := range lists {
		for _, s := range l {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
