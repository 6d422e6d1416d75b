package transport

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"omnichat-platform/internal/apperr"
)

// Envelope is the normalized webhook body posted by chat gateways.
//
// Keep it minimal and adapter-only: routing decisions are not made here.
type Envelope struct {
	Type    string          `json:"type"`
	Message *InboundMessage `json:"message,omitempty"`
	Contact *InboundContact `json:"contact,omitempty"`
}

const (
	EnvelopeMessage = "message"
	EnvelopeContact = "contact"
)

type InboundMessage struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	From      string `json:"from"`
	Name      string `json:"name"`
	Body      string `json:"body"`
	FromMe    bool   `json:"from_me"`
	IsGroup   bool   `json:"is_group"`
	Timestamp int64  `json:"timestamp"`
	// History holds the gateway's recent turns before this message, oldest first.
	History []HistoryTurn `json:"history,omitempty"`
}

type HistoryTurn struct {
	Body   string `json:"body"`
	FromMe bool   `json:"from_me"`
}

// OccurredAt converts the unix timestamp, falling back to now.
func (m InboundMessage) OccurredAt(now time.Time) time.Time {
	if m.Timestamp <= 0 {
		return now.UTC()
	}
	return time.Unix(m.Timestamp, 0).UTC()
}

type InboundContact struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
	Number  string `json:"number"`
	Address string `json:"address"`
	IsGroup bool   `json:"is_group"`
}

// ParseEnvelope decodes and validates a webhook body. channel is the
// connection's channel, used when the gateway omits it.
func ParseEnvelope(r io.Reader, channel string) (Envelope, error) {
	const op = "transport.ParseEnvelope"
	var env Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return Envelope{}, apperr.Validation(op, "invalid json: %v", err)
	}
	env.Type = strings.ToLower(strings.TrimSpace(env.Type))
	switch env.Type {
	case EnvelopeMessage:
		if env.Message == nil {
			return Envelope{}, apperr.Validation(op, "message event without message")
		}
		m := env.Message
		m.From = normalizeAddress(m.From)
		if m.Channel == "" {
			m.Channel = channel
		}
		m.Channel = strings.ToLower(m.Channel)
		if m.From == "" {
			return Envelope{}, apperr.Validation(op, "message sender is required")
		}
	case EnvelopeContact:
		if env.Contact == nil {
			return Envelope{}, apperr.Validation(op, "contact event without contact")
		}
		c := env.Contact
		c.Number = normalizeAddress(c.Number)
		c.Address = normalizeAddress(c.Address)
		if c.Channel == "" {
			c.Channel = channel
		}
		c.Channel = strings.ToLower(c.Channel)
		if c.Number == "" && c.Address == "" {
			return Envelope{}, apperr.Validation(op, "contact address is required")
		}
	default:
		return Envelope{}, apperr.Validation(op, "unsupported event type %q", env.Type)
	}
	return env, nil
}

// normalizeAddress strips whitespace and a leading '+' from phone-like handles.
func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	return strings.TrimPrefix(s, "+")
}
