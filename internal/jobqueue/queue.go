// Package jobqueue is a durable delayed job queue with per-topic consumers.
// Delivery is at-least-once: handlers must tolerate replays.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Job is one unit of work. Ref is the caller's domain id (scheduled item,
// shipping row) and is what in-flight checks compare against.
type Job struct {
	ID       string          `json:"id"`
	Topic    string          `json:"topic"`
	Ref      string          `json:"ref,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Attempts int             `json:"attempts"`
	RunAt    time.Time       `json:"run_at"`
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(j.Payload, v)
}

type Options struct {
	Delay time.Duration
	Ref   string
}

type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Enqueue(ctx context.Context, topic string, payload any, opts Options) (string, error)
	// ListInFlight returns delayed, waiting and active jobs of topic.
	ListInFlight(ctx context.Context, topic string) ([]Job, error)
	// Process consumes topic until ctx is cancelled.
	Process(ctx context.Context, topic string, h Handler) error
}

var (
	ErrTopicRequired = errors.New("jobqueue: topic is required")
	ErrEmptyPayload  = errors.New("jobqueue: job has no payload")
)

// Refs collects the Ref of every job.
func Refs(jobs []Job) map[string]struct{} {
	out := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.Ref != "" {
			out[j.Ref] = struct{}{}
		}
	}
	return out
}

// Backoff returns the retry delay after the given number of failed attempts.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	const ceiling = 5 * time.Minute
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}
