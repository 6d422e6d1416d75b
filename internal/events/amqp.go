package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes each event once per scope to a durable topic
// exchange, using the scope as routing key. Subscribers bind their own queues.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
}

func NewAMQPPublisher(url, exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	if url == "" {
		return nil, errors.New("events: rabbitmq url is required")
	}
	if exchange == "" {
		return nil, errors.New("events: exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, scopes []string, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, scope := range scopes {
		body, err := json.Marshal(Message{Scope: scope, Event: event, Payload: raw, At: now})
		if err != nil {
			return err
		}
		err = p.ch.PublishWithContext(ctx,
			p.exchange,
			scope, // routing key
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Type:        event,
				Timestamp:   now,
				Body:        body,
			},
		)
		if err != nil {
			p.log.Warn("event publish failed", "scope", scope, "event", event, "err", err)
			errs = append(errs, err)
			continue
		}
		p.log.Debug("event published", "scope", scope, "event", event)
	}
	return errors.Join(errs...)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.ch.Close(), p.conn.Close())
}
