package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

const routingKeyPrefix = "notification.email."

// publisher is the subset of *amqp.Channel used by AMQPSink.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes delivery events as JSON to a topic exchange with
// routing key notification.email.<kind>.
type AMQPSink struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch publisher
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(uri, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPSink{conn: conn, exchange: exchange, ch: ch}, nil
}

func (s *AMQPSink) Publish(ctx context.Context, ev DeliveryEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Publish(
		s.exchange,
		RoutingKey(ev.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.OccurredAt,
			Body:         body,
		})
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.Close(); err != nil {
		return err
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func RoutingKey(k Kind) string { return routingKeyPrefix + string(k) }

var (
	_ Sink = (*AMQPSink)(nil)
	_ Sink = NopSink{}
)
