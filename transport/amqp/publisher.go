// Package amqp publishes run events to RabbitMQ so that other services can
// follow conversations without holding a WebSocket connection.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shapeshift/agentic-chat/core"
)

// DefaultExchange is the topic exchange events are published to.
const DefaultExchange = "agentic-chat.events"

// Config describes the broker connection.
type Config struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	// Durable declares the exchange durable.
	Durable bool `yaml:"durable"`
}

// Publisher publishes every event as JSON with routing key
// thread.<threadID>.<eventType>. It implements runner.Sink.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// Exchange returns the exchange name.
func (p *Publisher) Exchange() string { return p.exchange }

// Publish sends ev to the exchange.
func (p *Publisher) Publish(ctx context.Context, ev core.Event) error {
	if p == nil || p.ch == nil {
		return errors.New("amqp publisher is not initialised")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	// Channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(ev), false, false, amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     ev.ID,
		CorrelationId: ev.RunID,
		Timestamp:     ev.Timestamp,
		Type:          string(ev.Type),
		Body:          body,
	})
}

// RoutingKey returns thread.<threadID>.<eventType>. Dots in the thread id
// are replaced so the key keeps three words.
func RoutingKey(ev core.Event) string {
	threadID := ev.ThreadID
	if threadID == "" {
		threadID = "unknown"
	}
	threadID = strings.ReplaceAll(threadID, ".", "_")
	return "thread." + threadID + "." + string(ev.Type)
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
