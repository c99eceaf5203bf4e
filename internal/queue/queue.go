package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrClosed = errors.New("rabbitmq client closed")

// Client holds one connection and one channel for topology, publishing and
// consuming.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	// amqp channels are not safe for concurrent publishes.
	pubMu sync.Mutex
}

func New(url string) (*Client, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "pharmacy-fulfillment"},
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

func (c *Client) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) Closed() bool {
	return c.conn == nil || c.conn.IsClosed()
}

func (c *Client) EnsureExchange(name string) error {
	return c.EnsureExchangeKind(name, amqp.ExchangeTopic)
}

func (c *Client) EnsureExchangeKind(name string, kind string) error {
	if kind == "" {
		kind = amqp.ExchangeTopic
	}
	return c.ch.ExchangeDeclare(name, kind, true, false, false, false, nil)
}

func (c *Client) EnsureQueue(name string) (amqp.Queue, error) {
	return c.EnsureQueueWithArgs(name, nil)
}

func (c *Client) EnsureQueueWithArgs(name string, args amqp.Table) (amqp.Queue, error) {
	return c.ch.QueueDeclare(name, true, false, false, false, args)
}

func (c *Client) BindQueue(queueName, exchange, routingKey string) error {
	return c.ch.QueueBind(queueName, routingKey, exchange, false, nil)
}

// Message is an outbound JSON body. ID and Type land in the AMQP properties
// so consumers can dedupe and route without decoding the body.
type Message struct {
	ID      string
	Type    string
	Payload any
}

func (c *Client) PublishMessage(ctx context.Context, exchange, routingKey string, m Message) error {
	body, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}
	return c.publish(ctx, exchange, routingKey, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Type:         m.Type,
		AppId:        "pharmacy-fulfillment",
		Body:         body,
		Timestamp:    time.Now().UTC(),
	})
}

func (c *Client) PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error {
	return c.PublishMessage(ctx, exchange, routingKey, Message{Payload: payload})
}

func (c *Client) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	if c.Closed() {
		return ErrClosed
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}
