package queue

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type HandlerFunc func(ctx context.Context, body []byte) error

const retryHeader = "x-retry-count"

// ConsumeWithRetry runs handler for each delivery on queue. A failed message
// is republished with an incremented x-retry-count after retryDelay; past
// maxRetries it is rejected so the queue's dead-letter exchange takes it.
// It returns nil when ctx ends.
func (c *Client) ConsumeWithRetry(ctx context.Context, queue string, handler HandlerFunc, maxRetries int, retryDelay time.Duration) error {
	if err := c.ch.Qos(16, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		var msg amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case msg, ok = <-msgs:
			if !ok {
				return errors.New("consumer closed")
			}
		}

		if err := handler(ctx, msg.Body); err == nil {
			_ = msg.Ack(false)
			continue
		}

		attempt := retryCount(msg.Headers)
		if attempt >= maxRetries {
			_ = msg.Nack(false, false)
			continue
		}

		select {
		case <-ctx.Done():
			_ = msg.Nack(false, true)
			return nil
		case <-time.After(retryDelay):
		}
		if err := c.publish(ctx, "", queue, retryPublishing(msg, attempt+1)); err != nil {
			_ = msg.Nack(false, true)
			continue
		}
		_ = msg.Ack(false)
	}
}

func retryPublishing(msg amqp.Delivery, attempt int) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryHeader] = int32(attempt)
	return amqp.Publishing{
		ContentType:  msg.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageId,
		Type:         msg.Type,
		Body:         msg.Body,
		Headers:      headers,
		Timestamp:    time.Now().UTC(),
	}
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch t := headers[retryHeader].(type) {
	case int32:
		return int(t)
	case int64:
		return int(t)
	case int:
		return t
	}
	return 0
}
