package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrProducerFull = errors.New("kafka producer buffer full")

// Envelope is the wire shape of every fulfillment event on the topic.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w       writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	logger  *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, logger *zap.Logger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, logger)
}

func newProducer(w writer, buf int, logger *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
}

// Start drains the inbox until ctx ends, then flushes what is left.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-p.inbox:
						p.write(m)
					default:
						if err := p.w.Close(); err != nil {
							p.logger.Warn("kafka writer close failed", zap.Error(err))
						}
						return
					}
				}
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Warn("kafka publish failed", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) error {
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	default:
		return ErrProducerFull
	}
}

// Notify publishes evt keyed by order so a single order's events stay ordered
// within one partition.
func (p *Producer) Notify(_ context.Context, evt fulfillment.Event) error {
	evt = evt.Redacted()
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Envelope{
		EventID:    evt.ID,
		EventType:  string(evt.Kind),
		OccurredAt: evt.OccurredAt,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	key := evt.OrderID
	if key == "" {
		key = evt.ProviderID
	}
	return p.Publish([]byte(key), body, kafka.Header{Key: "x-event-type", Value: []byte(evt.Kind)})
}

// WaitClosed blocks until the drain goroutine has flushed and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
