package events

import (
	"context"
	"sync/atomic"

	"pharmacy-order-services/internal/fulfillment"

	"go.uber.org/zap"
)

// Notifier delivers one event to a downstream channel.
type Notifier interface {
	Notify(ctx context.Context, evt fulfillment.Event) error
}

type NotifierFunc func(ctx context.Context, evt fulfillment.Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt fulfillment.Event) error {
	return f(ctx, evt)
}

// Outbox buffers committed events for asynchronous delivery. Emit never
// blocks; when the buffer is full the event is dropped with a warning.
type Outbox struct {
	ch       chan fulfillment.Event
	notifier Notifier
	logger   *zap.Logger
	dropped  atomic.Int64
}

var _ fulfillment.EventSink = (*Outbox)(nil)

func NewOutbox(size int, notifier Notifier, logger *zap.Logger) *Outbox {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		ch:       make(chan fulfillment.Event, size),
		notifier: notifier,
		logger:   logger,
	}
}

func (o *Outbox) Emit(_ context.Context, evt fulfillment.Event) {
	select {
	case o.ch <- evt:
	default:
		o.dropped.Add(1)
		o.logger.Warn("event outbox full; dropping event",
			zap.String("kind", string(evt.Kind)),
			zap.String("eventId", evt.ID),
			zap.String("orderId", evt.OrderID),
		)
	}
}

func (o *Outbox) Dropped() int64 {
	return o.dropped.Load()
}

// Run delivers buffered events until ctx is cancelled, then drains what is
// already queued.
func (o *Outbox) Run(ctx context.Context) {
	for {
		select {
		case evt := <-o.ch:
			o.deliver(context.WithoutCancel(ctx), evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-o.ch:
					o.deliver(context.WithoutCancel(ctx), evt)
				default:
					return
				}
			}
		}
	}
}

func (o *Outbox) deliver(ctx context.Context, evt fulfillment.Event) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, evt); err != nil {
		o.logger.Warn("event delivery failed",
			zap.String("kind", string(evt.Kind)),
			zap.String("eventId", evt.ID),
			zap.Error(err),
		)
	}
}
