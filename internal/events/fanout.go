package events

import (
	"context"
	"errors"

	"pharmacy-order-services/internal/fulfillment"

	"go.uber.org/zap"
)

// Fanout hands each event to every notifier; one failing notifier does not
// stop the others.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, evt fulfillment.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes a structured line per event.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, evt fulfillment.Event) error {
	l.Logger.Info("fulfillment event",
		zap.String("kind", string(evt.Kind)),
		zap.String("eventId", evt.ID),
		zap.String("providerId", evt.ProviderID),
		zap.String("orderId", evt.OrderID),
		zap.String("recipient", evt.Recipient),
		zap.Time("occurredAt", evt.OccurredAt),
	)
	return nil
}
