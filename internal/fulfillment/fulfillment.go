package fulfillment

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Fulfillment is the handoff opened when an order becomes ready. It is either
// a PickupFulfillment or a DeliveryFulfillment.
type Fulfillment interface {
	Method() DeliveryMethod
	OrderID() string
	QueueEntryID() string
	// settle closes the variant's own record as part of completion.
	settle(ctx context.Context, q Queries, at time.Time) error
}

type PickupFulfillment struct {
	Record PickupRecord
}

func (f PickupFulfillment) Method() DeliveryMethod { return MethodPickup }
func (f PickupFulfillment) OrderID() string        { return f.Record.OrderID }
func (f PickupFulfillment) QueueEntryID() string   { return f.Record.QueueEntryID }

func (f PickupFulfillment) settle(ctx context.Context, q Queries, at time.Time) error {
	ok, err := q.MarkPickupPaid(ctx, f.Record.ID, at)
	if err != nil {
		return err
	}
	if !ok {
		return AlreadyPaid()
	}
	return nil
}

// DeliveryFulfillment carries the plaintext confirmation code only on the
// value returned when the record is created.
type DeliveryFulfillment struct {
	Record           DeliveryRecord
	ConfirmationCode string
}

func (f DeliveryFulfillment) Method() DeliveryMethod { return MethodCourier }
func (f DeliveryFulfillment) OrderID() string        { return f.Record.OrderID }
func (f DeliveryFulfillment) QueueEntryID() string   { return f.Record.QueueEntryID }

func (f DeliveryFulfillment) settle(ctx context.Context, q Queries, at time.Time) error {
	ok, err := q.MarkDelivered(ctx, f.Record.ID, at)
	if err != nil {
		return err
	}
	if !ok {
		return AlreadyRedeemed()
	}
	return nil
}

// Settlement is the external payment confirmation recorded at completion.
type Settlement struct {
	Method    string
	Reference string
	Actor     string
}

// completer is the shared completion path for every fulfillment variant.
type completer struct {
	*core
	ledger     *Ledger
	dispatcher *Dispatcher
}

// complete settles the fulfillment, completes the order, deducts every line
// through the ledger, records the payment and closes the queue entry. The
// caller runs it inside one transaction.
func (c *completer) complete(ctx context.Context, q Queries, batch *eventBatch, f Fulfillment, s Settlement) (Payment, error) {
	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
	if s.Method == "" {
		return Payment{}, ValidationError("Payment method is required")
	}

	order, err := q.LockOrder(ctx, f.OrderID())
	if err != nil {
		return Payment{}, lookupErr(err, "Order")
	}
	if err := f.settle(ctx, q, batch.now); err != nil {
		return Payment{}, err
	}
	if order.Status != OrderReady {
		return Payment{}, NotReady()
	}
	ok, err := q.TransitionOrder(ctx, order.ID, []OrderStatus{OrderReady}, OrderCompleted, batch.now)
	if err != nil {
		return Payment{}, err
	}
	if !ok {
		return Payment{}, NotReady()
	}

	lines, err := q.ListLines(ctx, order.ID)
	if err != nil {
		return Payment{}, err
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].LotID < lines[j].LotID })
	for _, line := range lines {
		_, err := c.ledger.deduct(ctx, q, batch, StockChange{
			LotID:    line.LotID,
			Quantity: line.Quantity,
			Reason:   ReasonSale,
			Actor:    s.Actor,
			OrderID:  strPtr(order.ID),
		})
		if err != nil {
			return Payment{}, err
		}
	}

	payment := Payment{
		ID:        newID(),
		OrderID:   order.ID,
		Method:    s.Method,
		Reference: strings.TrimSpace(s.Reference),
		Amount:    order.Total,
		Currency:  order.Currency,
		PaidBy:    s.Actor,
		PaidAt:    batch.now,
	}
	if err := q.InsertPayment(ctx, payment); err != nil {
		return Payment{}, err
	}
	if err := c.dispatcher.complete(ctx, q, f.QueueEntryID(), batch.now); err != nil {
		return Payment{}, err
	}

	batch.add(EventOrderCompleted, order.ProviderID, order.ID, order.PatientID, map[string]any{
		"deliveryMethod": f.Method(),
		"total":          order.Total,
		"currency":       order.Currency,
		"paymentId":      payment.ID,
	})
	return payment, nil
}
