package fulfillment_test

import (
	"fmt"
	"sync"
	"testing"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/stretchr/testify/require"
)

func (s *recordingSink) last(kind fulfillment.EventKind) (fulfillment.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == kind {
			return s.events[i], true
		}
	}
	return fulfillment.Event{}, false
}

// inTransit readies a courier order for patient and hands it to a courier.
func (f *fixture) inTransit(patient string) (fulfillment.DeliveryFulfillment, fulfillment.Actor, fulfillment.Lot) {
	f.t.Helper()
	lot := f.receiveLot("insulin-"+patient, 4, 2000)
	cart := f.placeOrder(patient, fulfillment.MethodCourier, cartLine{lot: lot, quantity: 1})
	_, handoff := f.readyOrder(cart.Order.ID)
	delivery, ok := handoff.(fulfillment.DeliveryFulfillment)
	require.True(f.t, ok)

	courier := fulfillment.Actor{ID: "courier-" + patient}
	_, err := f.svc.Deliveries.AssignCourier(f.ctx, f.staff, delivery.Record.ID, courier.ID)
	require.NoError(f.t, err)
	_, err = f.svc.Deliveries.MarkInTransit(f.ctx, courier, delivery.Record.ID)
	require.NoError(f.t, err)
	return delivery, courier, lot
}

func requireAttemptsLeft(t *testing.T, err error, left int) {
	t.Helper()
	requireCode(t, err, fulfillment.ErrCodeMismatch)
	var fe *fulfillment.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, left, fe.Details["attemptsLeft"])
}

func TestReissueDeliveryCode(t *testing.T) {
	f := newFixture(t)
	delivery, courier, lot := f.inTransit("patient-1")

	_, err := f.svc.Deliveries.ReissueCode(f.ctx, "patient-2", delivery.Record.OrderID)
	requireCode(t, err, fulfillment.ErrNotFound)

	f.sink.reset()
	issued, err := f.svc.Deliveries.ReissueCode(f.ctx, "patient-1", delivery.Record.OrderID)
	require.NoError(t, err)
	require.Equal(t, delivery.Record.ID, issued.DeliveryID)
	require.Equal(t, delivery.Record.TrackingNumber, issued.TrackingNumber)
	require.Len(t, issued.ConfirmationCode, 6)
	require.NotEqual(t, delivery.ConfirmationCode, issued.ConfirmationCode)

	evt, ok := f.sink.last(fulfillment.EventDeliveryCodeIssued)
	require.True(t, ok)
	require.Equal(t, "patient-1", evt.Recipient)
	require.Equal(t, issued.ConfirmationCode, evt.Payload["confirmationCode"])
	require.NotContains(t, evt.Redacted().Payload, "confirmationCode")

	_, err = f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, delivery.ConfirmationCode, fulfillment.Settlement{})
	requireAttemptsLeft(t, err, 4)

	_, err = f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, issued.ConfirmationCode, fulfillment.Settlement{})
	require.NoError(t, err)
	require.Equal(t, int64(3), f.lot(lot.ID).Quantity)

	_, err = f.svc.Deliveries.ReissueCode(f.ctx, "patient-1", delivery.Record.OrderID)
	requireCode(t, err, fulfillment.ErrInvalidState)
}

func TestReissueRequiresCourierOrder(t *testing.T) {
	f := newFixture(t)
	lot := f.receiveLot("cetirizine-10", 5, 1500)
	cart := f.placeOrder("patient-1", fulfillment.MethodPickup, cartLine{lot: lot, quantity: 1})
	f.readyOrder(cart.Order.ID)

	_, err := f.svc.Deliveries.ReissueCode(f.ctx, "patient-1", cart.Order.ID)
	requireCode(t, err, fulfillment.ErrNotFound)
	_, err = f.svc.Deliveries.ReissueCode(f.ctx, "patient-1", "missing-order")
	requireCode(t, err, fulfillment.ErrNotFound)
}

func TestConfirmationLocksAfterRepeatedMisses(t *testing.T) {
	f := newFixture(t)
	delivery, courier, lot := f.inTransit("patient-1")

	for left := 4; left >= 0; left-- {
		_, err := f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, "000000x", fulfillment.Settlement{})
		requireAttemptsLeft(t, err, left)
	}

	_, err := f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, delivery.ConfirmationCode, fulfillment.Settlement{})
	requireCode(t, err, fulfillment.ErrConfirmationLocked)

	detail := f.order(delivery.Record.OrderID)
	require.Equal(t, fulfillment.OrderReady, detail.Order.Status)
	require.Equal(t, fulfillment.DeliveryInTransit, detail.Delivery.Status)
	require.Equal(t, 5, detail.Delivery.FailedAttempts)
	require.Empty(t, detail.Payments)
	require.Equal(t, int64(4), f.lot(lot.ID).Quantity)

	issued, err := f.svc.Deliveries.ReissueCode(f.ctx, "patient-1", delivery.Record.OrderID)
	require.NoError(t, err)
	require.Zero(t, f.order(delivery.Record.OrderID).Delivery.FailedAttempts)

	payment, err := f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, issued.ConfirmationCode, fulfillment.Settlement{})
	require.NoError(t, err)
	require.Equal(t, int64(2300), payment.Amount)
}

func TestDeliveredParcelStillChecksCode(t *testing.T) {
	f := newFixture(t)
	delivery, courier, _ := f.inTransit("patient-1")

	_, err := f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, delivery.ConfirmationCode, fulfillment.Settlement{})
	require.NoError(t, err)

	tests := []struct {
		name string
		code string
		want fulfillment.ErrorCode
	}{
		{name: "right code", code: delivery.ConfirmationCode, want: fulfillment.ErrAlreadyRedeemed},
		{name: "wrong code", code: "999999x", want: fulfillment.ErrCodeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, tt.code, fulfillment.Settlement{})
			requireCode(t, err, tt.want)
		})
	}
	require.Len(t, f.order(delivery.Record.OrderID).Payments, 1)
}

func TestDeliveryCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	delivery, courier, lot := f.inTransit("patient-1")

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Deliveries.Confirm(f.ctx, courier, delivery.Record.ID, delivery.ConfirmationCode, fulfillment.Settlement{})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		requireCode(t, err, fulfillment.ErrAlreadyRedeemed)
	}
	require.Equal(t, 1, winners)
	require.Len(t, f.order(delivery.Record.OrderID).Payments, 1)
	require.Equal(t, int64(3), f.lot(lot.ID).Quantity)
}

func TestPickupCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	lot := f.receiveLot("paracetamol-500", 20, 1000)
	cart := f.placeOrder("patient-1", fulfillment.MethodPickup, cartLine{lot: lot, quantity: 2})
	_, handoff := f.readyOrder(cart.Order.ID)
	pickup, ok := handoff.(fulfillment.PickupFulfillment)
	require.True(t, ok)

	type seat struct {
		staff   fulfillment.Actor
		counter fulfillment.Counter
	}
	seats := []seat{{staff: f.staff, counter: f.counter}}
	for i := 2; i <= 6; i++ {
		staff := fulfillment.Actor{ID: fmt.Sprintf("staff-%d", i), ProviderID: f.provider.ID}
		seats = append(seats, seat{staff: staff, counter: f.seatStaff(staff, fmt.Sprintf("Counter %d", i))})
	}

	errs := make([]error, len(seats))
	var wg sync.WaitGroup
	for i, s := range seats {
		wg.Add(1)
		go func(i int, s seat) {
			defer wg.Done()
			token := pickup.Record.QRToken
			if i%2 == 1 {
				token = pickup.Record.VerificationCode
			}
			_, errs[i] = f.svc.Pickups.Redeem(f.ctx, s.staff, token, s.counter.ID)
		}(i, s)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		requireCode(t, err, fulfillment.ErrAlreadyRedeemed)
	}
	require.Equal(t, 1, winners)
}
