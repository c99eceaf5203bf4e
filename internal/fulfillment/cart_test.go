package fulfillment_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/stretchr/testify/require"
)

func requireTotals(t *testing.T, cart fulfillment.Cart) {
	t.Helper()
	var subtotal int64
	for _, line := range cart.Lines {
		require.Equal(t, line.UnitPrice*line.Quantity, line.LineTotal)
		subtotal += line.LineTotal
	}
	require.Equal(t, subtotal, cart.Order.Subtotal)
	require.Equal(t, subtotal+cart.Order.DeliveryFee, cart.Order.Total)
}

func TestCartTotalsFollowEveryChange(t *testing.T) {
	f := newFixture(t)
	first := f.receiveLot("azithromycin", 10, 1250)
	second := f.receiveLot("probiotic", 10, 330)
	const patient = "patient-1"

	cart, err := f.svc.Carts.AddItem(f.ctx, patient, first.ID, 2)
	require.NoError(t, err)
	requireTotals(t, cart)

	cart, err = f.svc.Carts.AddItem(f.ctx, patient, first.ID, 1)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	require.Equal(t, int64(3), cart.Lines[0].Quantity)
	requireTotals(t, cart)

	cart, err = f.svc.Carts.AddItem(f.ctx, patient, second.ID, 4)
	require.NoError(t, err)
	require.Equal(t, int64(3*1250+4*330), cart.Order.Subtotal)
	requireTotals(t, cart)

	lat, lng := -6.3500, 106.8166
	cart, err = f.svc.Carts.UpdateDelivery(f.ctx, patient, fulfillment.MethodCourier, &fulfillment.Address{
		Line: "Jl. Fatmawati 9", Latitude: &lat, Longitude: &lng,
	})
	require.NoError(t, err)
	require.Equal(t, int64(800), cart.Order.DeliveryFee)
	requireTotals(t, cart)

	var secondLine string
	for _, line := range cart.Lines {
		if line.LotID == second.ID {
			secondLine = line.ID
		}
	}
	cart, err = f.svc.Carts.UpdateQuantity(f.ctx, patient, secondLine, 1)
	require.NoError(t, err)
	requireTotals(t, cart)

	cart, err = f.svc.Carts.RemoveItem(f.ctx, patient, secondLine)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	requireTotals(t, cart)

	cart, err = f.svc.Carts.UpdateDelivery(f.ctx, patient, fulfillment.MethodPickup, nil)
	require.NoError(t, err)
	require.Zero(t, cart.Order.DeliveryFee)
	require.Nil(t, cart.Order.DeliveryAddress)
	requireTotals(t, cart)

	cart, err = f.svc.Carts.ClearCart(f.ctx, patient)
	require.NoError(t, err)
	require.Empty(t, cart.Lines)
	require.Zero(t, cart.Order.Total)
	require.Equal(t, fulfillment.MethodNone, cart.Order.DeliveryMethod)
}

func TestCartIsBoundToOneProvider(t *testing.T) {
	f := newFixture(t)
	local := f.receiveLot("cough-syrup", 5, 600)

	other := fulfillment.Provider{ID: "prov-north", Name: "North Pharmacy", Currency: "USD", IsActive: true}
	require.NoError(t, f.store.InTx(f.ctx, func(q fulfillment.Queries) error {
		return q.InsertProvider(f.ctx, other)
	}))
	remote, err := f.svc.Ledger.ReceiveLot(f.ctx, fulfillment.Actor{ID: "owner-n", ProviderID: other.ID}, fulfillment.Lot{
		MedicationID: "cough-syrup", Batch: "N1", Quantity: 5, SellingPrice: 550,
	})
	require.NoError(t, err)

	_, err = f.svc.Carts.AddItem(f.ctx, "patient-1", local.ID, 1)
	require.NoError(t, err)

	_, err = f.svc.Carts.AddItem(f.ctx, "patient-1", remote.ID, 1)
	requireCode(t, err, fulfillment.ErrCartProviderMismatch)

	cart, err := f.svc.Carts.SwitchProvider(f.ctx, "patient-1", other.ID)
	require.NoError(t, err)
	require.Equal(t, other.ID, cart.Order.ProviderID)
	require.Empty(t, cart.Lines)
	require.Zero(t, cart.Order.Total)

	cart, err = f.svc.Carts.AddItem(f.ctx, "patient-1", remote.ID, 1)
	require.NoError(t, err)
	require.Equal(t, int64(550), cart.Order.Total)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	lot := f.receiveLot("zinc", 5, 100)

	_, err := f.svc.Carts.Checkout(f.ctx, "patient-1")
	requireCode(t, err, fulfillment.ErrNotFound)

	_, err = f.svc.Carts.GetOrCreateOpenCart(f.ctx, "patient-1", f.provider.ID)
	require.NoError(t, err)
	_, err = f.svc.Carts.Checkout(f.ctx, "patient-1")
	requireCode(t, err, fulfillment.ErrValidation)

	_, err = f.svc.Carts.AddItem(f.ctx, "patient-1", lot.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.Carts.Checkout(f.ctx, "patient-1")
	requireCode(t, err, fulfillment.ErrValidation)

	_, err = f.svc.Carts.UpdateDelivery(f.ctx, "patient-1", fulfillment.MethodCourier, nil)
	requireCode(t, err, fulfillment.ErrValidation)

	_, err = f.svc.Carts.UpdateDelivery(f.ctx, "patient-1", fulfillment.MethodPickup, nil)
	require.NoError(t, err)
	cart, err := f.svc.Carts.Checkout(f.ctx, "patient-1")
	require.NoError(t, err)
	require.NotNil(t, cart.Order.PlacedAt)

	_, err = f.svc.Carts.Current(f.ctx, "patient-1")
	requireCode(t, err, fulfillment.ErrNotFound)
}

func TestStaleDraftStopsHoldingStock(t *testing.T) {
	f := newFixture(t)
	lot := f.receiveLot("antacid", 4, 200)

	_, err := f.svc.Carts.AddItem(f.ctx, "patient-1", lot.ID, 4)
	require.NoError(t, err)

	_, err = f.svc.Carts.AddItem(f.ctx, "patient-2", lot.ID, 1)
	require.True(t, fulfillment.IsKind(err, fulfillment.KindInsufficientStock))

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.Carts.AddItem(f.ctx, "patient-2", lot.ID, 4)
	require.NoError(t, err)

	// The first patient's cart is revalidated at checkout.
	_, err = f.svc.Carts.UpdateDelivery(f.ctx, "patient-1", fulfillment.MethodPickup, nil)
	require.NoError(t, err)
	_, err = f.svc.Carts.Checkout(f.ctx, "patient-1")
	require.True(t, fulfillment.IsKind(err, fulfillment.KindInsufficientStock))
}

type stubConverter struct {
	rate int64
	err  error
}

func (c stubConverter) Convert(_ context.Context, amount int64, _ string, _ string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	return amount * c.rate, nil
}

func TestCourierFeeConversion(t *testing.T) {
	fees := fulfillment.DefaultFeeSchedule()
	fees.Currency = "EUR"

	tests := []struct {
		name      string
		converter fulfillment.Converter
		want      int64
	}{
		{name: "converted into provider currency", converter: stubConverter{rate: 2}, want: 600},
		{name: "failed conversion uses provider fallback", converter: stubConverter{err: errors.New("rates unavailable")}, want: 450},
		{name: "no converter uses provider fallback", want: 450},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixtureWith(t, tt.converter, fulfillment.Options{Fees: fees})
			lot := f.receiveLot("insulin-pen", 4, 2000)
			cart := f.placeOrder("patient-1", fulfillment.MethodCourier, cartLine{lot: lot, quantity: 1})
			require.Equal(t, tt.want, cart.Order.DeliveryFee)
			require.Equal(t, 2000+tt.want, cart.Order.Total)
			require.Equal(t, "USD", cart.Order.Currency)
		})
	}
}
