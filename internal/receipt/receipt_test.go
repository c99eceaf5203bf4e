package receipt

import (
	"bytes"
	"testing"
	"time"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/stretchr/testify/require"
)

func completedDetail() fulfillment.OrderDetail {
	placed := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	completed := placed.Add(40 * time.Minute)
	return fulfillment.OrderDetail{
		Order: fulfillment.Order{
			ID:             "order-1",
			Status:         fulfillment.OrderCompleted,
			DeliveryMethod: fulfillment.MethodPickup,
			Subtotal:       4500,
			Total:          4500,
			Currency:       "USD",
			PlacedAt:       &placed,
			CompletedAt:    &completed,
		},
		Queue: &fulfillment.QueueEntry{IssuedCode: "A7K2QX"},
		Lines: []fulfillment.LineItem{
			{MedicationID: "amoxicillin-500", Quantity: 3, UnitPrice: 1500, LineTotal: 4500},
		},
		Payments: []fulfillment.Payment{{Method: "CASH", Amount: 4500, Currency: "USD", Reference: "till-4"}},
	}
}

func TestBuildTemplateData(t *testing.T) {
	data := buildTemplateData(completedDetail())

	require.Equal(t, "Pharmacy", data.ProviderName)
	require.Equal(t, "A7K2QX", data.IssuedCode)
	require.Equal(t, "2026-03-02 09:15 UTC", data.PlacedAt)
	require.Equal(t, "2026-03-02 09:55 UTC", data.CompletedAt)
	require.Equal(t, []line{{Description: "amoxicillin-500", Quantity: 3, UnitPrice: "USD 15.00", Total: "USD 45.00"}}, data.Lines)
	require.Equal(t, "USD 0.00", data.DeliveryFee)
	require.Equal(t, []string{"CASH USD 45.00 (ref till-4)"}, data.Payments)
}

func TestRender(t *testing.T) {
	pdf, err := Render(completedDetail())
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	open := completedDetail()
	open.Order.Status = fulfillment.OrderReady
	_, err = Render(open)
	require.Error(t, err)
}
