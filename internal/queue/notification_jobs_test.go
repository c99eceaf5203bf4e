package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"pharmacy-order-services/internal/fulfillment"

	"github.com/stretchr/testify/require"
)

type published struct {
	exchange string
	rk       string
	payload  map[string]any
}

type fakeJobs struct {
	out []published
	err error
}

func (f *fakeJobs) PublishJSON(_ context.Context, exchange, routingKey string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.out = append(f.out, published{exchange: exchange, rk: routingKey, payload: payload.(map[string]any)})
	return nil
}

type memDedup map[string]bool

func (m memDedup) FirstSeen(_ context.Context, id string) (bool, error) {
	if m[id] {
		return false, nil
	}
	m[id] = true
	return true, nil
}

func encode(t *testing.T, evt fulfillment.Event) []byte {
	t.Helper()
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	return body
}

func newTestTranslator(jobs jobPublisher, dedup Deduper) *Translator {
	tr := newTranslator(jobs, dedup, nil)
	tr.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return tr
}

func TestTranslatorJobs(t *testing.T) {
	tests := []struct {
		name       string
		evt        fulfillment.Event
		wantRKs    []string
		wantStatus string
	}{
		{
			name: "pickup ready notifies patient with codes",
			evt: fulfillment.Event{ID: "e1", Kind: fulfillment.EventOrderReady, OrderID: "o1", Recipient: "patient-1",
				Payload: map[string]any{"deliveryMethod": "PICKUP", "qrToken": "tok", "verificationCode": "123456"}},
			wantRKs:    []string{NotificationJobsRK},
			wantStatus: "READY_FOR_PICKUP",
		},
		{
			name: "courier ready",
			evt: fulfillment.Event{ID: "e2", Kind: fulfillment.EventOrderReady, OrderID: "o1", Recipient: "patient-1",
				Payload: map[string]any{"deliveryMethod": "COURIER", "confirmationCode": "999111"}},
			wantRKs:    []string{NotificationJobsRK},
			wantStatus: "AWAITING_COURIER",
		},
		{
			name: "courier assignment goes to the courier",
			evt: fulfillment.Event{ID: "e3", Kind: fulfillment.EventCourierAssigned, OrderID: "o1", Recipient: "courier-1",
				Payload: map[string]any{"deliveryId": "d1", "trackingNumber": "TRK1"}},
			wantRKs: []string{NotificationJobsRK},
		},
		{
			name: "completion notifies and queues a receipt",
			evt: fulfillment.Event{ID: "e4", Kind: fulfillment.EventOrderCompleted, OrderID: "o1", ProviderID: "p1", Recipient: "patient-1",
				Payload: map[string]any{"paymentId": "pay-1", "total": 4500, "currency": "USD"}},
			wantRKs:    []string{NotificationJobsRK, ReceiptEmailRK},
			wantStatus: "COMPLETED",
		},
		{
			name: "queue events are internal",
			evt:  fulfillment.Event{ID: "e5", Kind: fulfillment.EventQueueEntryClaimed, OrderID: "o1", Recipient: "p1"},
		},
		{
			name: "no recipient",
			evt:  fulfillment.Event{ID: "e6", Kind: fulfillment.EventOrderConfirmed, OrderID: "o1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &fakeJobs{}
			tr := newTestTranslator(jobs, nil)
			require.NoError(t, tr.Process(context.Background(), encode(t, tt.evt)))

			var rks []string
			for _, p := range jobs.out {
				rks = append(rks, p.rk)
			}
			require.Equal(t, tt.wantRKs, rks)
			if tt.wantStatus != "" {
				inner := jobs.out[0].payload["payload"].(map[string]any)
				require.Equal(t, tt.wantStatus, inner["status"])
				require.Equal(t, "2026-03-02T12:00:00Z", jobs.out[0].payload["createdAt"])
			}
		})
	}
}

func TestTranslatorCarriesPickupCodesToPatientOnly(t *testing.T) {
	jobs := &fakeJobs{}
	tr := newTestTranslator(jobs, nil)
	evt := fulfillment.Event{ID: "e1", Kind: fulfillment.EventOrderReady, OrderID: "o1", Recipient: "patient-1",
		Payload: map[string]any{"deliveryMethod": "PICKUP", "qrToken": "tok", "verificationCode": "123456"}}

	require.NoError(t, tr.Process(context.Background(), encode(t, evt)))
	require.Len(t, jobs.out, 1)
	job := jobs.out[0]
	require.Equal(t, NotificationJobsExchange, job.exchange)
	inner := job.payload["payload"].(map[string]any)
	require.Equal(t, "patient-1", inner["patientId"])
	require.Equal(t, "tok", inner["qrToken"])
	require.Equal(t, "123456", inner["verificationCode"])
}

func TestTranslatorForwardsReissuedDeliveryCode(t *testing.T) {
	jobs := &fakeJobs{}
	tr := newTestTranslator(jobs, nil)
	evt := fulfillment.Event{ID: "e2", Kind: fulfillment.EventDeliveryCodeIssued, OrderID: "o1", Recipient: "patient-1",
		Payload: map[string]any{"deliveryId": "d1", "trackingNumber": "TRK-1", "confirmationCode": "482913"}}

	require.NoError(t, tr.Process(context.Background(), encode(t, evt)))
	require.Len(t, jobs.out, 1)
	inner := jobs.out[0].payload["payload"].(map[string]any)
	require.Equal(t, "DELIVERY_CODE_REISSUED", inner["status"])
	require.Equal(t, "patient-1", inner["patientId"])
	require.Equal(t, "TRK-1", inner["trackingNumber"])
	require.Equal(t, "482913", inner["confirmationCode"])
}

func TestTranslatorDedupAndFailures(t *testing.T) {
	ctx := context.Background()
	evt := fulfillment.Event{ID: "e1", Kind: fulfillment.EventOrderCancelled, OrderID: "o1", Recipient: "patient-1"}

	jobs := &fakeJobs{}
	tr := newTestTranslator(jobs, memDedup{})
	require.NoError(t, tr.Process(ctx, encode(t, evt)))
	require.NoError(t, tr.Process(ctx, encode(t, evt)))
	require.Len(t, jobs.out, 1)

	require.NoError(t, tr.Process(ctx, []byte("{not json")))
	require.Len(t, jobs.out, 1)

	failing := newTestTranslator(&fakeJobs{err: errors.New("channel closed")}, nil)
	require.Error(t, failing.Process(ctx, encode(t, evt)))
}

func TestRetryCount(t *testing.T) {
	require.Equal(t, 0, retryCount(nil))
	require.Equal(t, 3, retryCount(map[string]any{retryHeader: int32(3)}))
	require.Equal(t, 4, retryCount(map[string]any{retryHeader: int64(4)}))
	require.Equal(t, 0, retryCount(map[string]any{retryHeader: "5"}))
}
