package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/internal/config"
	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const trackingSecret = "tracking-secret"

type staticAuthorizer map[string]*middleware.AuthContext

func (a staticAuthorizer) AuthorizeActor(_ context.Context, token string) (*middleware.AuthContext, error) {
	if ac, ok := a[token]; ok {
		return ac, nil
	}
	return nil, errors.New("invalid token")
}

type pendingStub []fulfillment.QueueEntry

func (p pendingStub) ListPending(context.Context, string) ([]fulfillment.QueueEntry, error) {
	return p, nil
}

type trackerStub map[string]fulfillment.Tracking

func (t trackerStub) Track(_ context.Context, trackingNumber string) (fulfillment.Tracking, error) {
	if view, ok := t[trackingNumber]; ok {
		return view, nil
	}
	return fulfillment.Tracking{}, fulfillment.NotFound("delivery")
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(nil, config.Config{TrackingTokenSecret: trackingSecret, WSHeartbeatInterval: time.Minute},
		staticAuthorizer{
			"staff":   {UserID: "staff-1", Role: auth.RolePharmacyStaff, ProviderID: "prov-1"},
			"patient": {UserID: "patient-1", Role: auth.RolePatient},
		},
		pendingStub{{ID: "entry-1", OrderID: "order-1", ProviderID: "prov-1", Status: fulfillment.QueuePending, IssuedCode: "A-001"}},
		trackerStub{"TRK-1": {ProviderID: "prov-1", TrackingNumber: "TRK-1", Status: fulfillment.DeliveryInTransit}},
	)
	r := chi.NewRouter()
	r.Get("/ws/staff/queue", s.StaffQueueWS)
	r.Get("/ws/tracking/{trackingNumber}", s.PublicTrackingWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStaffQueueFeed(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dial(t, srv, "/ws/staff/queue?token=Bearer%20staff")

	state := readMessage(t, conn)
	require.Equal(t, "queue.state", state["type"])
	require.Len(t, state["data"], 1)
	require.Equal(t, 1, s.staffQueue.count("prov-1"))

	// Other providers and non-queue kinds stay off this feed.
	require.NoError(t, s.Notify(context.Background(), fulfillment.Event{ID: "e0", Kind: fulfillment.EventOrderReady, ProviderID: "prov-2"}))
	require.NoError(t, s.Notify(context.Background(), fulfillment.Event{ID: "e1", Kind: fulfillment.EventDeliveryLocation, ProviderID: "prov-1"}))
	require.NoError(t, s.Notify(context.Background(), fulfillment.Event{
		ID:         "e2",
		Kind:       fulfillment.EventOrderReady,
		ProviderID: "prov-1",
		OrderID:    "order-1",
		Payload:    map[string]any{"deliveryMethod": "PICKUP", "qrToken": "secret", "verificationCode": "123456"},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, "queue.event", msg["type"])
	evt := msg["event"].(map[string]any)
	require.Equal(t, "e2", evt["id"])
	payload := evt["payload"].(map[string]any)
	require.Equal(t, "PICKUP", payload["deliveryMethod"])
	require.NotContains(t, payload, "qrToken")
	require.NotContains(t, payload, "verificationCode")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.staffQueue.count("prov-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStaffQueueRejectsNonStaff(t *testing.T) {
	s, srv := newTestServer(t)
	for _, token := range []string{"patient", "nope", ""} {
		conn := dial(t, srv, "/ws/staff/queue?token="+token)
		msg := readMessage(t, conn)
		require.Equal(t, "error", msg["type"], token)
	}
	require.Zero(t, s.staffQueue.count("prov-1"))
}

func TestPublicTrackingFeed(t *testing.T) {
	s, srv := newTestServer(t)

	bad := dial(t, srv, "/ws/tracking/TRK-1?token="+auth.CreateTrackingToken(trackingSecret, "prov-2", "TRK-1"))
	require.Equal(t, "delivery not found", readMessage(t, bad)["message"])

	token := auth.CreateTrackingToken(trackingSecret, "prov-1", "TRK-1")
	conn := dial(t, srv, "/ws/tracking/trk-1?token="+token)
	state := readMessage(t, conn)
	require.Equal(t, "tracking.state", state["type"])
	require.Equal(t, "TRK-1", state["data"].(map[string]any)["trackingNumber"])

	require.NoError(t, s.Notify(context.Background(), fulfillment.Event{
		ID:      "loc-1",
		Kind:    fulfillment.EventDeliveryLocation,
		Payload: map[string]any{"trackingNumber": "TRK-1", "lat": -6.2, "lng": 106.8},
	}))
	msg := readMessage(t, conn)
	require.Equal(t, "tracking.update", msg["type"])
	require.Equal(t, "loc-1", msg["event"].(map[string]any)["id"])
}

func TestHubBroadcastIgnoresBlankKeys(t *testing.T) {
	h := newHub()
	unsubscribe := h.subscribe("  ", &wsRealtimeClient{})
	unsubscribe()
	h.broadcast("", map[string]any{"type": "noop"})
	require.Zero(t, h.count(""))
}
