package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/internal/config"
	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/internal/http/handlers"
	"pharmacy-order-services/internal/middleware"
	"pharmacy-order-services/internal/store/memstore"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testTrackingSecret = "tracking-secret"

type tokenActors map[string]*middleware.AuthContext

func (a tokenActors) AuthorizeActor(_ context.Context, token string) (*middleware.AuthContext, error) {
	ac, ok := a[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	copied := *ac
	return &copied, nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []fulfillment.Event
}

func (c *capturedEvents) Emit(_ context.Context, evt fulfillment.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *capturedEvents) last(kind fulfillment.EventKind) fulfillment.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Kind == kind {
			return c.events[i]
		}
	}
	return fulfillment.Event{}
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func (m *memObjects) PutProofPhoto(_ context.Context, deliveryID string, data []byte) (string, error) {
	return m.put("https://cdn.test/deliveries/"+deliveryID+"/proof.jpg", data), nil
}

func (m *memObjects) PutReceipt(_ context.Context, orderID string, pdf []byte) (string, error) {
	return m.put("https://cdn.test/receipts/"+orderID+".pdf", pdf), nil
}

func (m *memObjects) put(url string, data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = data
	return url
}

func (m *memObjects) DeleteURL(_ context.Context, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, raw)
	delete(m.objects, raw)
	return nil
}

type apiFixture struct {
	t       *testing.T
	router  http.Handler
	events  *capturedEvents
	objects *memObjects
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	events := &capturedEvents{}
	services := fulfillment.New(fulfillment.Deps{
		Store:  store,
		Events: events,
		Hasher: fulfillment.BcryptHasher{Cost: bcrypt.MinCost},
	}, fulfillment.Options{})

	lat, lng := -6.2000, 106.8166
	require.NoError(t, store.InTx(ctx, func(q fulfillment.Queries) error {
		return q.InsertProvider(ctx, fulfillment.Provider{
			ID:                  "prov-1",
			Name:                "Central Pharmacy",
			Currency:            "USD",
			Latitude:            &lat,
			Longitude:           &lng,
			FallbackDeliveryFee: 450,
			IsActive:            true,
		})
	}))

	allPerms := []string{"queue", "orders", "counters", "pickup", "delivery", "inventory", "inventory_receive"}
	actors := tokenActors{
		"owner":       {UserID: "owner-1", Role: auth.RolePharmacyOwner, ProviderID: "prov-1", IsOwner: true},
		"staff":       {UserID: "staff-1", Role: auth.RolePharmacyStaff, ProviderID: "prov-1", Permissions: allPerms},
		"staff-queue": {UserID: "staff-2", Role: auth.RolePharmacyStaff, ProviderID: "prov-1", Permissions: []string{"queue"}},
		"patient":     {UserID: "patient-1", Role: auth.RolePatient},
		"other":       {UserID: "patient-2", Role: auth.RolePatient},
		"courier":     {UserID: "courier-1", Role: auth.RoleCourier},
	}

	cfg := config.Config{Env: "test", TrackingTokenSecret: testTrackingSecret, MaxFileSizeBytes: 2 * 1024 * 1024}
	objects := &memObjects{objects: make(map[string][]byte)}
	h := &handlers.Handler{
		Services: services,
		Logger:   zap.NewNop(),
		Config:   cfg,
		Objects:  objects,
	}
	return &apiFixture{
		t:       t,
		router:  NewRouter(nil, cfg, Deps{Handler: h, Authorizer: actors}),
		events:  events,
		objects: objects,
	}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// call asserts the status and decodes data into out when given.
func (f *apiFixture) call(method, path, token string, body any, wantStatus int, out any) envelope {
	f.t.Helper()
	rec := f.do(method, path, token, body)
	require.Equalf(f.t, wantStatus, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	var env envelope
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env))
	if out != nil {
		require.NoError(f.t, json.Unmarshal(env.Data, out))
	}
	return env
}

// stock receives a lot and seats staff-1 at a new counter.
func (f *apiFixture) stock(quantity, price int64) (lotID, counterID string) {
	f.t.Helper()
	var lot fulfillment.Lot
	f.call(http.MethodPost, "/api/staff/inventory/lots", "owner", map[string]any{
		"medicationId":     "amoxicillin-500",
		"batch":            "B-1",
		"quantity":         quantity,
		"reorderThreshold": 2,
		"sellingPrice":     price,
	}, http.StatusCreated, &lot)

	var counter fulfillment.Counter
	f.call(http.MethodPost, "/api/staff/counters", "owner", map[string]any{"name": "Counter 1"}, http.StatusCreated, &counter)
	f.call(http.MethodPost, "/api/staff/counters/"+counter.ID+"/session/start", "staff", nil, http.StatusOK, nil)
	return lot.ID, counter.ID
}

func (f *apiFixture) checkout(token, lotID string, quantity int64, method string, address map[string]any) fulfillment.Cart {
	f.t.Helper()
	f.call(http.MethodGet, "/api/patient/cart?providerId=prov-1", token, nil, http.StatusOK, nil)
	f.call(http.MethodPost, "/api/patient/cart/items", token, map[string]any{"lotId": lotID, "quantity": quantity}, http.StatusOK, nil)
	f.call(http.MethodPost, "/api/patient/cart/delivery", token, map[string]any{"method": method, "address": address}, http.StatusOK, nil)
	var cart fulfillment.Cart
	f.call(http.MethodPost, "/api/patient/cart/checkout", token, nil, http.StatusCreated, &cart)
	return cart
}

type readyView struct {
	OrderID      string                      `json:"orderId"`
	QueueEntryID string                      `json:"queueEntryId"`
	Method       fulfillment.DeliveryMethod  `json:"method"`
	Pickup       *fulfillment.PickupRecord   `json:"pickup"`
	Delivery     *fulfillment.DeliveryRecord `json:"delivery"`
}

func (f *apiFixture) prepare(orderID, counterID string) readyView {
	f.t.Helper()
	var entry fulfillment.QueueEntry
	f.call(http.MethodPost, "/api/staff/orders/"+orderID+"/confirm", "staff", nil, http.StatusOK, &entry)
	f.call(http.MethodPost, "/api/staff/queue/"+entry.ID+"/claim", "staff", map[string]any{"counterId": counterID}, http.StatusOK, nil)
	f.call(http.MethodPost, "/api/staff/queue/"+entry.ID+"/start", "staff", nil, http.StatusOK, nil)
	var view readyView
	f.call(http.MethodPost, "/api/staff/queue/"+entry.ID+"/ready", "staff", nil, http.StatusOK, &view)
	return view
}

func TestPickupFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	lotID, counterID := f.stock(10, 1500)

	cart := f.checkout("patient", lotID, 3, "pickup", nil)
	require.Equal(t, fulfillment.OrderPending, cart.Order.Status)
	require.Equal(t, int64(4500), cart.Order.Total)
	orderID := cart.Order.ID

	view := f.prepare(orderID, counterID)
	require.Equal(t, fulfillment.MethodPickup, view.Method)
	require.NotNil(t, view.Pickup)
	require.Empty(t, view.Pickup.QRToken)
	require.Empty(t, view.Pickup.VerificationCode)

	// Only the patient sees the pickup codes.
	var patientView struct {
		Order   fulfillment.Order        `json:"order"`
		Pickup  fulfillment.PickupRecord `json:"pickup"`
		Display struct {
			Total struct {
				Amount    int64  `json:"amount"`
				Formatted string `json:"formatted"`
			} `json:"total"`
		} `json:"display"`
	}
	f.call(http.MethodGet, "/api/patient/orders/"+orderID, "patient", nil, http.StatusOK, &patientView)
	require.NotEmpty(t, patientView.Pickup.QRToken)
	require.Len(t, patientView.Pickup.VerificationCode, 6)
	require.Equal(t, int64(4500), patientView.Display.Total.Amount)
	require.Equal(t, "USD 45.00", patientView.Display.Total.Formatted)

	f.call(http.MethodGet, "/api/patient/orders/"+orderID, "other", nil, http.StatusNotFound, nil)

	env := f.call(http.MethodPost, "/api/staff/pickup/"+view.Pickup.ID+"/pay", "staff", map[string]any{"method": "cash"}, http.StatusBadRequest, nil)
	require.Equal(t, string(fulfillment.ErrPickupNotRedeemed), env.Error)

	redeem := map[string]any{"code": patientView.Pickup.QRToken, "counterId": counterID}
	var record fulfillment.PickupRecord
	f.call(http.MethodPost, "/api/staff/pickup/redeem", "staff", redeem, http.StatusOK, &record)
	require.NotNil(t, record.ScannedAt)
	require.Empty(t, record.QRToken)

	env = f.call(http.MethodPost, "/api/staff/pickup/redeem", "staff", redeem, http.StatusConflict, nil)
	require.Equal(t, string(fulfillment.ErrAlreadyRedeemed), env.Error)

	rec := f.do(http.MethodGet, "/api/staff/pickup/"+record.ID+"/receipt", "staff", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var payment fulfillment.Payment
	f.call(http.MethodPost, "/api/staff/pickup/"+record.ID+"/pay", "staff", map[string]any{"method": "cash"}, http.StatusOK, &payment)
	require.Equal(t, int64(4500), payment.Amount)
	require.Equal(t, "CASH", payment.Method)

	env = f.call(http.MethodPost, "/api/staff/pickup/"+record.ID+"/pay", "staff", map[string]any{"method": "cash"}, http.StatusConflict, nil)
	require.Equal(t, string(fulfillment.ErrAlreadyPaid), env.Error)

	rec = f.do(http.MethodGet, "/api/staff/pickup/"+record.ID+"/receipt?archive=1", "staff", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
	require.Equal(t, "https://cdn.test/receipts/"+orderID+".pdf", rec.Header().Get("X-Receipt-Url"))

	var movements []fulfillment.StockMovement
	f.call(http.MethodGet, "/api/staff/inventory/lots/"+lotID+"/movements", "staff", nil, http.StatusOK, &movements)
	require.Len(t, movements, 2)
	require.Equal(t, int64(7), movements[len(movements)-1].NewQuantity)
}

func TestCourierFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	lotID, counterID := f.stock(5, 1000)

	cart := f.checkout("patient", lotID, 2, "courier", map[string]any{
		"line":      "Jl. Sudirman 1",
		"latitude":  -6.21,
		"longitude": 106.83,
	})
	require.Equal(t, int64(300), cart.Order.DeliveryFee)
	require.Equal(t, int64(2300), cart.Order.Total)

	view := f.prepare(cart.Order.ID, counterID)
	require.NotNil(t, view.Delivery)
	deliveryID := view.Delivery.ID
	code, _ := f.events.last(fulfillment.EventOrderReady).Payload["confirmationCode"].(string)
	require.Len(t, code, 6)

	// The patient's tracking token is bound to the provider and tracking number.
	var patientView struct {
		TrackingToken string `json:"trackingToken"`
	}
	f.call(http.MethodGet, "/api/patient/orders/"+cart.Order.ID, "patient", nil, http.StatusOK, &patientView)
	require.NotEmpty(t, patientView.TrackingToken)
	trackingPath := "/api/public/tracking/" + strings.ToLower(view.Delivery.TrackingNumber)
	f.call(http.MethodGet, trackingPath+"?token=forged", "", nil, http.StatusNotFound, nil)
	f.call(http.MethodGet, "/api/public/tracking/TRK-NOPE?token="+patientView.TrackingToken, "", nil, http.StatusNotFound, nil)

	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/pickup", "courier", nil, http.StatusNotFound, nil)
	f.call(http.MethodPost, "/api/staff/delivery/"+deliveryID+"/assign", "staff", map[string]any{"courierId": "courier-1"}, http.StatusOK, nil)
	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/pickup", "courier", nil, http.StatusOK, nil)
	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/location", "courier", map[string]any{"latitude": -6.205, "longitude": 106.82}, http.StatusCreated, nil)
	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/location", "courier", map[string]any{"latitude": -6.205}, http.StatusBadRequest, nil)

	var tracking fulfillment.Tracking
	rec := f.do(http.MethodGet, trackingPath+"?token="+patientView.TrackingToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, &tracking))
	require.Equal(t, fulfillment.DeliveryInTransit, tracking.Status)
	require.Len(t, tracking.Locations, 1)
	require.NotContains(t, rec.Body.String(), "prov-1")

	env = f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/confirm", "courier", map[string]any{"code": "000000"}, http.StatusBadRequest, nil)
	require.Equal(t, string(fulfillment.ErrCodeMismatch), env.Error)

	// A patient who lost the code asks for a new one; the old code stops working.
	f.call(http.MethodPost, "/api/patient/orders/"+cart.Order.ID+"/delivery-code", "other", nil, http.StatusNotFound, nil)
	var reissued fulfillment.DeliveryCode
	rec = f.do(http.MethodPost, "/api/patient/orders/"+cart.Order.ID+"/delivery-code", "patient", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, &reissued))
	require.Equal(t, deliveryID, reissued.DeliveryID)
	require.Len(t, reissued.ConfirmationCode, 6)
	require.NotEqual(t, code, reissued.ConfirmationCode)
	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/confirm", "courier", map[string]any{"code": code}, http.StatusBadRequest, nil)
	code = reissued.ConfirmationCode

	var confirmed struct {
		AlreadyConfirmed bool                `json:"alreadyConfirmed"`
		Payment          fulfillment.Payment `json:"payment"`
	}
	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/confirm", "courier", map[string]any{"code": code}, http.StatusOK, &confirmed)
	require.False(t, confirmed.AlreadyConfirmed)
	require.Equal(t, int64(2300), confirmed.Payment.Amount)

	f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/confirm", "courier", map[string]any{"code": code}, http.StatusOK, &confirmed)
	require.True(t, confirmed.AlreadyConfirmed)
	env = f.call(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/confirm", "courier", map[string]any{"code": "000000"}, http.StatusBadRequest, nil)
	require.Equal(t, string(fulfillment.ErrCodeMismatch), env.Error)
	f.call(http.MethodPost, "/api/patient/orders/"+cart.Order.ID+"/delivery-code", "patient", nil, http.StatusConflict, nil)

	rec = f.uploadProof(deliveryID, "courier")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.objects.objects, 1)
}

func (f *apiFixture) uploadProof(deliveryID, token string) *httptest.ResponseRecorder {
	f.t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for x := 0; x < 32; x++ {
		img.Set(x, x%24, color.RGBA{R: 200, A: 255})
	}
	var photo bytes.Buffer
	require.NoError(f.t, jpeg.Encode(&photo, img, nil))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "proof.jpg")
	require.NoError(f.t, err)
	_, err = part.Write(photo.Bytes())
	require.NoError(f.t, err)
	require.NoError(f.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/courier/delivery/"+deliveryID+"/proof", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestAuthAndPermissionErrors(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/patient/cart", want: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, path: "/api/staff/queue/pending", token: "forged", want: http.StatusUnauthorized},
		{name: "patient on staff routes", method: http.MethodGet, path: "/api/staff/queue/pending", token: "patient", want: http.StatusForbidden},
		{name: "staff on courier routes", method: http.MethodPost, path: "/api/courier/delivery/d1/pickup", token: "staff", want: http.StatusForbidden},
		{name: "missing permission", method: http.MethodPost, path: "/api/staff/pickup/redeem", token: "staff-queue", body: map[string]any{"code": "x", "counterId": "c"}, want: http.StatusForbidden},
		{name: "counters are registered by the owner", method: http.MethodPost, path: "/api/staff/counters", token: "staff", body: map[string]any{"name": "Counter 9"}, want: http.StatusForbidden},
		{name: "queue listing", method: http.MethodGet, path: "/api/staff/queue/pending", token: "staff-queue", want: http.StatusOK},
		{name: "unknown order", method: http.MethodGet, path: "/api/patient/orders/nope", token: "patient", want: http.StatusNotFound},
		{name: "claim without counter", method: http.MethodPost, path: "/api/staff/queue/e1/claim", token: "staff", body: map[string]any{}, want: http.StatusBadRequest},
		{name: "tracking without token", method: http.MethodGet, path: "/api/public/tracking/TRK-1", want: http.StatusBadRequest},
		{name: "replenish with sale reason", method: http.MethodPost, path: "/api/staff/inventory/lots/l1/replenish", token: "staff", body: map[string]any{"quantity": 1, "reason": "sale"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
			require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		})
	}
}

func TestHealthAndLatency(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	var stats []middleware.RouteStats
	f.call(http.MethodGet, "/health/latency", "", nil, http.StatusOK, &stats)
	require.NotEmpty(t, stats)
	require.Equal(t, "GET /health", stats[0].Route)
}

func TestCartConflictsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	lotID, _ := f.stock(2, 500)

	f.call(http.MethodGet, "/api/patient/cart?providerId=prov-1", "patient", nil, http.StatusOK, nil)
	env := f.call(http.MethodPost, "/api/patient/cart/items", "patient", map[string]any{"lotId": lotID, "quantity": 3}, http.StatusConflict, nil)
	require.Equal(t, string(fulfillment.ErrInsufficientStock), env.Error)

	env = f.call(http.MethodPost, "/api/patient/cart/checkout", "patient", nil, http.StatusBadRequest, nil)
	require.Equal(t, string(fulfillment.ErrValidation), env.Error)

	f.call(http.MethodPatch, "/api/patient/cart/items/x", "patient", map[string]any{}, http.StatusBadRequest, nil)
}
