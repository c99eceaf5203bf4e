package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type tokenTable map[string]*AuthContext

func (tt tokenTable) AuthorizeActor(_ context.Context, token string) (*AuthContext, error) {
	ac, ok := tt[token]
	if !ok {
		return nil, errors.New("unknown token")
	}
	copied := *ac
	return &copied, nil
}

var testActors = tokenTable{
	"patient": {UserID: "patient-1", Role: auth.RolePatient},
	"owner":   {UserID: "owner-1", Role: auth.RolePharmacyOwner, ProviderID: "prov-1", IsOwner: true},
	"staff":   {UserID: "staff-1", Role: auth.RolePharmacyStaff, ProviderID: "prov-1", Permissions: []string{"queue"}},
	"orphan":  {UserID: "staff-2", Role: auth.RolePharmacyStaff},
	"courier": {UserID: "courier-1", Role: auth.RoleCourier, ProviderID: "prov-9"},
}

func echoActor(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := GetAuthContext(r.Context())
		require.True(t, ok)
		response.Success(w, map[string]string{"userId": ac.UserID, "providerId": ac.ProviderID})
	})
}

func TestRoleMiddleware(t *testing.T) {
	patient := PatientAuth(testActors)(echoActor(t))
	staff := StaffAuth(testActors)(echoActor(t))
	courier := CourierAuth(testActors)(echoActor(t))

	tests := []struct {
		name     string
		handler  http.Handler
		path     string
		method   string
		token    string
		want     int
		wantCode string
	}{
		{name: "missing token", handler: patient, path: "/api/patient/orders", token: "", want: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "unknown token", handler: staff, path: "/api/staff/queue", token: "nope", want: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "patient ok", handler: patient, path: "/api/patient/orders", token: "patient", want: http.StatusOK},
		{name: "staff on patient route", handler: patient, path: "/api/patient/orders", token: "staff", want: http.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "staff with permission", handler: staff, path: "/api/staff/queue/claim", method: http.MethodPost, token: "staff", want: http.StatusOK},
		{name: "staff without permission", handler: staff, path: "/api/staff/pickup/redeem", method: http.MethodPost, token: "staff", want: http.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "owner holds every permission", handler: staff, path: "/api/staff/inventory/lots", method: http.MethodPost, token: "owner", want: http.StatusOK},
		{name: "staff without provider", handler: staff, path: "/api/staff/queue", token: "orphan", want: http.StatusUnauthorized},
		{name: "patient on staff route", handler: staff, path: "/api/staff/queue", token: "patient", want: http.StatusForbidden},
		{name: "courier ok", handler: courier, path: "/api/courier/deliveries", token: "courier", want: http.StatusOK},
		{name: "patient on courier route", handler: courier, path: "/api/courier/deliveries", token: "patient", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			var env response.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, tt.want == http.StatusOK, env.Success)
			if tt.wantCode != "" {
				require.Equal(t, tt.wantCode, env.Error)
			}
		})
	}
}

func TestCourierActsAcrossProviders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/courier/deliveries", nil)
	req.Header.Set("Authorization", "Bearer courier")
	rec := httptest.NewRecorder()
	CourierAuth(testActors)(echoActor(t)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"success":true,"data":{"userId":"courier-1","providerId":""}}`, rec.Body.String())
}

func TestAuthDebugDetailsOnlyInDevelopment(t *testing.T) {
	handler := PatientAuth(testActors)(echoActor(t))

	t.Setenv("APP_ENV", "production")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotContains(t, rec.Body.String(), "debug")

	t.Setenv("APP_ENV", "development")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Contains(t, rec.Body.String(), "unknown token")
}

func TestJWTAuthorizer(t *testing.T) {
	provider := " prov-1 "
	token, err := auth.IssueAccessToken(auth.Claims{UserID: "owner-1", Role: auth.RolePharmacyOwner, ProviderID: &provider}, "s3cret", time.Minute)
	require.NoError(t, err)

	ac, err := JWTAuthorizer{Secret: "s3cret"}.AuthorizeActor(context.Background(), token)
	require.NoError(t, err)
	require.True(t, ac.IsOwner)
	require.Equal(t, "prov-1", ac.ProviderID)
	require.Equal(t, "owner-1", ac.Actor().ID)

	_, err = JWTAuthorizer{Secret: "other"}.AuthorizeActor(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, "corr-42", seen)
	require.Equal(t, "corr-42", rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, seen, 36)
	require.Equal(t, seen, rec.Header().Get("X-Request-Id"))

	require.Empty(t, GetRequestID(context.Background()))
}

func TestPercentile(t *testing.T) {
	values := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.Equal(t, int64(5), percentile(values, 0.5))
	require.Equal(t, int64(10), percentile(values, 0.95))
	require.Equal(t, int64(1), percentile(values, 0))
	require.Zero(t, percentile(nil, 0.5))
}

func TestRouteLatencyWindow(t *testing.T) {
	latency := NewRouteLatency(3)
	for _, ms := range []int64{100, 1, 2, 3} {
		latency.record("GET /b", ms)
	}
	latency.record("GET /a", 7)

	stats := latency.Snapshot()
	require.Len(t, stats, 2)
	require.Equal(t, RouteStats{Route: "GET /a", Samples: 1, P50Ms: 7, P95Ms: 7}, stats[0])
	// The oldest sample has been overwritten.
	require.Equal(t, RouteStats{Route: "GET /b", Samples: 3, P50Ms: 2, P95Ms: 3}, stats[1])
}

func TestTelemetryRecordsRoutePattern(t *testing.T) {
	latency := NewRouteLatency(10)
	r := chi.NewRouter()
	r.Use(Telemetry(nil, latency, 0))
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	stats := latency.Snapshot()
	require.Len(t, stats, 1)
	require.Equal(t, "GET /orders/{id}", stats[0].Route)
	require.Equal(t, 2, stats[0].Samples)
}
