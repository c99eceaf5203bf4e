package httpapi

import (
	"net/http"

	"pharmacy-order-services/internal/config"
	"pharmacy-order-services/internal/http/handlers"
	"pharmacy-order-services/internal/middleware"
	"pharmacy-order-services/internal/ws"
	"pharmacy-order-services/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type Deps struct {
	Handler    *handlers.Handler
	Authorizer middleware.ActorAuthorizer
	WS         *ws.Server
	Latency    *middleware.RouteLatency
}

func NewRouter(logger *zap.Logger, cfg config.Config, deps Deps) http.Handler {
	if deps.Latency == nil {
		deps.Latency = middleware.NewRouteLatency(200)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Telemetry(logger, deps.Latency, cfg.SlowRequestThreshold))

	if cfg.Env == "development" || len(cfg.CorsAllowedOrigins) > 0 {
		options := cors.Options{
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Requested-With",
				"X-Request-Id",
				"Cache-Control",
			},
			ExposedHeaders:   []string{"X-Request-Id", "X-Receipt-Url"},
			AllowCredentials: true,
			MaxAge:           300,
		}

		if cfg.Env == "development" {
			options.AllowOriginFunc = func(_ *http.Request, origin string) bool {
				return true
			}
		} else {
			options.AllowedOrigins = cfg.CorsAllowedOrigins
		}

		r.Use(cors.Handler(options))
	}

	h := deps.Handler

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/health/latency", func(w http.ResponseWriter, r *http.Request) {
		response.Success(w, deps.Latency.Snapshot())
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Use(setResponseHeader("Cache-Control", "no-store"))
		r.Get("/tracking/{trackingNumber}", h.PublicTracking)
	})

	r.Route("/api/patient", func(r chi.Router) {
		r.Use(middleware.PatientAuth(deps.Authorizer))

		r.Get("/cart", h.PatientCartGet)
		r.Delete("/cart", h.PatientCartClear)
		r.Post("/cart/items", h.PatientCartAddItem)
		r.Patch("/cart/items/{id}", h.PatientCartUpdateItem)
		r.Delete("/cart/items/{id}", h.PatientCartRemoveItem)
		r.Post("/cart/delivery", h.PatientCartDelivery)
		r.Post("/cart/checkout", h.PatientCartCheckout)
		r.Post("/cart/switch-provider", h.PatientCartSwitchProvider)
		r.Get("/orders/{id}", h.PatientOrderGet)
		r.Post("/orders/{id}/cancel", h.PatientOrderCancel)
		r.Post("/orders/{id}/delivery-code", h.PatientDeliveryCode)
	})

	r.Route("/api/staff", func(r chi.Router) {
		r.Use(middleware.StaffAuth(deps.Authorizer))

		r.Get("/queue/pending", h.StaffQueuePending)
		r.Get("/queue/resolve", h.StaffQueueResolve)
		r.Post("/queue/{id}/claim", h.StaffQueueClaim)
		r.Post("/queue/{id}/start", h.StaffQueueStart)
		r.Post("/queue/{id}/ready", h.StaffQueueReady)
		r.Post("/queue/{id}/cancel", h.StaffQueueCancel)

		r.Get("/orders/{id}", h.StaffOrderGet)
		r.Post("/orders/{id}/confirm", h.StaffOrderConfirm)

		r.Post("/counters", h.StaffCounterCreate)
		r.Post("/counters/{id}/session/start", h.StaffCounterSessionStart)
		r.Post("/counters/{id}/session/end", h.StaffCounterSessionEnd)

		r.Post("/pickup/redeem", h.StaffPickupRedeem)
		r.Post("/pickup/{id}/pay", h.StaffPickupPay)
		r.Get("/pickup/{id}/receipt", h.StaffPickupReceipt)

		r.Post("/delivery/{id}/assign", h.StaffDeliveryAssign)

		r.Post("/inventory/lots", h.StaffLotReceive)
		r.Get("/inventory/lots/{id}/movements", h.StaffLotMovements)
		r.Post("/inventory/lots/{id}/replenish", h.StaffLotReplenish)
	})

	r.Route("/api/courier", func(r chi.Router) {
		r.Use(middleware.CourierAuth(deps.Authorizer))

		r.Post("/delivery/{id}/pickup", h.CourierDeliveryPickup)
		r.Post("/delivery/{id}/location", h.CourierDeliveryLocation)
		r.Post("/delivery/{id}/confirm", h.CourierDeliveryConfirm)
		r.Post("/delivery/{id}/proof", h.CourierDeliveryProof)
	})

	if deps.WS != nil {
		r.Get("/ws/staff/queue", deps.WS.StaffQueueWS)
		r.Get("/ws/public/tracking/{trackingNumber}", deps.WS.PublicTrackingWS)
	}

	return r
}

func setResponseHeader(name string, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(name, value)
			next.ServeHTTP(w, r)
		})
	}
}
