package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"pharmacy-order-services/internal/auth"
	"pharmacy-order-services/internal/config"
	"pharmacy-order-services/internal/fulfillment"
	"pharmacy-order-services/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// PendingLister supplies the pending-queue snapshot sent on subscribe.
type PendingLister interface {
	ListPending(ctx context.Context, providerID string) ([]fulfillment.QueueEntry, error)
}

// Tracker supplies the public tracking snapshot sent on subscribe.
type Tracker interface {
	Track(ctx context.Context, trackingNumber string) (fulfillment.Tracking, error)
}

type Server struct {
	Logger *zap.Logger
	Config config.Config

	authorizer middleware.ActorAuthorizer
	queue      PendingLister
	tracker    Tracker

	staffQueue *hub
	tracking   *hub
}

func New(logger *zap.Logger, cfg config.Config, authorizer middleware.ActorAuthorizer, queue PendingLister, tracker Tracker) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Logger:     logger,
		Config:     cfg,
		authorizer: authorizer,
		queue:      queue,
		tracker:    tracker,
		staffQueue: newHub(),
		tracking:   newHub(),
	}
}

type wsRealtimeClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsRealtimeClient) writeJSON(value any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(value)
}

func (c *wsRealtimeClient) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// hub fans messages out to clients subscribed under a key.
type hub struct {
	mu   sync.RWMutex
	subs map[string]map[*wsRealtimeClient]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*wsRealtimeClient]struct{})}
}

func (h *hub) subscribe(key string, client *wsRealtimeClient) (unsubscribe func()) {
	key = strings.TrimSpace(key)
	if key == "" {
		return func() {}
	}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*wsRealtimeClient]struct{})
	}
	h.subs[key][client] = struct{}{}
	h.mu.Unlock()

	return func() { h.remove(key, client) }
}

func (h *hub) remove(key string, client *wsRealtimeClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.subs[key]
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.subs, key)
	}
}

func (h *hub) broadcast(key string, message any) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}

	h.mu.RLock()
	clientsMap := h.subs[key]
	clients := make([]*wsRealtimeClient, 0, len(clientsMap))
	for c := range clientsMap {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(message); err != nil {
			_ = c.conn.Close()
			h.remove(key, c)
		}
	}
}

func (h *hub) count(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

var staffQueueKinds = map[fulfillment.EventKind]bool{
	fulfillment.EventOrderPlaced:         true,
	fulfillment.EventOrderConfirmed:      true,
	fulfillment.EventOrderReady:          true,
	fulfillment.EventOrderCompleted:      true,
	fulfillment.EventOrderCancelled:      true,
	fulfillment.EventQueueEntryCreated:   true,
	fulfillment.EventQueueEntryClaimed:   true,
	fulfillment.EventQueueEntryPreparing: true,
	fulfillment.EventQueueEntryReleased:  true,
	fulfillment.EventPickupRedeemed:      true,
	fulfillment.EventCounterSession:      true,
	fulfillment.EventLowStock:            true,
}

// Notify pushes a committed event to the realtime feeds. One-time codes are
// never sent over websockets.
func (s *Server) Notify(_ context.Context, evt fulfillment.Event) error {
	evt = evt.Redacted()
	if staffQueueKinds[evt.Kind] && evt.ProviderID != "" {
		s.staffQueue.broadcast(evt.ProviderID, map[string]any{"type": "queue.event", "event": evt})
	}
	if trackingNumber, ok := evt.Payload["trackingNumber"].(string); ok && trackingNumber != "" {
		switch evt.Kind {
		case fulfillment.EventDeliveryLocation, fulfillment.EventDeliveryInTransit,
			fulfillment.EventDeliveryDelivered, fulfillment.EventCourierAssigned:
			s.tracking.broadcast(trackingNumber, map[string]any{"type": "tracking.update", "event": evt})
		}
	}
	return nil
}

func (s *Server) StaffQueueWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	token := r.URL.Query().Get("token")
	if bearer := auth.ParseBearerToken(token); bearer != "" {
		token = bearer
	}
	ac, err := s.authorizer.AuthorizeActor(r.Context(), token)
	if err != nil || ac.ProviderID == "" || (ac.Role != auth.RolePharmacyStaff && ac.Role != auth.RolePharmacyOwner) {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "unauthorized"})
		return
	}

	ctx := r.Context()
	client := &wsRealtimeClient{conn: conn}
	unsubscribe := s.staffQueue.subscribe(ac.ProviderID, client)
	defer unsubscribe()

	if s.queue != nil {
		if pending, listErr := s.queue.ListPending(ctx, ac.ProviderID); listErr == nil {
			_ = client.writeJSON(map[string]any{"type": "queue.state", "data": pending})
		} else {
			s.Logger.Warn("ws queue snapshot failed", zap.String("providerId", ac.ProviderID), zap.Error(listErr))
		}
	}

	s.serve(ctx, client)
}

func (s *Server) PublicTrackingWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	trackingNumber := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "trackingNumber")))
	token := r.URL.Query().Get("token")
	if trackingNumber == "" || token == "" || s.tracker == nil {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "invalid request"})
		return
	}

	ctx := r.Context()
	view, err := s.tracker.Track(ctx, trackingNumber)
	if err != nil || !auth.VerifyTrackingToken(s.Config.TrackingTokenSecret, token, view.ProviderID, view.TrackingNumber) {
		_ = conn.WriteJSON(map[string]any{"type": "error", "message": "delivery not found"})
		return
	}

	client := &wsRealtimeClient{conn: conn}
	unsubscribe := s.tracking.subscribe(view.TrackingNumber, client)
	defer unsubscribe()

	_ = client.writeJSON(map[string]any{"type": "tracking.state", "data": view})

	s.serve(ctx, client)
}

// serve keeps the connection alive with pings until the client goes away.
func (s *Server) serve(ctx context.Context, client *wsRealtimeClient) {
	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, readErr := client.conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	interval := s.Config.WSHeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-clientClosed:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}
