package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"pharmacy-order-services/internal/fulfillment"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	EventsExchange           = "pharmacy.events"
	EventsQueue              = "pharmacy.notifications"
	NotificationJobsExchange = "pharmacy.notification_jobs"
	NotificationJobsQueue    = "pharmacy.notification_jobs.process"
	NotificationJobsDLQ      = "pharmacy.notification_jobs.dlq"
	NotificationJobsRK       = "process"
	NotificationJobsDeadRK   = "dead"

	ReceiptEmailExchange = "pharmacy.receipt_email"
	ReceiptEmailQueue    = "pharmacy.receipt_email.send"
	ReceiptEmailDLQ      = "pharmacy.receipt_email.dlq"
	ReceiptEmailRK       = "send"
	ReceiptEmailDeadRK   = "dead"
)

// EventBindings are the routing keys the translator listens to. '#' matches
// multi-segment kinds such as 'queue.entry.created'.
var EventBindings = []string{"order.#", "delivery.#"}

// EnsureEventsTopology declares the events exchange and the translator queue.
func EnsureEventsTopology(ctx context.Context, qc *Client) error {
	if qc == nil {
		return nil
	}
	if err := qc.EnsureExchange(EventsExchange); err != nil {
		return err
	}
	if _, err := qc.EnsureQueue(EventsQueue); err != nil {
		return err
	}
	for _, rk := range EventBindings {
		if err := qc.BindQueue(EventsQueue, EventsExchange, rk); err != nil {
			return err
		}
	}
	return nil
}

func EnsureNotificationJobsTopology(ctx context.Context, qc *Client) error {
	return ensureJobTopology(qc, NotificationJobsExchange, NotificationJobsQueue, NotificationJobsDLQ, NotificationJobsRK, NotificationJobsDeadRK)
}

func EnsureReceiptEmailTopology(ctx context.Context, qc *Client) error {
	return ensureJobTopology(qc, ReceiptEmailExchange, ReceiptEmailQueue, ReceiptEmailDLQ, ReceiptEmailRK, ReceiptEmailDeadRK)
}

func ensureJobTopology(qc *Client, exchange, queueName, dlq, rk, deadRK string) error {
	if qc == nil {
		return nil
	}

	if err := qc.EnsureExchangeKind(exchange, "direct"); err != nil {
		return err
	}

	if _, err := qc.EnsureQueue(dlq); err != nil {
		return err
	}
	if err := qc.BindQueue(dlq, exchange, deadRK); err != nil {
		return err
	}

	_, err := qc.EnsureQueueWithArgs(queueName, amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": deadRK,
	})
	if err != nil {
		return err
	}
	return qc.BindQueue(queueName, exchange, rk)
}

// Publisher forwards committed events to the events exchange keyed by kind.
type Publisher struct {
	qc *Client
}

func NewPublisher(qc *Client) *Publisher {
	return &Publisher{qc: qc}
}

func (p *Publisher) Notify(ctx context.Context, evt fulfillment.Event) error {
	if p == nil || p.qc == nil {
		return nil
	}
	return p.qc.PublishMessage(ctx, EventsExchange, string(evt.Kind), Message{ID: evt.ID, Type: string(evt.Kind), Payload: evt})
}

// Deduper suppresses redelivered events.
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
}

type jobPublisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, payload any) error
}

// Translator turns fulfillment events into notification and receipt jobs.
type Translator struct {
	jobs   jobPublisher
	dedup  Deduper
	logger *zap.Logger
	now    func() time.Time
}

func NewTranslator(qc *Client, dedup Deduper, logger *zap.Logger) *Translator {
	return newTranslator(qc, dedup, logger)
}

func newTranslator(jobs jobPublisher, dedup Deduper, logger *zap.Logger) *Translator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Translator{jobs: jobs, dedup: dedup, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (t *Translator) Process(ctx context.Context, body []byte) error {
	var evt fulfillment.Event
	if err := json.Unmarshal(body, &evt); err != nil {
		// A malformed envelope will never parse; drop it instead of retrying.
		t.logger.Warn("discarding malformed event", zap.Error(err))
		return nil
	}
	if strings.TrimSpace(string(evt.Kind)) == "" {
		return nil
	}

	if t.dedup != nil && evt.ID != "" {
		first, err := t.dedup.FirstSeen(ctx, evt.ID)
		if err != nil {
			t.logger.Warn("event dedup unavailable", zap.String("eventId", evt.ID), zap.Error(err))
		} else if !first {
			return nil
		}
	}

	if status := patientStatus(evt); status != "" && evt.Recipient != "" {
		payload := map[string]any{
			"kind":      "push.patient_order_status",
			"orderId":   evt.OrderID,
			"patientId": evt.Recipient,
			"status":    status,
		}
		for _, key := range []string{"issuedCode", "qrToken", "verificationCode", "trackingNumber", "confirmationCode", "deliveryMethod"} {
			if v, ok := evt.Payload[key]; ok {
				payload[key] = v
			}
		}
		if err := t.publishJob(ctx, NotificationJobsExchange, NotificationJobsRK, "push.patient_order_status", payload); err != nil {
			return err
		}
	}

	if evt.Kind == fulfillment.EventCourierAssigned && evt.Recipient != "" {
		payload := map[string]any{
			"kind":           "push.courier_assignment",
			"orderId":        evt.OrderID,
			"courierId":      evt.Recipient,
			"deliveryId":     evt.Payload["deliveryId"],
			"trackingNumber": evt.Payload["trackingNumber"],
		}
		if err := t.publishJob(ctx, NotificationJobsExchange, NotificationJobsRK, "push.courier_assignment", payload); err != nil {
			return err
		}
	}

	if evt.Kind == fulfillment.EventOrderCompleted && evt.Recipient != "" {
		job := map[string]any{
			"orderId":    evt.OrderID,
			"providerId": evt.ProviderID,
			"patientId":  evt.Recipient,
			"paymentId":  evt.Payload["paymentId"],
			"total":      evt.Payload["total"],
			"currency":   evt.Payload["currency"],
			"createdAt":  t.now().Format(time.RFC3339),
			"attempt":    1,
		}
		if err := t.jobs.PublishJSON(ctx, ReceiptEmailExchange, ReceiptEmailRK, job); err != nil {
			return fmt.Errorf("publish receipt job: %w", err)
		}
	}

	return nil
}

func (t *Translator) publishJob(ctx context.Context, exchange, rk, kind string, payload map[string]any) error {
	job := map[string]any{
		"kind":      kind,
		"payload":   payload,
		"createdAt": t.now().Format(time.RFC3339),
		"attempt":   1,
	}
	if err := t.jobs.PublishJSON(ctx, exchange, rk, job); err != nil {
		return fmt.Errorf("publish %s job: %w", kind, err)
	}
	return nil
}

func patientStatus(evt fulfillment.Event) string {
	switch evt.Kind {
	case fulfillment.EventOrderConfirmed:
		return "CONFIRMED"
	case fulfillment.EventOrderReady:
		if evt.Payload["deliveryMethod"] == string(fulfillment.MethodCourier) {
			return "AWAITING_COURIER"
		}
		return "READY_FOR_PICKUP"
	case fulfillment.EventDeliveryInTransit:
		return "OUT_FOR_DELIVERY"
	case fulfillment.EventDeliveryCodeIssued:
		return "DELIVERY_CODE_REISSUED"
	case fulfillment.EventOrderCompleted:
		return "COMPLETED"
	case fulfillment.EventOrderCancelled:
		return "CANCELLED"
	default:
		return ""
	}
}
