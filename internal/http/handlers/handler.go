package handlers

import (
	"context"

	"pharmacy-order-services/internal/config"
	"pharmacy-order-services/internal/currency"
	"pharmacy-order-services/internal/fulfillment"

	"go.uber.org/zap"
)

// DisplayConverter renders order totals in the patient's display currency.
type DisplayConverter interface {
	Display(ctx context.Context, amount int64, from string, to string) currency.Money
}

// ObjectStore keeps proof photos and archived receipts.
type ObjectStore interface {
	PutProofPhoto(ctx context.Context, deliveryID string, jpeg []byte) (string, error)
	PutReceipt(ctx context.Context, orderID string, pdf []byte) (string, error)
	DeleteURL(ctx context.Context, raw string) error
}

type Handler struct {
	Services  *fulfillment.Services
	Logger    *zap.Logger
	Config    config.Config
	Converter DisplayConverter
	Objects   ObjectStore
}
