package fulfillment

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Cart is a draft order with its lines.
type Cart struct {
	Order Order      `json:"order"`
	Lines []LineItem `json:"items"`
}

// OrderDetail is the read model for a placed order.
type OrderDetail struct {
	Order    Order           `json:"order"`
	Provider Provider        `json:"provider"`
	Lines    []LineItem      `json:"items"`
	Queue    *QueueEntry     `json:"queue,omitempty"`
	Pickup   *PickupRecord   `json:"pickup,omitempty"`
	Delivery *DeliveryRecord `json:"delivery,omitempty"`
	Payments []Payment       `json:"payments"`
}

// CartManager owns draft orders until they are confirmed.
type CartManager struct {
	*core
	dispatcher *Dispatcher
	holdTTL    time.Duration
	fees       FeeSchedule
}

// GetOrCreateOpenCart returns the patient's draft, creating one bound to
// providerID when none exists. A draft bound to another provider is rejected;
// use SwitchProvider to move it.
func (c *CartManager) GetOrCreateOpenCart(ctx context.Context, patientID string, providerID string) (Cart, error) {
	if strings.TrimSpace(patientID) == "" {
		return Cart{}, ValidationError("Patient is required")
	}
	var out Cart
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		order, err := c.openCart(ctx, q, batch, patientID, providerID)
		if err != nil {
			return err
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		out = Cart{Order: order, Lines: lines}
		return nil
	})
	return out, err
}

// Current returns the patient's draft without creating one.
func (c *CartManager) Current(ctx context.Context, patientID string) (Cart, error) {
	var out Cart
	err := c.run(ctx, func(q Queries, _ *eventBatch) error {
		order, err := q.FindDraftOrder(ctx, patientID)
		if err != nil {
			return lookupErr(err, "Cart")
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		out = Cart{Order: order, Lines: lines}
		return nil
	})
	return out, err
}

// SwitchProvider rebinds the patient's draft to providerID, clearing lines and
// delivery selection when the provider changes.
func (c *CartManager) SwitchProvider(ctx context.Context, patientID string, providerID string) (Cart, error) {
	if strings.TrimSpace(providerID) == "" {
		return Cart{}, ValidationError("Provider is required")
	}
	var out Cart
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		provider, err := c.activeProvider(ctx, q, providerID)
		if err != nil {
			return err
		}
		draft, err := q.FindDraftOrder(ctx, patientID)
		if errors.Is(err, ErrNoRows) {
			order, err := c.openCart(ctx, q, batch, patientID, providerID)
			if err != nil {
				return err
			}
			out = Cart{Order: order, Lines: []LineItem{}}
			return nil
		}
		if err != nil {
			return err
		}
		order, err := q.LockOrder(ctx, draft.ID)
		if err != nil {
			return err
		}
		if order.ProviderID != provider.ID {
			if err := q.DeleteLines(ctx, order.ID); err != nil {
				return err
			}
			order.ProviderID = provider.ID
			order.Currency = provider.Currency
			resetDelivery(&order)
		}
		if err := c.recompute(ctx, q, batch, &order); err != nil {
			return err
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		out = Cart{Order: order, Lines: lines}
		return nil
	})
	return out, err
}

// AddItem adds quantity units of a lot to the patient's cart for the lot's
// provider, merging with an existing line for the same lot. The unit price is
// frozen from the lot's selling price when the line is created.
func (c *CartManager) AddItem(ctx context.Context, patientID string, lotID string, quantity int64) (Cart, error) {
	if quantity <= 0 {
		return Cart{}, ValidationError("Quantity must be greater than zero")
	}
	if strings.TrimSpace(lotID) == "" {
		return Cart{}, ValidationError("Lot is required")
	}

	var out Cart
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		stocked, err := q.GetLot(ctx, lotID)
		if err != nil {
			return lookupErr(err, "Lot")
		}
		cart, err := c.openCart(ctx, q, batch, patientID, stocked.ProviderID)
		if err != nil {
			return err
		}
		order, err := c.lockDraft(ctx, q, cart.ID)
		if err != nil {
			return err
		}
		lot, err := q.LockLot(ctx, lotID)
		if err != nil {
			return lookupErr(err, "Lot")
		}
		if lot.ExpiresAt != nil && !lot.ExpiresAt.After(batch.now) {
			return ValidationError("Lot has expired")
		}

		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		var existing *LineItem
		for i := range lines {
			if lines[i].LotID == lot.ID {
				existing = &lines[i]
				break
			}
		}

		want := quantity
		if existing != nil {
			want += existing.Quantity
		}
		if err := c.checkAvailable(ctx, q, lot, order.ID, want, batch.now); err != nil {
			return err
		}

		if existing != nil {
			existing.Quantity = want
			existing.LineTotal = existing.UnitPrice * want
			if err := q.UpdateLine(ctx, *existing); err != nil {
				return err
			}
		} else {
			line := LineItem{
				ID:           newID(),
				OrderID:      order.ID,
				MedicationID: lot.MedicationID,
				LotID:        lot.ID,
				Quantity:     quantity,
				UnitPrice:    lot.SellingPrice,
				LineTotal:    lot.SellingPrice * quantity,
				CreatedAt:    batch.now,
			}
			if err := q.InsertLine(ctx, line); err != nil {
				return err
			}
		}

		out, err = c.finish(ctx, q, batch, order)
		return err
	})
	return out, err
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (c *CartManager) UpdateQuantity(ctx context.Context, patientID string, lineID string, quantity int64) (Cart, error) {
	var out Cart
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		draft, err := q.FindDraftOrder(ctx, patientID)
		if err != nil {
			return lookupErr(err, "Cart")
		}
		order, err := c.lockDraft(ctx, q, draft.ID)
		if err != nil {
			return err
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		var line *LineItem
		for i := range lines {
			if lines[i].ID == lineID {
				line = &lines[i]
				break
			}
		}
		if line == nil {
			return NotFound("Cart item")
		}

		if quantity <= 0 {
			if err := q.DeleteLine(ctx, order.ID, line.ID); err != nil {
				return err
			}
		} else {
			lot, err := q.LockLot(ctx, line.LotID)
			if err != nil {
				return lookupErr(err, "Lot")
			}
			if quantity > line.Quantity {
				if err := c.checkAvailable(ctx, q, lot, order.ID, quantity, batch.now); err != nil {
					return err
				}
			}
			line.Quantity = quantity
			line.LineTotal = line.UnitPrice * quantity
			if err := q.UpdateLine(ctx, *line); err != nil {
				return err
			}
		}

		out, err = c.finish(ctx, q, batch, order)
		return err
	})
	return out, err
}

func (c *CartManager) RemoveItem(ctx context.Context, patientID string, lineID string) (Cart, error) {
	return c.UpdateQuantity(ctx, patientID, lineID, 0)
}

// UpdateDelivery selects the delivery method. Courier fees are tiered by
// great-circle distance and converted into the provider currency.
func (c *CartManager) UpdateDelivery(ctx context.Context, patientID string, method DeliveryMethod, address *Address) (Cart, error) {
	if !method.Valid() {
		return Cart{}, ValidationError("Delivery method must be PICKUP or COURIER")
	}
	if method == MethodCourier {
		if address == nil || strings.TrimSpace(address.Line) == "" {
			return Cart{}, ValidationError("Delivery address is required for courier delivery")
		}
		if address.Latitude != nil && address.Longitude != nil && !validCoordinate(*address.Latitude, *address.Longitude) {
			return Cart{}, ValidationError("Delivery coordinates are invalid")
		}
	}

	var (
		draft    Order
		provider Provider
	)
	err := c.run(ctx, func(q Queries, _ *eventBatch) error {
		var err error
		draft, err = q.FindDraftOrder(ctx, patientID)
		if err != nil {
			return lookupErr(err, "Cart")
		}
		provider, err = q.GetProvider(ctx, draft.ProviderID)
		return lookupErr(err, "Provider")
	})
	if err != nil {
		return Cart{}, err
	}

	// The quote runs outside the transaction: conversion may call out.
	var (
		fee      int64
		distance *float64
	)
	if method == MethodCourier {
		fee, distance = c.quoteFee(ctx, provider, address)
	}

	var out Cart
	err = c.run(ctx, func(q Queries, batch *eventBatch) error {
		order, err := c.lockDraft(ctx, q, draft.ID)
		if err != nil {
			return err
		}
		if order.ProviderID != provider.ID {
			return Conflict(ErrCartProviderMismatch, "Cart provider changed, please retry")
		}
		order.DeliveryMethod = method
		order.DeliveryFee = fee
		order.DeliveryDistance = distance
		if method == MethodCourier {
			addr := *address
			addr.Line = strings.TrimSpace(addr.Line)
			order.DeliveryAddress = &addr
		} else {
			order.DeliveryAddress = nil
		}
		out, err = c.finish(ctx, q, batch, order)
		return err
	})
	return out, err
}

func (c *CartManager) quoteFee(ctx context.Context, provider Provider, address *Address) (int64, *float64) {
	var (
		amount   int64
		distance *float64
	)
	if provider.Latitude != nil && provider.Longitude != nil && address.Latitude != nil && address.Longitude != nil {
		km := round3(haversineDistanceKm(*provider.Latitude, *provider.Longitude, *address.Latitude, *address.Longitude))
		distance = &km
		amount = c.fees.Quote(km)
	} else {
		amount = c.fees.Default
	}

	if c.fees.Currency == "" || strings.EqualFold(c.fees.Currency, provider.Currency) {
		return amount, distance
	}
	if c.converter == nil {
		c.logger.Warn("delivery fee conversion unavailable; using provider fallback fee",
			zap.String("providerId", provider.ID))
		return provider.FallbackDeliveryFee, distance
	}
	converted, err := c.converter.Convert(ctx, amount, c.fees.Currency, provider.Currency)
	if err != nil {
		c.logger.Warn("delivery fee conversion failed; using provider fallback fee",
			zap.String("providerId", provider.ID),
			zap.String("from", c.fees.Currency),
			zap.String("to", provider.Currency),
			zap.Error(err))
		return provider.FallbackDeliveryFee, distance
	}
	return converted, distance
}

// ClearCart removes every line and zeroes the totals; the cart itself stays.
func (c *CartManager) ClearCart(ctx context.Context, patientID string) (Cart, error) {
	var out Cart
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		draft, err := q.FindDraftOrder(ctx, patientID)
		if err != nil {
			return lookupErr(err, "Cart")
		}
		order, err := c.lockDraft(ctx, q, draft.ID)
		if err != nil {
			return err
		}
		if err := q.DeleteLines(ctx, order.ID); err != nil {
			return err
		}
		resetDelivery(&order)
		out, err = c.finish(ctx, q, batch, order)
		return err
	})
	return out, err
}

// Checkout submits the draft: DRAFT -> PENDING.
func (c *CartManager) Checkout(ctx context.Context, patientID string) (Cart, error) {
	var out Cart
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		draft, err := q.FindDraftOrder(ctx, patientID)
		if err != nil {
			return lookupErr(err, "Cart")
		}
		order, err := c.lockDraft(ctx, q, draft.ID)
		if err != nil {
			return err
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ValidationError("Cart is empty")
		}
		if !order.DeliveryMethod.Valid() {
			return ValidationError("Delivery method is required")
		}

		sorted := append([]LineItem(nil), lines...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].LotID < sorted[j].LotID })
		for _, line := range sorted {
			lot, err := q.LockLot(ctx, line.LotID)
			if err != nil {
				return lookupErr(err, "Lot")
			}
			if lot.ExpiresAt != nil && !lot.ExpiresAt.After(batch.now) {
				return ValidationError("Lot has expired")
			}
			if err := c.checkAvailable(ctx, q, lot, order.ID, line.Quantity, batch.now); err != nil {
				return err
			}
		}

		ok, err := q.TransitionOrder(ctx, order.ID, []OrderStatus{OrderDraft}, OrderPending, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Cart was already submitted")
		}
		order.Status = OrderPending
		order.PlacedAt = timePtr(batch.now)

		batch.add(EventOrderPlaced, order.ProviderID, order.ID, order.ProviderID, map[string]any{
			"patientId":      order.PatientID,
			"total":          order.Total,
			"currency":       order.Currency,
			"deliveryMethod": order.DeliveryMethod,
		})
		out = Cart{Order: order, Lines: lines}
		return nil
	})
	return out, err
}

// ConfirmOrder accepts a placed order (PENDING -> CONFIRMED) and enqueues it
// in the same transaction.
func (c *CartManager) ConfirmOrder(ctx context.Context, staff Actor, orderID string) (QueueEntry, error) {
	var out QueueEntry
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		order, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		if order.ProviderID != staff.ProviderID {
			return NotFound("Order")
		}
		ok, err := q.TransitionOrder(ctx, order.ID, []OrderStatus{OrderPending}, OrderConfirmed, batch.now)
		if err != nil {
			return err
		}
		if !ok {
			return InvalidState("Only pending orders can be confirmed")
		}
		order.Status = OrderConfirmed

		entry, err := c.dispatcher.enqueue(ctx, q, batch, order)
		if err != nil {
			return err
		}
		batch.add(EventOrderConfirmed, order.ProviderID, order.ID, order.PatientID, map[string]any{
			"issuedCode": entry.IssuedCode,
		})
		out = entry
		return nil
	})
	return out, err
}

// CancelOrder lets the patient withdraw an order that has not been claimed.
func (c *CartManager) CancelOrder(ctx context.Context, patientID string, orderID string) (Order, error) {
	var out Order
	err := c.run(ctx, func(q Queries, batch *eventBatch) error {
		order, err := q.LockOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		if order.PatientID != patientID {
			return NotFound("Order")
		}
		if order.Status != OrderPending && order.Status != OrderConfirmed {
			return InvalidState("Order can no longer be cancelled")
		}
		if order.Status == OrderConfirmed {
			entry, err := q.GetQueueEntryByOrder(ctx, order.ID)
			if err != nil && !errors.Is(err, ErrNoRows) {
				return err
			}
			if err == nil && entry.Status != QueuePending {
				return InvalidState("Order is already being prepared")
			}
		}
		updated, err := c.dispatcher.cancelOrder(ctx, q, batch, order, patientID)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	return out, err
}

// Order returns the order visible to actor: a patient sees their own orders,
// staff see orders of their provider.
func (c *CartManager) Order(ctx context.Context, actor Actor, orderID string) (OrderDetail, error) {
	var out OrderDetail
	err := c.run(ctx, func(q Queries, _ *eventBatch) error {
		order, err := q.GetOrder(ctx, orderID)
		if err != nil {
			return lookupErr(err, "Order")
		}
		if actor.ProviderID != "" {
			if order.ProviderID != actor.ProviderID {
				return NotFound("Order")
			}
		} else if order.PatientID != actor.ID {
			return NotFound("Order")
		}
		lines, err := q.ListLines(ctx, order.ID)
		if err != nil {
			return err
		}
		payments, err := q.ListPayments(ctx, order.ID)
		if err != nil {
			return err
		}
		provider, err := q.GetProvider(ctx, order.ProviderID)
		if err != nil {
			return lookupErr(err, "Provider")
		}
		out = OrderDetail{Order: order, Provider: provider, Lines: lines, Payments: payments}
		if entry, err := q.GetQueueEntryByOrder(ctx, order.ID); err == nil {
			out.Queue = &entry
		} else if !errors.Is(err, ErrNoRows) {
			return err
		}
		if pickup, err := q.GetPickupByOrder(ctx, order.ID); err == nil {
			out.Pickup = &pickup
		} else if !errors.Is(err, ErrNoRows) {
			return err
		}
		if delivery, err := q.GetDeliveryByOrder(ctx, order.ID); err == nil {
			out.Delivery = &delivery
		} else if !errors.Is(err, ErrNoRows) {
			return err
		}
		return nil
	})
	return out, err
}

func (c *CartManager) openCart(ctx context.Context, q Queries, batch *eventBatch, patientID string, providerID string) (Order, error) {
	draft, err := q.FindDraftOrder(ctx, patientID)
	if err == nil {
		if providerID != "" && draft.ProviderID != providerID {
			return Order{}, Conflict(ErrCartProviderMismatch, "Cart already holds items from another provider")
		}
		return draft, nil
	}
	if !errors.Is(err, ErrNoRows) {
		return Order{}, err
	}
	if strings.TrimSpace(providerID) == "" {
		return Order{}, ValidationError("Provider is required")
	}
	provider, err := c.activeProvider(ctx, q, providerID)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:         newID(),
		PatientID:  patientID,
		ProviderID: provider.ID,
		Status:     OrderDraft,
		Currency:   provider.Currency,
		CreatedAt:  batch.now,
		UpdatedAt:  batch.now,
	}
	if err := q.InsertOrder(ctx, order); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// A concurrent request created the draft first.
			return c.openCart(ctx, q, batch, patientID, providerID)
		}
		return Order{}, err
	}
	return order, nil
}

func (c *CartManager) activeProvider(ctx context.Context, q Queries, providerID string) (Provider, error) {
	provider, err := q.GetProvider(ctx, providerID)
	if err != nil {
		return Provider{}, lookupErr(err, "Provider")
	}
	if !provider.IsActive {
		return Provider{}, NotFound("Provider")
	}
	return provider, nil
}

func (c *CartManager) lockDraft(ctx context.Context, q Queries, orderID string) (Order, error) {
	order, err := q.LockOrder(ctx, orderID)
	if err != nil {
		return Order{}, lookupErr(err, "Cart")
	}
	if order.Status != OrderDraft {
		return Order{}, InvalidState("Cart was already submitted")
	}
	return order, nil
}

func (c *CartManager) checkAvailable(ctx context.Context, q Queries, lot Lot, orderID string, want int64, now time.Time) error {
	held, err := q.HeldQuantity(ctx, lot.ID, orderID, now.Add(-c.holdTTL))
	if err != nil {
		return err
	}
	available := lot.Quantity - held
	if available < 0 {
		available = 0
	}
	if want > available {
		return InsufficientStock(lot.ID, want, available)
	}
	return nil
}

// recompute keeps Total equal to the sum of line totals plus the delivery fee.
func (c *CartManager) recompute(ctx context.Context, q Queries, batch *eventBatch, order *Order) error {
	lines, err := q.ListLines(ctx, order.ID)
	if err != nil {
		return err
	}
	var subtotal int64
	for _, line := range lines {
		subtotal += line.LineTotal
	}
	order.Subtotal = subtotal
	order.Total = subtotal + order.DeliveryFee
	order.UpdatedAt = batch.now
	return q.UpdateOrder(ctx, *order)
}

func (c *CartManager) finish(ctx context.Context, q Queries, batch *eventBatch, order Order) (Cart, error) {
	if err := c.recompute(ctx, q, batch, &order); err != nil {
		return Cart{}, err
	}
	lines, err := q.ListLines(ctx, order.ID)
	if err != nil {
		return Cart{}, err
	}
	return Cart{Order: order, Lines: lines}, nil
}

func resetDelivery(order *Order) {
	order.DeliveryMethod = MethodNone
	order.DeliveryAddress = nil
	order.DeliveryDistance = nil
	order.DeliveryFee = 0
}
