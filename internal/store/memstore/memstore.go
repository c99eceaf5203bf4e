package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"pharmacy-order-services/internal/fulfillment"
)

// Store keeps every table in memory. Transactions are serialized by a single
// mutex and run against a copy of the dataset that replaces the live one
// only when fn succeeds.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ fulfillment.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newDataset()}
}

func (s *Store) InTx(ctx context.Context, fn func(q fulfillment.Queries) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&queries{d: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

type dataset struct {
	providers  map[string]fulfillment.Provider
	lots       map[string]fulfillment.Lot
	orders     map[string]fulfillment.Order
	counters   map[string]fulfillment.Counter
	movements  []fulfillment.StockMovement
	lines      []fulfillment.LineItem
	queue      []fulfillment.QueueEntry
	pickups    []fulfillment.PickupRecord
	deliveries []fulfillment.DeliveryRecord
	locations  []fulfillment.LocationSample
	payments   []fulfillment.Payment
}

func newDataset() *dataset {
	return &dataset{
		providers: make(map[string]fulfillment.Provider),
		lots:      make(map[string]fulfillment.Lot),
		orders:    make(map[string]fulfillment.Order),
		counters:  make(map[string]fulfillment.Counter),
	}
}

func (d *dataset) clone() *dataset {
	out := newDataset()
	for k, v := range d.providers {
		out.providers[k] = v
	}
	for k, v := range d.lots {
		out.lots[k] = v
	}
	for k, v := range d.orders {
		out.orders[k] = v
	}
	for k, v := range d.counters {
		out.counters[k] = v
	}
	out.movements = append([]fulfillment.StockMovement(nil), d.movements...)
	out.lines = append([]fulfillment.LineItem(nil), d.lines...)
	out.queue = append([]fulfillment.QueueEntry(nil), d.queue...)
	out.pickups = append([]fulfillment.PickupRecord(nil), d.pickups...)
	out.deliveries = append([]fulfillment.DeliveryRecord(nil), d.deliveries...)
	out.locations = append([]fulfillment.LocationSample(nil), d.locations...)
	out.payments = append([]fulfillment.Payment(nil), d.payments...)
	return out
}

type queries struct {
	d *dataset
}

var _ fulfillment.Queries = (*queries)(nil)

func ptr[T any](v T) *T {
	return &v
}

// Providers

func (q *queries) InsertProvider(_ context.Context, p fulfillment.Provider) error {
	if _, ok := q.d.providers[p.ID]; ok {
		return fulfillment.ErrDuplicate
	}
	q.d.providers[p.ID] = p
	return nil
}

func (q *queries) GetProvider(_ context.Context, id string) (fulfillment.Provider, error) {
	p, ok := q.d.providers[id]
	if !ok {
		return fulfillment.Provider{}, fulfillment.ErrNoRows
	}
	return p, nil
}

// Lots

func (q *queries) InsertLot(_ context.Context, lot fulfillment.Lot) error {
	if _, ok := q.d.lots[lot.ID]; ok {
		return fulfillment.ErrDuplicate
	}
	q.d.lots[lot.ID] = lot
	return nil
}

func (q *queries) GetLot(_ context.Context, id string) (fulfillment.Lot, error) {
	lot, ok := q.d.lots[id]
	if !ok {
		return fulfillment.Lot{}, fulfillment.ErrNoRows
	}
	return lot, nil
}

func (q *queries) LockLot(ctx context.Context, id string) (fulfillment.Lot, error) {
	return q.GetLot(ctx, id)
}

func (q *queries) AdjustLotQuantity(_ context.Context, id string, delta int64, at time.Time) (int64, int64, bool, error) {
	lot, ok := q.d.lots[id]
	if !ok {
		return 0, 0, false, fulfillment.ErrNoRows
	}
	previous := lot.Quantity
	if previous+delta < 0 {
		return previous, previous, false, nil
	}
	lot.Quantity = previous + delta
	lot.UpdatedAt = at
	q.d.lots[id] = lot
	return previous, lot.Quantity, true, nil
}

func (q *queries) InsertMovement(_ context.Context, m fulfillment.StockMovement) error {
	q.d.movements = append(q.d.movements, m)
	return nil
}

func (q *queries) ListMovements(_ context.Context, lotID string) ([]fulfillment.StockMovement, error) {
	out := make([]fulfillment.StockMovement, 0)
	for _, m := range q.d.movements {
		if m.LotID == lotID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (q *queries) HeldQuantity(_ context.Context, lotID string, excludeOrderID string, draftSince time.Time) (int64, error) {
	var held int64
	for _, line := range q.d.lines {
		if line.LotID != lotID || line.OrderID == excludeOrderID {
			continue
		}
		order, ok := q.d.orders[line.OrderID]
		if !ok {
			continue
		}
		switch order.Status {
		case fulfillment.OrderPending, fulfillment.OrderConfirmed, fulfillment.OrderPreparing, fulfillment.OrderReady:
			held += line.Quantity
		case fulfillment.OrderDraft:
			if !order.UpdatedAt.Before(draftSince) {
				held += line.Quantity
			}
		}
	}
	return held, nil
}

// Orders

func (q *queries) InsertOrder(_ context.Context, o fulfillment.Order) error {
	if _, ok := q.d.orders[o.ID]; ok {
		return fulfillment.ErrDuplicate
	}
	if o.Status == fulfillment.OrderDraft {
		for _, existing := range q.d.orders {
			if existing.PatientID == o.PatientID && existing.Status == fulfillment.OrderDraft {
				return fulfillment.ErrDuplicate
			}
		}
	}
	q.d.orders[o.ID] = o
	return nil
}

func (q *queries) GetOrder(_ context.Context, id string) (fulfillment.Order, error) {
	o, ok := q.d.orders[id]
	if !ok {
		return fulfillment.Order{}, fulfillment.ErrNoRows
	}
	return o, nil
}

func (q *queries) LockOrder(ctx context.Context, id string) (fulfillment.Order, error) {
	return q.GetOrder(ctx, id)
}

func (q *queries) FindDraftOrder(_ context.Context, patientID string) (fulfillment.Order, error) {
	for _, o := range q.d.orders {
		if o.PatientID == patientID && o.Status == fulfillment.OrderDraft {
			return o, nil
		}
	}
	return fulfillment.Order{}, fulfillment.ErrNoRows
}

// UpdateOrder rewrites the mutable cart fields. Status only moves through
// TransitionOrder.
func (q *queries) UpdateOrder(_ context.Context, o fulfillment.Order) error {
	current, ok := q.d.orders[o.ID]
	if !ok {
		return fulfillment.ErrNoRows
	}
	current.ProviderID = o.ProviderID
	current.Currency = o.Currency
	current.DeliveryMethod = o.DeliveryMethod
	current.DeliveryAddress = o.DeliveryAddress
	current.DeliveryDistance = o.DeliveryDistance
	current.DeliveryFee = o.DeliveryFee
	current.Subtotal = o.Subtotal
	current.Total = o.Total
	current.UpdatedAt = o.UpdatedAt
	q.d.orders[o.ID] = current
	return nil
}

func (q *queries) TransitionOrder(_ context.Context, id string, from []fulfillment.OrderStatus, to fulfillment.OrderStatus, at time.Time) (bool, error) {
	o, ok := q.d.orders[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if o.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	switch to {
	case fulfillment.OrderPending:
		o.PlacedAt = ptr(at)
	case fulfillment.OrderConfirmed:
		o.ConfirmedAt = ptr(at)
	case fulfillment.OrderCompleted:
		o.CompletedAt = ptr(at)
	case fulfillment.OrderCancelled:
		o.CancelledAt = ptr(at)
	}
	q.d.orders[id] = o
	return true, nil
}

func (q *queries) ListLines(_ context.Context, orderID string) ([]fulfillment.LineItem, error) {
	out := make([]fulfillment.LineItem, 0)
	for _, line := range q.d.lines {
		if line.OrderID == orderID {
			out = append(out, line)
		}
	}
	return out, nil
}

func (q *queries) InsertLine(_ context.Context, l fulfillment.LineItem) error {
	for _, existing := range q.d.lines {
		if existing.ID == l.ID || (existing.OrderID == l.OrderID && existing.LotID == l.LotID) {
			return fulfillment.ErrDuplicate
		}
	}
	q.d.lines = append(q.d.lines, l)
	return nil
}

func (q *queries) UpdateLine(_ context.Context, l fulfillment.LineItem) error {
	for i := range q.d.lines {
		if q.d.lines[i].ID == l.ID {
			q.d.lines[i].Quantity = l.Quantity
			q.d.lines[i].LineTotal = l.LineTotal
			return nil
		}
	}
	return fulfillment.ErrNoRows
}

func (q *queries) DeleteLine(_ context.Context, orderID string, lineID string) error {
	for i := range q.d.lines {
		if q.d.lines[i].ID == lineID && q.d.lines[i].OrderID == orderID {
			q.d.lines = append(q.d.lines[:i], q.d.lines[i+1:]...)
			return nil
		}
	}
	return fulfillment.ErrNoRows
}

func (q *queries) DeleteLines(_ context.Context, orderID string) error {
	kept := q.d.lines[:0]
	for _, line := range q.d.lines {
		if line.OrderID != orderID {
			kept = append(kept, line)
		}
	}
	q.d.lines = kept
	return nil
}

// Queue

func (q *queries) InsertQueueEntry(_ context.Context, e fulfillment.QueueEntry) error {
	for _, existing := range q.d.queue {
		if existing.ID == e.ID || existing.OrderID == e.OrderID || existing.IssuedCode == e.IssuedCode {
			return fulfillment.ErrDuplicate
		}
	}
	q.d.queue = append(q.d.queue, e)
	return nil
}

func (q *queries) findEntry(match func(fulfillment.QueueEntry) bool) (int, bool) {
	for i, e := range q.d.queue {
		if match(e) {
			return i, true
		}
	}
	return -1, false
}

func (q *queries) GetQueueEntry(_ context.Context, id string) (fulfillment.QueueEntry, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.ID == id })
	if !ok {
		return fulfillment.QueueEntry{}, fulfillment.ErrNoRows
	}
	return q.d.queue[i], nil
}

func (q *queries) GetQueueEntryByOrder(_ context.Context, orderID string) (fulfillment.QueueEntry, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.OrderID == orderID })
	if !ok {
		return fulfillment.QueueEntry{}, fulfillment.ErrNoRows
	}
	return q.d.queue[i], nil
}

func (q *queries) GetQueueEntryByCode(_ context.Context, providerID string, code string) (fulfillment.QueueEntry, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.ProviderID == providerID && e.IssuedCode == code })
	if !ok {
		return fulfillment.QueueEntry{}, fulfillment.ErrNoRows
	}
	return q.d.queue[i], nil
}

func (q *queries) ListQueueEntries(_ context.Context, providerID string, status fulfillment.QueueStatus) ([]fulfillment.QueueEntry, error) {
	out := make([]fulfillment.QueueEntry, 0)
	for _, e := range q.d.queue {
		if e.ProviderID == providerID && e.Status == status {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (q *queries) QueueCodeTaken(_ context.Context, code string) (bool, error) {
	_, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.IssuedCode == code })
	return ok, nil
}

func (q *queries) ClaimQueueEntry(_ context.Context, id string, staffID string, counterID string, at time.Time) (bool, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.ID == id })
	if !ok || q.d.queue[i].Status != fulfillment.QueuePending {
		return false, nil
	}
	e := &q.d.queue[i]
	e.Status = fulfillment.QueueClaimed
	e.ClaimedBy = ptr(staffID)
	e.CounterID = ptr(counterID)
	e.ClaimedAt = ptr(at)
	return true, nil
}

func (q *queries) AdvanceQueueEntry(_ context.Context, id string, staffID string, from fulfillment.QueueStatus, to fulfillment.QueueStatus, at time.Time) (bool, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.ID == id })
	if !ok {
		return false, nil
	}
	e := &q.d.queue[i]
	if e.Status != from || e.ClaimedBy == nil || *e.ClaimedBy != staffID {
		return false, nil
	}
	e.Status = to
	switch to {
	case fulfillment.QueuePreparing:
		e.PreparingAt = ptr(at)
	case fulfillment.QueueReady:
		e.ReadyAt = ptr(at)
	}
	return true, nil
}

func (q *queries) CompleteQueueEntry(_ context.Context, id string, at time.Time) (bool, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.ID == id })
	if !ok || q.d.queue[i].Status != fulfillment.QueueReady {
		return false, nil
	}
	e := &q.d.queue[i]
	e.Status = fulfillment.QueueCompleted
	e.ClaimedBy = nil
	e.CompletedAt = ptr(at)
	return true, nil
}

func (q *queries) CancelQueueEntry(_ context.Context, id string, at time.Time) (bool, error) {
	i, ok := q.findEntry(func(e fulfillment.QueueEntry) bool { return e.ID == id })
	if !ok || q.d.queue[i].Status.Terminal() {
		return false, nil
	}
	e := &q.d.queue[i]
	e.Status = fulfillment.QueueCancelled
	e.ClaimedBy = nil
	e.CancelledAt = ptr(at)
	return true, nil
}

func (q *queries) ReleaseStaleClaims(_ context.Context, claimedBefore time.Time) ([]fulfillment.QueueEntry, error) {
	out := make([]fulfillment.QueueEntry, 0)
	for i := range q.d.queue {
		e := &q.d.queue[i]
		if e.Status != fulfillment.QueueClaimed || e.ClaimedAt == nil || !e.ClaimedAt.Before(claimedBefore) {
			continue
		}
		e.Status = fulfillment.QueuePending
		e.ClaimedBy = nil
		e.CounterID = nil
		e.ClaimedAt = nil
		out = append(out, *e)
	}
	return out, nil
}

// Counters

func (q *queries) InsertCounter(_ context.Context, c fulfillment.Counter) error {
	if _, ok := q.d.counters[c.ID]; ok {
		return fulfillment.ErrDuplicate
	}
	q.d.counters[c.ID] = c
	return nil
}

func (q *queries) GetCounter(_ context.Context, id string) (fulfillment.Counter, error) {
	c, ok := q.d.counters[id]
	if !ok {
		return fulfillment.Counter{}, fulfillment.ErrNoRows
	}
	return c, nil
}

func (q *queries) LockCounter(ctx context.Context, id string) (fulfillment.Counter, error) {
	return q.GetCounter(ctx, id)
}

func (q *queries) CounterForStaff(_ context.Context, staffID string) (fulfillment.Counter, error) {
	for _, c := range q.d.counters {
		if c.CurrentStaff != nil && *c.CurrentStaff == staffID {
			return c, nil
		}
	}
	return fulfillment.Counter{}, fulfillment.ErrNoRows
}

func (q *queries) BindCounter(_ context.Context, id string, staffID string, at time.Time) (bool, error) {
	c, ok := q.d.counters[id]
	if !ok {
		return false, nil
	}
	if c.CurrentStaff != nil {
		return *c.CurrentStaff == staffID, nil
	}
	for otherID, other := range q.d.counters {
		if otherID != id && other.CurrentStaff != nil && *other.CurrentStaff == staffID {
			return false, fulfillment.ErrDuplicate
		}
	}
	c.CurrentStaff = ptr(staffID)
	c.SessionStartedAt = ptr(at)
	q.d.counters[id] = c
	return true, nil
}

func (q *queries) ReleaseCounter(_ context.Context, id string, staffID string) (bool, error) {
	c, ok := q.d.counters[id]
	if !ok || c.CurrentStaff == nil || *c.CurrentStaff != staffID {
		return false, nil
	}
	c.CurrentStaff = nil
	c.SessionStartedAt = nil
	q.d.counters[id] = c
	return true, nil
}

// Pickups

func (q *queries) InsertPickup(_ context.Context, p fulfillment.PickupRecord) error {
	for _, existing := range q.d.pickups {
		if existing.ID == p.ID || existing.OrderID == p.OrderID ||
			existing.QRToken == p.QRToken || existing.VerificationCode == p.VerificationCode {
			return fulfillment.ErrDuplicate
		}
	}
	q.d.pickups = append(q.d.pickups, p)
	return nil
}

func (q *queries) findPickup(match func(fulfillment.PickupRecord) bool) (int, bool) {
	for i, p := range q.d.pickups {
		if match(p) {
			return i, true
		}
	}
	return -1, false
}

func (q *queries) GetPickup(_ context.Context, id string) (fulfillment.PickupRecord, error) {
	i, ok := q.findPickup(func(p fulfillment.PickupRecord) bool { return p.ID == id })
	if !ok {
		return fulfillment.PickupRecord{}, fulfillment.ErrNoRows
	}
	return q.d.pickups[i], nil
}

func (q *queries) GetPickupByOrder(_ context.Context, orderID string) (fulfillment.PickupRecord, error) {
	i, ok := q.findPickup(func(p fulfillment.PickupRecord) bool { return p.OrderID == orderID })
	if !ok {
		return fulfillment.PickupRecord{}, fulfillment.ErrNoRows
	}
	return q.d.pickups[i], nil
}

func (q *queries) FindPickupByToken(_ context.Context, token string) (fulfillment.PickupRecord, error) {
	i, ok := q.findPickup(func(p fulfillment.PickupRecord) bool { return p.QRToken == token || p.VerificationCode == token })
	if !ok {
		return fulfillment.PickupRecord{}, fulfillment.ErrNoRows
	}
	return q.d.pickups[i], nil
}

func (q *queries) PickupTokenTaken(_ context.Context, token string) (bool, error) {
	_, ok := q.findPickup(func(p fulfillment.PickupRecord) bool { return p.QRToken == token || p.VerificationCode == token })
	return ok, nil
}

func (q *queries) MarkPickupScanned(_ context.Context, id string, staffID string, counterID string, at time.Time) (bool, error) {
	i, ok := q.findPickup(func(p fulfillment.PickupRecord) bool { return p.ID == id })
	if !ok || q.d.pickups[i].ScannedBy != nil {
		return false, nil
	}
	p := &q.d.pickups[i]
	p.ScannedBy = ptr(staffID)
	p.ScannedCounterID = ptr(counterID)
	p.ScannedAt = ptr(at)
	return true, nil
}

func (q *queries) MarkPickupPaid(_ context.Context, id string, at time.Time) (bool, error) {
	i, ok := q.findPickup(func(p fulfillment.PickupRecord) bool { return p.ID == id })
	if !ok || q.d.pickups[i].PaymentCompleted || q.d.pickups[i].ScannedBy == nil {
		return false, nil
	}
	p := &q.d.pickups[i]
	p.PaymentCompleted = true
	p.PaidAt = ptr(at)
	return true, nil
}

// Deliveries

func (q *queries) InsertDelivery(_ context.Context, d fulfillment.DeliveryRecord) error {
	for _, existing := range q.d.deliveries {
		if existing.ID == d.ID || existing.OrderID == d.OrderID || existing.TrackingNumber == d.TrackingNumber {
			return fulfillment.ErrDuplicate
		}
	}
	q.d.deliveries = append(q.d.deliveries, d)
	return nil
}

func (q *queries) findDelivery(match func(fulfillment.DeliveryRecord) bool) (int, bool) {
	for i, d := range q.d.deliveries {
		if match(d) {
			return i, true
		}
	}
	return -1, false
}

func (q *queries) GetDelivery(_ context.Context, id string) (fulfillment.DeliveryRecord, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return fulfillment.DeliveryRecord{}, fulfillment.ErrNoRows
	}
	return q.d.deliveries[i], nil
}

func (q *queries) LockDelivery(ctx context.Context, id string) (fulfillment.DeliveryRecord, error) {
	return q.GetDelivery(ctx, id)
}

func (q *queries) GetDeliveryByOrder(_ context.Context, orderID string) (fulfillment.DeliveryRecord, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.OrderID == orderID })
	if !ok {
		return fulfillment.DeliveryRecord{}, fulfillment.ErrNoRows
	}
	return q.d.deliveries[i], nil
}

func (q *queries) GetDeliveryByTracking(_ context.Context, trackingNumber string) (fulfillment.DeliveryRecord, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.TrackingNumber == trackingNumber })
	if !ok {
		return fulfillment.DeliveryRecord{}, fulfillment.ErrNoRows
	}
	return q.d.deliveries[i], nil
}

func (q *queries) TrackingNumberTaken(_ context.Context, trackingNumber string) (bool, error) {
	_, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.TrackingNumber == trackingNumber })
	return ok, nil
}

func (q *queries) AssignCourier(_ context.Context, id string, courierID string, at time.Time) (bool, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return false, nil
	}
	d := &q.d.deliveries[i]
	switch d.Status {
	case fulfillment.DeliveryPendingAssignment:
		d.Status = fulfillment.DeliveryAssigned
	case fulfillment.DeliveryAssigned, fulfillment.DeliveryInTransit:
	default:
		return false, nil
	}
	d.CourierID = ptr(courierID)
	d.AssignedAt = ptr(at)
	return true, nil
}

func (q *queries) MarkInTransit(_ context.Context, id string, courierID string, at time.Time) (bool, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return false, nil
	}
	d := &q.d.deliveries[i]
	if d.Status != fulfillment.DeliveryAssigned || d.CourierID == nil || *d.CourierID != courierID {
		return false, nil
	}
	d.Status = fulfillment.DeliveryInTransit
	d.PickedUpAt = ptr(at)
	return true, nil
}

func (q *queries) MarkDelivered(_ context.Context, id string, at time.Time) (bool, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok || q.d.deliveries[i].Status != fulfillment.DeliveryInTransit {
		return false, nil
	}
	d := &q.d.deliveries[i]
	d.Status = fulfillment.DeliveryDelivered
	d.DeliveredAt = ptr(at)
	return true, nil
}

func (q *queries) CancelDelivery(_ context.Context, id string) (bool, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return false, nil
	}
	d := &q.d.deliveries[i]
	if d.Status == fulfillment.DeliveryDelivered || d.Status == fulfillment.DeliveryCancelled {
		return false, nil
	}
	d.Status = fulfillment.DeliveryCancelled
	return true, nil
}

func (q *queries) SetProofPhoto(_ context.Context, id string, url string) error {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return fulfillment.ErrNoRows
	}
	q.d.deliveries[i].ProofPhotoURL = ptr(url)
	return nil
}

func (q *queries) RecordFailedConfirmation(_ context.Context, id string) (int, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return 0, fulfillment.ErrNoRows
	}
	q.d.deliveries[i].FailedAttempts++
	return q.d.deliveries[i].FailedAttempts, nil
}

func (q *queries) ReplaceConfirmationHash(_ context.Context, id string, hash string) (bool, error) {
	i, ok := q.findDelivery(func(d fulfillment.DeliveryRecord) bool { return d.ID == id })
	if !ok {
		return false, nil
	}
	d := &q.d.deliveries[i]
	if d.Status == fulfillment.DeliveryDelivered || d.Status == fulfillment.DeliveryCancelled {
		return false, nil
	}
	d.ConfirmationHash = hash
	d.FailedAttempts = 0
	return true, nil
}

func (q *queries) AppendLocation(_ context.Context, s fulfillment.LocationSample) (fulfillment.LocationSample, error) {
	var seq int64
	for _, existing := range q.d.locations {
		if existing.DeliveryID == s.DeliveryID && existing.Seq > seq {
			seq = existing.Seq
		}
	}
	s.Seq = seq + 1
	q.d.locations = append(q.d.locations, s)
	return s, nil
}

func (q *queries) ListLocations(_ context.Context, deliveryID string) ([]fulfillment.LocationSample, error) {
	out := make([]fulfillment.LocationSample, 0)
	for _, s := range q.d.locations {
		if s.DeliveryID == deliveryID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Payments

func (q *queries) InsertPayment(_ context.Context, p fulfillment.Payment) error {
	q.d.payments = append(q.d.payments, p)
	return nil
}

func (q *queries) ListPayments(_ context.Context, orderID string) ([]fulfillment.Payment, error) {
	out := make([]fulfillment.Payment, 0)
	for _, p := range q.d.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}
