package fulfillment

import (
	"context"
	"errors"
	"strings"
)

// CounterRegistry binds staff to physical service points.
type CounterRegistry struct {
	*core
}

// Register adds a counter to the actor's provider.
func (r *CounterRegistry) Register(ctx context.Context, owner Actor, name string) (Counter, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Counter{}, ValidationError("Counter name is required")
	}
	if owner.ProviderID == "" {
		return Counter{}, ValidationError("Provider is required")
	}
	counter := Counter{ID: newID(), ProviderID: owner.ProviderID, Name: name}
	err := r.run(ctx, func(q Queries, _ *eventBatch) error {
		if _, err := q.GetProvider(ctx, owner.ProviderID); err != nil {
			return lookupErr(err, "Provider")
		}
		return q.InsertCounter(ctx, counter)
	})
	if err != nil {
		return Counter{}, err
	}
	return counter, nil
}

// StartSession seats staff at the counter. Check and bind are one conditional
// update; starting one's own running session again succeeds without change.
func (r *CounterRegistry) StartSession(ctx context.Context, staff Actor, counterID string) (Counter, error) {
	var out Counter
	err := r.run(ctx, func(q Queries, batch *eventBatch) error {
		counter, err := r.scopedCounter(ctx, q, staff, counterID)
		if err != nil {
			return err
		}
		ok, err := q.BindCounter(ctx, counter.ID, staff.ID, batch.now)
		if errors.Is(err, ErrDuplicate) {
			return Conflict(ErrStaffAlreadySeated, "Staff member already occupies another counter")
		}
		if err != nil {
			return err
		}
		if !ok {
			return CounterOccupied()
		}

		out, err = q.GetCounter(ctx, counter.ID)
		if err != nil {
			return err
		}
		if counter.CurrentStaff == nil {
			batch.add(EventCounterSession, counter.ProviderID, "", counter.ProviderID, map[string]any{
				"counterId": counter.ID,
				"staffId":   staff.ID,
				"active":    true,
			})
		}
		return nil
	})
	return out, err
}

// EndSession frees the counter. Only the occupant may end a session.
func (r *CounterRegistry) EndSession(ctx context.Context, staff Actor, counterID string) (Counter, error) {
	var out Counter
	err := r.run(ctx, func(q Queries, batch *eventBatch) error {
		counter, err := r.scopedCounter(ctx, q, staff, counterID)
		if err != nil {
			return err
		}
		ok, err := q.ReleaseCounter(ctx, counter.ID, staff.ID)
		if err != nil {
			return err
		}
		if !ok {
			return NotOccupant()
		}
		counter.CurrentStaff = nil
		counter.SessionStartedAt = nil
		batch.add(EventCounterSession, counter.ProviderID, "", counter.ProviderID, map[string]any{
			"counterId": counter.ID,
			"staffId":   staff.ID,
			"active":    false,
		})
		out = counter
		return nil
	})
	return out, err
}

func (r *CounterRegistry) scopedCounter(ctx context.Context, q Queries, staff Actor, counterID string) (Counter, error) {
	counter, err := q.GetCounter(ctx, counterID)
	if err != nil {
		return Counter{}, lookupErr(err, "Counter")
	}
	if counter.ProviderID != staff.ProviderID {
		return Counter{}, NotFound("Counter")
	}
	return counter, nil
}
