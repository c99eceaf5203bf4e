package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Converter is the currency-rate collaborator.
type Converter interface {
	Convert(ctx context.Context, amount int64, from string, to string) (int64, error)
}

type Deps struct {
	Store     Store
	Events    EventSink
	Logger    *zap.Logger
	Codes     *CodeGenerator
	Hasher    CodeHasher
	Converter Converter
	Now       func() time.Time
}

type Options struct {
	// CartHoldTTL bounds how long an untouched draft cart keeps holding stock.
	CartHoldTTL time.Duration
	Fees        FeeSchedule
}

type Services struct {
	Ledger     *Ledger
	Carts      *CartManager
	Dispatcher *Dispatcher
	Counters   *CounterRegistry
	Pickups    *PickupService
	Deliveries *DeliveryService
}

func New(deps Deps, opts Options) *Services {
	core := newCore(deps)
	if opts.CartHoldTTL <= 0 {
		opts.CartHoldTTL = 30 * time.Minute
	}
	if len(opts.Fees.Tiers) == 0 {
		opts.Fees = DefaultFeeSchedule()
	}

	ledger := &Ledger{core: core}
	counters := &CounterRegistry{core: core}
	pickups := &PickupService{core: core}
	deliveries := &DeliveryService{core: core}
	dispatcher := &Dispatcher{core: core, pickups: pickups, deliveries: deliveries}
	finisher := &completer{core: core, ledger: ledger, dispatcher: dispatcher}
	pickups.completer = finisher
	deliveries.completer = finisher

	carts := &CartManager{
		core:       core,
		dispatcher: dispatcher,
		holdTTL:    opts.CartHoldTTL,
		fees:       opts.Fees,
	}

	return &Services{
		Ledger:     ledger,
		Carts:      carts,
		Dispatcher: dispatcher,
		Counters:   counters,
		Pickups:    pickups,
		Deliveries: deliveries,
	}
}

type core struct {
	store     Store
	events    EventSink
	logger    *zap.Logger
	codes     *CodeGenerator
	hasher    CodeHasher
	converter Converter
	now       func() time.Time
}

func newCore(deps Deps) *core {
	c := &core{
		store:     deps.Store,
		events:    deps.Events,
		logger:    deps.Logger,
		codes:     deps.Codes,
		hasher:    deps.Hasher,
		converter: deps.Converter,
		now:       deps.Now,
	}
	if c.events == nil {
		c.events = NopSink{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.codes == nil {
		c.codes = NewCodeGenerator(0, 0)
	}
	if c.hasher == nil {
		c.hasher = BcryptHasher{}
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// run executes fn in one transaction and emits the collected events only
// after a successful commit.
func (c *core) run(ctx context.Context, fn func(q Queries, batch *eventBatch) error) error {
	var batch *eventBatch
	err := c.store.InTx(ctx, func(q Queries) error {
		batch = &eventBatch{now: c.now()}
		return fn(q, batch)
	})
	if err != nil {
		return err
	}
	for _, evt := range batch.events {
		c.events.Emit(ctx, evt)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func strPtr(s string) *string {
	return &s
}

func lookupErr(err error, what string) error {
	if errors.Is(err, ErrNoRows) {
		return NotFound(what)
	}
	return err
}
