package fulfillment

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LeaseSweeper periodically returns abandoned claims to the pending queue.
type LeaseSweeper struct {
	dispatcher *Dispatcher
	lease      time.Duration
	interval   time.Duration
	logger     *zap.Logger
}

func NewLeaseSweeper(dispatcher *Dispatcher, lease, interval time.Duration, logger *zap.Logger) *LeaseSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseSweeper{dispatcher: dispatcher, lease: lease, interval: interval, logger: logger}
}

// Run blocks until ctx is done. A zero lease disables sweeping.
func (s *LeaseSweeper) Run(ctx context.Context) {
	if s.lease <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.dispatcher.ReleaseStaleClaims(ctx, s.lease); err != nil && ctx.Err() == nil {
				s.logger.Warn("claim lease sweep failed", zap.Error(err))
			}
		}
	}
}
