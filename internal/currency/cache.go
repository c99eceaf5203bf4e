package currency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pharmacy-order-services/internal/redisx"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CachedRates keeps looked-up rates in redis so repeated conversions skip the
// upstream source.
type CachedRates struct {
	source RateSource
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedRates(source RateSource, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRates {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRates{source: source, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedRates) Rate(ctx context.Context, from string, to string) (decimal.Decimal, error) {
	key := fmt.Sprintf(redisx.KeyFXRate, Normalize(from), Normalize(to))
	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("fx cache read failed", zap.String("key", key), zap.Error(err))
	}

	rate, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.rdb.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("fx cache write failed", zap.String("key", key), zap.Error(err))
	}
	return rate, nil
}
