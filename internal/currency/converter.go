package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Converter struct {
	source  RateSource
	timeout time.Duration
	logger  *zap.Logger
}

func NewConverter(source RateSource, timeout time.Duration, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{source: source, timeout: timeout, logger: logger}
}

// Convert turns amount minor units of from into minor units of to, rounding
// half away from zero.
func (c *Converter) Convert(ctx context.Context, amount int64, from string, to string) (int64, error) {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return amount, nil
	}
	if c == nil || c.source == nil {
		return 0, fmt.Errorf("no rate source configured")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	rate, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("rate %s->%s: %w", from, to, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("rate %s->%s: %w", from, to, err)
	}

	major := decimal.New(amount, -MinorExponent(from))
	converted := major.Mul(rate).Shift(MinorExponent(to)).Round(0)
	return converted.IntPart(), nil
}

// Money is an amount prepared for display.
type Money struct {
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	Formatted             string `json:"formatted"`
	ConversionUnavailable bool   `json:"conversionUnavailable,omitempty"`
}

// Display converts amount for presentation. On failure the source amount is
// returned with ConversionUnavailable set.
func (c *Converter) Display(ctx context.Context, amount int64, from string, to string) Money {
	to = Normalize(to)
	if to == "" || to == Normalize(from) {
		return NewMoney(amount, from)
	}
	converted, err := c.Convert(ctx, amount, from, to)
	if err != nil {
		if c != nil {
			c.logger.Warn("display conversion unavailable",
				zap.String("from", Normalize(from)), zap.String("to", to), zap.Error(err))
		}
		m := NewMoney(amount, from)
		m.ConversionUnavailable = true
		return m
	}
	return NewMoney(converted, to)
}

func NewMoney(amount int64, code string) Money {
	code = Normalize(code)
	return Money{Amount: amount, Currency: code, Formatted: Format(amount, code)}
}

// Format renders minor units as "USD 12.50".
func Format(amount int64, code string) string {
	exp := MinorExponent(code)
	return Normalize(code) + " " + decimal.New(amount, -exp).StringFixed(exp)
}
