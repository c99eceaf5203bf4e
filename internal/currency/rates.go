package currency

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateSource returns how many units of `to` one unit of `from` buys.
type RateSource interface {
	Rate(ctx context.Context, from string, to string) (decimal.Decimal, error)
}

// StaticRates quotes every currency against a common base.
type StaticRates struct {
	perBase map[string]decimal.Decimal
}

// ParseRates reads "USD:1,EUR:0.92,IDR:15800" where each value is the amount
// of that currency per one unit of the base.
func ParseRates(raw string) (*StaticRates, error) {
	rates := &StaticRates{perBase: make(map[string]decimal.Decimal)}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid rate %q", part)
		}
		code := Normalize(kv[0])
		value, err := decimal.NewFromString(strings.TrimSpace(kv[1]))
		if err != nil || !value.IsPositive() || code == "" {
			return nil, fmt.Errorf("invalid rate %q", part)
		}
		rates.perBase[code] = value
	}
	return rates, nil
}

func (s *StaticRates) Rate(_ context.Context, from string, to string) (decimal.Decimal, error) {
	from, to = Normalize(from), Normalize(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	f, ok := s.perBase[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s", from)
	}
	t, ok := s.perBase[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s", to)
	}
	return t.Div(f), nil
}

func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var zeroDecimalCurrencies = map[string]bool{
	"IDR": true,
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"ISK": true,
}

// MinorExponent is the number of minor-unit digits for a currency.
func MinorExponent(code string) int32 {
	if zeroDecimalCurrencies[Normalize(code)] {
		return 0
	}
	return 2
}
