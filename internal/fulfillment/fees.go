package fulfillment

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// FeeTier charges Fee for distances up to MaxKm. A tier with MaxKm 0 has no
// upper bound.
type FeeTier struct {
	MaxKm float64
	Fee   int64
}

// FeeSchedule prices courier delivery in Currency minor units.
type FeeSchedule struct {
	Currency string
	Tiers    []FeeTier
	Default  int64
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		Currency: "USD",
		Tiers: []FeeTier{
			{MaxKm: 5, Fee: 300},
			{MaxKm: 10, Fee: 500},
			{MaxKm: 20, Fee: 800},
			{MaxKm: 0, Fee: 1200},
		},
		Default: 500,
	}
}

// Quote returns the flat fee for the tier containing distanceKm.
func (s FeeSchedule) Quote(distanceKm float64) int64 {
	var unbounded *FeeTier
	for i := range s.Tiers {
		tier := s.Tiers[i]
		if tier.MaxKm <= 0 {
			unbounded = &s.Tiers[i]
			continue
		}
		if distanceKm <= tier.MaxKm {
			return tier.Fee
		}
	}
	if unbounded != nil {
		return unbounded.Fee
	}
	if len(s.Tiers) > 0 {
		return s.Tiers[len(s.Tiers)-1].Fee
	}
	return s.Default
}

// ParseFeeTiers reads "5:300,10:500,20:800,*:1200". Bounded tiers are sorted
// by distance.
func ParseFeeTiers(raw string) ([]FeeTier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	tiers := make([]FeeTier, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid fee tier %q", part)
		}
		fee, err := strconv.ParseInt(strings.TrimSpace(kv[1]), 10, 64)
		if err != nil || fee < 0 {
			return nil, fmt.Errorf("invalid fee in tier %q", part)
		}
		limit := strings.TrimSpace(kv[0])
		if limit == "*" {
			tiers = append(tiers, FeeTier{MaxKm: 0, Fee: fee})
			continue
		}
		km, err := strconv.ParseFloat(limit, 64)
		if err != nil || km <= 0 {
			return nil, fmt.Errorf("invalid distance in tier %q", part)
		}
		tiers = append(tiers, FeeTier{MaxKm: km, Fee: fee})
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].MaxKm <= 0 {
			return false
		}
		if tiers[j].MaxKm <= 0 {
			return true
		}
		return tiers[i].MaxKm < tiers[j].MaxKm
	})
	return tiers, nil
}

func haversineDistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371.0
	toRad := func(deg float64) float64 {
		return deg * math.Pi / 180
	}

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	lat1Rad := toRad(lat1)
	lat2Rad := toRad(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

func round3(value float64) float64 {
	return math.Round(value*1000) / 1000
}

func validCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
