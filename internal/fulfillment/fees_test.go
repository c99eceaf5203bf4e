package fulfillment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeeScheduleQuote(t *testing.T) {
	s := DefaultFeeSchedule()
	tests := []struct {
		km   float64
		want int64
	}{
		{km: 0, want: 300},
		{km: 5, want: 300},
		{km: 5.001, want: 500},
		{km: 19.9, want: 800},
		{km: 20.5, want: 1200},
		{km: 480, want: 1200},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, s.Quote(tt.km), "distance %v", tt.km)
	}

	bounded := FeeSchedule{Tiers: []FeeTier{{MaxKm: 3, Fee: 100}, {MaxKm: 8, Fee: 200}}}
	require.Equal(t, int64(200), bounded.Quote(50))
	require.Equal(t, int64(75), FeeSchedule{Default: 75}.Quote(1))
}

func TestParseFeeTiers(t *testing.T) {
	tiers, err := ParseFeeTiers("*:1500, 10:600,2.5:250")
	require.NoError(t, err)
	require.Equal(t, []FeeTier{{MaxKm: 2.5, Fee: 250}, {MaxKm: 10, Fee: 600}, {MaxKm: 0, Fee: 1500}}, tiers)

	tiers, err = ParseFeeTiers("  ")
	require.NoError(t, err)
	require.Nil(t, tiers)

	for _, raw := range []string{"5", "x:100", "5:-1", "0:100", "5:abc"} {
		_, err := ParseFeeTiers(raw)
		require.Error(t, err, raw)
	}
}

func TestHaversineDistance(t *testing.T) {
	require.InDelta(t, 111.19, haversineDistanceKm(0, 0, 1, 0), 0.01)
	require.InDelta(t, 0, haversineDistanceKm(-6.2, 106.8, -6.2, 106.8), 1e-9)
	// Jakarta to Bandung
	require.InDelta(t, 116, haversineDistanceKm(-6.2088, 106.8456, -6.9175, 107.6191), 2)
	require.Equal(t, 1.235, round3(1.23456))
}

func TestValidCoordinate(t *testing.T) {
	require.True(t, validCoordinate(-90, 180))
	require.False(t, validCoordinate(90.1, 0))
	require.False(t, validCoordinate(0, -180.5))
}
