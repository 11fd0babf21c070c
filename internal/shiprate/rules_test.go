package shiprate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func i64(v int64) *int64 { return &v }

func standardRanges() []WeightRange {
	return []WeightRange{
		{MinG: 0, MaxG: i64(2000), Price: 500},
		{MinG: 2000, MaxG: i64(5000), Price: 800},
		{MinG: 5000, MaxG: nil, Price: 1200},
	}
}

func TestWeightRangesBoundaries(t *testing.T) {
	rule := Rule{Kind: KindWeightRanges, WeightRanges: standardRanges(), Active: true}

	cases := []struct {
		weightG int64
		want    int64
	}{
		{0, 500},
		{1999, 500},
		{2000, 800}, // lower bound of the second band wins
		{4999, 800},
		{5000, 1200},
		{9000, 1200}, // unbounded top band
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, rule.FinalPrice(1000, tc.weightG, 5000), "weight %d", tc.weightG)
	}
}

func TestFreeShippingThresholdOverridesEverything(t *testing.T) {
	rule := Rule{
		Kind:                  KindWeightRanges,
		WeightRanges:          standardRanges(),
		FreeShippingThreshold: i64(4000),
		MinOrderValue:         i64(10000),
		MaxWeightG:            i64(100),
		Active:                true,
	}
	require.Equal(t, int64(0), rule.FinalPrice(1000, 3000, 4000))
	require.Equal(t, int64(0), rule.FinalPrice(1000, 3000, 5000))
}

func TestMarginPriceFloorsAtZero(t *testing.T) {
	percent := Rule{Kind: KindMarginPercent, MarginBps: -15000, Active: true}
	require.Equal(t, int64(0), percent.FinalPrice(1000, 500, 2000))

	fixed := Rule{Kind: KindMarginFixed, MarginFixed: -1500, Active: true}
	require.Equal(t, int64(0), fixed.FinalPrice(1000, 500, 2000))
}

func TestMinOrderValueStepsAside(t *testing.T) {
	rule := Rule{Kind: KindFixed, FixedPrice: i64(700), MinOrderValue: i64(2000), Active: true}
	require.Equal(t, int64(990), rule.FinalPrice(990, 1000, 1999))
	require.Equal(t, int64(700), rule.FinalPrice(990, 1000, 2000))
}

func TestWeightBoundsStepAside(t *testing.T) {
	rule := Rule{Kind: KindFixed, FixedPrice: i64(700), MinWeightG: i64(500), MaxWeightG: i64(3000), Active: true}
	require.Equal(t, int64(990), rule.FinalPrice(990, 499, 5000))
	require.Equal(t, int64(700), rule.FinalPrice(990, 500, 5000))
	require.Equal(t, int64(700), rule.FinalPrice(990, 3000, 5000))
	require.Equal(t, int64(990), rule.FinalPrice(990, 3001, 5000))
}

func TestMarginKinds(t *testing.T) {
	percent := Rule{Kind: KindMarginPercent, MarginBps: 1500, Active: true}
	require.Equal(t, int64(1150), percent.FinalPrice(1000, 1000, 5000))

	fixed := Rule{Kind: KindMarginFixed, MarginFixed: 250, Active: true}
	require.Equal(t, int64(1250), fixed.FinalPrice(1000, 1000, 5000))

	boxtal := Rule{Kind: KindBoxtalOnly, Active: true}
	require.Equal(t, int64(1000), boxtal.FinalPrice(1000, 1000, 5000))
}

func TestResolveActivePriority(t *testing.T) {
	exactFR := Rule{ID: "fr", Kind: KindFixed, ShippingType: TypeHome, Country: "FR", Active: true}
	allCountries := Rule{ID: "all", Kind: KindFixed, ShippingType: TypeHome, Country: CountryAll, Active: true}
	legacy := Rule{ID: "legacy", Kind: KindFixed, Active: true}
	relay := Rule{ID: "relay", Kind: KindFixed, ShippingType: TypeRelay, Country: "FR", Active: true}

	t.Run("exact country wins", func(t *testing.T) {
		rule, ok := ResolveActive([]Rule{allCountries, exactFR}, TypeHome, "FR")
		require.True(t, ok)
		require.Equal(t, "fr", rule.ID)
	})

	t.Run("ALL fallback", func(t *testing.T) {
		rule, ok := ResolveActive([]Rule{allCountries, exactFR}, TypeHome, "BE")
		require.True(t, ok)
		require.Equal(t, "all", rule.ID)
	})

	t.Run("legacy no-type fallback", func(t *testing.T) {
		rule, ok := ResolveActive([]Rule{legacy, relay}, TypeHome, "FR")
		require.True(t, ok)
		require.Equal(t, "legacy", rule.ID)
	})

	t.Run("cross-type last resort", func(t *testing.T) {
		rule, ok := ResolveActive([]Rule{relay}, TypeHome, "FR")
		require.True(t, ok)
		require.Equal(t, "relay", rule.ID)
	})

	t.Run("inactive rules never match", func(t *testing.T) {
		inactive := exactFR
		inactive.Active = false
		_, ok := ResolveActive([]Rule{inactive}, TypeHome, "FR")
		require.False(t, ok)
	})
}

func TestValidateRanges(t *testing.T) {
	require.NoError(t, ValidateRanges(standardRanges()))

	require.Error(t, ValidateRanges(nil))
	require.Error(t, ValidateRanges([]WeightRange{{MinG: -1, MaxG: i64(100), Price: 5}}))
	require.Error(t, ValidateRanges([]WeightRange{{MinG: 100, MaxG: i64(100), Price: 5}}))
	require.Error(t, ValidateRanges([]WeightRange{
		{MinG: 0, MaxG: i64(2000), Price: 500},
		{MinG: 1500, MaxG: i64(5000), Price: 800},
	}))
	require.Error(t, ValidateRanges([]WeightRange{
		{MinG: 0, MaxG: nil, Price: 500},
		{MinG: 2000, MaxG: i64(5000), Price: 800},
	}))
}
