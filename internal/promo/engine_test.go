package promo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func summerRule() Rule {
	min := int64(3000)
	return Rule{
		Code:        "SUMMER10",
		Kind:        KindPercentage,
		PercentBps:  1000,
		MinPurchase: &min,
		Active:      true,
	}
}

func TestValidatePercentageHappyPath(t *testing.T) {
	rule := summerRule()
	lines := []CartLine{
		{ProductID: uuid.New(), UnitPrice: 2500, Qty: 2},
	}
	subtotal := Subtotal(lines)
	require.Equal(t, int64(5000), subtotal)
	require.NoError(t, rule.Validate(fixedNow(), nil, lines, subtotal))

	basis := EligibleBasis(lines, rule)
	require.Equal(t, int64(5000), basis)
	require.Equal(t, int64(500), Compute(basis, rule))
}

func TestValidateMinPurchaseUnmet(t *testing.T) {
	rule := summerRule()
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 1000, Qty: 2}}
	err := rule.Validate(fixedNow(), nil, lines, Subtotal(lines))
	require.ErrorIs(t, err, ErrMinPurchaseUnmet)
}

func TestValidateChecksRunInOrder(t *testing.T) {
	now := fixedNow()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	maxUses := int32(5)
	min := int64(10000)
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 100, Qty: 1}}

	cases := []struct {
		name string
		rule Rule
		want error
	}{
		{
			name: "inactive beats expiry",
			rule: Rule{Kind: KindFixed, Value: 100, Active: false, ValidUntil: &past},
			want: ErrInactive,
		},
		{
			name: "not started",
			rule: Rule{Kind: KindFixed, Value: 100, Active: true, ValidFrom: &future},
			want: ErrNotStarted,
		},
		{
			name: "expired beats usage cap",
			rule: Rule{Kind: KindFixed, Value: 100, Active: true, ValidUntil: &past, MaxUses: &maxUses, UsedCount: 5},
			want: ErrExpired,
		},
		{
			name: "usage cap beats per-user",
			rule: Rule{Kind: KindFixed, Value: 100, Active: true, MaxUses: &maxUses, UsedCount: 5, PerUserUsed: 1},
			want: ErrUsageLimitReached,
		},
		{
			name: "per-user beats min purchase",
			rule: Rule{Kind: KindFixed, Value: 100, Active: true, PerUserUsed: 1, MinPurchase: &min},
			want: ErrAlreadyUsed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate(now, nil, lines, Subtotal(lines))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateUserRestriction(t *testing.T) {
	allowed := uuid.New()
	other := uuid.New()
	rule := Rule{Kind: KindFixed, Value: 100, Active: true, AllowedUserIDs: []uuid.UUID{allowed}, UnlimitedPerUser: true}
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 1000, Qty: 1}}

	require.ErrorIs(t, rule.Validate(fixedNow(), nil, lines, 1000), ErrUserNotEligible)
	require.ErrorIs(t, rule.Validate(fixedNow(), &other, lines, 1000), ErrUserNotEligible)
	require.NoError(t, rule.Validate(fixedNow(), &allowed, lines, 1000))
}

func TestUnlimitedPerUserSkipsUsageCheck(t *testing.T) {
	rule := Rule{Kind: KindFixed, Value: 100, Active: true, UnlimitedPerUser: true, PerUserUsed: 3}
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 1000, Qty: 1}}
	require.NoError(t, rule.Validate(fixedNow(), nil, lines, 1000))
}

func TestEligibleBasisScopedToGamme(t *testing.T) {
	bougie := "bougies"
	savon := "savons"
	rule := Rule{Kind: KindPercentage, PercentBps: 2000, Active: true, AllowedGammes: []string{"bougies"}}
	lines := []CartLine{
		{ProductID: uuid.New(), Gamme: &bougie, UnitPrice: 1500, Qty: 2},
		{ProductID: uuid.New(), Gamme: &savon, UnitPrice: 4000, Qty: 1},
	}
	basis := EligibleBasis(lines, rule)
	require.Equal(t, int64(3000), basis)
	require.Equal(t, int64(600), Compute(basis, rule))
}

func TestEligibleBasisExcludesFreeLines(t *testing.T) {
	rule := Rule{Kind: KindFixed, Value: 500, Active: true}
	lines := []CartLine{
		{ProductID: uuid.New(), UnitPrice: 2000, Qty: 1},
		{ProductID: uuid.New(), UnitPrice: 900, Qty: 1, IsFree: true},
	}
	require.Equal(t, int64(2000), Subtotal(lines))
	require.Equal(t, int64(2000), EligibleBasis(lines, rule))
}

func TestScopedRuleWithNoMatchingLines(t *testing.T) {
	savon := "savons"
	rule := Rule{Kind: KindFixed, Value: 500, Active: true, AllowedGammes: []string{"bougies"}}
	lines := []CartLine{{ProductID: uuid.New(), Gamme: &savon, UnitPrice: 4000, Qty: 1}}
	err := rule.Validate(fixedNow(), nil, lines, Subtotal(lines))
	require.ErrorIs(t, err, ErrNotApplicable)
}

func TestComputeFixedCappedAtBasis(t *testing.T) {
	rule := Rule{Kind: KindFixed, Value: 5000}
	require.Equal(t, int64(1200), Compute(1200, rule))
	require.Equal(t, int64(5000), Compute(9000, rule))
	require.Equal(t, int64(0), Compute(0, rule))
}

func TestComputePercentageTruncates(t *testing.T) {
	rule := Rule{Kind: KindPercentage, PercentBps: 1550}
	// 15.5% of 999 cents truncates toward zero.
	require.Equal(t, int64(154), Compute(999, rule))
}

func TestComputeUnknownKindIsZero(t *testing.T) {
	require.Equal(t, int64(0), Compute(1000, Rule{Kind: "mystery", Value: 100}))
}
