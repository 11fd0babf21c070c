package promo

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownCode is returned when no promo code matches the input.
	ErrUnknownCode = errors.New("promo code not found")
	// ErrInactive is returned when the code has been disabled by an admin.
	ErrInactive = errors.New("promo code not active")
	// ErrNotStarted is returned before the validity window opens.
	ErrNotStarted = errors.New("promo code not yet valid")
	// ErrExpired is returned after the validity window closes.
	ErrExpired = errors.New("promo code expired")
	// ErrUsageLimitReached indicates the global usage cap is exhausted.
	ErrUsageLimitReached = errors.New("promo code usage limit reached")
	// ErrAlreadyUsed indicates the user has already redeemed a single-use code.
	ErrAlreadyUsed = errors.New("promo code already used by this user")
	// ErrMinPurchaseUnmet indicates the cart subtotal is below the code minimum.
	ErrMinPurchaseUnmet = errors.New("promo code minimum purchase not met")
	// ErrUserNotEligible is returned when the code is restricted to other users.
	ErrUserNotEligible = errors.New("promo code not available for this user")
	// ErrNotApplicable is returned when no cart line matches the code filters.
	ErrNotApplicable = errors.New("promo code not applicable to this cart")
)

// Kind selects how the discount is derived from the eligible basis.
type Kind string

const (
	// KindPercentage applies PercentBps to the eligible basis.
	KindPercentage Kind = "percentage"
	// KindFixed subtracts Value, capped at the eligible basis.
	KindFixed Kind = "fixed"
)

// Rule captures the runtime constraints of a promo code.
type Rule struct {
	Code                    string
	Kind                    Kind
	Value                   int64
	PercentBps              int32
	MinPurchase             *int64
	MaxUses                 *int32
	UsedCount               int32
	ValidFrom               *time.Time
	ValidUntil              *time.Time
	Active                  bool
	AllowedUserIDs          []uuid.UUID
	AllowedProductIDs       []uuid.UUID
	AllowedCategories       []string
	AllowedGammes           []string
	AllowedConditionnements []string
	UnlimitedPerUser        bool

	// PerUserUsed is populated by the service from the usage table before
	// Validate runs.
	PerUserUsed int64
}

// CartLine is the slice of cart state the engine needs. Free or gift lines
// never participate in eligibility or the discount basis.
type CartLine struct {
	ProductID       uuid.UUID
	VariantID       *uuid.UUID
	Category        *string
	Gamme           *string
	Conditionnement *string
	UnitPrice       int64
	Qty             int
	IsFree          bool
}

func (l CartLine) subtotal() int64 {
	if l.Qty <= 0 || l.UnitPrice <= 0 {
		return 0
	}
	return int64(l.Qty) * l.UnitPrice
}

// Subtotal sums the payable cart lines.
func Subtotal(lines []CartLine) int64 {
	var total int64
	for _, l := range lines {
		if l.IsFree {
			continue
		}
		total += l.subtotal()
	}
	return total
}

// Validate runs the eligibility checks in order, returning the first
// failure. All failures are business outcomes, never infrastructure errors.
func (r Rule) Validate(now time.Time, userID *uuid.UUID, lines []CartLine, cartSubtotal int64) error {
	if !r.Active {
		return ErrInactive
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return ErrNotStarted
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return ErrExpired
	}
	if r.MaxUses != nil && r.UsedCount >= *r.MaxUses {
		return ErrUsageLimitReached
	}
	if !r.UnlimitedPerUser && r.PerUserUsed > 0 {
		return ErrAlreadyUsed
	}
	if r.MinPurchase != nil && cartSubtotal < *r.MinPurchase {
		return ErrMinPurchaseUnmet
	}
	if len(r.AllowedUserIDs) > 0 {
		if userID == nil || !containsUUID(r.AllowedUserIDs, *userID) {
			return ErrUserNotEligible
		}
	}
	if r.scoped() && EligibleBasis(lines, r) <= 0 {
		return ErrNotApplicable
	}
	return nil
}

func (r Rule) scoped() bool {
	return len(r.AllowedProductIDs) > 0 || len(r.AllowedCategories) > 0 ||
		len(r.AllowedGammes) > 0 || len(r.AllowedConditionnements) > 0
}

// EligibleBasis is the single decision point for what a discount is
// computed against: the subtotal of the lines matching the code filters,
// or the whole payable subtotal for an unscoped code.
func EligibleBasis(lines []CartLine, r Rule) int64 {
	if !r.scoped() {
		return Subtotal(lines)
	}
	var total int64
	for _, l := range lines {
		if l.IsFree {
			continue
		}
		if ruleMatchesLine(r, l) {
			total += l.subtotal()
		}
	}
	return total
}

func ruleMatchesLine(r Rule, l CartLine) bool {
	if len(r.AllowedProductIDs) > 0 && containsUUID(r.AllowedProductIDs, l.ProductID) {
		return true
	}
	if len(r.AllowedCategories) > 0 && matchesString(r.AllowedCategories, l.Category) {
		return true
	}
	if len(r.AllowedGammes) > 0 && matchesString(r.AllowedGammes, l.Gamme) {
		return true
	}
	if len(r.AllowedConditionnements) > 0 && matchesString(r.AllowedConditionnements, l.Conditionnement) {
		return true
	}
	return false
}

// Compute derives the discount amount for the eligible basis. The result
// never exceeds the basis and is never negative.
func Compute(basis int64, r Rule) int64 {
	if basis <= 0 {
		return 0
	}
	var discount int64
	switch r.Kind {
	case KindPercentage:
		if r.PercentBps <= 0 {
			return 0
		}
		discount = (basis * int64(r.PercentBps)) / 10000
	case KindFixed:
		discount = r.Value
	default:
		return 0
	}
	if discount > basis {
		discount = basis
	}
	if discount < 0 {
		return 0
	}
	return discount
}

func containsUUID(list []uuid.UUID, id uuid.UUID) bool {
	for _, el := range list {
		if el == id {
			return true
		}
	}
	return false
}

func matchesString(list []string, value *string) bool {
	if value == nil {
		return false
	}
	for _, el := range list {
		if el == *value {
			return true
		}
	}
	return false
}
