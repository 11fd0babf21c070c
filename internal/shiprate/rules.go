package shiprate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lilou-atelier/backend-boutique/internal/store"
)

// ErrNoActiveRule is returned when resolution finds no usable rule at all.
var ErrNoActiveRule = errors.New("no active shipping rule")

// Kind aliases the stored pricing strategies.
type Kind = store.ShippingRuleKind

const (
	KindFixed         = store.ShippingRuleFixed
	KindMarginPercent = store.ShippingRuleMarginPercent
	KindMarginFixed   = store.ShippingRuleMarginFixed
	KindWeightRanges  = store.ShippingRuleWeightRanges
	KindBoxtalOnly    = store.ShippingRuleBoxtalOnly
)

// Shipping channels. Legacy rows predate the split and carry no type.
const (
	TypeHome  = "home"
	TypeRelay = "relay"
)

// CountryAll matches every destination.
const CountryAll = "ALL"

// WeightRange is one band of a weight_ranges rule. MaxG nil means the band
// is unbounded above. The upper edge is exclusive so adjacent bands like
// [0,2000) [2000,5000) hand a 2000 g parcel to the second band.
type WeightRange struct {
	MinG  int64  `json:"min"`
	MaxG  *int64 `json:"max"`
	Price int64  `json:"price"`
}

func (wr WeightRange) matches(weightG int64) bool {
	if weightG < wr.MinG {
		return false
	}
	return wr.MaxG == nil || weightG < *wr.MaxG
}

// Rule is the evaluated form of a stored shipping price rule. Prices are
// cents, weights grams, margins basis points.
type Rule struct {
	ID                    string
	Name                  string
	Kind                  Kind
	ShippingType          string
	Country               string
	FixedPrice            *int64
	MarginBps             int32
	MarginFixed           int64
	WeightRanges          []WeightRange
	MinWeightG            *int64
	MaxWeightG            *int64
	MinOrderValue         *int64
	FreeShippingThreshold *int64
	Active                bool
}

// FinalPrice computes the shipping cost for a parcel under this rule. The
// checks run in a fixed order: the free threshold overrides everything,
// then the rule steps aside (returning basePrice untouched) when the order
// value or weight falls outside its bounds, and only then does the pricing
// strategy apply.
func (r Rule) FinalPrice(basePrice, weightG, orderValue int64) int64 {
	if r.FreeShippingThreshold != nil && orderValue >= *r.FreeShippingThreshold {
		return 0
	}
	if r.MinOrderValue != nil && orderValue < *r.MinOrderValue {
		return basePrice
	}
	if r.MinWeightG != nil && weightG < *r.MinWeightG {
		return basePrice
	}
	if r.MaxWeightG != nil && weightG > *r.MaxWeightG {
		return basePrice
	}
	switch r.Kind {
	case KindFixed:
		if r.FixedPrice != nil {
			return *r.FixedPrice
		}
		return basePrice
	case KindMarginPercent:
		return clampPrice(basePrice * (10000 + int64(r.MarginBps)) / 10000)
	case KindMarginFixed:
		return clampPrice(basePrice + r.MarginFixed)
	case KindWeightRanges:
		for _, band := range r.WeightRanges {
			if band.matches(weightG) {
				return band.Price
			}
		}
		return basePrice
	case KindBoxtalOnly:
		// The carrier quote is the price; this rule only exists to make
		// that choice explicit.
		return basePrice
	}
	return basePrice
}

// clampPrice floors negative margin results at zero. Save-time validation
// rejects the configurations that get here, but legacy rows predate it.
func clampPrice(price int64) int64 {
	if price < 0 {
		return 0
	}
	return price
}

// ResolveActive picks the rule to apply for a shipping type and country.
// Priority: exact country match on the type, then ALL/unset country on the
// type, then a legacy rule with no type at all, then a cross-type fallback
// rather than failing outright.
func ResolveActive(rules []Rule, shippingType, country string) (Rule, bool) {
	match := func(r Rule, wantType string) bool {
		return r.Active && r.ShippingType == wantType
	}
	for _, r := range rules {
		if match(r, shippingType) && r.Country == country && country != "" && country != CountryAll {
			return r, true
		}
	}
	for _, r := range rules {
		if match(r, shippingType) && (r.Country == "" || r.Country == CountryAll) {
			return r, true
		}
	}
	for _, r := range rules {
		if r.Active && r.ShippingType == "" {
			return r, true
		}
	}
	other := TypeRelay
	if shippingType == TypeRelay {
		other = TypeHome
	}
	for _, r := range rules {
		if match(r, other) && (r.Country == country || r.Country == "" || r.Country == CountryAll) {
			return r, true
		}
	}
	for _, r := range rules {
		if match(r, other) {
			return r, true
		}
	}
	return Rule{}, false
}

// ValidateRanges rejects malformed or overlapping weight bands at save
// time, before a bad rule can start mispricing parcels.
func ValidateRanges(ranges []WeightRange) error {
	if len(ranges) == 0 {
		return errors.New("weight_ranges rule needs at least one range")
	}
	for i, band := range ranges {
		if band.MinG < 0 {
			return fmt.Errorf("range %d: min must not be negative", i)
		}
		if band.MaxG != nil && *band.MaxG <= band.MinG {
			return fmt.Errorf("range %d: max must exceed min", i)
		}
		if band.Price < 0 {
			return fmt.Errorf("range %d: price must not be negative", i)
		}
		if band.MaxG == nil && i != len(ranges)-1 {
			return fmt.Errorf("range %d: only the last range may be unbounded", i)
		}
		if i > 0 {
			prev := ranges[i-1]
			if prev.MaxG == nil || band.MinG < *prev.MaxG {
				return fmt.Errorf("range %d: overlaps previous range", i)
			}
		}
	}
	return nil
}

// RuleFromModel converts a stored row into an evaluatable Rule.
func RuleFromModel(m store.ShippingPriceRule) (Rule, error) {
	rule := Rule{
		ID:     store.UUIDString(m.ID),
		Name:   m.Name,
		Kind:   m.Kind,
		Active: m.Active,
	}
	if m.ShippingType.Valid {
		rule.ShippingType = m.ShippingType.String
	}
	if m.Country.Valid {
		rule.Country = m.Country.String
	}
	if m.FixedPrice.Valid {
		v := m.FixedPrice.Int64
		rule.FixedPrice = &v
	}
	if m.MarginBps.Valid {
		rule.MarginBps = m.MarginBps.Int32
	}
	if m.MarginFixed.Valid {
		rule.MarginFixed = m.MarginFixed.Int64
	}
	if m.MinWeightG.Valid {
		v := m.MinWeightG.Int64
		rule.MinWeightG = &v
	}
	if m.MaxWeightG.Valid {
		v := m.MaxWeightG.Int64
		rule.MaxWeightG = &v
	}
	if m.MinOrderValue.Valid {
		v := m.MinOrderValue.Int64
		rule.MinOrderValue = &v
	}
	if m.FreeShippingThreshold.Valid {
		v := m.FreeShippingThreshold.Int64
		rule.FreeShippingThreshold = &v
	}
	if len(m.WeightRanges) > 0 {
		if err := json.Unmarshal(m.WeightRanges, &rule.WeightRanges); err != nil {
			return Rule{}, fmt.Errorf("decode weight ranges: %w", err)
		}
	}
	return rule, nil
}
