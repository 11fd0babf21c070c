package checkout

import (
	"github.com/lilou-atelier/backend-boutique/internal/promo"
)

// Totals is the priced outcome of a checkout. All amounts are cents.
type Totals struct {
	Subtotal     int64 `json:"subtotal"`
	Discount     int64 `json:"discount"`
	ShippingCost int64 `json:"shippingCost"`
	Total        int64 `json:"total"`
}

// ComputeTotals aggregates cart lines, a discount, and a shipping cost.
// The discount can never exceed the subtotal and the total can never go
// negative, whatever the inputs claim.
func ComputeTotals(lines []promo.CartLine, discount, shippingCost int64) Totals {
	subtotal := promo.Subtotal(lines)
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if shippingCost < 0 {
		shippingCost = 0
	}
	return Totals{
		Subtotal:     subtotal,
		Discount:     discount,
		ShippingCost: shippingCost,
		Total:        subtotal - discount + shippingCost,
	}
}
