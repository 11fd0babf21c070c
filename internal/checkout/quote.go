package checkout

// QuoteState is the tri-state of a shipping cost. A bare number cannot
// distinguish "not yet calculated" from "legitimately free", and that
// ambiguity is how checkouts get submitted with unknown shipping.
type QuoteState string

const (
	// QuotePending means the destination is incomplete or no rule could
	// price the shipment; checkout submission must stay blocked.
	QuotePending QuoteState = "pending"
	// QuoteComputed is a known, positive shipping cost.
	QuoteComputed QuoteState = "computed"
	// QuoteFree is a known zero cost (free-shipping threshold reached).
	QuoteFree QuoteState = "free"
)

// ShippingQuote is a shipping cost tagged with how much we know about it.
type ShippingQuote struct {
	State    QuoteState `json:"state"`
	Amount   int64      `json:"amount"`
	RuleID   string     `json:"ruleId,omitempty"`
	RuleName string     `json:"ruleName,omitempty"`
}

// PendingQuote marks shipping as not yet known.
func PendingQuote() ShippingQuote {
	return ShippingQuote{State: QuotePending}
}

// ComputedQuote tags a known amount, distinguishing free from positive.
func ComputedQuote(amount int64, ruleID, ruleName string) ShippingQuote {
	state := QuoteComputed
	if amount <= 0 {
		state = QuoteFree
		amount = 0
	}
	return ShippingQuote{State: state, Amount: amount, RuleID: ruleID, RuleName: ruleName}
}

// Known reports whether the cost may be trusted, free included.
func (q ShippingQuote) Known() bool {
	return q.State == QuoteComputed || q.State == QuoteFree
}
