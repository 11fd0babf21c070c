package events

// Topic constants for domain events emitted by the pricing and reservation
// flows.
const (
	TopicOrderConfirmed = "order.confirmed"
	TopicStockDepleted  = "stock.depleted"
	TopicPromoRedeemed  = "promo.redeemed"
)
