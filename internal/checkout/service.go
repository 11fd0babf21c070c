package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lilou-atelier/backend-boutique/internal/events"
	"github.com/lilou-atelier/backend-boutique/internal/promo"
	"github.com/lilou-atelier/backend-boutique/internal/shiprate"
	"github.com/lilou-atelier/backend-boutique/internal/stock"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

var (
	// ErrShippingPending blocks confirmation while the shipping cost is
	// still unknown.
	ErrShippingPending = errors.New("shipping cost not yet known")
	// ErrEmptyCart rejects checkouts with nothing to buy.
	ErrEmptyCart = errors.New("cart is empty")
)

// Line is one cart line at checkout. Weight feeds the shipping quote, the
// promo metadata feeds eligibility.
type Line struct {
	ProductID       uuid.UUID
	VariantID       *uuid.UUID
	Category        *string
	Gamme           *string
	Conditionnement *string
	UnitPrice       int64
	Qty             int
	UnitWeightG     int64
	IsFree          bool
	Location        string
}

// Destination is where the order ships, if known yet.
type Destination struct {
	Country      string
	ShippingType string
}

// Input is a checkout evaluation request.
type Input struct {
	OrderID      uuid.UUID
	UserID       *uuid.UUID
	Lines        []Line
	Destination  *Destination
	CarrierQuote int64
	PromoCode    string
	HoldTokens   []string
}

// Output is the priced checkout. AllowSubmit is only true when every input
// the total depends on is known.
type Output struct {
	Totals        Totals        `json:"totals"`
	ShippingQuote ShippingQuote `json:"shippingQuote"`
	Discount      int64         `json:"discount"`
	PromoReason   string        `json:"promoReason,omitempty"`
	AllowSubmit   bool          `json:"allowSubmit"`
}

// Service composes the stock ledger, promo engine, and shipping calculator
// into checkout quotes and confirmations.
type Service struct {
	Pool  *pgxpool.Pool
	Q     *store.Queries
	Stock *stock.Service
	Promo *promo.Service
	Ship  *shiprate.Service
	Bus   *events.Bus
	Log   zerolog.Logger
}

// Quote evaluates a checkout without mutating state. An invalid promo code
// does not fail the quote; the discount is simply zero and the reason is
// reported. Unknown shipping never collapses to a zero cost.
func (s *Service) Quote(ctx context.Context, in Input) (Output, error) {
	if len(in.Lines) == 0 {
		return Output{}, ErrEmptyCart
	}
	cartLines := toCartLines(in.Lines)

	discount := int64(0)
	promoReason := ""
	if strings.TrimSpace(in.PromoCode) != "" {
		result, err := s.Promo.Validate(ctx, in.PromoCode, in.UserID, cartLines)
		if err != nil {
			reason, ok := promo.ReasonFor(err)
			if !ok {
				return Output{}, fmt.Errorf("validate promo code: %w", err)
			}
			promoReason = reason
		} else {
			discount = result.Discount
		}
	}

	quote := PendingQuote()
	if in.Destination != nil && in.Destination.ShippingType != "" {
		subtotal := promo.Subtotal(cartLines)
		result, err := s.Ship.Quote(ctx, shiprate.QuoteInput{
			BasePrice:    in.CarrierQuote,
			WeightG:      totalWeight(in.Lines),
			OrderValue:   subtotal,
			ShippingType: in.Destination.ShippingType,
			Country:      in.Destination.Country,
		})
		if err != nil {
			if !errors.Is(err, shiprate.ErrNoActiveRule) {
				return Output{}, fmt.Errorf("quote shipping: %w", err)
			}
			// No configured rule: the cost stays unknown rather than
			// silently defaulting, and submission stays blocked.
			s.Log.Warn().
				Str("shipping_type", in.Destination.ShippingType).
				Str("country", in.Destination.Country).
				Msg("no active shipping rule for destination")
		} else {
			quote = ComputedQuote(result.Price, result.RuleID, result.RuleName)
		}
	}

	shippingCost := int64(0)
	if quote.Known() {
		shippingCost = quote.Amount
	}
	totals := ComputeTotals(cartLines, discount, shippingCost)
	return Output{
		Totals:        totals,
		ShippingQuote: quote,
		Discount:      totals.Discount,
		PromoReason:   promoReason,
		AllowSubmit:   quote.Known(),
	}, nil
}

// Confirm finalises an order: it re-evaluates the quote, refuses to proceed
// while shipping is unknown, then converts reservations, settles promo
// usage, and emits domain events. Stock conversion and promo settlement
// commit in one transaction. Promo settlement retries with the same order
// id are absorbed by the usage-row arbiter; stock conversion is not
// self-deduplicating, so the route carries the Idempotency-Key guard.
func (s *Service) Confirm(ctx context.Context, in Input) (Output, error) {
	out, err := s.Quote(ctx, in)
	if err != nil {
		return Output{}, err
	}
	if !out.AllowSubmit {
		return Output{}, ErrShippingPending
	}
	if strings.TrimSpace(in.PromoCode) != "" && out.PromoReason != "" {
		return Output{}, fmt.Errorf("promo code rejected (%s): %w", out.PromoReason, promo.ErrNotApplicable)
	}

	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Output{}, fmt.Errorf("begin checkout tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	qtx := s.Q.WithTx(tx)

	depleted, err := s.Stock.ConfirmOrder(ctx, qtx, orderItems(in.Lines))
	if err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(in.PromoCode) != "" && out.Discount > 0 {
		if err := s.Promo.RecordUsage(ctx, qtx, in.PromoCode, in.UserID, in.OrderID, out.Discount); err != nil {
			return Output{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Output{}, fmt.Errorf("commit checkout tx: %w", err)
	}
	if strings.TrimSpace(in.PromoCode) != "" && out.Discount > 0 {
		// Only after commit: a delete inside the transaction invites a
		// concurrent lookup to re-cache the stale row.
		s.Promo.InvalidateCode(ctx, in.PromoCode)
	}

	for _, token := range in.HoldTokens {
		if err := s.Stock.ConsumeHold(ctx, token); err != nil {
			s.Log.Warn().Err(err).Str("hold_token", token).Msg("hold consumption failed")
		}
	}
	s.emitEvents(ctx, in, out, depleted)
	return out, nil
}

func (s *Service) emitEvents(ctx context.Context, in Input, out Output, depleted []store.StockRecord) {
	if s.Bus == nil {
		return
	}
	orderAggregate := store.FromUUID(in.OrderID)
	if _, err := s.Bus.Emit(ctx, events.TopicOrderConfirmed, orderAggregate, map[string]any{
		"orderId":  in.OrderID.String(),
		"subtotal": out.Totals.Subtotal,
		"discount": out.Totals.Discount,
		"shipping": out.Totals.ShippingCost,
		"total":    out.Totals.Total,
	}); err != nil {
		s.Log.Warn().Err(err).Msg("order confirmed event failed")
	}
	if strings.TrimSpace(in.PromoCode) != "" && out.Discount > 0 {
		if _, err := s.Bus.Emit(ctx, events.TopicPromoRedeemed, orderAggregate, map[string]any{
			"orderId":  in.OrderID.String(),
			"code":     strings.TrimSpace(in.PromoCode),
			"discount": out.Discount,
		}); err != nil {
			s.Log.Warn().Err(err).Msg("promo redeemed event failed")
		}
	}
	for _, rec := range depleted {
		if _, err := s.Bus.Emit(ctx, events.TopicStockDepleted, rec.ProductID, map[string]any{
			"productId": store.UUIDString(rec.ProductID),
			"variantId": store.UUIDString(rec.VariantID),
			"location":  rec.Location,
		}); err != nil {
			s.Log.Warn().Err(err).Msg("stock depleted event failed")
		}
	}
}

func toCartLines(lines []Line) []promo.CartLine {
	out := make([]promo.CartLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, promo.CartLine{
			ProductID:       l.ProductID,
			VariantID:       l.VariantID,
			Category:        l.Category,
			Gamme:           l.Gamme,
			Conditionnement: l.Conditionnement,
			UnitPrice:       l.UnitPrice,
			Qty:             l.Qty,
			IsFree:          l.IsFree,
		})
	}
	return out
}

func orderItems(lines []Line) []stock.OrderItem {
	out := make([]stock.OrderItem, 0, len(lines))
	for _, l := range lines {
		if l.Qty <= 0 {
			continue
		}
		out = append(out, stock.OrderItem{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Location:  l.Location,
			Qty:       int64(l.Qty),
		})
	}
	return out
}

func totalWeight(lines []Line) int64 {
	var total int64
	for _, l := range lines {
		if l.Qty > 0 && l.UnitWeightG > 0 {
			total += int64(l.Qty) * l.UnitWeightG
		}
	}
	return total
}
