package checkout

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lilou-atelier/backend-boutique/internal/cache"
	"github.com/lilou-atelier/backend-boutique/internal/promo"
	"github.com/lilou-atelier/backend-boutique/internal/shiprate"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

type promoQuerierStub struct {
	code    store.PromoCode
	missing bool
}

func (s *promoQuerierStub) GetPromoCodeByCode(context.Context, string) (store.PromoCode, error) {
	if s.missing {
		return store.PromoCode{}, pgx.ErrNoRows
	}
	return s.code, nil
}

func (s *promoQuerierStub) ListPromoCodes(context.Context) ([]store.PromoCode, error) {
	return nil, nil
}

func (s *promoQuerierStub) CreatePromoCode(context.Context, store.CreatePromoCodeParams) (store.PromoCode, error) {
	return s.code, nil
}

func (s *promoQuerierStub) UpdatePromoCode(context.Context, string, store.CreatePromoCodeParams) (store.PromoCode, error) {
	return s.code, nil
}

func (s *promoQuerierStub) CountPromoUsageByUser(context.Context, pgtype.UUID, pgtype.UUID) (int64, error) {
	return 0, nil
}

func (s *promoQuerierStub) InsertPromoUsage(context.Context, store.InsertPromoUsageParams) (bool, error) {
	return true, nil
}

func (s *promoQuerierStub) GetPromoUsage(context.Context, pgtype.UUID, pgtype.UUID, pgtype.UUID) (store.PromoCodeUsage, error) {
	return store.PromoCodeUsage{}, pgx.ErrNoRows
}

func (s *promoQuerierStub) IncrementPromoUsedCount(context.Context, pgtype.UUID) (bool, error) {
	return true, nil
}

type shipQuerierStub struct {
	active []store.ShippingPriceRule
}

func (s *shipQuerierStub) GetShippingRule(context.Context, pgtype.UUID) (store.ShippingPriceRule, error) {
	return store.ShippingPriceRule{}, pgx.ErrNoRows
}

func (s *shipQuerierStub) ListShippingRules(context.Context) ([]store.ShippingPriceRule, error) {
	return s.active, nil
}

func (s *shipQuerierStub) ListActiveShippingRules(context.Context) ([]store.ShippingPriceRule, error) {
	return s.active, nil
}

func (s *shipQuerierStub) CreateShippingRule(context.Context, store.SaveShippingRuleParams) (store.ShippingPriceRule, error) {
	return store.ShippingPriceRule{}, nil
}

func (s *shipQuerierStub) UpdateShippingRule(context.Context, pgtype.UUID, store.SaveShippingRuleParams) (store.ShippingPriceRule, error) {
	return store.ShippingPriceRule{}, nil
}

func weightRangesModel(t *testing.T) store.ShippingPriceRule {
	t.Helper()
	two := int64(2000)
	five := int64(5000)
	ranges, err := json.Marshal([]shiprate.WeightRange{
		{MinG: 0, MaxG: &two, Price: 500},
		{MinG: 2000, MaxG: &five, Price: 800},
		{MinG: 5000, MaxG: nil, Price: 1200},
	})
	require.NoError(t, err)
	return store.ShippingPriceRule{
		ID:           store.FromUUID(uuid.New()),
		Name:         "tranches poids",
		Kind:         store.ShippingRuleWeightRanges,
		ShippingType: pgtype.Text{String: shiprate.TypeHome, Valid: true},
		Country:      pgtype.Text{String: "FR", Valid: true},
		WeightRanges: ranges,
		Active:       true,
	}
}

func newQuoteService(t *testing.T, promoQ *promoQuerierStub, shipQ *shipQuerierStub) *Service {
	t.Helper()
	noCache := cache.New(nil, 0)
	return &Service{
		Promo: &promo.Service{Q: promoQ, Cache: noCache, Log: zerolog.Nop()},
		Ship:  &shiprate.Service{Q: shipQ, Cache: noCache, Log: zerolog.Nop()},
		Log:   zerolog.Nop(),
	}
}

func cartInput() Input {
	return Input{
		Lines: []Line{
			{ProductID: uuid.New(), UnitPrice: 2500, Qty: 2, UnitWeightG: 1500},
		},
		Destination:  &Destination{Country: "FR", ShippingType: shiprate.TypeHome},
		CarrierQuote: 1000,
	}
}

func TestQuoteWeightRangeScenario(t *testing.T) {
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{active: []store.ShippingPriceRule{weightRangesModel(t)}})

	// 50.00 subtotal, 3 kg, home/FR: second band prices at 8.00.
	out, err := svc.Quote(context.Background(), cartInput())
	require.NoError(t, err)
	require.True(t, out.AllowSubmit)
	require.Equal(t, QuoteComputed, out.ShippingQuote.State)
	require.Equal(t, int64(800), out.ShippingQuote.Amount)
	require.Equal(t, int64(5000), out.Totals.Subtotal)
	require.Equal(t, int64(5800), out.Totals.Total)
}

func TestQuoteFreeShippingThresholdScenario(t *testing.T) {
	model := weightRangesModel(t)
	model.FreeShippingThreshold = pgtype.Int8{Int64: 4000, Valid: true}
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{active: []store.ShippingPriceRule{model}})

	out, err := svc.Quote(context.Background(), cartInput())
	require.NoError(t, err)
	require.True(t, out.AllowSubmit)
	require.Equal(t, QuoteFree, out.ShippingQuote.State)
	require.Equal(t, int64(0), out.ShippingQuote.Amount)
	require.Equal(t, int64(5000), out.Totals.Total)
}

func TestQuoteWithPromoDiscount(t *testing.T) {
	code := store.PromoCode{
		ID:          store.FromUUID(uuid.New()),
		Code:        "SUMMER10",
		Kind:        store.DiscountKindPercentage,
		PercentBps:  pgtype.Int4{Int32: 1000, Valid: true},
		MinPurchase: pgtype.Int8{Int64: 3000, Valid: true},
		Active:      true,
	}
	svc := newQuoteService(t, &promoQuerierStub{code: code}, &shipQuerierStub{active: []store.ShippingPriceRule{weightRangesModel(t)}})

	in := cartInput()
	in.PromoCode = "SUMMER10"
	out, err := svc.Quote(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int64(500), out.Discount)
	require.Empty(t, out.PromoReason)
	require.Equal(t, int64(5300), out.Totals.Total)
}

func TestQuoteInvalidPromoReportsReason(t *testing.T) {
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{active: []store.ShippingPriceRule{weightRangesModel(t)}})

	in := cartInput()
	in.PromoCode = "NOPE"
	out, err := svc.Quote(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, int64(0), out.Discount)
	require.Equal(t, "unknown_code", out.PromoReason)
	require.True(t, out.AllowSubmit)
}

func TestQuotePendingWithoutDestination(t *testing.T) {
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{active: []store.ShippingPriceRule{weightRangesModel(t)}})

	in := cartInput()
	in.Destination = nil
	out, err := svc.Quote(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, QuotePending, out.ShippingQuote.State)
	require.False(t, out.AllowSubmit)
	// Totals exclude shipping while it is unknown.
	require.Equal(t, int64(5000), out.Totals.Total)
	require.Equal(t, int64(0), out.Totals.ShippingCost)
}

func TestQuotePendingWhenNoRuleMatches(t *testing.T) {
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{})

	out, err := svc.Quote(context.Background(), cartInput())
	require.NoError(t, err)
	require.Equal(t, QuotePending, out.ShippingQuote.State)
	require.False(t, out.AllowSubmit)
}

func TestConfirmBlockedWhileShippingPending(t *testing.T) {
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{})

	in := cartInput()
	in.OrderID = uuid.New()
	_, err := svc.Confirm(context.Background(), in)
	require.ErrorIs(t, err, ErrShippingPending)
}

func TestQuoteEmptyCart(t *testing.T) {
	svc := newQuoteService(t, &promoQuerierStub{missing: true}, &shipQuerierStub{})
	_, err := svc.Quote(context.Background(), Input{})
	require.ErrorIs(t, err, ErrEmptyCart)
}
