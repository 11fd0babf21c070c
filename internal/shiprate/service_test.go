package shiprate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lilou-atelier/backend-boutique/internal/cache"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

type stubRuleQuerier struct {
	active      []store.ShippingPriceRule
	listCalls   int
	created     *store.SaveShippingRuleParams
	createModel store.ShippingPriceRule
}

func (s *stubRuleQuerier) GetShippingRule(context.Context, pgtype.UUID) (store.ShippingPriceRule, error) {
	return store.ShippingPriceRule{}, nil
}

func (s *stubRuleQuerier) ListShippingRules(context.Context) ([]store.ShippingPriceRule, error) {
	return s.active, nil
}

func (s *stubRuleQuerier) ListActiveShippingRules(context.Context) ([]store.ShippingPriceRule, error) {
	s.listCalls++
	return s.active, nil
}

func (s *stubRuleQuerier) CreateShippingRule(_ context.Context, arg store.SaveShippingRuleParams) (store.ShippingPriceRule, error) {
	s.created = &arg
	return s.createModel, nil
}

func (s *stubRuleQuerier) UpdateShippingRule(_ context.Context, _ pgtype.UUID, arg store.SaveShippingRuleParams) (store.ShippingPriceRule, error) {
	return s.createModel, nil
}

func newRuleService(t *testing.T, q Querier) (*Service, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Service{
		Q:     q,
		Cache: cache.New(client, time.Minute),
		Log:   zerolog.Nop(),
	}, client
}

func homeFixedModel(price int64) store.ShippingPriceRule {
	return store.ShippingPriceRule{
		ID:           store.FromUUID([16]byte{1}),
		Name:         "colis domicile",
		Kind:         store.ShippingRuleFixed,
		ShippingType: pgtype.Text{String: TypeHome, Valid: true},
		Country:      pgtype.Text{String: "FR", Valid: true},
		FixedPrice:   pgtype.Int8{Int64: price, Valid: true},
		Active:       true,
	}
}

func TestActiveRulesCachesResult(t *testing.T) {
	q := &stubRuleQuerier{active: []store.ShippingPriceRule{homeFixedModel(650)}}
	svc, _ := newRuleService(t, q)

	first, err := svc.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := svc.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, q.listCalls)
}

func TestWriteInvalidatesCache(t *testing.T) {
	q := &stubRuleQuerier{
		active:      []store.ShippingPriceRule{homeFixedModel(650)},
		createModel: homeFixedModel(900),
	}
	svc, _ := newRuleService(t, q)

	_, err := svc.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, q.listCalls)

	_, err = svc.CreateRule(context.Background(), store.SaveShippingRuleParams{
		Name:       "nouvelle regle",
		Kind:       store.ShippingRuleFixed,
		FixedPrice: pgtype.Int8{Int64: 900, Valid: true},
	})
	require.NoError(t, err)

	_, err = svc.ActiveRules(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, q.listCalls)
}

func TestQuoteNoActiveRule(t *testing.T) {
	svc, _ := newRuleService(t, &stubRuleQuerier{})
	_, err := svc.Quote(context.Background(), QuoteInput{ShippingType: TypeHome, Country: "FR"})
	require.ErrorIs(t, err, ErrNoActiveRule)
}

func TestQuoteUsesResolvedRule(t *testing.T) {
	ranges, err := json.Marshal(standardRanges())
	require.NoError(t, err)
	model := store.ShippingPriceRule{
		ID:           store.FromUUID([16]byte{2}),
		Name:         "tranches poids",
		Kind:         store.ShippingRuleWeightRanges,
		ShippingType: pgtype.Text{String: TypeHome, Valid: true},
		WeightRanges: ranges,
		Active:       true,
	}
	svc, _ := newRuleService(t, &stubRuleQuerier{active: []store.ShippingPriceRule{model}})

	result, err := svc.Quote(context.Background(), QuoteInput{
		BasePrice:    1000,
		WeightG:      3000,
		OrderValue:   5000,
		ShippingType: TypeHome,
		Country:      "FR",
	})
	require.NoError(t, err)
	require.Equal(t, int64(800), result.Price)
	require.False(t, result.Free)
	require.Equal(t, "tranches poids", result.RuleName)
}

func TestQuoteFreeThreshold(t *testing.T) {
	model := homeFixedModel(800)
	model.FreeShippingThreshold = pgtype.Int8{Int64: 4000, Valid: true}
	svc, _ := newRuleService(t, &stubRuleQuerier{active: []store.ShippingPriceRule{model}})

	result, err := svc.Quote(context.Background(), QuoteInput{
		BasePrice:    1000,
		WeightG:      3000,
		OrderValue:   5000,
		ShippingType: TypeHome,
		Country:      "FR",
	})
	require.NoError(t, err)
	require.True(t, result.Free)
	require.Equal(t, int64(0), result.Price)
}

func TestCreateRuleRejectsNegativePricing(t *testing.T) {
	svc, _ := newRuleService(t, &stubRuleQuerier{})

	_, err := svc.CreateRule(context.Background(), store.SaveShippingRuleParams{
		Name:       "prix negatif",
		Kind:       store.ShippingRuleFixed,
		FixedPrice: pgtype.Int8{Int64: -100, Valid: true},
	})
	require.Error(t, err)

	_, err = svc.CreateRule(context.Background(), store.SaveShippingRuleParams{
		Name:      "marge sous zero",
		Kind:      store.ShippingRuleMarginPercent,
		MarginBps: pgtype.Int4{Int32: -12000, Valid: true},
	})
	require.Error(t, err)
}

func TestCreateRuleRejectsOverlappingRanges(t *testing.T) {
	svc, _ := newRuleService(t, &stubRuleQuerier{})
	bad, err := json.Marshal([]WeightRange{
		{MinG: 0, MaxG: i64(2000), Price: 500},
		{MinG: 1000, MaxG: i64(5000), Price: 800},
	})
	require.NoError(t, err)

	_, err = svc.CreateRule(context.Background(), store.SaveShippingRuleParams{
		Name:         "chevauchement",
		Kind:         store.ShippingRuleWeightRanges,
		WeightRanges: bad,
	})
	require.Error(t, err)
}
