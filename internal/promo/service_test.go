package promo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lilou-atelier/backend-boutique/internal/cache"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

type stubQuerier struct {
	code         store.PromoCode
	codeErr      error
	perUserUsed  int64
	usage        *store.PromoCodeUsage
	insertResult bool
	insertErr    error
	moved        bool

	insertCalls    int
	incrementCalls int
}

func (s *stubQuerier) GetPromoCodeByCode(ctx context.Context, code string) (store.PromoCode, error) {
	if s.codeErr != nil {
		return store.PromoCode{}, s.codeErr
	}
	return s.code, nil
}

func (s *stubQuerier) ListPromoCodes(ctx context.Context) ([]store.PromoCode, error) {
	return []store.PromoCode{s.code}, nil
}

func (s *stubQuerier) CreatePromoCode(ctx context.Context, arg store.CreatePromoCodeParams) (store.PromoCode, error) {
	return s.code, nil
}

func (s *stubQuerier) UpdatePromoCode(ctx context.Context, code string, arg store.CreatePromoCodeParams) (store.PromoCode, error) {
	return s.code, nil
}

func (s *stubQuerier) CountPromoUsageByUser(ctx context.Context, promoCodeID, userID pgtype.UUID) (int64, error) {
	return s.perUserUsed, nil
}

func (s *stubQuerier) InsertPromoUsage(ctx context.Context, arg store.InsertPromoUsageParams) (bool, error) {
	s.insertCalls++
	if s.insertErr != nil {
		return false, s.insertErr
	}
	return s.insertResult, nil
}

func (s *stubQuerier) GetPromoUsage(ctx context.Context, promoCodeID, userID, orderID pgtype.UUID) (store.PromoCodeUsage, error) {
	if s.usage == nil {
		return store.PromoCodeUsage{}, pgx.ErrNoRows
	}
	return *s.usage, nil
}

func (s *stubQuerier) IncrementPromoUsedCount(ctx context.Context, promoCodeID pgtype.UUID) (bool, error) {
	s.incrementCalls++
	return s.moved, nil
}

func newTestService(q Querier) *Service {
	return &Service{
		Q:     q,
		Cache: cache.New(nil, 0),
		Log:   zerolog.Nop(),
		Now:   fixedNow,
	}
}

func summerModel() store.PromoCode {
	return store.PromoCode{
		ID:          store.FromUUID(uuid.New()),
		Code:        "SUMMER10",
		Kind:        store.DiscountKindPercentage,
		PercentBps:  pgtype.Int4{Int32: 1000, Valid: true},
		MinPurchase: pgtype.Int8{Int64: 3000, Valid: true},
		Active:      true,
	}
}

func TestServiceValidateHappyPath(t *testing.T) {
	svc := newTestService(&stubQuerier{code: summerModel()})
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 2500, Qty: 2}}

	result, err := svc.Validate(context.Background(), "SUMMER10", nil, lines)
	require.NoError(t, err)
	require.Equal(t, "SUMMER10", result.Code)
	require.Equal(t, int64(500), result.Discount)
	require.Equal(t, int64(5000), result.EligibleAmount)
}

func TestServiceValidateUnknownCode(t *testing.T) {
	svc := newTestService(&stubQuerier{codeErr: pgx.ErrNoRows})
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 2500, Qty: 2}}

	_, err := svc.Validate(context.Background(), "NOPE", nil, lines)
	require.ErrorIs(t, err, ErrUnknownCode)
}

func TestServiceValidateEmptyCode(t *testing.T) {
	svc := newTestService(&stubQuerier{code: summerModel()})
	_, err := svc.Validate(context.Background(), "  ", nil, nil)
	require.ErrorIs(t, err, ErrUnknownCode)
}

func TestServiceValidatePerUserExhausted(t *testing.T) {
	svc := newTestService(&stubQuerier{code: summerModel(), perUserUsed: 1})
	user := uuid.New()
	lines := []CartLine{{ProductID: uuid.New(), UnitPrice: 2500, Qty: 2}}

	_, err := svc.Validate(context.Background(), "SUMMER10", &user, lines)
	require.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestRecordUsageHappyPath(t *testing.T) {
	q := &stubQuerier{code: summerModel(), insertResult: true, moved: true}
	svc := newTestService(q)
	user := uuid.New()

	err := svc.RecordUsage(context.Background(), q, "SUMMER10", &user, uuid.New(), 500)
	require.NoError(t, err)
	require.Equal(t, 1, q.insertCalls)
	require.Equal(t, 1, q.incrementCalls)
}

func TestRecordUsageReplaySkipsIncrement(t *testing.T) {
	q := &stubQuerier{code: summerModel(), insertResult: false, moved: true}
	svc := newTestService(q)
	user := uuid.New()

	err := svc.RecordUsage(context.Background(), q, "SUMMER10", &user, uuid.New(), 500)
	require.NoError(t, err)
	require.Equal(t, 1, q.insertCalls)
	require.Equal(t, 0, q.incrementCalls)
}

func TestRecordUsageSingleUseViolation(t *testing.T) {
	violation := &pgconn.PgError{Code: "23505", ConstraintName: store.SingleUseConstraint}
	user := uuid.New()

	t.Run("replay of same order is idempotent", func(t *testing.T) {
		q := &stubQuerier{code: summerModel(), insertErr: violation, usage: &store.PromoCodeUsage{DiscountAmount: 500}}
		svc := newTestService(q)
		err := svc.RecordUsage(context.Background(), q, "SUMMER10", &user, uuid.New(), 500)
		require.NoError(t, err)
	})

	t.Run("different order is a real second use", func(t *testing.T) {
		q := &stubQuerier{code: summerModel(), insertErr: violation}
		svc := newTestService(q)
		err := svc.RecordUsage(context.Background(), q, "SUMMER10", &user, uuid.New(), 500)
		require.ErrorIs(t, err, ErrAlreadyUsed)
	})
}

// replayQuerier keeps one usage row per (code, user, order) triple the way
// the NULLS NOT DISTINCT constraint does, so a missing user collides with
// itself on replay.
type replayQuerier struct {
	stubQuerier
	rows map[string]bool
}

func (s *replayQuerier) InsertPromoUsage(ctx context.Context, arg store.InsertPromoUsageParams) (bool, error) {
	s.insertCalls++
	key := fmt.Sprintf("%x:%x:%t:%x", arg.PromoCodeID.Bytes, arg.UserID.Bytes, arg.UserID.Valid, arg.OrderID.Bytes)
	if s.rows == nil {
		s.rows = map[string]bool{}
	}
	if s.rows[key] {
		return false, nil
	}
	s.rows[key] = true
	return true, nil
}

func TestRecordUsageGuestReplayIsIdempotent(t *testing.T) {
	q := &replayQuerier{stubQuerier: stubQuerier{code: summerModel(), moved: true}}
	svc := newTestService(q)
	order := uuid.New()

	require.NoError(t, svc.RecordUsage(context.Background(), q, "SUMMER10", nil, order, 500))
	require.NoError(t, svc.RecordUsage(context.Background(), q, "SUMMER10", nil, order, 500))
	require.Equal(t, 2, q.insertCalls)
	require.Equal(t, 1, q.incrementCalls)
}

func TestRecordUsageDefersCacheInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := &stubQuerier{code: summerModel(), insertResult: true, moved: true}
	svc := newTestService(q)
	svc.Cache = cache.New(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, svc.Cache.SetJSON(ctx, cache.PromoKey("SUMMER10"), summerModel()))
	user := uuid.New()
	require.NoError(t, svc.RecordUsage(ctx, q, "SUMMER10", &user, uuid.New(), 500))

	// Settlement runs inside the checkout transaction; the cached row must
	// survive until the caller invalidates after commit.
	var cached store.PromoCode
	hit, err := svc.Cache.GetJSON(ctx, cache.PromoKey("SUMMER10"), &cached)
	require.NoError(t, err)
	require.True(t, hit)

	svc.InvalidateCode(ctx, "SUMMER10")
	hit, err = svc.Cache.GetJSON(ctx, cache.PromoKey("SUMMER10"), &cached)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestRecordUsageGlobalCapRace(t *testing.T) {
	q := &stubQuerier{code: summerModel(), insertResult: true, moved: false}
	svc := newTestService(q)
	user := uuid.New()

	err := svc.RecordUsage(context.Background(), q, "SUMMER10", &user, uuid.New(), 500)
	require.ErrorIs(t, err, ErrUsageLimitReached)
}
