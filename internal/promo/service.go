package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog"

	"github.com/lilou-atelier/backend-boutique/internal/cache"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

// Querier captures the database methods required by the promo service.
// store.Queries satisfies it both pool-bound and transaction-bound.
type Querier interface {
	GetPromoCodeByCode(ctx context.Context, code string) (store.PromoCode, error)
	ListPromoCodes(ctx context.Context) ([]store.PromoCode, error)
	CreatePromoCode(ctx context.Context, arg store.CreatePromoCodeParams) (store.PromoCode, error)
	UpdatePromoCode(ctx context.Context, code string, arg store.CreatePromoCodeParams) (store.PromoCode, error)
	CountPromoUsageByUser(ctx context.Context, promoCodeID, userID pgtype.UUID) (int64, error)
	InsertPromoUsage(ctx context.Context, arg store.InsertPromoUsageParams) (bool, error)
	GetPromoUsage(ctx context.Context, promoCodeID, userID, orderID pgtype.UUID) (store.PromoCodeUsage, error)
	IncrementPromoUsedCount(ctx context.Context, promoCodeID pgtype.UUID) (bool, error)
}

// Result describes a successful dry-run evaluation of a code against a cart.
type Result struct {
	Code           string `json:"code"`
	Discount       int64  `json:"discount"`
	EligibleAmount int64  `json:"eligible_amount"`
}

// Service evaluates promo codes and settles their usage.
type Service struct {
	Q     Querier
	Cache *cache.Cache
	Log   zerolog.Logger
	Now   func() time.Time
}

// Validate evaluates a code against the cart without mutating state. Every
// failure it returns wraps one of the package sentinels so handlers can map
// them to stable reason strings.
func (s *Service) Validate(ctx context.Context, code string, userID *uuid.UUID, lines []CartLine) (Result, error) {
	if s == nil || s.Q == nil {
		return Result{}, errors.New("promo service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Result{}, fmt.Errorf("code is required: %w", ErrUnknownCode)
	}
	model, err := s.lookup(ctx, trimmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, ErrUnknownCode
		}
		return Result{}, err
	}
	rule := RuleFromModel(model)

	if userID != nil && !rule.UnlimitedPerUser {
		used, err := s.Q.CountPromoUsageByUser(ctx, model.ID, store.FromUUID(*userID))
		if err != nil {
			return Result{}, err
		}
		rule.PerUserUsed = used
	}

	subtotal := Subtotal(lines)
	if err := rule.Validate(s.now(), userID, lines, subtotal); err != nil {
		return Result{}, err
	}
	basis := EligibleBasis(lines, rule)
	discount := Compute(basis, rule)
	if discount <= 0 {
		return Result{}, ErrNotApplicable
	}
	return Result{Code: rule.Code, Discount: discount, EligibleAmount: basis}, nil
}

// RecordUsage settles a redemption at order confirmation. It runs against q,
// which the checkout flow binds to its transaction so usage, counters and
// stock commit together. Replays of the same order are idempotent, guest
// orders included. It does not touch the cache: invalidating mid-transaction
// would let a concurrent lookup re-cache the pre-commit row, so the caller
// invalidates after commit via InvalidateCode.
func (s *Service) RecordUsage(ctx context.Context, q Querier, code string, userID *uuid.UUID, orderID uuid.UUID, discount int64) error {
	if s == nil || q == nil {
		return errors.New("promo service not configured")
	}
	trimmed := strings.TrimSpace(code)
	if trimmed == "" || discount < 0 {
		return nil
	}
	model, err := q.GetPromoCodeByCode(ctx, trimmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownCode
		}
		return err
	}

	var user pgtype.UUID
	if userID != nil {
		user = store.FromUUID(*userID)
	}
	order := store.FromUUID(orderID)
	singleUse := !model.UnlimitedPerUser

	inserted, err := q.InsertPromoUsage(ctx, store.InsertPromoUsageParams{
		PromoCodeID:    model.ID,
		UserID:         user,
		OrderID:        order,
		DiscountAmount: discount,
		SingleUse:      singleUse,
	})
	if err != nil {
		if store.IsUniqueViolation(err, store.SingleUseConstraint) {
			// A replay of the same order races the arbiter index; only a
			// different order for the same user is a real second use.
			if _, lookupErr := q.GetPromoUsage(ctx, model.ID, user, order); lookupErr == nil {
				return nil
			}
			return ErrAlreadyUsed
		}
		return err
	}
	if !inserted {
		return nil
	}

	moved, err := q.IncrementPromoUsedCount(ctx, model.ID)
	if err != nil {
		return err
	}
	if !moved {
		return ErrUsageLimitReached
	}
	return nil
}

// InvalidateCode drops a code from the cache. Checkout calls it once its
// transaction has committed; readers between the delete and the commit would
// otherwise re-cache the stale row for a full TTL.
func (s *Service) InvalidateCode(ctx context.Context, code string) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return
	}
	s.invalidate(ctx, trimmed)
}

// CreateCode registers a new promo code.
func (s *Service) CreateCode(ctx context.Context, arg store.CreatePromoCodeParams) (store.PromoCode, error) {
	created, err := s.Q.CreatePromoCode(ctx, arg)
	if err != nil {
		return store.PromoCode{}, err
	}
	s.invalidate(ctx, created.Code)
	return created, nil
}

// UpdateCode replaces the mutable fields of an existing code.
func (s *Service) UpdateCode(ctx context.Context, code string, arg store.CreatePromoCodeParams) (store.PromoCode, error) {
	updated, err := s.Q.UpdatePromoCode(ctx, code, arg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.PromoCode{}, ErrUnknownCode
		}
		return store.PromoCode{}, err
	}
	s.invalidate(ctx, updated.Code)
	return updated, nil
}

// ListCodes returns every promo code for the admin view.
func (s *Service) ListCodes(ctx context.Context) ([]store.PromoCode, error) {
	return s.Q.ListPromoCodes(ctx)
}

func (s *Service) lookup(ctx context.Context, code string) (store.PromoCode, error) {
	key := cache.PromoKey(code)
	var cached store.PromoCode
	hit, err := s.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.Log.Warn().Err(err).Str("code", code).Msg("promo cache read failed")
	} else if hit {
		return cached, nil
	}
	model, err := s.Q.GetPromoCodeByCode(ctx, code)
	if err != nil {
		return store.PromoCode{}, err
	}
	if err := s.Cache.SetJSON(ctx, key, model); err != nil {
		s.Log.Warn().Err(err).Str("code", code).Msg("promo cache write failed")
	}
	return model, nil
}

func (s *Service) invalidate(ctx context.Context, code string) {
	if err := s.Cache.Invalidate(ctx, cache.PromoKey(code)); err != nil {
		s.Log.Warn().Err(err).Str("code", code).Msg("promo cache invalidation failed")
	}
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// RuleFromModel converts a stored promo code into an evaluation Rule.
func RuleFromModel(p store.PromoCode) Rule {
	rule := Rule{
		Code:                    p.Code,
		Kind:                    Kind(p.Kind),
		Value:                   p.Value,
		UsedCount:               p.UsedCount,
		Active:                  p.Active,
		AllowedCategories:       p.AllowedCategories,
		AllowedGammes:           p.AllowedGammes,
		AllowedConditionnements: p.AllowedConditionnements,
		UnlimitedPerUser:        p.UnlimitedPerUser,
	}
	if p.PercentBps.Valid {
		rule.PercentBps = p.PercentBps.Int32
	}
	if p.MinPurchase.Valid {
		min := p.MinPurchase.Int64
		rule.MinPurchase = &min
	}
	if p.MaxUses.Valid {
		max := p.MaxUses.Int32
		rule.MaxUses = &max
	}
	if p.ValidFrom.Valid {
		rule.ValidFrom = &p.ValidFrom.Time
	}
	if p.ValidUntil.Valid {
		rule.ValidUntil = &p.ValidUntil.Time
	}
	rule.AllowedUserIDs = toUUIDSlice(p.AllowedUserIDs)
	rule.AllowedProductIDs = toUUIDSlice(p.AllowedProductIDs)
	return rule
}

func toUUIDSlice(values []pgtype.UUID) []uuid.UUID {
	if len(values) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		if v.Valid {
			out = append(out, uuid.UUID(v.Bytes))
		}
	}
	return out
}
