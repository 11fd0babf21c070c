package shiprate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lilou-atelier/backend-boutique/internal/cache"
	"github.com/lilou-atelier/backend-boutique/internal/lock"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

const activationLockKey = "lock:shipping:activate"

// Querier captures the database methods required by the shipping service.
type Querier interface {
	GetShippingRule(ctx context.Context, id pgtype.UUID) (store.ShippingPriceRule, error)
	ListShippingRules(ctx context.Context) ([]store.ShippingPriceRule, error)
	ListActiveShippingRules(ctx context.Context) ([]store.ShippingPriceRule, error)
	CreateShippingRule(ctx context.Context, arg store.SaveShippingRuleParams) (store.ShippingPriceRule, error)
	UpdateShippingRule(ctx context.Context, id pgtype.UUID, arg store.SaveShippingRuleParams) (store.ShippingPriceRule, error)
}

// QuoteInput carries everything a quote needs. BasePrice is the carrier
// quote (cents) used as the fallback and margin basis.
type QuoteInput struct {
	BasePrice    int64
	WeightG      int64
	OrderValue   int64
	ShippingType string
	Country      string
}

// QuoteResult is a computed shipping price with its provenance.
type QuoteResult struct {
	Price    int64  `json:"price"`
	Free     bool   `json:"free"`
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
}

// Service resolves active rules and prices shipments. Active rules are
// cached as a whole and invalidated on every write.
type Service struct {
	Q       Querier
	Pool    *pgxpool.Pool
	Cache   *cache.Cache
	Locker  lock.Locker
	Log     zerolog.Logger
	LockTTL time.Duration
}

// ActiveRules returns the active rule set, cache first.
func (s *Service) ActiveRules(ctx context.Context) ([]Rule, error) {
	var cached []Rule
	hit, err := s.Cache.GetJSON(ctx, cache.KeyShippingRules, &cached)
	if err != nil {
		s.Log.Warn().Err(err).Msg("shipping rules cache read failed")
	} else if hit {
		return cached, nil
	}
	models, err := s.Q.ListActiveShippingRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active shipping rules: %w", err)
	}
	rules := make([]Rule, 0, len(models))
	for _, m := range models {
		rule, err := RuleFromModel(m)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := s.Cache.SetJSON(ctx, cache.KeyShippingRules, rules); err != nil {
		s.Log.Warn().Err(err).Msg("shipping rules cache write failed")
	}
	return rules, nil
}

// Resolve picks the rule for a shipping type and country.
func (s *Service) Resolve(ctx context.Context, shippingType, country string) (Rule, bool, error) {
	rules, err := s.ActiveRules(ctx)
	if err != nil {
		return Rule{}, false, err
	}
	rule, ok := ResolveActive(rules, shippingType, country)
	return rule, ok, nil
}

// Quote resolves the active rule and prices the shipment. A missing rule is
// ErrNoActiveRule; callers decide whether to fall back, and that decision
// is theirs to log.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (QuoteResult, error) {
	rule, ok, err := s.Resolve(ctx, in.ShippingType, in.Country)
	if err != nil {
		return QuoteResult{}, err
	}
	if !ok {
		return QuoteResult{}, ErrNoActiveRule
	}
	price := rule.FinalPrice(in.BasePrice, in.WeightG, in.OrderValue)
	return QuoteResult{
		Price:    price,
		Free:     price == 0,
		RuleID:   rule.ID,
		RuleName: rule.Name,
	}, nil
}

// ListRules returns every rule for the admin console.
func (s *Service) ListRules(ctx context.Context) ([]store.ShippingPriceRule, error) {
	return s.Q.ListShippingRules(ctx)
}

// ErrRuleNotFound is returned when an update or activation names a missing
// rule.
var ErrRuleNotFound = errors.New("shipping rule not found")

// CreateRule validates and inserts a rule. New rules start inactive; an
// explicit activation step flips the single active rule per type.
func (s *Service) CreateRule(ctx context.Context, arg store.SaveShippingRuleParams) (store.ShippingPriceRule, error) {
	if err := validateSaveParams(arg); err != nil {
		return store.ShippingPriceRule{}, err
	}
	created, err := s.Q.CreateShippingRule(ctx, arg)
	if err != nil {
		return store.ShippingPriceRule{}, fmt.Errorf("create shipping rule: %w", err)
	}
	s.invalidate(ctx)
	return created, nil
}

// UpdateRule validates and replaces the pricing fields of a rule.
func (s *Service) UpdateRule(ctx context.Context, id pgtype.UUID, arg store.SaveShippingRuleParams) (store.ShippingPriceRule, error) {
	if err := validateSaveParams(arg); err != nil {
		return store.ShippingPriceRule{}, err
	}
	updated, err := s.Q.UpdateShippingRule(ctx, id, arg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ShippingPriceRule{}, ErrRuleNotFound
		}
		return store.ShippingPriceRule{}, fmt.Errorf("update shipping rule: %w", err)
	}
	s.invalidate(ctx)
	return updated, nil
}

// Activate makes the rule the single active one for its shipping type. The
// DB transaction already guarantees readers never see zero or two winners;
// the redis lock keeps concurrent admin activations from interleaving
// across instances.
func (s *Service) Activate(ctx context.Context, id pgtype.UUID) (store.ShippingPriceRule, error) {
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	var activated store.ShippingPriceRule
	err := s.Locker.WithLock(ctx, activationLockKey, ttl, func(ctx context.Context) error {
		rule, err := store.ActivateShippingRule(ctx, s.Pool, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRuleNotFound
			}
			return fmt.Errorf("activate shipping rule: %w", err)
		}
		activated = rule
		return nil
	})
	if err != nil {
		return store.ShippingPriceRule{}, err
	}
	s.invalidate(ctx)
	return activated, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.Cache.Invalidate(ctx, cache.KeyShippingRules); err != nil {
		s.Log.Warn().Err(err).Msg("shipping rules cache invalidation failed")
	}
}

func validateSaveParams(arg store.SaveShippingRuleParams) error {
	switch arg.Kind {
	case KindFixed:
		if !arg.FixedPrice.Valid {
			return errors.New("fixed rule needs fixed_price")
		}
		if arg.FixedPrice.Int64 < 0 {
			return errors.New("fixed_price must not be negative")
		}
	case KindMarginPercent:
		if !arg.MarginBps.Valid {
			return errors.New("margin_percent rule needs margin_bps")
		}
		if arg.MarginBps.Int32 < -10000 {
			return errors.New("margin_bps below -10000 prices shipments below zero")
		}
	case KindMarginFixed:
		if !arg.MarginFixed.Valid {
			return errors.New("margin_fixed rule needs margin_fixed")
		}
	case KindWeightRanges:
		var ranges []WeightRange
		if len(arg.WeightRanges) == 0 {
			return errors.New("weight_ranges rule needs weight_ranges")
		}
		if err := json.Unmarshal(arg.WeightRanges, &ranges); err != nil {
			return fmt.Errorf("decode weight ranges: %w", err)
		}
		if err := ValidateRanges(ranges); err != nil {
			return err
		}
	case KindBoxtalOnly:
	default:
		return fmt.Errorf("unknown rule kind %q", arg.Kind)
	}
	if arg.MinWeightG.Valid && arg.MaxWeightG.Valid && arg.MinWeightG.Int64 > arg.MaxWeightG.Int64 {
		return errors.New("min_weight_g must not exceed max_weight_g")
	}
	return nil
}
