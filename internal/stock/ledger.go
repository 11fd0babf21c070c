package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/lilou-atelier/backend-boutique/internal/store"
)

// ErrInvalidQuantity is returned when a caller passes a non-positive qty.
var ErrInvalidQuantity = errors.New("quantity must be positive")

// DefaultLocation is used when the caller does not name a warehouse.
const DefaultLocation = "default"

// Availability is the tagged result of a stock lookup. An untracked SKU has
// no ledger row and sells without limit; a tracked SKU with zero available
// is genuinely out of stock. Collapsing the two into one number is exactly
// the ambiguity this type exists to prevent.
type Availability struct {
	Tracked  bool
	Stock    int64
	Reserved int64
}

// Available returns max(0, stock-reserved) for a tracked SKU and 0 for an
// untracked one; check Tracked before treating 0 as sold out.
func (a Availability) Available() int64 {
	if !a.Tracked {
		return 0
	}
	if a.Stock <= a.Reserved {
		return 0
	}
	return a.Stock - a.Reserved
}

// Sentinel renders the availability in the legacy wire convention where -1
// means untracked/unlimited. Only the HTTP layer should use it.
func (a Availability) Sentinel() int64 {
	if !a.Tracked {
		return -1
	}
	return a.Available()
}

// Low reports whether a tracked SKU sits at or below the threshold, the
// trigger for "pre-order / extended delay" messaging.
func (a Availability) Low(threshold int64) bool {
	return a.Tracked && threshold > 0 && a.Available() <= threshold
}

// Querier captures the database methods required by the ledger.
type Querier interface {
	GetStockRecord(ctx context.Context, key store.StockKey) (store.StockRecord, error)
	TryReserveStock(ctx context.Context, key store.StockKey, qty int64) (bool, error)
	ReleaseStock(ctx context.Context, key store.StockKey, qty int64) error
	ConfirmStock(ctx context.Context, key store.StockKey, qty int64) (store.StockRecord, error)
	UpsertStock(ctx context.Context, key store.StockKey, stock int64) (store.StockRecord, error)
}

// ExpiryScheduler enqueues the delayed release of an unconverted
// reservation.
type ExpiryScheduler interface {
	ScheduleHoldExpiry(ctx context.Context, token string, delay time.Duration) error
}

// ReserveResult reports the outcome of a reservation attempt. A failed
// attempt is a business outcome for the caller's UI, never an error.
type ReserveResult struct {
	OK        bool
	Tracked   bool
	HoldToken string
}

// OrderItem is one line of a confirmed order.
type OrderItem struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Location  string
	Qty       int64
}

// Service implements the stock ledger against the persistent store. All
// counter mutations happen store-side in single conditional statements, so
// concurrent carts for the same SKU never lose updates.
type Service struct {
	Q                 Querier
	Holds             *HoldStore
	Scheduler         ExpiryScheduler
	Log               zerolog.Logger
	LowStockThreshold int64
	HoldTTL           time.Duration
}

// Key builds the ledger key, applying the default location.
func Key(productID uuid.UUID, variantID *uuid.UUID, location string) store.StockKey {
	key := store.StockKey{ProductID: store.FromUUID(productID), Location: strings.TrimSpace(location)}
	if key.Location == "" {
		key.Location = DefaultLocation
	}
	if variantID != nil {
		key.VariantID = store.FromUUID(*variantID)
	}
	return key
}

// Get returns the availability for a key. A missing row is untracked.
func (s *Service) Get(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, location string) (Availability, error) {
	rec, err := s.Q.GetStockRecord(ctx, Key(productID, variantID, location))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Availability{}, nil
		}
		return Availability{}, fmt.Errorf("get stock record: %w", err)
	}
	return Availability{Tracked: true, Stock: rec.Stock, Reserved: rec.Reserved}, nil
}

// Reserve attempts to hold qty units. Untracked SKUs always succeed without
// mutation. Tracked SKUs succeed only when enough stock remains, via a
// single conditional update. Successful tracked reservations get a hold
// token whose expiry releases the units if checkout never converts them.
func (s *Service) Reserve(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, location string, qty int64) (ReserveResult, error) {
	if qty <= 0 {
		return ReserveResult{}, ErrInvalidQuantity
	}
	key := Key(productID, variantID, location)
	ok, err := s.Q.TryReserveStock(ctx, key, qty)
	if err != nil {
		return ReserveResult{}, fmt.Errorf("reserve stock: %w", err)
	}
	if !ok {
		// Zero rows either means the SKU is untracked or it is short on
		// stock; only a lookup can tell the two apart.
		_, err := s.Q.GetStockRecord(ctx, key)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ReserveResult{OK: true, Tracked: false}, nil
			}
			return ReserveResult{}, fmt.Errorf("get stock record: %w", err)
		}
		return ReserveResult{OK: false, Tracked: true}, nil
	}

	result := ReserveResult{OK: true, Tracked: true}
	if s.Holds != nil && s.HoldTTL > 0 {
		hold := NewHold(productID, variantID, key.Location, qty)
		if err := s.Holds.Put(ctx, hold); err != nil {
			s.Log.Warn().Err(err).Str("product_id", productID.String()).Msg("hold store write failed")
			return result, nil
		}
		result.HoldToken = hold.Token
		if s.Scheduler != nil {
			if err := s.Scheduler.ScheduleHoldExpiry(ctx, hold.Token, s.HoldTTL); err != nil {
				s.Log.Warn().Err(err).Str("hold_token", hold.Token).Msg("hold expiry scheduling failed")
			}
		}
	}
	return result, nil
}

// Release returns qty reserved units, clamped at zero. Untracked keys are a
// no-op.
func (s *Service) Release(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, location string, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if err := s.Q.ReleaseStock(ctx, Key(productID, variantID, location), qty); err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return nil
}

// ReleaseHold consumes a hold token and releases its reservation. Both the
// expiry worker and explicit cancellation call it; a consumed or expired
// token is a no-op, so either side can run first.
func (s *Service) ReleaseHold(ctx context.Context, token string) error {
	if s.Holds == nil {
		return nil
	}
	hold, found, err := s.Holds.Consume(ctx, token)
	if err != nil {
		return fmt.Errorf("consume hold: %w", err)
	}
	if !found {
		return nil
	}
	return s.Release(ctx, hold.ProductID, hold.VariantID, hold.Location, hold.Qty)
}

// ConsumeHold drops a hold token without releasing stock; checkout calls it
// when the reservation converts into a sale so later expiry is a no-op.
func (s *Service) ConsumeHold(ctx context.Context, token string) error {
	if s.Holds == nil || token == "" {
		return nil
	}
	_, _, err := s.Holds.Consume(ctx, token)
	return err
}

// ConfirmOrder converts reservations into sales: stock and reserved both
// drop by qty per item, clamped at zero. It runs against q so checkout can
// bind it to its transaction. Untracked items are skipped. It returns the
// records that hit zero stock so the caller can emit depletion events after
// commit.
func (s *Service) ConfirmOrder(ctx context.Context, q Querier, items []OrderItem) ([]store.StockRecord, error) {
	var depleted []store.StockRecord
	for _, item := range items {
		if item.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
		rec, err := q.ConfirmStock(ctx, Key(item.ProductID, item.VariantID, item.Location), item.Qty)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("confirm stock: %w", err)
		}
		if rec.Stock == 0 {
			depleted = append(depleted, rec)
		}
	}
	return depleted, nil
}

// Update is the admin override of the absolute stock level. The record is
// created lazily on first write; reserved is clamped down when the new
// level falls below it.
func (s *Service) Update(ctx context.Context, productID uuid.UUID, variantID *uuid.UUID, location string, newStock int64) (store.StockRecord, error) {
	if newStock < 0 {
		return store.StockRecord{}, errors.New("stock must not be negative")
	}
	rec, err := s.Q.UpsertStock(ctx, Key(productID, variantID, location), newStock)
	if err != nil {
		return store.StockRecord{}, fmt.Errorf("upsert stock: %w", err)
	}
	return rec, nil
}
