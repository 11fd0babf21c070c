package stock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lilou-atelier/backend-boutique/internal/cache"
)

// Hold is a pending reservation awaiting conversion or expiry.
type Hold struct {
	Token     string     `json:"token"`
	ProductID uuid.UUID  `json:"productId"`
	VariantID *uuid.UUID `json:"variantId,omitempty"`
	Location  string     `json:"location"`
	Qty       int64      `json:"qty"`
}

// NewHold mints a hold with a fresh token.
func NewHold(productID uuid.UUID, variantID *uuid.UUID, location string, qty int64) Hold {
	return Hold{
		Token:     uuid.NewString(),
		ProductID: productID,
		VariantID: variantID,
		Location:  location,
		Qty:       qty,
	}
}

// HoldStore keeps hold tokens in Redis. Consume is a GETDEL, so exactly one
// of checkout-confirm and worker-expiry wins a given token; the loser sees
// a miss and does nothing.
type HoldStore struct {
	Client *redis.Client
	TTL    time.Duration
}

// Put stores the hold. The redis TTL gets a grace margin past the logical
// expiry so the delayed worker task always finds the token it was enqueued
// for.
func (h *HoldStore) Put(ctx context.Context, hold Hold) error {
	if h == nil || h.Client == nil {
		return nil
	}
	data, err := json.Marshal(hold)
	if err != nil {
		return err
	}
	ttl := h.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return h.Client.Set(ctx, cache.HoldKey(hold.Token), data, ttl+time.Minute).Err()
}

// Consume atomically fetches and deletes a hold, reporting whether it still
// existed.
func (h *HoldStore) Consume(ctx context.Context, token string) (Hold, bool, error) {
	if h == nil || h.Client == nil || token == "" {
		return Hold{}, false, nil
	}
	data, err := h.Client.GetDel(ctx, cache.HoldKey(token)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Hold{}, false, nil
		}
		return Hold{}, false, err
	}
	var hold Hold
	if err := json.Unmarshal(data, &hold); err != nil {
		return Hold{}, false, err
	}
	return hold, true, nil
}
