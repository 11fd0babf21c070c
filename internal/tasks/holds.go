package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/lilou-atelier/backend-boutique/internal/obs"
	"github.com/lilou-atelier/backend-boutique/internal/stock"
)

// TypeHoldExpire is the task type for delayed reservation-hold release.
const TypeHoldExpire = "stock:hold:expire"

type holdExpirePayload struct {
	Token string `json:"token"`
}

// Enqueuer schedules background tasks through asynq.
type Enqueuer struct {
	Client *asynq.Client
}

// ScheduleHoldExpiry enqueues a hold release after delay. It satisfies
// stock.ExpiryScheduler.
func (e Enqueuer) ScheduleHoldExpiry(ctx context.Context, token string, delay time.Duration) error {
	if e.Client == nil {
		return nil
	}
	payload, err := json.Marshal(holdExpirePayload{Token: token})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeHoldExpire, payload)
	_, err = e.Client.EnqueueContext(ctx, task, asynq.ProcessIn(delay), asynq.MaxRetry(3))
	if err != nil {
		return fmt.Errorf("enqueue hold expiry: %w", err)
	}
	return nil
}

// HoldExpiryHandler releases reservations whose hold was never converted.
// A hold consumed at checkout is gone from Redis, so the release is a
// no-op and the task succeeds idempotently.
type HoldExpiryHandler struct {
	Stock *stock.Service
	Log   zerolog.Logger
}

// ProcessTask implements asynq.Handler for TypeHoldExpire.
func (h HoldExpiryHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload holdExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		obs.CountHoldExpiry("malformed")
		return fmt.Errorf("decode hold expiry payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.Stock.ReleaseHold(ctx, payload.Token); err != nil {
		obs.CountHoldExpiry("error")
		return err
	}
	obs.CountHoldExpiry("released")
	h.Log.Debug().Str("hold_token", payload.Token).Msg("hold expiry processed")
	return nil
}

// NewMux returns the asynq mux with all task handlers registered.
func NewMux(stockSvc *stock.Service, log zerolog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeHoldExpire, HoldExpiryHandler{Stock: stockSvc, Log: log})
	return mux
}
