package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lilou-atelier/backend-boutique/internal/common"
	"github.com/lilou-atelier/backend-boutique/internal/obs"
	"github.com/lilou-atelier/backend-boutique/internal/promo"
)

// Handler exposes the checkout quote and confirm endpoints.
type Handler struct {
	Svc *Service
}

type linePayload struct {
	ProductID       string  `json:"productId"`
	VariantID       *string `json:"variantId"`
	Category        *string `json:"category"`
	Gamme           *string `json:"gamme"`
	Conditionnement *string `json:"conditionnement"`
	UnitPrice       int64   `json:"unitPrice"`
	Qty             int     `json:"qty"`
	UnitWeightG     int64   `json:"unitWeightG"`
	IsFree          bool    `json:"isFree"`
	Location        string  `json:"location"`
}

type checkoutPayload struct {
	OrderID      string        `json:"orderId"`
	UserID       *string       `json:"userId"`
	Lines        []linePayload `json:"lines"`
	Country      string        `json:"country"`
	ShippingType string        `json:"shippingType"`
	CarrierQuote int64         `json:"carrierQuote"`
	PromoCode    string        `json:"promoCode"`
	HoldTokens   []string      `json:"holdTokens"`
}

// Quote prices a checkout without mutating state.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r, false)
	if !ok {
		return
	}
	out, err := h.Svc.Quote(r.Context(), in)
	if err != nil {
		if errors.Is(err, ErrEmptyCart) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart is empty", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to quote checkout", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// Confirm finalises an order. It refuses while shipping is still pending
// and surfaces promo rejections as a 422 rather than silently dropping the
// discount.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeInput(w, r, true)
	if !ok {
		return
	}
	out, err := h.Svc.Confirm(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCart):
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "cart is empty", nil)
		case errors.Is(err, ErrShippingPending):
			obs.CountCheckoutConfirmation("shipping_pending")
			common.JSONError(w, http.StatusConflict, "SHIPPING_PENDING", "shipping cost not yet known", nil)
		default:
			if reason, isPromo := promo.ReasonFor(err); isPromo {
				obs.CountCheckoutConfirmation("promo_rejected")
				common.JSONError(w, http.StatusUnprocessableEntity, "PROMO_REJECTED", reason, nil)
				return
			}
			obs.CountCheckoutConfirmation("error")
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to confirm checkout", nil)
		}
		return
	}
	obs.CountCheckoutConfirmation("confirmed")
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request, requireOrder bool) (Input, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return Input{}, false
	}
	var payload checkoutPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return Input{}, false
	}

	in := Input{
		CarrierQuote: payload.CarrierQuote,
		PromoCode:    payload.PromoCode,
		HoldTokens:   payload.HoldTokens,
	}
	if requireOrder {
		orderID, err := uuid.Parse(strings.TrimSpace(payload.OrderID))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid order id", nil)
			return Input{}, false
		}
		in.OrderID = orderID
	}
	if payload.UserID != nil && strings.TrimSpace(*payload.UserID) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(*payload.UserID))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
			return Input{}, false
		}
		in.UserID = &parsed
	}
	if in.UserID == nil {
		if id, ok := common.UserID(r.Context()); ok {
			if parsed, err := uuid.Parse(id); err == nil {
				in.UserID = &parsed
			}
		}
	}
	if strings.TrimSpace(payload.ShippingType) != "" {
		in.Destination = &Destination{
			Country:      strings.TrimSpace(payload.Country),
			ShippingType: strings.TrimSpace(payload.ShippingType),
		}
	}
	for _, l := range payload.Lines {
		productID, err := uuid.Parse(strings.TrimSpace(l.ProductID))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
			return Input{}, false
		}
		line := Line{
			ProductID:       productID,
			Category:        l.Category,
			Gamme:           l.Gamme,
			Conditionnement: l.Conditionnement,
			UnitPrice:       l.UnitPrice,
			Qty:             l.Qty,
			UnitWeightG:     l.UnitWeightG,
			IsFree:          l.IsFree,
			Location:        l.Location,
		}
		if l.VariantID != nil && strings.TrimSpace(*l.VariantID) != "" {
			parsed, err := uuid.Parse(strings.TrimSpace(*l.VariantID))
			if err != nil {
				common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
				return Input{}, false
			}
			line.VariantID = &parsed
		}
		in.Lines = append(in.Lines, line)
	}
	return in, true
}
