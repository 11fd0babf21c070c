package stock

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lilou-atelier/backend-boutique/internal/common"
	"github.com/lilou-atelier/backend-boutique/internal/obs"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

// Handler exposes the public availability/reservation endpoints and the
// admin stock override.
type Handler struct {
	Svc *Service
}

type availabilityResponse struct {
	// Available keeps the legacy convention: -1 means untracked/unlimited.
	Available int64 `json:"available"`
	Tracked   bool  `json:"tracked"`
	LowStock  bool  `json:"lowStock"`
}

// Availability returns the available quantity for a SKU at a location.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	productID, variantID, location, ok := parseKeyQuery(w, r)
	if !ok {
		return
	}
	avail, err := h.Svc.Get(r.Context(), productID, variantID, location)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to read stock", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": availabilityResponse{
		Available: avail.Sentinel(),
		Tracked:   avail.Tracked,
		LowStock:  avail.Low(h.Svc.LowStockThreshold),
	}})
}

type reserveRequest struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Location  string  `json:"location"`
	Qty       int64   `json:"qty"`
}

type reserveResponse struct {
	Reserved  bool   `json:"reserved"`
	Tracked   bool   `json:"tracked"`
	HoldToken string `json:"holdToken,omitempty"`
}

// Reserve attempts to hold stock for a cart line. Insufficient stock is a
// 200 with reserved=false so the storefront can switch to its extended
// delay messaging instead of failing the add-to-cart.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	productID, variantID, ok := parseKeyBody(w, req.ProductID, req.VariantID)
	if !ok {
		return
	}
	result, err := h.Svc.Reserve(r.Context(), productID, variantID, req.Location, req.Qty)
	if err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "qty must be positive", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to reserve stock", nil)
		return
	}
	switch {
	case result.OK && result.Tracked:
		obs.CountStockReservation("reserved")
	case result.OK:
		obs.CountStockReservation("untracked")
	default:
		obs.CountStockReservation("insufficient")
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": reserveResponse{
		Reserved:  result.OK,
		Tracked:   result.Tracked,
		HoldToken: result.HoldToken,
	}})
}

type releaseRequest struct {
	HoldToken string  `json:"holdToken"`
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Location  string  `json:"location"`
	Qty       int64   `json:"qty"`
}

// Release returns reserved units. Callers pass either the hold token from
// Reserve or an explicit key and quantity.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if strings.TrimSpace(req.HoldToken) != "" {
		if err := h.Svc.ReleaseHold(r.Context(), strings.TrimSpace(req.HoldToken)); err != nil {
			common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to release hold", nil)
			return
		}
		common.JSON(w, http.StatusOK, map[string]any{"data": map[string]bool{"released": true}})
		return
	}
	productID, variantID, ok := parseKeyBody(w, req.ProductID, req.VariantID)
	if !ok {
		return
	}
	if err := h.Svc.Release(r.Context(), productID, variantID, req.Location, req.Qty); err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "qty must be positive", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to release stock", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]bool{"released": true}})
}

type updateRequest struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId"`
	Location  string  `json:"location"`
	Stock     int64   `json:"stock"`
}

type stockView struct {
	ProductID string  `json:"productId"`
	VariantID *string `json:"variantId,omitempty"`
	Location  string  `json:"location"`
	Stock     int64   `json:"stock"`
	Reserved  int64   `json:"reserved"`
}

// Update is the admin override of the absolute stock level.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	productID, variantID, ok := parseKeyBody(w, req.ProductID, req.VariantID)
	if !ok {
		return
	}
	if req.Stock < 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "stock must not be negative", nil)
		return
	}
	rec, err := h.Svc.Update(r.Context(), productID, variantID, req.Location, req.Stock)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update stock", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toStockView(rec)})
}

func toStockView(rec store.StockRecord) stockView {
	view := stockView{
		ProductID: store.UUIDString(rec.ProductID),
		Location:  rec.Location,
		Stock:     rec.Stock,
		Reserved:  rec.Reserved,
	}
	if rec.VariantID.Valid {
		v := store.UUIDString(rec.VariantID)
		view.VariantID = &v
	}
	return view
}

func parseKeyQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, *uuid.UUID, string, bool) {
	productID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("productId")))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return uuid.UUID{}, nil, "", false
	}
	var variantID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("variantId")); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
			return uuid.UUID{}, nil, "", false
		}
		variantID = &parsed
	}
	return productID, variantID, r.URL.Query().Get("location"), true
}

func parseKeyBody(w http.ResponseWriter, rawProduct string, rawVariant *string) (uuid.UUID, *uuid.UUID, bool) {
	productID, err := uuid.Parse(strings.TrimSpace(rawProduct))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return uuid.UUID{}, nil, false
	}
	var variantID *uuid.UUID
	if rawVariant != nil && strings.TrimSpace(*rawVariant) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(*rawVariant))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid variant id", nil)
			return uuid.UUID{}, nil, false
		}
		variantID = &parsed
	}
	return productID, variantID, true
}
