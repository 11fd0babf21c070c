package shiprate

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lilou-atelier/backend-boutique/internal/common"
	"github.com/lilou-atelier/backend-boutique/internal/obs"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

// Handler exposes the public quote endpoint and the admin rule management
// endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type quoteRequest struct {
	BasePrice    int64  `json:"basePrice" validate:"min=0"`
	WeightG      int64  `json:"weightG" validate:"min=0"`
	OrderValue   int64  `json:"orderValue" validate:"min=0"`
	ShippingType string `json:"shippingType" validate:"required,oneof=home relay"`
	Country      string `json:"country" validate:"omitempty,oneof=FR BE ALL"`
}

// Quote prices a shipment against the active rule set.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := h.Svc.Quote(r.Context(), QuoteInput{
		BasePrice:    req.BasePrice,
		WeightG:      req.WeightG,
		OrderValue:   req.OrderValue,
		ShippingType: req.ShippingType,
		Country:      req.Country,
	})
	if err != nil {
		if errors.Is(err, ErrNoActiveRule) {
			obs.CountShippingQuote("no_rule")
			common.JSONError(w, http.StatusNotFound, "NO_ACTIVE_RULE", "no active shipping rule", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to quote shipping", nil)
		return
	}
	if result.Free {
		obs.CountShippingQuote("free")
	} else {
		obs.CountShippingQuote("computed")
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

type rulePayload struct {
	Name                  string        `json:"name" validate:"required"`
	Kind                  string        `json:"kind" validate:"required,oneof=fixed margin_percent margin_fixed weight_ranges boxtal_only"`
	ShippingType          *string       `json:"shippingType" validate:"omitempty,oneof=home relay"`
	Country               *string       `json:"country" validate:"omitempty,oneof=FR BE ALL"`
	FixedPrice            *int64        `json:"fixedPrice" validate:"omitempty,min=0"`
	MarginBps             *int32        `json:"marginBps"`
	MarginFixed           *int64        `json:"marginFixed"`
	WeightRanges          []WeightRange `json:"weightRanges" validate:"omitempty,dive"`
	MinWeightG            *int64        `json:"minWeightG" validate:"omitempty,min=0"`
	MaxWeightG            *int64        `json:"maxWeightG" validate:"omitempty,min=0"`
	MinOrderValue         *int64        `json:"minOrderValue" validate:"omitempty,min=0"`
	FreeShippingThreshold *int64        `json:"freeShippingThreshold" validate:"omitempty,min=0"`
}

// Create inserts a new, inactive rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	params, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	created, err := h.Svc.CreateRule(r.Context(), params)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toRuleView(created)})
}

// Update replaces the pricing fields of an existing rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}
	params, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	updated, err := h.Svc.UpdateRule(r.Context(), id, params)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "shipping rule not found", nil)
			return
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toRuleView(updated)})
}

// Activate makes the rule the single active rule for its shipping type.
func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}
	activated, err := h.Svc.Activate(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "shipping rule not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to activate shipping rule", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toRuleView(activated)})
}

// List returns every rule for the admin console.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Svc.ListRules(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list shipping rules", nil)
		return
	}
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, toRuleView(rule))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": views})
}

func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (store.SaveShippingRuleParams, bool) {
	var payload rulePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return store.SaveShippingRuleParams{}, false
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return store.SaveShippingRuleParams{}, false
	}
	params := store.SaveShippingRuleParams{
		Name: strings.TrimSpace(payload.Name),
		Kind: Kind(payload.Kind),
	}
	if payload.ShippingType != nil {
		params.ShippingType = pgtype.Text{String: *payload.ShippingType, Valid: true}
	}
	if payload.Country != nil {
		params.Country = pgtype.Text{String: *payload.Country, Valid: true}
	}
	if payload.FixedPrice != nil {
		params.FixedPrice = pgtype.Int8{Int64: *payload.FixedPrice, Valid: true}
	}
	if payload.MarginBps != nil {
		params.MarginBps = pgtype.Int4{Int32: *payload.MarginBps, Valid: true}
	}
	if payload.MarginFixed != nil {
		params.MarginFixed = pgtype.Int8{Int64: *payload.MarginFixed, Valid: true}
	}
	if payload.MinWeightG != nil {
		params.MinWeightG = pgtype.Int8{Int64: *payload.MinWeightG, Valid: true}
	}
	if payload.MaxWeightG != nil {
		params.MaxWeightG = pgtype.Int8{Int64: *payload.MaxWeightG, Valid: true}
	}
	if payload.MinOrderValue != nil {
		params.MinOrderValue = pgtype.Int8{Int64: *payload.MinOrderValue, Valid: true}
	}
	if payload.FreeShippingThreshold != nil {
		params.FreeShippingThreshold = pgtype.Int8{Int64: *payload.FreeShippingThreshold, Valid: true}
	}
	if len(payload.WeightRanges) > 0 {
		encoded, err := json.Marshal(payload.WeightRanges)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid weight ranges", nil)
			return store.SaveShippingRuleParams{}, false
		}
		params.WeightRanges = encoded
	}
	return params, true
}

type ruleView struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	Kind                  string          `json:"kind"`
	ShippingType          *string         `json:"shippingType,omitempty"`
	Country               *string         `json:"country,omitempty"`
	FixedPrice            *int64          `json:"fixedPrice,omitempty"`
	MarginBps             *int32          `json:"marginBps,omitempty"`
	MarginFixed           *int64          `json:"marginFixed,omitempty"`
	WeightRanges          json.RawMessage `json:"weightRanges,omitempty"`
	MinWeightG            *int64          `json:"minWeightG,omitempty"`
	MaxWeightG            *int64          `json:"maxWeightG,omitempty"`
	MinOrderValue         *int64          `json:"minOrderValue,omitempty"`
	FreeShippingThreshold *int64          `json:"freeShippingThreshold,omitempty"`
	Active                bool            `json:"active"`
	CreatedAt             *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt             *time.Time      `json:"updatedAt,omitempty"`
}

func toRuleView(m store.ShippingPriceRule) ruleView {
	view := ruleView{
		ID:     store.UUIDString(m.ID),
		Name:   m.Name,
		Kind:   string(m.Kind),
		Active: m.Active,
	}
	if m.ShippingType.Valid {
		v := m.ShippingType.String
		view.ShippingType = &v
	}
	if m.Country.Valid {
		v := m.Country.String
		view.Country = &v
	}
	if m.FixedPrice.Valid {
		v := m.FixedPrice.Int64
		view.FixedPrice = &v
	}
	if m.MarginBps.Valid {
		v := m.MarginBps.Int32
		view.MarginBps = &v
	}
	if m.MarginFixed.Valid {
		v := m.MarginFixed.Int64
		view.MarginFixed = &v
	}
	if len(m.WeightRanges) > 0 {
		view.WeightRanges = json.RawMessage(m.WeightRanges)
	}
	if m.MinWeightG.Valid {
		v := m.MinWeightG.Int64
		view.MinWeightG = &v
	}
	if m.MaxWeightG.Valid {
		v := m.MaxWeightG.Int64
		view.MaxWeightG = &v
	}
	if m.MinOrderValue.Valid {
		v := m.MinOrderValue.Int64
		view.MinOrderValue = &v
	}
	if m.FreeShippingThreshold.Valid {
		v := m.FreeShippingThreshold.Int64
		view.FreeShippingThreshold = &v
	}
	if m.CreatedAt.Valid {
		t := m.CreatedAt.Time
		view.CreatedAt = &t
	}
	if m.UpdatedAt.Valid {
		t := m.UpdatedAt.Time
		view.UpdatedAt = &t
	}
	return view
}

func parseRuleID(w http.ResponseWriter, r *http.Request) (pgtype.UUID, bool) {
	id, err := store.ToUUID(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
		return pgtype.UUID{}, false
	}
	return id, true
}
