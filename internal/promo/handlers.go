package promo

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lilou-atelier/backend-boutique/internal/common"
	"github.com/lilou-atelier/backend-boutique/internal/obs"
	"github.com/lilou-atelier/backend-boutique/internal/store"
)

// Handler exposes the public validate endpoint and the admin management
// endpoints for promo codes.
type Handler struct {
	Svc *Service
}

type codePayload struct {
	Code                    string     `json:"code"`
	Kind                    string     `json:"kind"`
	Value                   int64      `json:"value"`
	PercentBps              *int32     `json:"percentBps"`
	MinPurchase             *int64     `json:"minPurchase"`
	MaxUses                 *int32     `json:"maxUses"`
	ValidFrom               *time.Time `json:"validFrom"`
	ValidUntil              *time.Time `json:"validUntil"`
	Active                  *bool      `json:"active"`
	AllowedUserIDs          []string   `json:"allowedUserIds"`
	AllowedProductIDs       []string   `json:"allowedProductIds"`
	AllowedCategories       []string   `json:"allowedCategories"`
	AllowedGammes           []string   `json:"allowedGammes"`
	AllowedConditionnements []string   `json:"allowedConditionnements"`
	UnlimitedPerUser        *bool      `json:"unlimitedPerUser"`
}

type validateRequest struct {
	Code   string         `json:"code"`
	UserID *string        `json:"userId"`
	Lines  []validateLine `json:"lines"`
}

type validateLine struct {
	ProductID       string  `json:"productId"`
	VariantID       *string `json:"variantId"`
	Category        *string `json:"category"`
	Gamme           *string `json:"gamme"`
	Conditionnement *string `json:"conditionnement"`
	UnitPrice       int64   `json:"unitPrice"`
	Qty             int     `json:"qty"`
	IsFree          bool    `json:"isFree"`
}

type validateResponse struct {
	Valid          bool   `json:"valid"`
	Reason         string `json:"reason,omitempty"`
	Code           string `json:"code,omitempty"`
	Discount       int64  `json:"discount,omitempty"`
	EligibleAmount int64  `json:"eligibleAmount,omitempty"`
}

// Validate evaluates a code against the submitted cart. Business rejections
// are a 200 with valid=false and a stable reason, so storefront clients can
// show the right message without parsing prose.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo service not configured", nil)
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	lines, err := toEngineLines(req.Lines)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var userID *uuid.UUID
	if req.UserID != nil && strings.TrimSpace(*req.UserID) != "" {
		parsed, err := uuid.Parse(strings.TrimSpace(*req.UserID))
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
			return
		}
		userID = &parsed
	}
	if userID == nil {
		if id, ok := common.UserID(r.Context()); ok {
			if parsed, err := uuid.Parse(id); err == nil {
				userID = &parsed
			}
		}
	}
	result, err := h.Svc.Validate(r.Context(), req.Code, userID, lines)
	if err != nil {
		if reason, ok := ReasonFor(err); ok {
			obs.CountPromoValidation(reason)
			common.JSON(w, http.StatusOK, map[string]any{"data": validateResponse{Valid: false, Reason: reason}})
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to validate promo code", nil)
		return
	}
	obs.CountPromoValidation("valid")
	common.JSON(w, http.StatusOK, map[string]any{"data": validateResponse{
		Valid:          true,
		Code:           result.Code,
		Discount:       result.Discount,
		EligibleAmount: result.EligibleAmount,
	}})
}

// Create registers a new promo code.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var payload codePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	params, err := buildCodeParams(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	created, err := h.Svc.CreateCode(r.Context(), params)
	if err != nil {
		if store.IsUniqueViolation(err, "") {
			common.JSONError(w, http.StatusConflict, "CONFLICT", "promo code already exists", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to create promo code", nil)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": toCodeView(created)})
}

// Update mutates an existing promo code identified by code.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "code is required", nil)
		return
	}
	var payload codePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	params, err := buildCodeParams(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	updated, err := h.Svc.UpdateCode(r.Context(), code, params)
	if err != nil {
		if errors.Is(err, ErrUnknownCode) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promo code not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to update promo code", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": toCodeView(updated)})
}

// List returns promo codes for the admin console, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	codes, err := h.Svc.ListCodes(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to list promo codes", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	total := len(codes)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	views := make([]codeView, 0, end-start)
	for _, c := range codes[start:end] {
		views = append(views, toCodeView(c))
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       views,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// ReasonFor maps a business sentinel to its stable wire reason.
func ReasonFor(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrUnknownCode):
		return "unknown_code", true
	case errors.Is(err, ErrInactive):
		return "inactive", true
	case errors.Is(err, ErrNotStarted):
		return "not_started", true
	case errors.Is(err, ErrExpired):
		return "expired", true
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit_reached", true
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used", true
	case errors.Is(err, ErrMinPurchaseUnmet):
		return "min_purchase_unmet", true
	case errors.Is(err, ErrUserNotEligible):
		return "user_not_eligible", true
	case errors.Is(err, ErrNotApplicable):
		return "not_applicable", true
	}
	return "", false
}

type codeView struct {
	ID                      string     `json:"id"`
	Code                    string     `json:"code"`
	Kind                    string     `json:"kind"`
	Value                   int64      `json:"value"`
	PercentBps              *int32     `json:"percentBps,omitempty"`
	MinPurchase             *int64     `json:"minPurchase,omitempty"`
	MaxUses                 *int32     `json:"maxUses,omitempty"`
	UsedCount               int32      `json:"usedCount"`
	ValidFrom               *time.Time `json:"validFrom,omitempty"`
	ValidUntil              *time.Time `json:"validUntil,omitempty"`
	Active                  bool       `json:"active"`
	AllowedUserIDs          []string   `json:"allowedUserIds,omitempty"`
	AllowedProductIDs       []string   `json:"allowedProductIds,omitempty"`
	AllowedCategories       []string   `json:"allowedCategories,omitempty"`
	AllowedGammes           []string   `json:"allowedGammes,omitempty"`
	AllowedConditionnements []string   `json:"allowedConditionnements,omitempty"`
	UnlimitedPerUser        bool       `json:"unlimitedPerUser"`
}

func toCodeView(p store.PromoCode) codeView {
	view := codeView{
		ID:                      store.UUIDString(p.ID),
		Code:                    p.Code,
		Kind:                    string(p.Kind),
		Value:                   p.Value,
		UsedCount:               p.UsedCount,
		Active:                  p.Active,
		AllowedCategories:       p.AllowedCategories,
		AllowedGammes:           p.AllowedGammes,
		AllowedConditionnements: p.AllowedConditionnements,
		UnlimitedPerUser:        p.UnlimitedPerUser,
	}
	if p.PercentBps.Valid {
		v := p.PercentBps.Int32
		view.PercentBps = &v
	}
	if p.MinPurchase.Valid {
		v := p.MinPurchase.Int64
		view.MinPurchase = &v
	}
	if p.MaxUses.Valid {
		v := p.MaxUses.Int32
		view.MaxUses = &v
	}
	if p.ValidFrom.Valid {
		t := p.ValidFrom.Time
		view.ValidFrom = &t
	}
	if p.ValidUntil.Valid {
		t := p.ValidUntil.Time
		view.ValidUntil = &t
	}
	view.AllowedUserIDs = uuidStrings(p.AllowedUserIDs)
	view.AllowedProductIDs = uuidStrings(p.AllowedProductIDs)
	return view
}

func uuidStrings(values []pgtype.UUID) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v.Valid {
			out = append(out, store.UUIDString(v))
		}
	}
	return out
}

func buildCodeParams(payload codePayload) (store.CreatePromoCodeParams, error) {
	code := strings.TrimSpace(payload.Code)
	kind := store.DiscountKind(strings.TrimSpace(payload.Kind))
	switch kind {
	case store.DiscountKindPercentage, store.DiscountKindFixed:
	default:
		return store.CreatePromoCodeParams{}, errors.New("invalid kind")
	}
	if kind == store.DiscountKindPercentage {
		if payload.PercentBps == nil || *payload.PercentBps <= 0 || *payload.PercentBps > 10000 {
			return store.CreatePromoCodeParams{}, errors.New("percentBps must be within (0, 10000]")
		}
	}
	if kind == store.DiscountKindFixed && payload.Value <= 0 {
		return store.CreatePromoCodeParams{}, errors.New("value must be positive")
	}
	percent := pgtype.Int4{}
	if payload.PercentBps != nil {
		percent = pgtype.Int4{Int32: *payload.PercentBps, Valid: true}
	}
	minPurchase := pgtype.Int8{}
	if payload.MinPurchase != nil {
		if *payload.MinPurchase < 0 {
			return store.CreatePromoCodeParams{}, errors.New("minPurchase must not be negative")
		}
		minPurchase = pgtype.Int8{Int64: *payload.MinPurchase, Valid: true}
	}
	maxUses := pgtype.Int4{}
	if payload.MaxUses != nil {
		if *payload.MaxUses <= 0 {
			return store.CreatePromoCodeParams{}, errors.New("maxUses must be positive")
		}
		maxUses = pgtype.Int4{Int32: *payload.MaxUses, Valid: true}
	}
	userIDs, err := toUUIDArray(payload.AllowedUserIDs)
	if err != nil {
		return store.CreatePromoCodeParams{}, err
	}
	productIDs, err := toUUIDArray(payload.AllowedProductIDs)
	if err != nil {
		return store.CreatePromoCodeParams{}, err
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	unlimited := false
	if payload.UnlimitedPerUser != nil {
		unlimited = *payload.UnlimitedPerUser
	}
	params := store.CreatePromoCodeParams{
		Code:                    code,
		Kind:                    kind,
		Value:                   payload.Value,
		PercentBps:              percent,
		MinPurchase:             minPurchase,
		MaxUses:                 maxUses,
		ValidFrom:               timeToNullable(payload.ValidFrom),
		ValidUntil:              timeToNullable(payload.ValidUntil),
		Active:                  active,
		AllowedUserIDs:          userIDs,
		AllowedProductIDs:       productIDs,
		AllowedCategories:       cleanStrings(payload.AllowedCategories),
		AllowedGammes:           cleanStrings(payload.AllowedGammes),
		AllowedConditionnements: cleanStrings(payload.AllowedConditionnements),
		UnlimitedPerUser:        unlimited,
	}
	if params.Code == "" {
		return store.CreatePromoCodeParams{}, errors.New("code is required")
	}
	return params, nil
}

func toEngineLines(lines []validateLine) ([]CartLine, error) {
	if len(lines) == 0 {
		return nil, errors.New("lines are required")
	}
	out := make([]CartLine, 0, len(lines))
	for _, l := range lines {
		productID, err := uuid.Parse(strings.TrimSpace(l.ProductID))
		if err != nil {
			return nil, errors.New("invalid product id")
		}
		line := CartLine{
			ProductID:       productID,
			Category:        l.Category,
			Gamme:           l.Gamme,
			Conditionnement: l.Conditionnement,
			UnitPrice:       l.UnitPrice,
			Qty:             l.Qty,
			IsFree:          l.IsFree,
		}
		if l.VariantID != nil && strings.TrimSpace(*l.VariantID) != "" {
			parsed, err := uuid.Parse(strings.TrimSpace(*l.VariantID))
			if err != nil {
				return nil, errors.New("invalid variant id")
			}
			line.VariantID = &parsed
		}
		out = append(out, line)
	}
	return out, nil
}

func toUUIDArray(values []string) ([]pgtype.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]pgtype.UUID, 0, len(values))
	for _, raw := range values {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		parsed, err := store.ToUUID(trimmed)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed)
	}
	return out, nil
}

func timeToNullable(v *time.Time) pgtype.Timestamptz {
	if v == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *v, Valid: true}
}

func cleanStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
