package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// DiscountKind enumerates how a promo code discounts the eligible basis.
type DiscountKind string

const (
	// DiscountKindPercentage applies percent_bps to the eligible basis.
	DiscountKindPercentage DiscountKind = "percentage"
	// DiscountKindFixed subtracts a flat amount capped at the eligible basis.
	DiscountKindFixed DiscountKind = "fixed"
)

// PromoCode mirrors a row of promo_codes.
type PromoCode struct {
	ID                      pgtype.UUID
	Code                    string
	Kind                    DiscountKind
	Value                   int64
	PercentBps              pgtype.Int4
	MinPurchase             pgtype.Int8
	MaxUses                 pgtype.Int4
	UsedCount               int32
	ValidFrom               pgtype.Timestamptz
	ValidUntil              pgtype.Timestamptz
	Active                  bool
	AllowedUserIDs          []pgtype.UUID
	AllowedProductIDs       []pgtype.UUID
	AllowedCategories       []string
	AllowedGammes           []string
	AllowedConditionnements []string
	UnlimitedPerUser        bool
	CreatedAt               pgtype.Timestamptz
	UpdatedAt               pgtype.Timestamptz
}

// PromoCodeUsage mirrors a row of promo_code_usage.
type PromoCodeUsage struct {
	ID             pgtype.UUID
	PromoCodeID    pgtype.UUID
	UserID         pgtype.UUID
	OrderID        pgtype.UUID
	DiscountAmount int64
	SingleUse      bool
	CreatedAt      pgtype.Timestamptz
}

const promoColumns = `id, code, kind, value, percent_bps, min_purchase, max_uses, used_count,
valid_from, valid_until, active, allowed_user_ids, allowed_product_ids,
allowed_categories, allowed_gammes, allowed_conditionnements, unlimited_per_user,
created_at, updated_at`

func scanPromoCode(row interface{ Scan(dest ...any) error }) (PromoCode, error) {
	var p PromoCode
	err := row.Scan(
		&p.ID, &p.Code, &p.Kind, &p.Value, &p.PercentBps, &p.MinPurchase, &p.MaxUses, &p.UsedCount,
		&p.ValidFrom, &p.ValidUntil, &p.Active, &p.AllowedUserIDs, &p.AllowedProductIDs,
		&p.AllowedCategories, &p.AllowedGammes, &p.AllowedConditionnements, &p.UnlimitedPerUser,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// GetPromoCodeByCode loads a promo code by its public code.
func (q *Queries) GetPromoCodeByCode(ctx context.Context, code string) (PromoCode, error) {
	row := q.db.QueryRow(ctx, `SELECT `+promoColumns+` FROM promo_codes WHERE code = $1`, code)
	return scanPromoCode(row)
}

// ListPromoCodes returns every promo code ordered by creation time.
func (q *Queries) ListPromoCodes(ctx context.Context) ([]PromoCode, error) {
	rows, err := q.db.Query(ctx, `SELECT `+promoColumns+` FROM promo_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PromoCode
	for rows.Next() {
		p, err := scanPromoCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePromoCodeParams carries the insert payload for a promo code.
type CreatePromoCodeParams struct {
	Code                    string
	Kind                    DiscountKind
	Value                   int64
	PercentBps              pgtype.Int4
	MinPurchase             pgtype.Int8
	MaxUses                 pgtype.Int4
	ValidFrom               pgtype.Timestamptz
	ValidUntil              pgtype.Timestamptz
	Active                  bool
	AllowedUserIDs          []pgtype.UUID
	AllowedProductIDs       []pgtype.UUID
	AllowedCategories       []string
	AllowedGammes           []string
	AllowedConditionnements []string
	UnlimitedPerUser        bool
}

// CreatePromoCode inserts a promo code and returns the stored row.
func (q *Queries) CreatePromoCode(ctx context.Context, arg CreatePromoCodeParams) (PromoCode, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO promo_codes (
    code, kind, value, percent_bps, min_purchase, max_uses,
    valid_from, valid_until, active, allowed_user_ids, allowed_product_ids,
    allowed_categories, allowed_gammes, allowed_conditionnements, unlimited_per_user
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
RETURNING `+promoColumns,
		arg.Code, arg.Kind, arg.Value, arg.PercentBps, arg.MinPurchase, arg.MaxUses,
		arg.ValidFrom, arg.ValidUntil, arg.Active, arg.AllowedUserIDs, arg.AllowedProductIDs,
		arg.AllowedCategories, arg.AllowedGammes, arg.AllowedConditionnements, arg.UnlimitedPerUser)
	return scanPromoCode(row)
}

// UpdatePromoCode replaces the mutable fields of a promo code identified by
// its public code.
func (q *Queries) UpdatePromoCode(ctx context.Context, code string, arg CreatePromoCodeParams) (PromoCode, error) {
	row := q.db.QueryRow(ctx, `
UPDATE promo_codes SET
    kind = $2, value = $3, percent_bps = $4, min_purchase = $5, max_uses = $6,
    valid_from = $7, valid_until = $8, active = $9, allowed_user_ids = $10,
    allowed_product_ids = $11, allowed_categories = $12, allowed_gammes = $13,
    allowed_conditionnements = $14, unlimited_per_user = $15, updated_at = now()
WHERE code = $1
RETURNING `+promoColumns,
		code, arg.Kind, arg.Value, arg.PercentBps, arg.MinPurchase, arg.MaxUses,
		arg.ValidFrom, arg.ValidUntil, arg.Active, arg.AllowedUserIDs, arg.AllowedProductIDs,
		arg.AllowedCategories, arg.AllowedGammes, arg.AllowedConditionnements, arg.UnlimitedPerUser)
	return scanPromoCode(row)
}

// CountPromoUsageByUser counts usage rows for a code/user pair.
func (q *Queries) CountPromoUsageByUser(ctx context.Context, promoCodeID, userID pgtype.UUID) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, `
SELECT COUNT(*) FROM promo_code_usage WHERE promo_code_id = $1 AND user_id = $2`,
		promoCodeID, userID).Scan(&count)
	return count, err
}

// InsertPromoUsageParams carries a usage-row insert.
type InsertPromoUsageParams struct {
	PromoCodeID    pgtype.UUID
	UserID         pgtype.UUID
	OrderID        pgtype.UUID
	DiscountAmount int64
	SingleUse      bool
}

// InsertPromoUsage appends a usage row. Replays of the same
// (code, user, order) triple are absorbed by the conflict clause and
// reported as inserted=false; the backing constraint is declared NULLS NOT
// DISTINCT so guest replays (NULL user) are absorbed too. A violation of
// the single-use index propagates so the caller can surface the business
// outcome.
func (q *Queries) InsertPromoUsage(ctx context.Context, arg InsertPromoUsageParams) (bool, error) {
	tag, err := q.db.Exec(ctx, `
INSERT INTO promo_code_usage (promo_code_id, user_id, order_id, discount_amount, single_use)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (promo_code_id, user_id, order_id) DO NOTHING`,
		arg.PromoCodeID, arg.UserID, arg.OrderID, arg.DiscountAmount, arg.SingleUse)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetPromoUsage fetches the usage row for a (code, user, order) triple.
func (q *Queries) GetPromoUsage(ctx context.Context, promoCodeID, userID, orderID pgtype.UUID) (PromoCodeUsage, error) {
	var u PromoCodeUsage
	err := q.db.QueryRow(ctx, `
SELECT id, promo_code_id, user_id, order_id, discount_amount, single_use, created_at
FROM promo_code_usage
WHERE promo_code_id = $1 AND user_id IS NOT DISTINCT FROM $2 AND order_id = $3`,
		promoCodeID, userID, orderID).Scan(
		&u.ID, &u.PromoCodeID, &u.UserID, &u.OrderID, &u.DiscountAmount, &u.SingleUse, &u.CreatedAt)
	return u, err
}

// SingleUseConstraint is the partial unique index backing one-use-per-user
// enforcement; violations of it map to a business error.
const SingleUseConstraint = "ux_promo_usage_single_use"

// IncrementPromoUsedCount bumps used_count while respecting max_uses.
// It reports whether the counter moved.
func (q *Queries) IncrementPromoUsedCount(ctx context.Context, promoCodeID pgtype.UUID) (bool, error) {
	tag, err := q.db.Exec(ctx, `
UPDATE promo_codes
SET used_count = used_count + 1, updated_at = now()
WHERE id = $1 AND (max_uses IS NULL OR used_count < max_uses)`,
		promoCodeID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
