package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ShippingRuleKind enumerates the pricing strategies a rule can use.
type ShippingRuleKind string

const (
	ShippingRuleFixed         ShippingRuleKind = "fixed"
	ShippingRuleMarginPercent ShippingRuleKind = "margin_percent"
	ShippingRuleMarginFixed   ShippingRuleKind = "margin_fixed"
	ShippingRuleWeightRanges  ShippingRuleKind = "weight_ranges"
	ShippingRuleBoxtalOnly    ShippingRuleKind = "boxtal_only"
)

// ShippingPriceRule mirrors a row of shipping_price_rules. ShippingType is
// NULL on legacy rows created before home/relay split; WeightRanges holds
// the serialised range bands for weight_ranges rules.
type ShippingPriceRule struct {
	ID                    pgtype.UUID
	Name                  string
	Kind                  ShippingRuleKind
	ShippingType          pgtype.Text
	Country               pgtype.Text
	FixedPrice            pgtype.Int8
	MarginBps             pgtype.Int4
	MarginFixed           pgtype.Int8
	WeightRanges          []byte
	MinWeightG            pgtype.Int8
	MaxWeightG            pgtype.Int8
	MinOrderValue         pgtype.Int8
	FreeShippingThreshold pgtype.Int8
	Active                bool
	CreatedAt             pgtype.Timestamptz
	UpdatedAt             pgtype.Timestamptz
}

const shipRuleColumns = `id, name, kind, shipping_type, country, fixed_price, margin_bps,
margin_fixed, weight_ranges, min_weight_g, max_weight_g, min_order_value,
free_shipping_threshold, active, created_at, updated_at`

func scanShippingRule(row interface{ Scan(dest ...any) error }) (ShippingPriceRule, error) {
	var r ShippingPriceRule
	err := row.Scan(
		&r.ID, &r.Name, &r.Kind, &r.ShippingType, &r.Country, &r.FixedPrice, &r.MarginBps,
		&r.MarginFixed, &r.WeightRanges, &r.MinWeightG, &r.MaxWeightG, &r.MinOrderValue,
		&r.FreeShippingThreshold, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (q *Queries) collectShippingRules(ctx context.Context, sql string, args ...any) ([]ShippingPriceRule, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShippingPriceRule
	for rows.Next() {
		r, err := scanShippingRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetShippingRule loads a rule by id.
func (q *Queries) GetShippingRule(ctx context.Context, id pgtype.UUID) (ShippingPriceRule, error) {
	row := q.db.QueryRow(ctx, `SELECT `+shipRuleColumns+` FROM shipping_price_rules WHERE id = $1`, id)
	return scanShippingRule(row)
}

// ListShippingRules returns every rule ordered by creation time.
func (q *Queries) ListShippingRules(ctx context.Context) ([]ShippingPriceRule, error) {
	return q.collectShippingRules(ctx, `SELECT `+shipRuleColumns+` FROM shipping_price_rules ORDER BY created_at DESC`)
}

// ListActiveShippingRules returns the active rules; resolution priority is
// applied in the shiprate package.
func (q *Queries) ListActiveShippingRules(ctx context.Context) ([]ShippingPriceRule, error) {
	return q.collectShippingRules(ctx, `SELECT `+shipRuleColumns+` FROM shipping_price_rules WHERE active ORDER BY created_at`)
}

// SaveShippingRuleParams carries a rule insert or update payload.
type SaveShippingRuleParams struct {
	Name                  string
	Kind                  ShippingRuleKind
	ShippingType          pgtype.Text
	Country               pgtype.Text
	FixedPrice            pgtype.Int8
	MarginBps             pgtype.Int4
	MarginFixed           pgtype.Int8
	WeightRanges          []byte
	MinWeightG            pgtype.Int8
	MaxWeightG            pgtype.Int8
	MinOrderValue         pgtype.Int8
	FreeShippingThreshold pgtype.Int8
}

// CreateShippingRule inserts an inactive rule; activation is a separate,
// transactional step.
func (q *Queries) CreateShippingRule(ctx context.Context, arg SaveShippingRuleParams) (ShippingPriceRule, error) {
	row := q.db.QueryRow(ctx, `
INSERT INTO shipping_price_rules (
    name, kind, shipping_type, country, fixed_price, margin_bps, margin_fixed,
    weight_ranges, min_weight_g, max_weight_g, min_order_value, free_shipping_threshold
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING `+shipRuleColumns,
		arg.Name, arg.Kind, arg.ShippingType, arg.Country, arg.FixedPrice, arg.MarginBps,
		arg.MarginFixed, arg.WeightRanges, arg.MinWeightG, arg.MaxWeightG, arg.MinOrderValue,
		arg.FreeShippingThreshold)
	return scanShippingRule(row)
}

// UpdateShippingRule replaces the pricing fields of an existing rule.
func (q *Queries) UpdateShippingRule(ctx context.Context, id pgtype.UUID, arg SaveShippingRuleParams) (ShippingPriceRule, error) {
	row := q.db.QueryRow(ctx, `
UPDATE shipping_price_rules SET
    name = $2, kind = $3, shipping_type = $4, country = $5, fixed_price = $6,
    margin_bps = $7, margin_fixed = $8, weight_ranges = $9, min_weight_g = $10,
    max_weight_g = $11, min_order_value = $12, free_shipping_threshold = $13,
    updated_at = now()
WHERE id = $1
RETURNING `+shipRuleColumns,
		id, arg.Name, arg.Kind, arg.ShippingType, arg.Country, arg.FixedPrice, arg.MarginBps,
		arg.MarginFixed, arg.WeightRanges, arg.MinWeightG, arg.MaxWeightG, arg.MinOrderValue,
		arg.FreeShippingThreshold)
	return scanShippingRule(row)
}

// ActivateShippingRule flips the rule active while deactivating every other
// active rule of the same shipping type in one transaction, so readers never
// observe zero or two winners. Legacy rows without a shipping type count as
// home siblings.
func ActivateShippingRule(ctx context.Context, pool *pgxpool.Pool, id pgtype.UUID) (ShippingPriceRule, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ShippingPriceRule{}, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var shippingType pgtype.Text
	if err := tx.QueryRow(ctx, `SELECT shipping_type FROM shipping_price_rules WHERE id = $1 FOR UPDATE`, id).Scan(&shippingType); err != nil {
		return ShippingPriceRule{}, err
	}
	if _, err := tx.Exec(ctx, `
UPDATE shipping_price_rules
SET active = false, updated_at = now()
WHERE id <> $1 AND active
  AND (shipping_type IS NOT DISTINCT FROM $2
       OR (shipping_type IS NULL AND $2 = 'home')
       OR ($2 IS NULL AND shipping_type = 'home'))`,
		id, shippingType); err != nil {
		return ShippingPriceRule{}, err
	}
	row := tx.QueryRow(ctx, `
UPDATE shipping_price_rules SET active = true, updated_at = now()
WHERE id = $1
RETURNING `+shipRuleColumns, id)
	rule, err := scanShippingRule(row)
	if err != nil {
		return ShippingPriceRule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ShippingPriceRule{}, err
	}
	return rule, nil
}
