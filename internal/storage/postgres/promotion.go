package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/promotion"
)

const (
	promotionColumns = `p.id, p.code, p.name_en, p.name_ar, p.description_en, p.description_ar,
		p.discount_type, p.discount_value, p.max_discount_amount,
		p.buy_quantity, p.get_quantity, p.get_discount_percentage,
		p.start_date, p.end_date, p.min_order_amount, p.min_quantity, p.scope,
		p.usage_limit, p.usage_limit_per_customer, p.used_count,
		p.is_active, p.is_auto_apply, p.priority, p.is_stackable, p.excluded_promotions,
		p.created_at, p.updated_at`

	edgeColumns = `
		ARRAY(SELECT product_id FROM promotion_products WHERE promotion_id = p.id ORDER BY 1),
		ARRAY(SELECT category_id FROM promotion_categories WHERE promotion_id = p.id ORDER BY 1),
		ARRAY(SELECT brand_id FROM promotion_brands WHERE promotion_id = p.id ORDER BY 1)`

	insertPromotionSQL = `INSERT INTO promotions (
			id, code, name_en, name_ar, description_en, description_ar,
			discount_type, discount_value, max_discount_amount,
			buy_quantity, get_quantity, get_discount_percentage,
			start_date, end_date, min_order_amount, min_quantity, scope,
			usage_limit, usage_limit_per_customer, used_count,
			is_active, is_auto_apply, priority, is_stackable, excluded_promotions,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	getPromotionByIDSQL = `SELECT ` + promotionColumns + `,` + edgeColumns + `
		FROM promotions p WHERE p.id = $1`

	listPromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions p
		WHERE ($1::boolean IS NULL OR p.is_active = $1)
			AND ($2::text IS NULL OR p.scope = $2)
		ORDER BY p.priority DESC, p.created_at DESC, p.id
		LIMIT $3 OFFSET $4`

	updatePromotionSQL = `UPDATE promotions SET
			code = $2, name_en = $3, name_ar = $4, description_en = $5, description_ar = $6,
			discount_type = $7, discount_value = $8, max_discount_amount = $9,
			buy_quantity = $10, get_quantity = $11, get_discount_percentage = $12,
			start_date = $13, end_date = $14, min_order_amount = $15, min_quantity = $16,
			scope = $17, usage_limit = $18, usage_limit_per_customer = $19,
			is_active = $20, is_auto_apply = $21, priority = $22, is_stackable = $23,
			excluded_promotions = $24, updated_at = $25
		WHERE id = $1`

	// Edges go with the promotion through ON DELETE CASCADE, so a single
	// statement removes all of them atomically.
	deletePromotionSQL = `DELETE FROM promotions WHERE id = $1`

	activeFilter = `p.is_active AND p.start_date <= $2 AND p.end_date >= $2`
	activeOrder  = ` ORDER BY p.priority DESC, p.created_at DESC, p.id LIMIT 1`

	findProductPromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions p
		JOIN promotion_products e ON e.promotion_id = p.id
		WHERE e.product_id = $1 AND ` + activeFilter + activeOrder

	findCategoryPromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions p
		JOIN promotion_categories e ON e.promotion_id = p.id
		WHERE e.category_id = $1 AND ` + activeFilter + activeOrder

	findBrandPromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions p
		JOIN promotion_brands e ON e.promotion_id = p.id
		WHERE e.brand_id = $1 AND ` + activeFilter + activeOrder

	findStoreWidePromotionSQL = `SELECT ` + promotionColumns + ` FROM promotions p
		WHERE p.scope = 'all' AND p.is_active AND p.start_date <= $1 AND p.end_date >= $1` + activeOrder

	countPromotionCustomerUsageSQL = `SELECT count(*) FROM promotion_usages
		WHERE promotion_id = $1 AND customer_id = $2`

	incrementPromotionUsedSQL = `UPDATE promotions SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	promotionExistsSQL = `SELECT EXISTS (SELECT 1 FROM promotions WHERE id = $1)`

	insertPromotionUsageSQL = `INSERT INTO promotion_usages
		(id, promotion_id, customer_id, order_id, discount_amount, order_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	promotionUsageStatsSQL = `SELECT count(*), count(DISTINCT customer_id),
			COALESCE(sum(discount_amount), 0), COALESCE(sum(order_amount), 0), max(used_at)
		FROM promotion_usages WHERE promotion_id = $1`

	deactivateEndedPromotionsSQL = `UPDATE promotions SET is_active = FALSE, updated_at = $1
		WHERE is_active AND end_date < $1`
)

// Edge tables. Inserts skip pairs already present.
var edgeInserts = [...]string{
	`INSERT INTO promotion_products (promotion_id, product_id)
		SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
	`INSERT INTO promotion_categories (promotion_id, category_id)
		SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
	`INSERT INTO promotion_brands (promotion_id, brand_id)
		SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
}

var edgeDeletes = [...]string{
	`DELETE FROM promotion_products WHERE promotion_id = $1`,
	`DELETE FROM promotion_categories WHERE promotion_id = $1`,
	`DELETE FROM promotion_brands WHERE promotion_id = $1`,
}

var findActiveSQL = map[promotion.Tier]string{
	promotion.TierProduct:  findProductPromotionSQL,
	promotion.TierCategory: findCategoryPromotionSQL,
	promotion.TierBrand:    findBrandPromotionSQL,
	promotion.TierAll:      findStoreWidePromotionSQL,
}

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Create inserts the promotion and its edges in one transaction.
func (r *PromotionRepository) Create(ctx context.Context, p *promotion.Promotion) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertPromotionSQL,
			p.ID, p.Code, p.Name.EN, p.Name.AR, p.Description.EN, p.Description.AR,
			string(p.DiscountType), p.DiscountValue, p.MaxDiscountAmount,
			p.BuyQuantity, p.GetQuantity, p.GetDiscountPercentage,
			p.StartDate, p.EndDate, p.MinOrderAmount, p.MinQuantity, string(p.Scope),
			p.UsageLimit, p.UsageLimitPerCustomer, p.UsedCount,
			p.IsActive, p.IsAutoApply, p.Priority, p.IsStackable, textArray(p.ExcludedPromotions),
			p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			if hasCode(err, codeUniqueViolation) {
				return promotion.ErrCodeTaken
			}
			return fmt.Errorf("creating promotion %q: %w", p.Code, err)
		}
		return insertEdges(ctx, tx, p)
	})
	if err != nil {
		return errors.Wrap(err, "create promotion")
	}
	return nil
}

func insertEdges(ctx context.Context, tx pgx.Tx, p *promotion.Promotion) error {
	sets := [...][]string{p.Edges.ProductIDs, p.Edges.CategoryIDs, p.Edges.BrandIDs}
	for i, ids := range sets {
		if len(ids) == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, edgeInserts[i], p.ID, ids); err != nil {
			return fmt.Errorf("inserting edges of promotion %q: %w", p.ID, err)
		}
	}
	return nil
}

// GetByID returns the promotion with the given ID, including its edges.
func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotionWithEdges)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}
	return &p, nil
}

// List returns promotions matching the filter, highest priority first. Edges
// are not loaded.
func (r *PromotionRepository) List(ctx context.Context, filter promotion.ListFilter) ([]promotion.Promotion, error) {
	var scope *string
	if filter.Scope != nil {
		s := string(*filter.Scope)
		scope = &s
	}
	rows, err := r.pool.Query(ctx, listPromotionsSQL, filter.Active, scope, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

// Update overwrites the promotion and, when replaceEdges is set, its edge
// sets, in one transaction.
func (r *PromotionRepository) Update(ctx context.Context, p *promotion.Promotion, replaceEdges bool) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updatePromotionSQL,
			p.ID, p.Code, p.Name.EN, p.Name.AR, p.Description.EN, p.Description.AR,
			string(p.DiscountType), p.DiscountValue, p.MaxDiscountAmount,
			p.BuyQuantity, p.GetQuantity, p.GetDiscountPercentage,
			p.StartDate, p.EndDate, p.MinOrderAmount, p.MinQuantity,
			string(p.Scope), p.UsageLimit, p.UsageLimitPerCustomer,
			p.IsActive, p.IsAutoApply, p.Priority, p.IsStackable,
			textArray(p.ExcludedPromotions), p.UpdatedAt,
		)
		if err != nil {
			if hasCode(err, codeUniqueViolation) {
				return promotion.ErrCodeTaken
			}
			return fmt.Errorf("updating promotion %q: %w", p.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return promotion.ErrNotFound
		}
		if !replaceEdges {
			return nil
		}

		for _, sql := range edgeDeletes {
			if _, err := tx.Exec(ctx, sql, p.ID); err != nil {
				return fmt.Errorf("clearing edges of promotion %q: %w", p.ID, err)
			}
		}
		return insertEdges(ctx, tx, p)
	})
	if err != nil {
		return errors.Wrap(err, "update promotion")
	}
	return nil
}

// Delete removes the promotion and its edges.
func (r *PromotionRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deletePromotionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting promotion %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return promotion.ErrNotFound
	}
	return nil
}

// FindActive returns the highest priority promotion active at now for the
// given tier and entity.
func (r *PromotionRepository) FindActive(ctx context.Context, tier promotion.Tier, entityID string, now time.Time) (*promotion.Promotion, error) {
	sql, ok := findActiveSQL[tier]
	if !ok {
		return nil, errors.Errorf("unknown tier %d", tier)
	}

	args := []any{entityID, now}
	if tier == promotion.TierAll {
		args = []any{now}
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("finding %s promotion for %q: %w", tier, entityID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding %s promotion for %q: %w", tier, entityID, err)
	}
	return &p, nil
}

// CountCustomerUsage returns how many times the customer benefited from the
// promotion.
func (r *PromotionRepository) CountCustomerUsage(ctx context.Context, promotionID, customerID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countPromotionCustomerUsageSQL, promotionID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of promotion %q: %w", promotionID, err)
	}
	return n, nil
}

// RecordUsage increments the used count and inserts the usage row in one
// transaction, refusing once the usage limit is met.
func (r *PromotionRepository) RecordUsage(ctx context.Context, u *promotion.Usage) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, incrementPromotionUsedSQL, u.PromotionID, u.UsedAt)
		if err != nil {
			return fmt.Errorf("incrementing promotion %q: %w", u.PromotionID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, promotionExistsSQL, u.PromotionID).Scan(&exists); err != nil {
				return fmt.Errorf("checking promotion %q: %w", u.PromotionID, err)
			}
			if !exists {
				return promotion.ErrNotFound
			}
			return promotion.ErrUsageLimitReached
		}

		_, err = tx.Exec(ctx, insertPromotionUsageSQL,
			u.ID, u.PromotionID, u.CustomerID, u.OrderID, u.DiscountAmount, u.OrderAmount, u.UsedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting usage of promotion %q: %w", u.PromotionID, err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "record usage")
	}
	return nil
}

// UsageStats aggregates the usage rows of a promotion.
func (r *PromotionRepository) UsageStats(ctx context.Context, promotionID string) (*promotion.UsageStats, error) {
	s := promotion.UsageStats{PromotionID: promotionID}
	err := r.pool.QueryRow(ctx, promotionUsageStatsSQL, promotionID).Scan(
		&s.Uses, &s.UniqueCustomers, &s.TotalDiscount, &s.TotalOrderAmount, &s.LastUsedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage of promotion %q: %w", promotionID, err)
	}
	return &s, nil
}

// DeactivateExpired switches off every active promotion whose end date is
// before now and returns how many were changed.
func (r *PromotionRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deactivateEndedPromotionsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deactivating ended promotions: %w", err)
	}
	return tag.RowsAffected(), nil
}

type promotionScan struct {
	p            promotion.Promotion
	discountType string
	scope        string
	buy, get     int32
	minQuantity  int32
	usageLimit   *int32
	perCustomer  int32
	usedCount    int32
	priority     int32
}

func (s *promotionScan) dest() []any {
	p := &s.p
	return []any{
		&p.ID, &p.Code, &p.Name.EN, &p.Name.AR, &p.Description.EN, &p.Description.AR,
		&s.discountType, &p.DiscountValue, &p.MaxDiscountAmount,
		&s.buy, &s.get, &p.GetDiscountPercentage,
		&p.StartDate, &p.EndDate, &p.MinOrderAmount, &s.minQuantity, &s.scope,
		&s.usageLimit, &s.perCustomer, &s.usedCount,
		&p.IsActive, &p.IsAutoApply, &s.priority, &p.IsStackable, &p.ExcludedPromotions,
		&p.CreatedAt, &p.UpdatedAt,
	}
}

func (s *promotionScan) promotion() promotion.Promotion {
	p := s.p
	p.DiscountType = promotion.DiscountType(s.discountType)
	p.Scope = promotion.Scope(s.scope)
	p.BuyQuantity = int(s.buy)
	p.GetQuantity = int(s.get)
	p.MinQuantity = int(s.minQuantity)
	p.UsageLimit = intPtr(s.usageLimit)
	p.UsageLimitPerCustomer = int(s.perCustomer)
	p.UsedCount = int(s.usedCount)
	p.Priority = int(s.priority)
	return p
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var s promotionScan
	err := row.Scan(s.dest()...)
	return s.promotion(), err
}

func scanPromotionWithEdges(row pgx.CollectableRow) (promotion.Promotion, error) {
	var s promotionScan
	dest := append(s.dest(), &s.p.Edges.ProductIDs, &s.p.Edges.CategoryIDs, &s.p.Edges.BrandIDs)
	err := row.Scan(dest...)
	return s.promotion(), err
}
