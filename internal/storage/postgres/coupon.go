package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

const (
	couponColumns = `id, code, name_en, name_ar, description_en, description_ar,
		discount_type, discount_value, max_discount_amount, start_date, expiry_date,
		min_order_amount, price_levels, category_ids, product_ids, first_order_only,
		usage_limit, usage_limit_per_customer, used_count, is_active, is_public,
		created_at, updated_at`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = UPPER($1)`

	listCouponsSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE ($1::boolean IS NULL OR is_active = $1)
			AND ($2::boolean IS NULL OR is_public = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`

	updateCouponSQL = `UPDATE coupons SET
			code = $2, name_en = $3, name_ar = $4, description_en = $5, description_ar = $6,
			discount_type = $7, discount_value = $8, max_discount_amount = $9,
			start_date = $10, expiry_date = $11, min_order_amount = $12,
			price_levels = $13, category_ids = $14, product_ids = $15,
			first_order_only = $16, usage_limit = $17, usage_limit_per_customer = $18,
			is_active = $19, is_public = $20, updated_at = $21
		WHERE id = $1`

	deleteCouponSQL = `DELETE FROM coupons WHERE id = $1`

	countCouponCustomerUsageSQL = `SELECT count(*) FROM coupon_usages
		WHERE coupon_id = $1 AND customer_id = $2`

	// The increment only lands while capacity is left.
	incrementCouponUsedSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`

	insertCouponUsageSQL = `INSERT INTO coupon_usages
		(id, coupon_id, customer_id, order_id, discount_amount, order_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	couponUsageStatsSQL = `SELECT count(*), count(DISTINCT customer_id),
			COALESCE(sum(discount_amount), 0), COALESCE(sum(order_amount), 0), max(used_at)
		FROM coupon_usages WHERE coupon_id = $1`

	deactivateExpiredCouponsSQL = `UPDATE coupons SET is_active = FALSE, updated_at = $1
		WHERE is_active AND expiry_date < $1`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// Create inserts a new coupon. Returns coupon.ErrCodeTaken when the code is
// already used by another coupon.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, insertCouponSQL,
		c.ID, c.Code, c.Name.EN, c.Name.AR, c.Description.EN, c.Description.AR,
		string(c.DiscountType), c.DiscountValue, c.MaxDiscountAmount, c.StartDate, c.ExpiryDate,
		c.MinOrderAmount, textArray(c.PriceLevels), textArray(c.CategoryIDs), textArray(c.ProductIDs),
		c.FirstOrderOnly, c.UsageLimit, c.UsageLimitPerCustomer, c.UsedCount, c.IsActive, c.IsPublic,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

// GetByID returns the coupon with the given ID.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByIDSQL, id)
}

// FindByCode looks up a coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.getOne(ctx, getCouponByCodeSQL, code)
}

func (r *CouponRepository) getOne(ctx context.Context, sql, arg string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", arg, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", arg, err)
	}
	return &c, nil
}

// List returns coupons matching the filter, newest first.
func (r *CouponRepository) List(ctx context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listCouponsSQL, filter.Active, filter.Public, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return pgx.CollectRows(rows, scanCoupon)
}

// Update overwrites the mutable attributes of a coupon. The used count is
// only changed by RecordUsage.
func (r *CouponRepository) Update(ctx context.Context, c *coupon.Coupon) error {
	tag, err := r.pool.Exec(ctx, updateCouponSQL,
		c.ID, c.Code, c.Name.EN, c.Name.AR, c.Description.EN, c.Description.AR,
		string(c.DiscountType), c.DiscountValue, c.MaxDiscountAmount,
		c.StartDate, c.ExpiryDate, c.MinOrderAmount,
		textArray(c.PriceLevels), textArray(c.CategoryIDs), textArray(c.ProductIDs),
		c.FirstOrderOnly, c.UsageLimit, c.UsageLimitPerCustomer,
		c.IsActive, c.IsPublic, c.UpdatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("updating coupon %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// Delete removes a coupon. Returns coupon.ErrInUse when usage records still
// reference it.
func (r *CouponRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		if hasCode(err, codeForeignKeyViolation) {
			return coupon.ErrInUse
		}
		return fmt.Errorf("deleting coupon %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// CountCustomerUsage returns how many times the customer used the coupon.
func (r *CouponRepository) CountCustomerUsage(ctx context.Context, couponID, customerID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCouponCustomerUsageSQL, couponID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting usage of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// RecordUsage increments the used count and inserts the usage row in one
// transaction. The increment is conditional on the usage limit, so the count
// never passes it.
func (r *CouponRepository) RecordUsage(ctx context.Context, u *coupon.Usage) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, incrementCouponUsedSQL, u.CouponID, u.UsedAt)
		if err != nil {
			return fmt.Errorf("incrementing coupon %q: %w", u.CouponID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, couponExistsSQL, u.CouponID).Scan(&exists); err != nil {
				return fmt.Errorf("checking coupon %q: %w", u.CouponID, err)
			}
			if !exists {
				return coupon.ErrNotFound
			}
			return coupon.ErrUsageLimitReached
		}

		_, err = tx.Exec(ctx, insertCouponUsageSQL,
			u.ID, u.CouponID, u.CustomerID, u.OrderID, u.DiscountAmount, u.OrderAmount, u.UsedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting usage of coupon %q: %w", u.CouponID, err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "record usage")
	}
	return nil
}

// UsageStats aggregates the usage rows of a coupon.
func (r *CouponRepository) UsageStats(ctx context.Context, couponID string) (*coupon.UsageStats, error) {
	s := coupon.UsageStats{CouponID: couponID}
	err := r.pool.QueryRow(ctx, couponUsageStatsSQL, couponID).Scan(
		&s.Uses, &s.UniqueCustomers, &s.TotalDiscount, &s.TotalOrderAmount, &s.LastUsedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating usage of coupon %q: %w", couponID, err)
	}
	return &s, nil
}

// DeactivateExpired switches off every active coupon whose expiry date is
// before now and returns how many were changed.
func (r *CouponRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, deactivateExpiredCouponsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired coupons: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		usageLimit   *int32
		perCustomer  int32
		usedCount    int32
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Name.EN, &c.Name.AR, &c.Description.EN, &c.Description.AR,
		&discountType, &c.DiscountValue, &c.MaxDiscountAmount, &c.StartDate, &c.ExpiryDate,
		&c.MinOrderAmount, &c.PriceLevels, &c.CategoryIDs, &c.ProductIDs, &c.FirstOrderOnly,
		&usageLimit, &perCustomer, &usedCount, &c.IsActive, &c.IsPublic,
		&c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.UsageLimit = intPtr(usageLimit)
	c.UsageLimitPerCustomer = int(perCustomer)
	c.UsedCount = int(usedCount)
	return c, err
}

func intPtr(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}

// textArray maps nil to an empty array for NOT NULL TEXT[] columns.
func textArray(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
