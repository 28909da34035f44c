package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/promo-engine/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, customer_id, lines, subtotal, promotion_discount,
			coupon_id, coupon_code, coupon_discount, free_shipping, total, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)`

	countCustomerOrdersSQL = `SELECT count(*) FROM orders WHERE customer_id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. The priced lines are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, linesJSON, o.Subtotal, o.PromotionDiscount,
		o.CouponID, o.CouponCode, o.CouponDiscount, o.FreeShipping, o.Total, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// CountByCustomer returns the number of orders placed by the customer.
func (r *OrderRepository) CountByCustomer(ctx context.Context, customerID string) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, countCustomerOrdersSQL, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders of %q: %w", customerID, err)
	}
	return n, nil
}
