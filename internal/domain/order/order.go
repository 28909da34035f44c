package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order is a placed customer order together with the discounts applied to it.
type Order struct {
	ID                string
	CustomerID        string
	Lines             []Line
	Subtotal          decimal.Decimal
	PromotionDiscount decimal.Decimal
	CouponID          string
	CouponCode        string
	CouponDiscount    decimal.Decimal
	FreeShipping      bool
	Total             decimal.Decimal
	CreatedAt         time.Time
}

// Item is a requested product and quantity.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Line is a priced cart line. Lines are stored with the order as JSON.
type Line struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Amount is UnitPrice times Quantity.
	Amount decimal.Decimal `json:"amount"`
	// OfferPercentage is the product's own listed discount, if any. Lines with
	// an offer never carry a promotion.
	OfferPercentage decimal.Decimal `json:"offer_percentage"`
	PromotionID     string          `json:"promotion_id,omitempty"`
	PromotionCode   string          `json:"promotion_code,omitempty"`
	FreeUnits       int             `json:"free_units,omitempty"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
}

func (l *Line) clearPromotion() {
	l.PromotionID = ""
	l.PromotionCode = ""
	l.FreeUnits = 0
	l.Discount = decimal.Zero
	l.Total = l.Amount
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	// CountByCustomer returns the number of orders the customer has placed.
	CountByCustomer(ctx context.Context, customerID string) (int, error)
}
