package coupon

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculateDiscount returns the discount c grants on orderAmount, rounded to
// 2 decimal places. It has no side effects.
func CalculateDiscount(c *Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal

	switch c.DiscountType {
	case DiscountPercentage:
		amount = orderAmount.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscountAmount.Valid && amount.GreaterThan(c.MaxDiscountAmount.Decimal) {
			amount = c.MaxDiscountAmount.Decimal
		}
	case DiscountFixed:
		amount = decimal.Min(c.DiscountValue, orderAmount)
	default:
		// Free shipping and unknown types do not discount the order itself.
		amount = decimal.Zero
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}
