package promotion

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CalculateDiscount returns the discount p grants on a line of quantity units
// worth orderAmount in total, rounded to 2 decimal places.
//
// Unlike coupons, a fixed amount promotion is not capped by the order amount.
func CalculateDiscount(p *Promotion, orderAmount decimal.Decimal, quantity int) decimal.Decimal {
	var amount decimal.Decimal

	switch p.DiscountType {
	case DiscountPercentage:
		amount = orderAmount.Mul(p.DiscountValue).Div(hundred)
		if p.MaxDiscountAmount.Valid && amount.GreaterThan(p.MaxDiscountAmount.Decimal) {
			amount = p.MaxDiscountAmount.Decimal
		}
	case DiscountFixed:
		amount = p.DiscountValue
	case DiscountBuyXGetY:
		amount = buyXGetY(p, orderAmount, quantity)
	default:
		amount = decimal.Zero
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2)
}

// buyXGetY discounts the free units at the average unit price of the line.
func buyXGetY(p *Promotion, orderAmount decimal.Decimal, quantity int) decimal.Decimal {
	units := FreeUnits(p, quantity)
	if units == 0 {
		return decimal.Zero
	}

	// units * amount * pct / (quantity * 100), with a single division.
	return orderAmount.
		Mul(decimal.NewFromInt(int64(units))).
		Mul(p.GetDiscountPercentage).
		Div(decimal.NewFromInt(int64(quantity) * 100))
}

// FreeUnits returns how many units of a line are discounted by a buy-X-get-Y
// promotion: floor(quantity/(buy+get))*get once the line holds at least one
// full group.
func FreeUnits(p *Promotion, quantity int) int {
	group := p.BuyQuantity + p.GetQuantity
	if p.DiscountType != DiscountBuyXGetY || group <= 0 || quantity < group {
		return 0
	}
	return quantity / group * p.GetQuantity
}
