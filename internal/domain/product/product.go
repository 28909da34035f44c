package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

var hundred = decimal.NewFromInt(100)

// Product is the slice of a catalog item that pricing rules care about.
type Product struct {
	ID         string
	Name       string
	CategoryID string
	BrandID    string
	BasePrice  decimal.Decimal
	// CompareAtPrice is the listed "was" price. A value above BasePrice means
	// the product already carries its own discount.
	CompareAtPrice decimal.NullDecimal
}

// HasDirectOffer reports whether the product carries its own listed discount,
// i.e. its compare-at price exceeds its base price.
func (p *Product) HasDirectOffer() bool {
	if p == nil || !p.CompareAtPrice.Valid {
		return false
	}
	return p.CompareAtPrice.Decimal.GreaterThan(p.BasePrice)
}

// DiscountPercentage returns the percentage implied by the direct offer,
// rounded to 2 decimal places. Zero when the product has no direct offer.
func (p *Product) DiscountPercentage() decimal.Decimal {
	if !p.HasDirectOffer() {
		return decimal.Zero
	}
	compareAt := p.CompareAtPrice.Decimal
	return compareAt.Sub(p.BasePrice).Div(compareAt).Mul(hundred).Round(2)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
