package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/locale"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage off the order, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount off, never more than the order is worth.
	DiscountFixed DiscountType = "fixed_amount"
	// DiscountFreeShipping waives the shipping fee. The waiver is applied by
	// the shipping calculator, so the order discount is zero.
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Lookup and persistence errors.
var (
	ErrNotFound  = errors.New("coupon not found")
	ErrCodeTaken = errors.New("coupon code already exists")
	ErrInUse     = errors.New("coupon has recorded usage and cannot be deleted")
)

// Eligibility errors. Each one is a distinct reason shown to the customer.
var (
	ErrInactive             = errors.New("coupon is not active")
	ErrNotStarted           = errors.New("coupon is not valid yet")
	ErrExpired              = errors.New("coupon has expired")
	ErrMinOrderNotMet       = errors.New("minimum order amount not met")
	ErrFirstOrderOnly       = errors.New("coupon is valid for the first order only")
	ErrUsageLimitReached    = errors.New("coupon usage limit reached")
	ErrCustomerLimitReached = errors.New("coupon usage limit per customer reached")
	ErrNotApplicable        = errors.New("coupon does not apply to any product in the order")
)

var rejections = []error{
	ErrInactive,
	ErrNotStarted,
	ErrExpired,
	ErrMinOrderNotMet,
	ErrFirstOrderOnly,
	ErrUsageLimitReached,
	ErrCustomerLimitReached,
	ErrNotApplicable,
}

// IsRejection reports whether err is an eligibility failure rather than a
// lookup or storage problem.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// Coupon is a shareable discount code.
type Coupon struct {
	ID           string
	Code         string
	Name         locale.Text
	Description  locale.OptionalText
	DiscountType DiscountType
	// DiscountValue is a percentage (0-100] or a currency amount depending on
	// DiscountType.
	DiscountValue decimal.Decimal
	// MaxDiscountAmount caps percentage discounts.
	MaxDiscountAmount decimal.NullDecimal
	StartDate         time.Time
	ExpiryDate        time.Time
	MinOrderAmount    decimal.NullDecimal

	// Applicability restrictions. Empty means unrestricted.
	PriceLevels []string
	CategoryIDs []string
	ProductIDs  []string

	FirstOrderOnly bool
	// UsageLimit is the total number of redemptions. Nil means unlimited.
	UsageLimit *int
	// UsageLimitPerCustomer is the number of redemptions a single customer
	// may make. Zero means unlimited.
	UsageLimitPerCustomer int
	UsedCount             int

	IsActive  bool
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Restricted reports whether the coupon is limited to some products or
// categories.
func (c *Coupon) Restricted() bool {
	return len(c.ProductIDs) > 0 || len(c.CategoryIDs) > 0
}

// AppliesTo reports whether a product of the given category is covered by
// the coupon. Price levels are not matched.
func (c *Coupon) AppliesTo(productID, categoryID string) bool {
	if !c.Restricted() {
		return true
	}
	return slices.Contains(c.ProductIDs, productID) || slices.Contains(c.CategoryIDs, categoryID)
}

// InWindow reports whether t lies within [StartDate, ExpiryDate].
func (c *Coupon) InWindow(t time.Time) bool {
	return !t.Before(c.StartDate) && !t.After(c.ExpiryDate)
}

// Usage is the immutable fact that a customer redeemed a coupon on an order.
type Usage struct {
	ID             string
	CouponID       string
	CustomerID     string
	OrderID        string
	DiscountAmount decimal.Decimal
	OrderAmount    decimal.Decimal
	UsedAt         time.Time
}

// UsageStats aggregates the recorded usage of one coupon.
type UsageStats struct {
	CouponID         string
	Uses             int
	UniqueCustomers  int
	TotalDiscount    decimal.Decimal
	TotalOrderAmount decimal.Decimal
	LastUsedAt       *time.Time
}

// ListFilter narrows coupon listings. Nil fields are not filtered on.
type ListFilter struct {
	Active *bool
	Public *bool
	Limit  int
	Offset int
}

// NormalizeCode returns the canonical stored form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository persists coupons and their usage records.
type Repository interface {
	Create(ctx context.Context, c *Coupon) error
	GetByID(ctx context.Context, id string) (*Coupon, error)
	// FindByCode looks up a coupon by its normalized code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	List(ctx context.Context, filter ListFilter) ([]Coupon, error)
	Update(ctx context.Context, c *Coupon) error
	Delete(ctx context.Context, id string) error

	CountCustomerUsage(ctx context.Context, couponID, customerID string) (int, error)
	// RecordUsage inserts u and increments the coupon's used count in one
	// atomic step. It returns ErrUsageLimitReached when the count is already
	// at the coupon's usage limit.
	RecordUsage(ctx context.Context, u *Usage) error
	UsageStats(ctx context.Context, couponID string) (*UsageStats, error)
}
