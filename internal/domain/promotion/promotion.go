// Package promotion resolves and prices automatic merchandising discounts.
package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/locale"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed_amount"
	DiscountBuyXGetY     DiscountType = "buy_x_get_y"
	DiscountFreeShipping DiscountType = "free_shipping"
)

// Scope is the declared reach of a promotion.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopeProducts   Scope = "specific_products"
	ScopeCategories Scope = "specific_categories"
	ScopeBrands     Scope = "specific_brands"
)

// Tier is one level of the resolution order. Lower tiers are more specific
// and win over higher ones.
type Tier int

const (
	TierProduct Tier = iota
	TierCategory
	TierBrand
	TierAll
)

func (t Tier) String() string {
	switch t {
	case TierProduct:
		return "product"
	case TierCategory:
		return "category"
	case TierBrand:
		return "brand"
	case TierAll:
		return "all"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound          = errors.New("promotion not found")
	ErrCodeTaken         = errors.New("promotion code already exists")
	ErrUsageLimitReached = errors.New("promotion usage limit reached")
)

// Promotion is a merchandising rule applied without a code, based on the
// products, categories and brands it is mapped to.
type Promotion struct {
	ID          string
	Code        string
	Name        locale.Text
	Description locale.OptionalText

	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MaxDiscountAmount decimal.NullDecimal

	// Buy-X-get-Y parameters.
	BuyQuantity           int
	GetQuantity           int
	GetDiscountPercentage decimal.Decimal

	StartDate      time.Time
	EndDate        time.Time
	MinOrderAmount decimal.NullDecimal
	MinQuantity    int

	Scope Scope
	// Edges is only populated by single promotion lookups.
	Edges Edges

	UsageLimit            *int
	UsageLimitPerCustomer int
	UsedCount             int

	IsActive    bool
	IsAutoApply bool
	Priority    int

	// IsStackable and ExcludedPromotions are stored for the admin UI. The
	// resolver applies a single promotion per product, so neither affects
	// resolution.
	IsStackable        bool
	ExcludedPromotions []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InWindow reports whether t lies within [StartDate, EndDate].
func (p *Promotion) InWindow(t time.Time) bool {
	return !t.Before(p.StartDate) && !t.After(p.EndDate)
}

// MeetsMinimums reports whether a line of the given amount and quantity
// satisfies the promotion's minimum order amount and quantity.
func (p *Promotion) MeetsMinimums(amount decimal.Decimal, quantity int) bool {
	if p.MinOrderAmount.Valid && amount.LessThan(p.MinOrderAmount.Decimal) {
		return false
	}
	return quantity >= p.MinQuantity
}

// Edges are the typed mappings of a promotion to catalog entities. Each pair
// of promotion and entity is stored at most once.
type Edges struct {
	ProductIDs  []string
	CategoryIDs []string
	BrandIDs    []string
}

// Usage is the immutable fact that a promotion was applied to an order.
type Usage struct {
	ID             string
	PromotionID    string
	CustomerID     string
	OrderID        string
	DiscountAmount decimal.Decimal
	OrderAmount    decimal.Decimal
	UsedAt         time.Time
}

// UsageStats aggregates the recorded usage of one promotion.
type UsageStats struct {
	PromotionID      string
	Uses             int
	UniqueCustomers  int
	TotalDiscount    decimal.Decimal
	TotalOrderAmount decimal.Decimal
	LastUsedAt       *time.Time
}

// ListFilter narrows promotion listings. Nil fields are not filtered on.
type ListFilter struct {
	Active *bool
	Scope  *Scope
	Limit  int
	Offset int
}

// NormalizeCode returns the canonical stored form of a promotion code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Repository persists promotions, their edges and their usage.
type Repository interface {
	// Create stores p with its edges in one transaction. Edges already
	// present are skipped.
	Create(ctx context.Context, p *Promotion) error
	GetByID(ctx context.Context, id string) (*Promotion, error)
	List(ctx context.Context, filter ListFilter) ([]Promotion, error)
	// Update stores p. When replaceEdges is set the edge sets are replaced by
	// p.Edges in the same transaction.
	Update(ctx context.Context, p *Promotion, replaceEdges bool) error
	// Delete removes the promotion and all of its edges in one transaction.
	Delete(ctx context.Context, id string) error

	// FindActive returns the highest priority promotion mapped to entityID at
	// the given tier that is active at now. For TierAll entityID is ignored
	// and promotions with ScopeAll are considered. ErrNotFound means the tier
	// is empty.
	FindActive(ctx context.Context, tier Tier, entityID string, now time.Time) (*Promotion, error)

	CountCustomerUsage(ctx context.Context, promotionID, customerID string) (int, error)
	// RecordUsage inserts u and increments the used count unless it is
	// already at the usage limit, in which case ErrUsageLimitReached is
	// returned.
	RecordUsage(ctx context.Context, u *Usage) error
	UsageStats(ctx context.Context, promotionID string) (*UsageStats, error)
}
