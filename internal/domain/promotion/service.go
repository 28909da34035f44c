package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Target identifies the catalog entities a cart line belongs to.
type Target struct {
	ProductID  string
	CategoryID string
	BrandID    string
}

// Resolver picks the promotion that applies to a product.
type Resolver interface {
	ForProduct(ctx context.Context, target Target, p *product.Product) (*Promotion, error)
}

// UsageChecker reports whether a customer may still benefit from a promotion.
type UsageChecker interface {
	CanCustomerUse(ctx context.Context, promotionID, customerID string) (bool, error)
}

// Recorder commits promotion usage once an order is placed.
type Recorder interface {
	RecordUsage(ctx context.Context, u Usage) (*Usage, error)
}

var (
	_ Resolver     = (*Service)(nil)
	_ UsageChecker = (*Service)(nil)
	_ Recorder     = (*Service)(nil)
)

// Service resolves promotions for products and manages their lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

var tiers = []Tier{TierProduct, TierCategory, TierBrand, TierAll}

// ForProduct returns the single promotion applying to target, or nil when
// none does.
//
// A product carrying its own offer (compare-at price above base price) never
// gets a promotion on top. Otherwise tiers are tried from the most specific
// one: product, category, brand, then store-wide. The first non-empty tier
// wins, and within a tier the highest priority active promotion is chosen.
func (s *Service) ForProduct(ctx context.Context, target Target, p *product.Product) (*Promotion, error) {
	if p.HasDirectOffer() {
		return nil, nil
	}

	now := s.now()
	for _, tier := range tiers {
		entityID := target.entity(tier)
		if tier != TierAll && entityID == "" {
			continue
		}

		promo, err := s.repo.FindActive(ctx, tier, entityID, now)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "find %s promotion", tier)
		}

		zctx.From(ctx).Debug("Promotion resolved",
			zap.String("product_id", target.ProductID),
			zap.String("promotion_id", promo.ID),
			zap.Stringer("tier", tier),
		)
		return promo, nil
	}
	return nil, nil
}

func (t Target) entity(tier Tier) string {
	switch tier {
	case TierProduct:
		return t.ProductID
	case TierCategory:
		return t.CategoryID
	case TierBrand:
		return t.BrandID
	default:
		return ""
	}
}

// CanCustomerUse reports whether the promotion has capacity left overall and
// for the given customer.
func (s *Service) CanCustomerUse(ctx context.Context, promotionID, customerID string) (bool, error) {
	p, err := s.Get(ctx, promotionID)
	if err != nil {
		return false, err
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return false, nil
	}
	if p.UsageLimitPerCustomer == 0 {
		return true, nil
	}

	used, err := s.repo.CountCustomerUsage(ctx, promotionID, customerID)
	if err != nil {
		return false, errors.Wrap(err, "count customer usage")
	}
	return used < p.UsageLimitPerCustomer, nil
}

// Discount prices the promotion with the given ID for a line.
func (s *Service) Discount(ctx context.Context, id string, amount decimal.Decimal, quantity int) (decimal.Decimal, error) {
	verr := &validation.Error{}
	if amount.IsNegative() {
		verr.Add("orderAmount", "must not be negative")
	}
	if quantity < 0 {
		verr.Add("quantity", "must not be negative")
	}
	if err := verr.Err(); err != nil {
		return decimal.Zero, err
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return CalculateDiscount(p, amount, quantity), nil
}

// RecordUsage stores an application of a promotion and increments its used
// count. ErrUsageLimitReached is returned once the usage limit is met.
func (s *Service) RecordUsage(ctx context.Context, u Usage) (*Usage, error) {
	verr := &validation.Error{}
	if u.PromotionID == "" {
		verr.Add("promotionId", "is required")
	}
	if u.CustomerID == "" {
		verr.Add("customerId", "is required")
	}
	if u.OrderID == "" {
		verr.Add("orderId", "is required")
	}
	if u.DiscountAmount.IsNegative() {
		verr.Add("discountAmount", "must not be negative")
	}
	if u.OrderAmount.IsNegative() {
		verr.Add("orderAmount", "must not be negative")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	u.ID = uuid.NewString()
	u.UsedAt = s.now()
	u.DiscountAmount = u.DiscountAmount.Round(2)
	u.OrderAmount = u.OrderAmount.Round(2)

	if err := s.repo.RecordUsage(ctx, &u); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUsageLimitReached) {
			return nil, err
		}
		return nil, errors.Wrap(err, "record promotion usage")
	}

	zctx.From(ctx).Info("Promotion usage recorded",
		zap.String("promotion_id", u.PromotionID),
		zap.String("customer_id", u.CustomerID),
		zap.String("order_id", u.OrderID),
		zap.Stringer("discount", u.DiscountAmount),
	)
	return &u, nil
}

// Stats returns the aggregated usage of the promotion with the given ID.
func (s *Service) Stats(ctx context.Context, id string) (*UsageStats, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	stats, err := s.repo.UsageStats(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "usage stats")
	}
	return stats, nil
}

// Create validates the input and stores the promotion together with its
// edges.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Promotion, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	p := in.promotion(uuid.NewString(), s.now())
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, ErrCodeTaken
		}
		return nil, errors.Wrap(err, "create promotion")
	}

	zctx.From(ctx).Info("Promotion created",
		zap.String("id", p.ID),
		zap.String("code", p.Code),
		zap.Int("products", len(p.Edges.ProductIDs)),
		zap.Int("categories", len(p.Edges.CategoryIDs)),
		zap.Int("brands", len(p.Edges.BrandIDs)),
	)
	return p, nil
}

// Get returns the promotion with the given ID, including its edges.
func (s *Service) Get(ctx context.Context, id string) (*Promotion, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get promotion")
	}
	return p, nil
}

// List returns promotions matching the filter, highest priority first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Promotion, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	filter.Offset = max(filter.Offset, 0)

	promos, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list promotions")
	}
	return promos, nil
}

// Update applies a partial update to the promotion with the given ID.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Promotion, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(p, s.now()); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, p, in.replacesEdges()); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update promotion")
	}

	zctx.From(ctx).Info("Promotion updated", zap.String("id", p.ID), zap.String("code", p.Code))
	return p, nil
}

// Delete removes the promotion and all of its edges.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return errors.Wrap(err, "delete promotion")
	}

	zctx.From(ctx).Info("Promotion deleted", zap.String("id", id))
	return nil
}
