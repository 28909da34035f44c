package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/validation"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ValidateRequest is the customer and order context a code is checked against.
type ValidateRequest struct {
	Code         string
	CustomerID   string
	OrderAmount  decimal.Decimal
	IsFirstOrder bool
	// Lines, when set, limit the discount of a restricted coupon to the lines
	// it covers. Without lines OrderAmount is the discount base.
	Lines []CartLine
}

// CartLine is one priced cart line a coupon may cover.
type CartLine struct {
	ProductID  string
	CategoryID string
	// Amount is the line total after promotions.
	Amount decimal.Decimal
}

// Validation is the outcome of a successful coupon check.
type Validation struct {
	Coupon         *Coupon
	DiscountAmount decimal.Decimal
}

// Validator checks coupon codes against an order context.
type Validator interface {
	Validate(ctx context.Context, req ValidateRequest) (*Validation, error)
}

// Recorder commits coupon redemptions once an order is placed.
type Recorder interface {
	RecordUsage(ctx context.Context, u Usage) (*Usage, error)
}

var (
	_ Validator = (*Engine)(nil)
	_ Recorder  = (*Engine)(nil)
)

// Engine validates coupon codes, computes their discounts and records usage.
type Engine struct {
	repo Repository
	now  func() time.Time
}

// NewEngine creates an Engine backed by the given Repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo, now: time.Now}
}

// Validate looks up the coupon by code (case-insensitive) and checks, in
// order: active flag, validity window, minimum order amount, first-order
// restriction, total usage limit, the customer's own usage limit and the
// product restriction. The first failing condition is returned. Validate never mutates state, so it is
// safe to call on every cart change.
func (e *Engine) Validate(ctx context.Context, req ValidateRequest) (*Validation, error) {
	verr := &validation.Error{}
	if req.CustomerID == "" {
		verr.Add("customerId", "is required")
	}
	if req.OrderAmount.IsNegative() {
		verr.Add("orderAmount", "must not be negative")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	code := NormalizeCode(req.Code)
	if code == "" {
		return nil, ErrNotFound
	}

	c, err := e.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	base, err := e.checkEligibility(ctx, c, req)
	if err != nil {
		zctx.From(ctx).Debug("Coupon rejected",
			zap.String("code", c.Code),
			zap.String("customer_id", req.CustomerID),
			zap.String("reason", err.Error()),
		)
		return nil, err
	}

	return &Validation{
		Coupon:         c,
		DiscountAmount: CalculateDiscount(c, base),
	}, nil
}

// checkEligibility returns the amount the coupon discounts.
func (e *Engine) checkEligibility(ctx context.Context, c *Coupon, req ValidateRequest) (decimal.Decimal, error) {
	if !c.IsActive {
		return decimal.Zero, ErrInactive
	}

	now := e.now()
	if now.Before(c.StartDate) {
		return decimal.Zero, ErrNotStarted
	}
	if now.After(c.ExpiryDate) {
		return decimal.Zero, ErrExpired
	}

	if c.MinOrderAmount.Valid && req.OrderAmount.LessThan(c.MinOrderAmount.Decimal) {
		return decimal.Zero, ErrMinOrderNotMet
	}
	if c.FirstOrderOnly && !req.IsFirstOrder {
		return decimal.Zero, ErrFirstOrderOnly
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return decimal.Zero, ErrUsageLimitReached
	}

	if c.UsageLimitPerCustomer > 0 {
		used, err := e.repo.CountCustomerUsage(ctx, c.ID, req.CustomerID)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "count customer usage")
		}
		if used >= c.UsageLimitPerCustomer {
			return decimal.Zero, ErrCustomerLimitReached
		}
	}

	return discountBase(c, req)
}

// discountBase sums the lines a restricted coupon covers. The minimum order
// amount is still checked against the whole order.
func discountBase(c *Coupon, req ValidateRequest) (decimal.Decimal, error) {
	if !c.Restricted() || len(req.Lines) == 0 {
		return req.OrderAmount, nil
	}

	var (
		base    decimal.Decimal
		matched bool
	)
	for _, l := range req.Lines {
		if c.AppliesTo(l.ProductID, l.CategoryID) {
			base = base.Add(l.Amount)
			matched = true
		}
	}
	if !matched {
		return decimal.Zero, ErrNotApplicable
	}
	return base, nil
}

// RecordUsage stores a redemption and increments the coupon's used count.
// The increment only succeeds while the count is below the usage limit, so
// concurrent confirmations cannot push the coupon past it; the loser gets
// ErrUsageLimitReached.
func (e *Engine) RecordUsage(ctx context.Context, u Usage) (*Usage, error) {
	verr := &validation.Error{}
	if u.CouponID == "" {
		verr.Add("couponId", "is required")
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
	u.UsedAt = e.now()
	u.DiscountAmount = u.DiscountAmount.Round(2)
	u.OrderAmount = u.OrderAmount.Round(2)

	if err := e.repo.RecordUsage(ctx, &u); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUsageLimitReached) {
			return nil, err
		}
		return nil, errors.Wrap(err, "record coupon usage")
	}

	zctx.From(ctx).Info("Coupon usage recorded",
		zap.String("coupon_id", u.CouponID),
		zap.String("customer_id", u.CustomerID),
		zap.String("order_id", u.OrderID),
		zap.Stringer("discount", u.DiscountAmount),
	)
	return &u, nil
}

// Stats returns the aggregated usage of the coupon with the given ID.
func (e *Engine) Stats(ctx context.Context, id string) (*UsageStats, error) {
	if _, err := e.Get(ctx, id); err != nil {
		return nil, err
	}
	stats, err := e.repo.UsageStats(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "usage stats")
	}
	return stats, nil
}

// Create validates the input and stores a new coupon.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*Coupon, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	c := in.coupon(uuid.NewString(), e.now())
	if err := e.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, ErrCodeTaken
		}
		return nil, errors.Wrap(err, "create coupon")
	}

	zctx.From(ctx).Info("Coupon created", zap.String("id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// Get returns the coupon with the given ID.
func (e *Engine) Get(ctx context.Context, id string) (*Coupon, error) {
	c, err := e.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get coupon")
	}
	return c, nil
}

// List returns coupons matching the filter, newest first.
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]Coupon, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)
	filter.Offset = max(filter.Offset, 0)

	coupons, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}
	return coupons, nil
}

// Update applies a partial update to the coupon with the given ID.
func (e *Engine) Update(ctx context.Context, id string, in UpdateInput) (*Coupon, error) {
	c, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.apply(c, e.now()); err != nil {
		return nil, err
	}

	if err := e.repo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update coupon")
	}

	zctx.From(ctx).Info("Coupon updated", zap.String("id", c.ID), zap.String("code", c.Code))
	return c, nil
}

// Delete removes a coupon. Coupons with recorded usage are kept so the
// usage history stays intact; ErrInUse is returned and the coupon should be
// deactivated instead.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInUse) {
			return err
		}
		return errors.Wrap(err, "delete coupon")
	}

	zctx.From(ctx).Info("Coupon deleted", zap.String("id", id))
	return nil
}
