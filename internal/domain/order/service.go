package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

const defaultConcurrency = 8

// Sentinel errors for order validation.
var (
	ErrEmptyItems = errors.New("items required")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// Promotions is the part of the promotion engine checkout relies on.
type Promotions interface {
	promotion.Resolver
	promotion.UsageChecker
	promotion.Recorder
}

// Coupons is the part of the coupon engine checkout relies on.
type Coupons interface {
	coupon.Validator
	coupon.Recorder
}

// QuoteRequest holds the cart to price.
type QuoteRequest struct {
	CustomerID string
	Items      []Item
	CouponCode string
}

// Quote is a fully priced cart.
type Quote struct {
	CustomerID        string
	Lines             []Line
	Subtotal          decimal.Decimal
	PromotionDiscount decimal.Decimal
	Coupon            *coupon.Coupon
	CouponDiscount    decimal.Decimal
	FreeShipping      bool
	Total             decimal.Decimal
}

// Option configures a Service.
type Option func(*Service)

// WithConcurrency bounds the number of cart lines resolved in parallel.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Service prices carts against the promotion and coupon engines and places
// orders.
type Service struct {
	products    product.Repository
	promotions  Promotions
	coupons     Coupons
	orders      Repository
	concurrency int
	now         func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	promotions Promotions,
	coupons Coupons,
	orders Repository,
	opts ...Option,
) *Service {
	s := &Service{
		products:    products,
		promotions:  promotions,
		coupons:     coupons,
		orders:      orders,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Quote prices the cart without changing any state.
//
// Each line gets at most one promotion from the resolver, applied only when
// it is auto-apply and its minimums are met. A promotion covering several
// lines counts as one use for the order, so the customer's eligibility is
// checked once per promotion. The coupon is then validated against the
// subtotal left after promotions, its discount limited to the lines it
// covers.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.CustomerID == "" {
		verr := &validation.Error{}
		verr.Add("customerId", "is required")
		return nil, verr
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	// Batch fetch all products in a single query.
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	products := make([]product.Product, len(req.Items))
	for i, item := range req.Items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		products[i] = p
	}

	lines := make([]Line, len(req.Items))
	promos := make([]*promotion.Promotion, len(req.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range req.Items {
		g.Go(func() error {
			line, promo, err := s.priceLine(gctx, &products[i], req.Items[i].Quantity)
			if err != nil {
				return err
			}
			lines[i] = line
			promos[i] = promo
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	shipping, err := s.checkPromotionUse(ctx, req.CustomerID, lines, promos)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		CustomerID: req.CustomerID,
		Lines:      lines,
	}
	for _, line := range lines {
		q.Subtotal = q.Subtotal.Add(line.Amount)
		q.PromotionDiscount = q.PromotionDiscount.Add(line.Discount)
	}
	q.FreeShipping = shipping
	afterPromotions := q.Subtotal.Sub(q.PromotionDiscount)

	if req.CouponCode != "" {
		placed, err := s.orders.CountByCustomer(ctx, req.CustomerID)
		if err != nil {
			return nil, errors.Wrap(err, "count customer orders")
		}
		v, err := s.coupons.Validate(ctx, coupon.ValidateRequest{
			Code:         req.CouponCode,
			CustomerID:   req.CustomerID,
			OrderAmount:  afterPromotions,
			IsFirstOrder: placed == 0,
			Lines:        couponLines(lines, products),
		})
		if err != nil {
			return nil, errors.Wrap(err, "validate coupon")
		}
		q.Coupon = v.Coupon
		q.CouponDiscount = v.DiscountAmount
		q.FreeShipping = q.FreeShipping || v.Coupon.DiscountType == coupon.DiscountFreeShipping
	}

	total := afterPromotions.Sub(q.CouponDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	q.Subtotal = q.Subtotal.Round(2)
	q.PromotionDiscount = q.PromotionDiscount.Round(2)
	q.CouponDiscount = q.CouponDiscount.Round(2)
	q.Total = total.Round(2)
	return q, nil
}

// priceLine resolves and applies the promotion of one cart line. The
// promotion is returned so that the customer's eligibility can be checked
// once per order.
func (s *Service) priceLine(ctx context.Context, p *product.Product, quantity int) (Line, *promotion.Promotion, error) {
	amount := p.BasePrice.Mul(decimal.NewFromInt(int64(quantity)))
	line := Line{
		ProductID:       p.ID,
		Quantity:        quantity,
		UnitPrice:       p.BasePrice,
		Amount:          amount.Round(2),
		OfferPercentage: p.DiscountPercentage(),
		Total:           amount.Round(2),
	}

	promo, err := s.promotions.ForProduct(ctx, promotion.Target{
		ProductID:  p.ID,
		CategoryID: p.CategoryID,
		BrandID:    p.BrandID,
	}, p)
	if err != nil {
		return Line{}, nil, errors.Wrapf(err, "resolve promotion for %s", p.ID)
	}
	if promo == nil || !promo.IsAutoApply || !promo.MeetsMinimums(amount, quantity) {
		return line, nil, nil
	}

	// A flat promotion may exceed the line; the line total never goes negative.
	discount := decimal.Min(promotion.CalculateDiscount(promo, amount, quantity), line.Amount)
	line.PromotionID = promo.ID
	line.PromotionCode = promo.Code
	line.FreeUnits = promotion.FreeUnits(promo, quantity)
	line.Discount = discount
	line.Total = line.Amount.Sub(discount)
	return line, promo, nil
}

// checkPromotionUse asks once per distinct promotion whether the customer may
// still use it, since an order consumes one use of a promotion however many
// lines it covers. Lines of a promotion the customer may not use lose their
// discount. It reports whether a free shipping promotion remains applied.
func (s *Service) checkPromotionUse(ctx context.Context, customerID string, lines []Line, promos []*promotion.Promotion) (bool, error) {
	allowed := make(map[string]bool)
	var freeShipping bool
	for i, promo := range promos {
		if promo == nil {
			continue
		}
		ok, checked := allowed[promo.ID]
		if !checked {
			var err error
			ok, err = s.promotions.CanCustomerUse(ctx, promo.ID, customerID)
			if err != nil {
				return false, errors.Wrapf(err, "check promotion %s", promo.ID)
			}
			allowed[promo.ID] = ok
		}
		if !ok {
			lines[i].clearPromotion()
			continue
		}
		freeShipping = freeShipping || promo.DiscountType == promotion.DiscountFreeShipping
	}
	return freeShipping, nil
}

func couponLines(lines []Line, products []product.Product) []coupon.CartLine {
	out := make([]coupon.CartLine, len(lines))
	for i, line := range lines {
		out[i] = coupon.CartLine{
			ProductID:  line.ProductID,
			CategoryID: products[i].CategoryID,
			Amount:     line.Total,
		}
	}
	return out
}

// promotionUsages folds the lines of an order into one usage per promotion,
// in the order the promotions first appear.
func promotionUsages(o *Order) []promotion.Usage {
	var out []promotion.Usage
	index := make(map[string]int)
	for _, line := range o.Lines {
		if line.PromotionID == "" {
			continue
		}
		i, ok := index[line.PromotionID]
		if !ok {
			i = len(out)
			index[line.PromotionID] = i
			out = append(out, promotion.Usage{
				PromotionID: line.PromotionID,
				CustomerID:  o.CustomerID,
				OrderID:     o.ID,
			})
		}
		out[i].DiscountAmount = out[i].DiscountAmount.Add(line.Discount)
		out[i].OrderAmount = out[i].OrderAmount.Add(line.Amount)
	}
	return out
}

// PlaceOrder prices the cart, persists the order and records one usage for
// every promotion and coupon applied.
//
// Usage is recorded after the order is stored. An applied discount whose
// usage limit was reached by a concurrent order in the meantime is logged;
// the order itself stands.
func (s *Service) PlaceOrder(ctx context.Context, req QuoteRequest) (*Order, error) {
	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:                uuid.NewString(),
		CustomerID:        q.CustomerID,
		Lines:             q.Lines,
		Subtotal:          q.Subtotal,
		PromotionDiscount: q.PromotionDiscount,
		CouponDiscount:    q.CouponDiscount,
		FreeShipping:      q.FreeShipping,
		Total:             q.Total,
		CreatedAt:         s.now(),
	}
	if q.Coupon != nil {
		o.CouponID = q.Coupon.ID
		o.CouponCode = q.Coupon.Code
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	for _, u := range promotionUsages(o) {
		_, err := s.promotions.RecordUsage(ctx, u)
		logUsageError(lg, err, zap.String("promotion_id", u.PromotionID))
	}

	if o.CouponID != "" {
		_, err := s.coupons.RecordUsage(ctx, coupon.Usage{
			CouponID:       o.CouponID,
			CustomerID:     o.CustomerID,
			OrderID:        o.ID,
			DiscountAmount: o.CouponDiscount,
			OrderAmount:    o.Subtotal.Sub(o.PromotionDiscount),
		})
		logUsageError(lg, err, zap.String("coupon_id", o.CouponID))
	}

	lg.Info("Order placed",
		zap.String("customer_id", o.CustomerID),
		zap.Stringer("total", o.Total),
		zap.Stringer("promotion_discount", o.PromotionDiscount),
		zap.Stringer("coupon_discount", o.CouponDiscount),
	)
	return o, nil
}

func logUsageError(lg *zap.Logger, err error, field zap.Field) {
	switch {
	case err == nil:
	case errors.Is(err, coupon.ErrUsageLimitReached), errors.Is(err, promotion.ErrUsageLimitReached):
		lg.Warn("Usage limit reached after order placement", field)
	default:
		lg.Error("Record usage", field, zap.Error(err))
	}
}
