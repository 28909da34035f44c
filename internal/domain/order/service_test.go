package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockPromotions struct {
	mu        sync.Mutex
	byProduct map[string]*promotion.Promotion
	denied    map[string]bool
	// perCustomer limits uses per customer, counted from recorded usages.
	perCustomer map[string]int
	checks      map[string]int
	recordErr   error
	recorded    []promotion.Usage
}

func (m *mockPromotions) ForProduct(_ context.Context, target promotion.Target, p *product.Product) (*promotion.Promotion, error) {
	if p.HasDirectOffer() {
		return nil, nil
	}
	return m.byProduct[target.ProductID], nil
}

func (m *mockPromotions) CanCustomerUse(_ context.Context, promotionID, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checks == nil {
		m.checks = make(map[string]int)
	}
	m.checks[promotionID]++
	if m.denied[promotionID] {
		return false, nil
	}
	limit, ok := m.perCustomer[promotionID]
	if !ok {
		return true, nil
	}
	used := 0
	for _, u := range m.recorded {
		if u.PromotionID == promotionID && u.CustomerID == customerID {
			used++
		}
	}
	return used < limit, nil
}

func (m *mockPromotions) RecordUsage(_ context.Context, u promotion.Usage) (*promotion.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	m.recorded = append(m.recorded, u)
	return &u, nil
}

type mockCoupons struct {
	validation *coupon.Validation
	err        error
	lastReq    coupon.ValidateRequest
	recordErr  error
	recorded   []coupon.Usage
}

func (m *mockCoupons) Validate(_ context.Context, req coupon.ValidateRequest) (*coupon.Validation, error) {
	m.lastReq = req
	return m.validation, m.err
}

func (m *mockCoupons) RecordUsage(_ context.Context, u coupon.Usage) (*coupon.Usage, error) {
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	m.recorded = append(m.recorded, u)
	return &u, nil
}

// couponStore serves a single coupon to a real coupon.Engine. Only the
// lookups used by validation are implemented.
type couponStore struct {
	coupon.Repository
	c *coupon.Coupon
}

func (s *couponStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	if s.c.Code != code {
		return nil, coupon.ErrNotFound
	}
	cp := *s.c
	return &cp, nil
}

func (s *couponStore) CountCustomerUsage(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

type mockOrderRepo struct {
	lastOrder *Order
	placed    int
	err       error
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.lastOrder = o
	return m.err
}

func (m *mockOrderRepo) CountByCustomer(_ context.Context, _ string) (int, error) {
	return m.placed, nil
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestProduct(id, price string) product.Product {
	return product.Product{
		ID:         id,
		Name:       "Product " + id,
		CategoryID: "cat-1",
		BrandID:    "brand-1",
		BasePrice:  d(price),
	}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func percentPromo(id, pct string) *promotion.Promotion {
	return &promotion.Promotion{
		ID:            id,
		Code:          "PROMO" + id,
		DiscountType:  promotion.DiscountPercentage,
		DiscountValue: d(pct),
		IsActive:      true,
		IsAutoApply:   true,
	}
}

func noPromotions() *mockPromotions {
	return &mockPromotions{byProduct: map[string]*promotion.Promotion{}}
}

// --- Tests ---

func TestQuote_Validation(t *testing.T) {
	ctx := context.Background()
	p1 := newTestProduct("p1", "10")
	svc := NewService(newProductRepo(p1), noPromotions(), &mockCoupons{}, &mockOrderRepo{})

	_, err := svc.Quote(ctx, QuoteRequest{Items: []Item{{ProductID: "p1", Quantity: 1}}})
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)

	_, err = svc.Quote(ctx, QuoteRequest{CustomerID: "c1"})
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = svc.Quote(ctx, QuoteRequest{CustomerID: "c1", Items: []Item{{ProductID: "p1", Quantity: 0}}})
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)

	_, err = svc.Quote(ctx, QuoteRequest{CustomerID: "c1", Items: []Item{{ProductID: "missing", Quantity: 1}}})
	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
}

func TestQuote_NoDiscounts(t *testing.T) {
	svc := NewService(
		newProductRepo(newTestProduct("p1", "10.00"), newTestProduct("p2", "20.00")),
		noPromotions(), &mockCoupons{}, &mockOrderRepo{},
	)

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items: []Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, d("40").Equal(q.Subtotal))
	assert.True(t, d("40").Equal(q.Total))
	assert.True(t, decimal.Zero.Equal(q.PromotionDiscount))
	require.Len(t, q.Lines, 2)
	assert.Equal(t, "p1", q.Lines[0].ProductID)
	assert.Equal(t, "p2", q.Lines[1].ProductID)
}

func TestQuote_PromotionsThenCoupon(t *testing.T) {
	promos := &mockPromotions{byProduct: map[string]*promotion.Promotion{
		"p1": percentPromo("a", "10"),
	}}
	coupons := &mockCoupons{validation: &coupon.Validation{
		Coupon:         &coupon.Coupon{ID: "cp1", Code: "SAVE5", DiscountType: coupon.DiscountFixed},
		DiscountAmount: d("5"),
	}}
	svc := NewService(
		newProductRepo(newTestProduct("p1", "100"), newTestProduct("p2", "50")),
		promos, coupons, &mockOrderRepo{placed: 3},
	)

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items: []Item{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 2},
		},
		CouponCode: "save5",
	})
	require.NoError(t, err)

	assert.Equal(t, "a", q.Lines[0].PromotionID)
	assert.True(t, d("10").Equal(q.Lines[0].Discount))
	assert.True(t, d("90").Equal(q.Lines[0].Total))
	assert.Empty(t, q.Lines[1].PromotionID)

	assert.True(t, d("200").Equal(q.Subtotal))
	assert.True(t, d("10").Equal(q.PromotionDiscount))
	assert.True(t, d("5").Equal(q.CouponDiscount))
	assert.True(t, d("185").Equal(q.Total))

	// The coupon sees the subtotal after promotions and the order history.
	assert.True(t, d("190").Equal(coupons.lastReq.OrderAmount))
	assert.False(t, coupons.lastReq.IsFirstOrder)
	assert.Equal(t, "c1", coupons.lastReq.CustomerID)
}

func TestQuote_FirstOrderDerivedFromHistory(t *testing.T) {
	coupons := &mockCoupons{validation: &coupon.Validation{
		Coupon: &coupon.Coupon{ID: "cp1", DiscountType: coupon.DiscountFreeShipping},
	}}
	svc := NewService(newProductRepo(newTestProduct("p1", "10")), noPromotions(), coupons, &mockOrderRepo{})

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "WELCOME",
	})
	require.NoError(t, err)
	assert.True(t, coupons.lastReq.IsFirstOrder)
	assert.True(t, q.FreeShipping)
	assert.True(t, d("10").Equal(q.Total))
}

func TestQuote_PromotionSkipped(t *testing.T) {
	manual := percentPromo("manual", "10")
	manual.IsAutoApply = false
	minimum := percentPromo("minimum", "10")
	minimum.MinQuantity = 5
	denied := percentPromo("denied", "10")

	offer := newTestProduct("offer", "80")
	offer.CompareAtPrice = decimal.NewNullDecimal(d("100"))

	promos := &mockPromotions{
		byProduct: map[string]*promotion.Promotion{
			"p1":    manual,
			"p2":    minimum,
			"p3":    denied,
			"offer": percentPromo("never", "50"),
		},
		denied: map[string]bool{"denied": true},
	}
	svc := NewService(
		newProductRepo(newTestProduct("p1", "10"), newTestProduct("p2", "10"), newTestProduct("p3", "10"), offer),
		promos, &mockCoupons{}, &mockOrderRepo{},
	)

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items: []Item{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 1},
			{ProductID: "p3", Quantity: 1},
			{ProductID: "offer", Quantity: 1},
		},
	})
	require.NoError(t, err)
	for _, line := range q.Lines {
		assert.Empty(t, line.PromotionID, line.ProductID)
	}
	assert.True(t, d("20").Equal(q.Lines[3].OfferPercentage))
	assert.True(t, d("110").Equal(q.Total))
}

func TestQuote_FixedPromotionNeverMakesLineNegative(t *testing.T) {
	flat := &promotion.Promotion{
		ID:            "flat",
		DiscountType:  promotion.DiscountFixed,
		DiscountValue: d("50"),
		IsAutoApply:   true,
	}
	promos := &mockPromotions{byProduct: map[string]*promotion.Promotion{"p1": flat}}
	svc := NewService(newProductRepo(newTestProduct("p1", "20")), promos, &mockCoupons{}, &mockOrderRepo{})

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, d("20").Equal(q.Lines[0].Discount))
	assert.True(t, decimal.Zero.Equal(q.Total))
}

func TestQuote_BuyXGetY(t *testing.T) {
	bxgy := &promotion.Promotion{
		ID:                    "b2g1",
		DiscountType:          promotion.DiscountBuyXGetY,
		BuyQuantity:           2,
		GetQuantity:           1,
		GetDiscountPercentage: d("100"),
		IsAutoApply:           true,
	}
	promos := &mockPromotions{byProduct: map[string]*promotion.Promotion{"p1": bxgy}}
	svc := NewService(newProductRepo(newTestProduct("p1", "10")), promos, &mockCoupons{}, &mockOrderRepo{},
		WithConcurrency(1))

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 6}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, q.Lines[0].FreeUnits)
	assert.True(t, d("40").Equal(q.Total))
}

func TestQuote_CouponRejected(t *testing.T) {
	coupons := &mockCoupons{err: coupon.ErrExpired}
	svc := NewService(newProductRepo(newTestProduct("p1", "10")), noPromotions(), coupons, &mockOrderRepo{})

	_, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "OLD",
	})
	require.ErrorIs(t, err, coupon.ErrExpired)
	assert.True(t, coupon.IsRejection(err))
}

func TestQuote_CouponFlooredAtZero(t *testing.T) {
	coupons := &mockCoupons{validation: &coupon.Validation{
		Coupon:         &coupon.Coupon{ID: "cp"},
		DiscountAmount: d("999"),
	}}
	svc := NewService(newProductRepo(newTestProduct("p1", "10")), noPromotions(), coupons, &mockOrderRepo{})

	q, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "HUGE",
	})
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(q.Total))
}

func TestQuote_ProductRepoError(t *testing.T) {
	repo := newProductRepo()
	repo.getErr = errors.New("db down")
	svc := NewService(repo, noPromotions(), &mockCoupons{}, &mockOrderRepo{})

	_, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get products")
}

func TestPlaceOrder_RecordsUsage(t *testing.T) {
	promos := &mockPromotions{byProduct: map[string]*promotion.Promotion{"p1": percentPromo("a", "10")}}
	coupons := &mockCoupons{validation: &coupon.Validation{
		Coupon:         &coupon.Coupon{ID: "cp1", Code: "SAVE5"},
		DiscountAmount: d("5"),
	}}
	orders := &mockOrderRepo{}
	svc := NewService(newProductRepo(newTestProduct("p1", "100")), promos, coupons, orders)

	o, err := svc.PlaceOrder(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "SAVE5",
	})
	require.NoError(t, err)
	assert.Same(t, o, orders.lastOrder)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "SAVE5", o.CouponCode)
	assert.True(t, d("85").Equal(o.Total))

	require.Len(t, promos.recorded, 1)
	assert.Equal(t, o.ID, promos.recorded[0].OrderID)
	assert.True(t, d("10").Equal(promos.recorded[0].DiscountAmount))

	require.Len(t, coupons.recorded, 1)
	assert.Equal(t, "cp1", coupons.recorded[0].CouponID)
	assert.True(t, d("90").Equal(coupons.recorded[0].OrderAmount))
}

func TestPlaceOrder_UsageLimitRaceKeepsOrder(t *testing.T) {
	promos := &mockPromotions{
		byProduct: map[string]*promotion.Promotion{"p1": percentPromo("a", "10")},
		recordErr: promotion.ErrUsageLimitReached,
	}
	coupons := &mockCoupons{
		validation: &coupon.Validation{Coupon: &coupon.Coupon{ID: "cp1"}, DiscountAmount: d("1")},
		recordErr:  coupon.ErrUsageLimitReached,
	}
	orders := &mockOrderRepo{}
	svc := NewService(newProductRepo(newTestProduct("p1", "100")), promos, coupons, orders)

	o, err := svc.PlaceOrder(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
		CouponCode: "LAST",
	})
	require.NoError(t, err)
	assert.NotNil(t, orders.lastOrder)
	assert.Equal(t, o.ID, orders.lastOrder.ID)
}

func TestPlaceOrder_OrderCreateError(t *testing.T) {
	promos := &mockPromotions{byProduct: map[string]*promotion.Promotion{"p1": percentPromo("a", "10")}}
	svc := NewService(
		newProductRepo(newTestProduct("p1", "10")),
		promos,
		&mockCoupons{},
		&mockOrderRepo{err: errors.New("db write failed")},
	)

	_, err := svc.PlaceOrder(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items:      []Item{{ProductID: "p1", Quantity: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
	assert.Empty(t, promos.recorded, "usage must not be recorded for unsaved orders")
}

func TestPlaceOrder_SharedPromotionCountsOnce(t *testing.T) {
	category := percentPromo("cat", "10")
	promos := &mockPromotions{
		byProduct:   map[string]*promotion.Promotion{"p1": category, "p2": category},
		perCustomer: map[string]int{"cat": 1},
	}
	svc := NewService(
		newProductRepo(newTestProduct("p1", "100"), newTestProduct("p2", "50")),
		promos, &mockCoupons{}, &mockOrderRepo{},
	)
	req := QuoteRequest{
		CustomerID: "c1",
		Items: []Item{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 1},
		},
	}

	o, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, d("15").Equal(o.PromotionDiscount), o.PromotionDiscount.String())
	assert.Equal(t, 1, promos.checks["cat"])

	require.Len(t, promos.recorded, 1)
	assert.Equal(t, "cat", promos.recorded[0].PromotionID)
	assert.True(t, d("15").Equal(promos.recorded[0].DiscountAmount))
	assert.True(t, d("150").Equal(promos.recorded[0].OrderAmount))

	// The single allowed use is spent; no line keeps the discount.
	o, err = svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, decimal.Zero.Equal(o.PromotionDiscount))
	assert.True(t, d("150").Equal(o.Total))
	for _, line := range o.Lines {
		assert.Empty(t, line.PromotionID)
		assert.True(t, line.Amount.Equal(line.Total))
	}
	assert.Len(t, promos.recorded, 1)
}

func TestQuote_CouponSeesLines(t *testing.T) {
	promos := &mockPromotions{byProduct: map[string]*promotion.Promotion{"p1": percentPromo("a", "10")}}
	coupons := &mockCoupons{validation: &coupon.Validation{Coupon: &coupon.Coupon{ID: "cp"}}}
	p2 := newTestProduct("p2", "50")
	p2.CategoryID = "cat-2"
	svc := NewService(newProductRepo(newTestProduct("p1", "100"), p2), promos, coupons, &mockOrderRepo{})

	_, err := svc.Quote(context.Background(), QuoteRequest{
		CustomerID: "c1",
		Items: []Item{
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 1},
		},
		CouponCode: "ANY",
	})
	require.NoError(t, err)

	lines := coupons.lastReq.Lines
	require.Len(t, lines, 2)
	assert.Equal(t, coupon.CartLine{ProductID: "p1", CategoryID: "cat-1", Amount: lines[0].Amount}, lines[0])
	assert.True(t, d("90").Equal(lines[0].Amount))
	assert.Equal(t, "cat-2", lines[1].CategoryID)
	assert.True(t, d("50").Equal(lines[1].Amount))
}

func TestQuote_RestrictedCoupon(t *testing.T) {
	now := time.Now()
	restricted := &coupon.Coupon{
		ID:            "cp-x",
		Code:          "ONLYX",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: d("10"),
		StartDate:     now.Add(-time.Hour),
		ExpiryDate:    now.Add(time.Hour),
		IsActive:      true,
	}
	x := newTestProduct("x", "30")
	x.CategoryID = "cat-x"

	tests := []struct {
		name       string
		products   []string
		categories []string
		items      []Item
		want       decimal.Decimal
		wantErr    error
	}{
		{
			name:       "no covered product",
			products:   []string{"x"},
			categories: []string{"cat-other"},
			items:      []Item{{ProductID: "a", Quantity: 1}},
			wantErr:    coupon.ErrNotApplicable,
		},
		{
			name:     "only the covered product is discounted",
			products: []string{"x"},
			items:    []Item{{ProductID: "a", Quantity: 1}, {ProductID: "x", Quantity: 2}},
			want:     d("6"),
		},
		{
			name:       "covered by category",
			categories: []string{"cat-1"},
			items:      []Item{{ProductID: "a", Quantity: 1}, {ProductID: "x", Quantity: 1}},
			want:       d("10"),
		},
		{
			name:  "unrestricted covers the cart",
			items: []Item{{ProductID: "a", Quantity: 1}, {ProductID: "x", Quantity: 1}},
			want:  d("13"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *restricted
			c.ProductIDs = tt.products
			c.CategoryIDs = tt.categories
			engine := coupon.NewEngine(&couponStore{c: &c})
			svc := NewService(newProductRepo(newTestProduct("a", "100"), x), noPromotions(), engine, &mockOrderRepo{})

			q, err := svc.Quote(context.Background(), QuoteRequest{
				CustomerID: "c1",
				Items:      tt.items,
				CouponCode: "onlyx",
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.True(t, coupon.IsRejection(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(q.CouponDiscount), "expected %s, got %s", tt.want, q.CouponDiscount)
		})
	}
}
