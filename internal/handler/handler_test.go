package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/locale"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- fakes ---

type fakeCoupons struct {
	err        error
	coupon     *coupon.Coupon
	validation *coupon.Validation
	lastVal    coupon.ValidateRequest
	lastCreate coupon.CreateInput
	lastUpdate coupon.UpdateInput
	lastFilter coupon.ListFilter
	lastUsage  coupon.Usage
	deleted    string
}

func (f *fakeCoupons) Validate(_ context.Context, req coupon.ValidateRequest) (*coupon.Validation, error) {
	f.lastVal = req
	return f.validation, f.err
}

func (f *fakeCoupons) RecordUsage(_ context.Context, u coupon.Usage) (*coupon.Usage, error) {
	f.lastUsage = u
	if f.err != nil {
		return nil, f.err
	}
	u.ID = "u1"
	u.UsedAt = testNow
	return &u, nil
}

func (f *fakeCoupons) Stats(_ context.Context, id string) (*coupon.UsageStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &coupon.UsageStats{CouponID: id, Uses: 3, UniqueCustomers: 2, TotalDiscount: d("30"), TotalOrderAmount: d("450.5")}, nil
}

func (f *fakeCoupons) Create(_ context.Context, in coupon.CreateInput) (*coupon.Coupon, error) {
	f.lastCreate = in
	return f.coupon, f.err
}

func (f *fakeCoupons) Get(context.Context, string) (*coupon.Coupon, error) {
	return f.coupon, f.err
}

func (f *fakeCoupons) List(_ context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	f.lastFilter = filter
	if f.err != nil {
		return nil, f.err
	}
	return []coupon.Coupon{*f.coupon}, nil
}

func (f *fakeCoupons) Update(_ context.Context, _ string, in coupon.UpdateInput) (*coupon.Coupon, error) {
	f.lastUpdate = in
	return f.coupon, f.err
}

func (f *fakeCoupons) Delete(_ context.Context, id string) error {
	f.deleted = id
	return f.err
}

type fakePromotions struct {
	err       error
	promo     *promotion.Promotion
	resolved  *promotion.Promotion
	canUse    bool
	discount  decimal.Decimal
	lastScope *promotion.Scope
	target    promotion.Target
}

func (f *fakePromotions) ForProduct(_ context.Context, t promotion.Target, p *product.Product) (*promotion.Promotion, error) {
	f.target = t
	if p.HasDirectOffer() {
		return nil, nil
	}
	return f.resolved, f.err
}

func (f *fakePromotions) CanCustomerUse(context.Context, string, string) (bool, error) {
	return f.canUse, f.err
}

func (f *fakePromotions) RecordUsage(_ context.Context, u promotion.Usage) (*promotion.Usage, error) {
	if f.err != nil {
		return nil, f.err
	}
	u.ID = "pu1"
	u.UsedAt = testNow
	return &u, nil
}

func (f *fakePromotions) Discount(context.Context, string, decimal.Decimal, int) (decimal.Decimal, error) {
	return f.discount, f.err
}

func (f *fakePromotions) Stats(_ context.Context, id string) (*promotion.UsageStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &promotion.UsageStats{PromotionID: id}, nil
}

func (f *fakePromotions) Create(context.Context, promotion.CreateInput) (*promotion.Promotion, error) {
	return f.promo, f.err
}

func (f *fakePromotions) Get(context.Context, string) (*promotion.Promotion, error) {
	return f.promo, f.err
}

func (f *fakePromotions) List(_ context.Context, filter promotion.ListFilter) ([]promotion.Promotion, error) {
	f.lastScope = filter.Scope
	if f.err != nil {
		return nil, f.err
	}
	return []promotion.Promotion{*f.promo}, nil
}

func (f *fakePromotions) Update(context.Context, string, promotion.UpdateInput) (*promotion.Promotion, error) {
	return f.promo, f.err
}

func (f *fakePromotions) Delete(context.Context, string) error {
	return f.err
}

type fakeOrders struct {
	err   error
	quote *order.Quote
	last  order.QuoteRequest
}

func (f *fakeOrders) Quote(_ context.Context, req order.QuoteRequest) (*order.Quote, error) {
	f.last = req
	return f.quote, f.err
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req order.QuoteRequest) (*order.Order, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	q := f.quote
	return &order.Order{
		ID:         "o1",
		CustomerID: q.CustomerID,
		Lines:      q.Lines,
		Subtotal:   q.Subtotal,
		Total:      q.Total,
		CreatedAt:  testNow,
	}, nil
}

type fakeProducts struct {
	byID map[string]*product.Product
}

func (f *fakeProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (f *fakeProducts) GetByIDs(context.Context, []string) ([]product.Product, error) {
	return nil, nil
}

// --- helpers ---

type env struct {
	coupons    *fakeCoupons
	promotions *fakePromotions
	orders     *fakeOrders
	router     chi.Router
}

func newEnv(opts Options) *env {
	limit := 100
	e := &env{
		coupons: &fakeCoupons{coupon: &coupon.Coupon{
			ID:                    "c1",
			Code:                  "SUMMER10",
			Name:                  locale.Text{EN: "Summer sale", AR: "تخفيضات الصيف"},
			DiscountType:          coupon.DiscountPercentage,
			DiscountValue:         d("10"),
			MaxDiscountAmount:     decimal.NewNullDecimal(d("50")),
			MinOrderAmount:        decimal.NewNullDecimal(d("100")),
			StartDate:             testNow.AddDate(0, -1, 0),
			ExpiryDate:            testNow.AddDate(0, 1, 0),
			UsageLimit:            &limit,
			UsageLimitPerCustomer: 1,
			IsActive:              true,
			CreatedAt:             testNow,
			UpdatedAt:             testNow,
		}},
		promotions: &fakePromotions{promo: &promotion.Promotion{
			ID:            "p1",
			Code:          "BOGO",
			Name:          locale.Text{EN: "Buy two get one"},
			DiscountType:  promotion.DiscountBuyXGetY,
			BuyQuantity:   2,
			GetQuantity:   1,
			Scope:         promotion.ScopeProducts,
			Edges:         promotion.Edges{ProductIDs: []string{"prod-1"}},
			IsActive:      true,
			IsAutoApply:   true,
			StartDate:     testNow.AddDate(0, -1, 0),
			EndDate:       testNow.AddDate(0, 1, 0),
			DiscountValue: decimal.Zero,

			GetDiscountPercentage: d("100"),
		}},
		orders: &fakeOrders{quote: &order.Quote{
			CustomerID: "cust-1",
			Lines: []order.Line{{
				ProductID: "prod-1", Quantity: 2, UnitPrice: d("100"), Amount: d("200"),
				Discount: d("10"), Total: d("190"), PromotionID: "p1", PromotionCode: "TEN",
			}},
			Subtotal:          d("200"),
			PromotionDiscount: d("10"),
			CouponDiscount:    d("5"),
			Total:             d("185"),
		}},
	}
	products := &fakeProducts{byID: map[string]*product.Product{
		"prod-1": {ID: "prod-1", CategoryID: "cat-1", BrandID: "brand-1", BasePrice: d("100")},
		"prod-2": {ID: "prod-2", BasePrice: d("80"), CompareAtPrice: decimal.NewNullDecimal(d("100"))},
	}}

	e.router = chi.NewRouter()
	New(e.coupons, e.promotions, e.orders, products).Register(e.router, opts)
	return e
}

func (e *env) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// --- tests ---

func TestValidateCoupon(t *testing.T) {
	e := newEnv(Options{})
	e.coupons.validation = &coupon.Validation{Coupon: e.coupons.coupon, DiscountAmount: d("50")}

	w := e.do(http.MethodPost, "/api/coupons/validate",
		`{"code":"summer10","customerId":"cust-1","orderAmount":1000,"isFirstOrder":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `"valid":true`)
	assert.Contains(t, body, `"discountAmount":50.00`)
	assert.Contains(t, body, `"code":"SUMMER10"`)
	assert.Contains(t, body, `"maxDiscountAmount":50.00`)
	assert.Contains(t, body, `"ar":"تخفيضات الصيف"`)

	assert.Equal(t, "summer10", e.coupons.lastVal.Code)
	assert.True(t, e.coupons.lastVal.IsFirstOrder)
	assert.True(t, d("1000").Equal(e.coupons.lastVal.OrderAmount))
}

func TestValidateCoupon_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "not found",
			err:        coupon.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   `{"code":404,"message":"coupon not found"}`,
		},
		{
			name:       "expired",
			err:        coupon.ErrExpired,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"code":422,"message":"coupon has expired","reason":"expired"}`,
		},
		{
			name:       "usage limit wrapped",
			err:        errors.Wrap(coupon.ErrUsageLimitReached, "validate coupon"),
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"code":422,"message":"coupon usage limit reached","reason":"usage_limit_reached"}`,
		},
		{
			name:       "customer limit",
			err:        coupon.ErrCustomerLimitReached,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"code":422,"message":"coupon usage limit per customer reached","reason":"customer_limit_reached"}`,
		},
		{
			name:       "not applicable",
			err:        coupon.ErrNotApplicable,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"code":422,"message":"coupon does not apply to any product in the order","reason":"not_applicable"}`,
		},
		{
			name: "validation",
			err: func() error {
				v := &validation.Error{}
				v.Add("customerId", "is required")
				return v
			}(),
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   `{"code":422,"message":"invalid input","fields":[{"field":"customerId","message":"is required"}]}`,
		},
		{
			name:       "storage",
			err:        errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"code":500,"message":"internal server error"}`,
		},
		{
			name:       "malformed json",
			body:       `{"code":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"code":"X","coupon":"Y"}`,
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(Options{})
			e.coupons.err = tt.err
			body := tt.body
			if body == "" {
				body = `{"code":"SUMMER10","customerId":"cust-1","orderAmount":"150.00"}`
			}

			w := e.do(http.MethodPost, "/api/coupons/validate", body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestValidateCoupon_Limit(t *testing.T) {
	var calls int
	e := newEnv(Options{ValidateLimit: func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}})

	assert.Equal(t, http.StatusTooManyRequests, e.do(http.MethodPost, "/api/coupons/validate", `{}`).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/api/coupons/c1", "").Code)
	assert.Equal(t, 1, calls)
}

func TestCouponCRUD(t *testing.T) {
	e := newEnv(Options{})

	w := e.do(http.MethodPost, "/api/coupons", `{
		"code":"summer10",
		"name":{"en":"Summer","ar":"صيف"},
		"discountType":"percentage",
		"discountValue":10,
		"maxDiscountAmount":50,
		"startDate":"2025-06-01T00:00:00Z",
		"expiryDate":"2025-09-01T00:00:00Z",
		"usageLimit":1000
	}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	in := e.coupons.lastCreate
	assert.Equal(t, "summer10", in.Code)
	assert.True(t, in.MaxDiscountAmount.Valid)
	assert.False(t, in.MinOrderAmount.Valid)
	require.NotNil(t, in.UsageLimit)
	assert.Equal(t, 1000, *in.UsageLimit)
	assert.Nil(t, in.UsageLimitPerCustomer)

	w = e.do(http.MethodGet, "/api/coupons?active=true&limit=10&offset=20", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[{"id":"c1"`)
	require.NotNil(t, e.coupons.lastFilter.Active)
	assert.True(t, *e.coupons.lastFilter.Active)
	assert.Nil(t, e.coupons.lastFilter.Public)
	assert.Equal(t, 10, e.coupons.lastFilter.Limit)
	assert.Equal(t, 20, e.coupons.lastFilter.Offset)

	w = e.do(http.MethodPatch, "/api/coupons/c1", `{"isActive":false,"maxDiscountAmount":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, e.coupons.lastUpdate.IsActive)
	assert.False(t, *e.coupons.lastUpdate.IsActive)
	require.NotNil(t, e.coupons.lastUpdate.MaxDiscountAmount)
	assert.True(t, e.coupons.lastUpdate.MaxDiscountAmount.IsZero())
	assert.Nil(t, e.coupons.lastUpdate.Code)

	w = e.do(http.MethodDelete, "/api/coupons/c1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "c1", e.coupons.deleted)

	w = e.do(http.MethodGet, "/api/coupons/c1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"couponId":"c1","uses":3,"uniqueCustomers":2,"totalDiscount":30.00,"totalOrderAmount":450.50,"lastUsedAt":null}`, w.Body.String())
}

func TestCouponList_BadQuery(t *testing.T) {
	e := newEnv(Options{})
	w := e.do(http.MethodGet, "/api/coupons?active=maybe&limit=-1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"active"`)
	assert.Contains(t, w.Body.String(), `"field":"limit"`)
}

func TestCouponConflicts(t *testing.T) {
	for _, err := range []error{coupon.ErrCodeTaken, coupon.ErrInUse} {
		e := newEnv(Options{})
		e.coupons.err = err
		w := e.do(http.MethodDelete, "/api/coupons/c1", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), err.Error())
	}
}

func TestRecordCouponUsage(t *testing.T) {
	e := newEnv(Options{})
	w := e.do(http.MethodPost, "/api/coupons/c1/usages",
		`{"customerId":"cust-1","orderId":"o1","discountAmount":50,"orderAmount":1000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "c1", e.coupons.lastUsage.CouponID)
	assert.JSONEq(t, `{
		"id":"u1","couponId":"c1","customerId":"cust-1","orderId":"o1",
		"discountAmount":50.00,"orderAmount":1000.00,"usedAt":"2025-06-15T12:00:00Z"
	}`, w.Body.String())

	e.coupons.err = coupon.ErrUsageLimitReached
	w = e.do(http.MethodPost, "/api/coupons/c1/usages", `{"customerId":"cust-1","orderId":"o2"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"usage_limit_reached"`)
}

func TestPromotionRoutes(t *testing.T) {
	e := newEnv(Options{})

	w := e.do(http.MethodGet, "/api/promotions/p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"buyQuantity":2`)
	assert.Contains(t, body, `"getDiscountPercentage":100.00`)
	assert.Contains(t, body, `"productIds":["prod-1"]`)
	assert.Contains(t, body, `"brandIds":[]`)

	w = e.do(http.MethodGet, "/api/promotions?scope=specific_brands", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, e.promotions.lastScope)
	assert.Equal(t, promotion.ScopeBrands, *e.promotions.lastScope)

	w = e.do(http.MethodGet, "/api/promotions?scope=everything", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	e.promotions.canUse = true
	w = e.do(http.MethodGet, "/api/promotions/p1/eligibility?customerId=cust-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"promotionId":"p1","customerId":"cust-1","canUse":true}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/promotions/p1/eligibility", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	e.promotions.discount = d("33.3")
	w = e.do(http.MethodPost, "/api/promotions/p1/discount", `{"orderAmount":100,"quantity":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"promotionId":"p1","discountAmount":33.30}`, w.Body.String())

	w = e.do(http.MethodPost, "/api/promotions/p1/usages", `{"customerId":"cust-1","orderId":"o1","discountAmount":10,"orderAmount":100}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"promotionId":"p1"`)

	w = e.do(http.MethodDelete, "/api/promotions/p1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	e.promotions.err = promotion.ErrNotFound
	w = e.do(http.MethodGet, "/api/promotions/p404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	e.promotions.err = promotion.ErrCodeTaken
	w = e.do(http.MethodPost, "/api/promotions", `{"code":"BOGO"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProductPromotion(t *testing.T) {
	e := newEnv(Options{})
	e.promotions.resolved = e.promotions.promo

	w := e.do(http.MethodGet, "/api/products/prod-1/promotion", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"directOffer":false`)
	assert.Contains(t, w.Body.String(), `"promotion":{"id":"p1"`)
	assert.Equal(t, promotion.Target{ProductID: "prod-1", CategoryID: "cat-1", BrandID: "brand-1"}, e.promotions.target)

	w = e.do(http.MethodGet, "/api/products/prod-2/promotion", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"productId":"prod-2","directOffer":true,"discountPercentage":20.00,"promotion":null}`, w.Body.String())

	w = e.do(http.MethodGet, "/api/products/nope/promotion", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrders(t *testing.T) {
	e := newEnv(Options{})

	w := e.do(http.MethodPost, "/api/orders/quote",
		`{"customerId":"cust-1","items":[{"productId":"prod-1","quantity":2}],"couponCode":"SAVE5"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, order.QuoteRequest{
		CustomerID: "cust-1",
		Items:      []order.Item{{ProductID: "prod-1", Quantity: 2}},
		CouponCode: "SAVE5",
	}, e.orders.last)
	body := w.Body.String()
	assert.Contains(t, body, `"promotionId":"p1"`)
	assert.Contains(t, body, `"total":185.00`)
	assert.NotContains(t, body, "freeUnits")

	w = e.do(http.MethodPost, "/api/orders", `{"customerId":"cust-1","items":[{"productId":"prod-1","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"o1"`)
	assert.Contains(t, w.Body.String(), `"createdAt":"2025-06-15T12:00:00Z"`)
}

func TestOrderErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{order.ErrEmptyItems, http.StatusBadRequest},
		{&order.ProductNotFoundError{ProductID: "x"}, http.StatusUnprocessableEntity},
		{&order.InvalidQuantityError{ProductID: "x"}, http.StatusUnprocessableEntity},
		{errors.Wrap(coupon.ErrMinOrderNotMet, "validate coupon"), http.StatusUnprocessableEntity},
		{errors.Wrap(coupon.ErrNotFound, "validate coupon"), http.StatusNotFound},
		{errors.Wrap(errors.New("tx aborted"), "create order"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			e := newEnv(Options{})
			e.orders.err = tt.err
			w := e.do(http.MethodPost, "/api/orders", `{"customerId":"cust-1","items":[]}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
