// Package handler exposes the coupon, promotion and checkout engines over a
// JSON REST API.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

// CouponService is the coupon engine as seen by the API.
type CouponService interface {
	coupon.Validator
	coupon.Recorder
	Stats(ctx context.Context, id string) (*coupon.UsageStats, error)
	Create(ctx context.Context, in coupon.CreateInput) (*coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error)
	Update(ctx context.Context, id string, in coupon.UpdateInput) (*coupon.Coupon, error)
	Delete(ctx context.Context, id string) error
}

// PromotionService is the promotion engine as seen by the API.
type PromotionService interface {
	promotion.Resolver
	promotion.UsageChecker
	promotion.Recorder
	Discount(ctx context.Context, id string, amount decimal.Decimal, quantity int) (decimal.Decimal, error)
	Stats(ctx context.Context, id string) (*promotion.UsageStats, error)
	Create(ctx context.Context, in promotion.CreateInput) (*promotion.Promotion, error)
	Get(ctx context.Context, id string) (*promotion.Promotion, error)
	List(ctx context.Context, filter promotion.ListFilter) ([]promotion.Promotion, error)
	Update(ctx context.Context, id string, in promotion.UpdateInput) (*promotion.Promotion, error)
	Delete(ctx context.Context, id string) error
}

// OrderService prices carts and places orders.
type OrderService interface {
	Quote(ctx context.Context, req order.QuoteRequest) (*order.Quote, error)
	PlaceOrder(ctx context.Context, req order.QuoteRequest) (*order.Order, error)
}

var (
	_ CouponService    = (*coupon.Engine)(nil)
	_ PromotionService = (*promotion.Service)(nil)
	_ OrderService     = (*order.Service)(nil)
)

// Handler serves the REST API.
type Handler struct {
	coupons    CouponService
	promotions PromotionService
	orders     OrderService
	products   product.Repository
}

// New creates a Handler.
func New(
	coupons CouponService,
	promotions PromotionService,
	orders OrderService,
	products product.Repository,
) *Handler {
	return &Handler{
		coupons:    coupons,
		promotions: promotions,
		orders:     orders,
		products:   products,
	}
}

// Options tunes route registration.
type Options struct {
	// ValidateLimit wraps the public coupon validation route, typically with a
	// rate limiter. Nil leaves it unwrapped.
	ValidateLimit func(http.Handler) http.Handler
}

// Register mounts the API routes under /api.
func (h *Handler) Register(r chi.Router, opts Options) {
	validate := chi.Middlewares{}
	if opts.ValidateLimit != nil {
		validate = append(validate, opts.ValidateLimit)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/coupons", func(r chi.Router) {
			r.Post("/", h.CreateCoupon)
			r.Get("/", h.ListCoupons)
			r.With(validate...).Post("/validate", h.ValidateCoupon)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetCoupon)
				r.Patch("/", h.UpdateCoupon)
				r.Delete("/", h.DeleteCoupon)
				r.Get("/stats", h.CouponStats)
				r.Post("/usages", h.RecordCouponUsage)
			})
		})

		r.Route("/promotions", func(r chi.Router) {
			r.Post("/", h.CreatePromotion)
			r.Get("/", h.ListPromotions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPromotion)
				r.Patch("/", h.UpdatePromotion)
				r.Delete("/", h.DeletePromotion)
				r.Get("/stats", h.PromotionStats)
				r.Get("/eligibility", h.PromotionEligibility)
				r.Post("/discount", h.PromotionDiscount)
				r.Post("/usages", h.RecordPromotionUsage)
			})
		})

		r.Get("/products/{id}/promotion", h.ProductPromotion)

		r.Post("/orders/quote", h.QuoteOrder)
		r.Post("/orders", h.PlaceOrder)
	})
}
