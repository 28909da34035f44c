package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

type validateCouponRequest struct {
	Code         string          `json:"code"`
	CustomerID   string          `json:"customerId"`
	OrderAmount  decimal.Decimal `json:"orderAmount"`
	IsFirstOrder bool            `json:"isFirstOrder"`
}

type usageRequest struct {
	CustomerID     string          `json:"customerId"`
	OrderID        string          `json:"orderId"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	OrderAmount    decimal.Decimal `json:"orderAmount"`
}

// paging reads limit and offset query parameters.
func paging(r *http.Request, verr *validation.Error) (limit, offset int) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &limit},
		{"offset", &offset},
	} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			verr.Add(p.name, "must be a non-negative integer")
			continue
		}
		*p.dst = v
	}
	return limit, offset
}

// boolParam reads an optional boolean query parameter.
func boolParam(r *http.Request, name string, verr *validation.Error) *bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		verr.Add(name, "must be a boolean")
		return nil
	}
	return &v
}

// CreateCoupon creates a coupon from the request body.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var in coupon.CreateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.Create(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// ListCoupons lists coupons matching the query filters.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	verr := &validation.Error{}
	filter := coupon.ListFilter{
		Active: boolParam(r, "active", verr),
		Public: boolParam(r, "public", verr),
	}
	filter.Limit, filter.Offset = paging(r, verr)
	if err := verr.Err(); err != nil {
		fail(w, r, err)
		return
	}

	coupons, err := h.coupons.List(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for i := range coupons {
			encodeCoupon(e, &coupons[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetCoupon returns a coupon by id.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// UpdateCoupon applies a partial update to a coupon.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var in coupon.UpdateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// DeleteCoupon deletes a coupon that has never been used.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CouponStats reports the recorded usage of a coupon.
func (h *Handler) CouponStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.coupons.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		stats(e, "couponId", s.CouponID, s.Uses, s.UniqueCustomers, s.TotalDiscount, s.TotalOrderAmount, s.LastUsedAt)
	})
}

// ValidateCoupon checks a code against the caller's order. Rejections are
// answered with 422 and a reason code.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	v, err := h.coupons.Validate(r.Context(), coupon.ValidateRequest{
		Code:         req.Code,
		CustomerID:   req.CustomerID,
		OrderAmount:  req.OrderAmount,
		IsFirstOrder: req.IsFirstOrder,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("valid")
		e.Bool(true)
		e.FieldStart("discountAmount")
		money(e, v.DiscountAmount)
		e.FieldStart("coupon")
		encodeCoupon(e, v.Coupon)
		e.ObjEnd()
	})
}

// RecordCouponUsage records one redemption of a coupon.
func (h *Handler) RecordCouponUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	u, err := h.coupons.RecordUsage(r.Context(), coupon.Usage{
		CouponID:       chi.URLParam(r, "id"),
		CustomerID:     req.CustomerID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
		OrderAmount:    req.OrderAmount,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		usage(e, "couponId", u.CouponID, u.ID, u.CustomerID, u.OrderID, u.DiscountAmount, u.OrderAmount, u.UsedAt)
	})
}
