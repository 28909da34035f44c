package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

type discountRequest struct {
	OrderAmount decimal.Decimal `json:"orderAmount"`
	Quantity    int             `json:"quantity"`
}

// CreatePromotion creates a promotion from the request body.
func (h *Handler) CreatePromotion(w http.ResponseWriter, r *http.Request) {
	var in promotion.CreateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	p, err := h.promotions.Create(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePromotion(e, p) })
}

// ListPromotions lists promotions matching the query filters.
func (h *Handler) ListPromotions(w http.ResponseWriter, r *http.Request) {
	verr := &validation.Error{}
	filter := promotion.ListFilter{Active: boolParam(r, "active", verr)}
	if raw := r.URL.Query().Get("scope"); raw != "" {
		scope := promotion.Scope(raw)
		switch scope {
		case promotion.ScopeAll, promotion.ScopeProducts, promotion.ScopeCategories, promotion.ScopeBrands:
			filter.Scope = &scope
		default:
			verr.Add("scope", "must be one of all specific_products specific_categories specific_brands")
		}
	}
	filter.Limit, filter.Offset = paging(r, verr)
	if err := verr.Err(); err != nil {
		fail(w, r, err)
		return
	}

	promos, err := h.promotions.List(r.Context(), filter)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("items")
		e.ArrStart()
		for i := range promos {
			encodePromotion(e, &promos[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// GetPromotion returns a promotion by id.
func (h *Handler) GetPromotion(w http.ResponseWriter, r *http.Request) {
	p, err := h.promotions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotion(e, p) })
}

// UpdatePromotion applies a partial update to a promotion.
func (h *Handler) UpdatePromotion(w http.ResponseWriter, r *http.Request) {
	var in promotion.UpdateInput
	if err := decode(r, &in); err != nil {
		fail(w, r, err)
		return
	}
	p, err := h.promotions.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePromotion(e, p) })
}

// DeletePromotion deletes a promotion that has never been used.
func (h *Handler) DeletePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.promotions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PromotionStats reports the recorded usage of a promotion.
func (h *Handler) PromotionStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.promotions.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		stats(e, "promotionId", s.PromotionID, s.Uses, s.UniqueCustomers, s.TotalDiscount, s.TotalOrderAmount, s.LastUsedAt)
	})
}

// PromotionEligibility reports whether a customer may still use a promotion.
func (h *Handler) PromotionEligibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		verr := &validation.Error{}
		verr.Add("customerId", "is required")
		fail(w, r, verr)
		return
	}

	ok, err := h.promotions.CanCustomerUse(r.Context(), id, customerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("promotionId")
		e.Str(id)
		e.FieldStart("customerId")
		e.Str(customerID)
		e.FieldStart("canUse")
		e.Bool(ok)
		e.ObjEnd()
	})
}

// PromotionDiscount computes the discount a promotion gives an amount.
func (h *Handler) PromotionDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	amount, err := h.promotions.Discount(r.Context(), id, req.OrderAmount, req.Quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("promotionId")
		e.Str(id)
		e.FieldStart("discountAmount")
		money(e, amount)
		e.ObjEnd()
	})
}

// RecordPromotionUsage records one use of a promotion.
func (h *Handler) RecordPromotionUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	u, err := h.promotions.RecordUsage(r.Context(), promotion.Usage{
		PromotionID:    chi.URLParam(r, "id"),
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
		usage(e, "promotionId", u.PromotionID, u.ID, u.CustomerID, u.OrderID, u.DiscountAmount, u.OrderAmount, u.UsedAt)
	})
}

// ProductPromotion resolves the promotion that applies to a catalog product.
// Products with their own offer report it instead of a promotion.
func (h *Handler) ProductPromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.products.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}

	promo, err := h.promotions.ForProduct(ctx, promotion.Target{
		ProductID:  p.ID,
		CategoryID: p.CategoryID,
		BrandID:    p.BrandID,
	}, p)
	if err != nil {
		fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(p.ID)
		e.FieldStart("directOffer")
		e.Bool(p.HasDirectOffer())
		e.FieldStart("discountPercentage")
		money(e, p.DiscountPercentage())
		e.FieldStart("promotion")
		if promo == nil {
			e.Null()
		} else {
			encodePromotion(e, promo)
		}
		e.ObjEnd()
	})
}
