package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/promo-engine/internal/domain/order"
)

type orderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	CustomerID string      `json:"customerId"`
	Items      []orderItem `json:"items"`
	CouponCode string      `json:"couponCode"`
}

func (req *orderRequest) domain() order.QuoteRequest {
	items := make([]order.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return order.QuoteRequest{
		CustomerID: req.CustomerID,
		Items:      items,
		CouponCode: req.CouponCode,
	}
}

// QuoteOrder prices a cart without placing it.
func (h *Handler) QuoteOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	q, err := h.orders.Quote(r.Context(), req.domain())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}

// PlaceOrder prices and stores a cart and records its discount usage.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	o, err := h.orders.PlaceOrder(r.Context(), req.domain())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}
