package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

const maxBodyBytes = 1 << 20

// badRequestError is a request that could not be decoded.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return "malformed request: " + e.err.Error() }

func (e *badRequestError) Unwrap() error { return e.err }

// decode reads a single JSON value from the request body into v.
func decode(r *http.Request, v any) error {
	d := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return &badRequestError{err: err}
	}
	if d.More() {
		return &badRequestError{err: errors.New("unexpected data after JSON body")}
	}
	return nil
}

// reasons are the machine-readable codes of eligibility failures.
var reasons = []struct {
	err    error
	reason string
}{
	{coupon.ErrInactive, "inactive"},
	{coupon.ErrNotStarted, "not_started"},
	{coupon.ErrExpired, "expired"},
	{coupon.ErrMinOrderNotMet, "min_order_not_met"},
	{coupon.ErrFirstOrderOnly, "first_order_only"},
	{coupon.ErrUsageLimitReached, "usage_limit_reached"},
	{coupon.ErrCustomerLimitReached, "customer_limit_reached"},
	{coupon.ErrNotApplicable, "not_applicable"},
	{promotion.ErrUsageLimitReached, "usage_limit_reached"},
}

func reasonOf(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ""
}

// apiError is the error body sent to clients.
type apiError struct {
	Status  int
	Message string
	Reason  string
	Fields  []validation.FieldError
}

func classify(err error) apiError {
	var (
		badReq     *badRequestError
		verr       *validation.Error
		notFound   *order.ProductNotFoundError
		invalidQty *order.InvalidQuantityError
	)
	switch {
	case errors.As(err, &badReq):
		return apiError{Status: http.StatusBadRequest, Message: badReq.Error()}
	case errors.As(err, &verr):
		return apiError{Status: http.StatusUnprocessableEntity, Message: "invalid input", Fields: verr.Fields}
	case errors.Is(err, order.ErrEmptyItems):
		return apiError{Status: http.StatusBadRequest, Message: err.Error()}
	case errors.As(err, &notFound):
		return apiError{Status: http.StatusUnprocessableEntity, Message: notFound.Error()}
	case errors.As(err, &invalidQty):
		return apiError{Status: http.StatusUnprocessableEntity, Message: invalidQty.Error()}
	case errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, promotion.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		return apiError{Status: http.StatusNotFound, Message: rootMessage(err)}
	case errors.Is(err, coupon.ErrCodeTaken),
		errors.Is(err, promotion.ErrCodeTaken),
		errors.Is(err, coupon.ErrInUse):
		return apiError{Status: http.StatusConflict, Message: rootMessage(err)}
	}
	if reason := reasonOf(err); reason != "" {
		return apiError{Status: http.StatusUnprocessableEntity, Message: rootMessage(err), Reason: reason}
	}
	return apiError{Status: http.StatusInternalServerError, Message: "internal server error"}
}

// rootMessage drops wrapping context so clients see only the domain message.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// fail writes err as an API error. Unexpected errors are logged.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	lg := zctx.From(r.Context())
	if ae.Status >= http.StatusInternalServerError {
		lg.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		lg.Debug("Request rejected", zap.Int("status", ae.Status), zap.Error(err))
	}

	writeJSON(w, ae.Status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(ae.Status)
		e.FieldStart("message")
		e.Str(ae.Message)
		if ae.Reason != "" {
			e.FieldStart("reason")
			e.Str(ae.Reason)
		}
		if len(ae.Fields) > 0 {
			e.FieldStart("fields")
			e.ArrStart()
			for _, f := range ae.Fields {
				e.ObjStart()
				e.FieldStart("field")
				e.Str(f.Field)
				e.FieldStart("message")
				e.Str(f.Message)
				e.ObjEnd()
			}
			e.ArrEnd()
		}
		e.ObjEnd()
	})
}
