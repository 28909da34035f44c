package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/locale"
	"github.com/xenking/promo-engine/internal/domain/order"
	"github.com/xenking/promo-engine/internal/domain/promotion"
)

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes d as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Raw([]byte(d.StringFixed(2)))
}

func nullMoney(e *jx.Encoder, d decimal.NullDecimal) {
	if !d.Valid {
		e.Null()
		return
	}
	money(e, d.Decimal)
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func strs(e *jx.Encoder, values []string) {
	e.ArrStart()
	for _, v := range values {
		e.Str(v)
	}
	e.ArrEnd()
}

func optInt(e *jx.Encoder, v *int) {
	if v == nil {
		e.Null()
		return
	}
	e.Int(*v)
}

func text(e *jx.Encoder, en, ar string) {
	e.ObjStart()
	e.FieldStart("en")
	e.Str(en)
	e.FieldStart("ar")
	e.Str(ar)
	e.ObjEnd()
}

func localized(e *jx.Encoder, t locale.Text) { text(e, t.EN, t.AR) }

func optLocalized(e *jx.Encoder, t locale.OptionalText) { text(e, t.EN, t.AR) }

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("name")
	localized(e, c.Name)
	e.FieldStart("description")
	optLocalized(e, c.Description)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	money(e, c.DiscountValue)
	e.FieldStart("maxDiscountAmount")
	nullMoney(e, c.MaxDiscountAmount)
	e.FieldStart("startDate")
	timestamp(e, c.StartDate)
	e.FieldStart("expiryDate")
	timestamp(e, c.ExpiryDate)
	e.FieldStart("minOrderAmount")
	nullMoney(e, c.MinOrderAmount)
	e.FieldStart("priceLevels")
	strs(e, c.PriceLevels)
	e.FieldStart("categoryIds")
	strs(e, c.CategoryIDs)
	e.FieldStart("productIds")
	strs(e, c.ProductIDs)
	e.FieldStart("firstOrderOnly")
	e.Bool(c.FirstOrderOnly)
	e.FieldStart("usageLimit")
	optInt(e, c.UsageLimit)
	e.FieldStart("usageLimitPerCustomer")
	e.Int(c.UsageLimitPerCustomer)
	e.FieldStart("usedCount")
	e.Int(c.UsedCount)
	e.FieldStart("isActive")
	e.Bool(c.IsActive)
	e.FieldStart("isPublic")
	e.Bool(c.IsPublic)
	e.FieldStart("createdAt")
	timestamp(e, c.CreatedAt)
	e.FieldStart("updatedAt")
	timestamp(e, c.UpdatedAt)
	e.ObjEnd()
}

func encodePromotion(e *jx.Encoder, p *promotion.Promotion) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("code")
	e.Str(p.Code)
	e.FieldStart("name")
	localized(e, p.Name)
	e.FieldStart("description")
	optLocalized(e, p.Description)
	e.FieldStart("discountType")
	e.Str(string(p.DiscountType))
	e.FieldStart("discountValue")
	money(e, p.DiscountValue)
	e.FieldStart("maxDiscountAmount")
	nullMoney(e, p.MaxDiscountAmount)
	if p.DiscountType == promotion.DiscountBuyXGetY {
		e.FieldStart("buyQuantity")
		e.Int(p.BuyQuantity)
		e.FieldStart("getQuantity")
		e.Int(p.GetQuantity)
		e.FieldStart("getDiscountPercentage")
		money(e, p.GetDiscountPercentage)
	}
	e.FieldStart("startDate")
	timestamp(e, p.StartDate)
	e.FieldStart("endDate")
	timestamp(e, p.EndDate)
	e.FieldStart("minOrderAmount")
	nullMoney(e, p.MinOrderAmount)
	e.FieldStart("minQuantity")
	e.Int(p.MinQuantity)
	e.FieldStart("scope")
	e.Str(string(p.Scope))
	e.FieldStart("productIds")
	strs(e, p.Edges.ProductIDs)
	e.FieldStart("categoryIds")
	strs(e, p.Edges.CategoryIDs)
	e.FieldStart("brandIds")
	strs(e, p.Edges.BrandIDs)
	e.FieldStart("usageLimit")
	optInt(e, p.UsageLimit)
	e.FieldStart("usageLimitPerCustomer")
	e.Int(p.UsageLimitPerCustomer)
	e.FieldStart("usedCount")
	e.Int(p.UsedCount)
	e.FieldStart("isActive")
	e.Bool(p.IsActive)
	e.FieldStart("isAutoApply")
	e.Bool(p.IsAutoApply)
	e.FieldStart("priority")
	e.Int(p.Priority)
	e.FieldStart("isStackable")
	e.Bool(p.IsStackable)
	e.FieldStart("excludedPromotions")
	strs(e, p.ExcludedPromotions)
	e.FieldStart("createdAt")
	timestamp(e, p.CreatedAt)
	e.FieldStart("updatedAt")
	timestamp(e, p.UpdatedAt)
	e.ObjEnd()
}

// usage writes the fields shared by coupon and promotion usage records.
func usage(e *jx.Encoder, ownerField, ownerID, id, customerID, orderID string, discount, amount decimal.Decimal, usedAt time.Time) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id)
	e.FieldStart(ownerField)
	e.Str(ownerID)
	e.FieldStart("customerId")
	e.Str(customerID)
	e.FieldStart("orderId")
	e.Str(orderID)
	e.FieldStart("discountAmount")
	money(e, discount)
	e.FieldStart("orderAmount")
	money(e, amount)
	e.FieldStart("usedAt")
	timestamp(e, usedAt)
	e.ObjEnd()
}

func stats(e *jx.Encoder, ownerField, ownerID string, uses, customers int, discount, amount decimal.Decimal, last *time.Time) {
	e.ObjStart()
	e.FieldStart(ownerField)
	e.Str(ownerID)
	e.FieldStart("uses")
	e.Int(uses)
	e.FieldStart("uniqueCustomers")
	e.Int(customers)
	e.FieldStart("totalDiscount")
	money(e, discount)
	e.FieldStart("totalOrderAmount")
	money(e, amount)
	e.FieldStart("lastUsedAt")
	if last == nil {
		e.Null()
	} else {
		timestamp(e, *last)
	}
	e.ObjEnd()
}

func encodeLines(e *jx.Encoder, lines []order.Line) {
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		money(e, l.UnitPrice)
		e.FieldStart("amount")
		money(e, l.Amount)
		if l.OfferPercentage.IsPositive() {
			e.FieldStart("offerPercentage")
			money(e, l.OfferPercentage)
		}
		if l.PromotionID != "" {
			e.FieldStart("promotionId")
			e.Str(l.PromotionID)
			e.FieldStart("promotionCode")
			e.Str(l.PromotionCode)
		}
		if l.FreeUnits > 0 {
			e.FieldStart("freeUnits")
			e.Int(l.FreeUnits)
		}
		e.FieldStart("discount")
		money(e, l.Discount)
		e.FieldStart("total")
		money(e, l.Total)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeQuote(e *jx.Encoder, q *order.Quote) {
	e.ObjStart()
	e.FieldStart("customerId")
	e.Str(q.CustomerID)
	e.FieldStart("lines")
	encodeLines(e, q.Lines)
	e.FieldStart("subtotal")
	money(e, q.Subtotal)
	e.FieldStart("promotionDiscount")
	money(e, q.PromotionDiscount)
	if q.Coupon != nil {
		e.FieldStart("couponCode")
		e.Str(q.Coupon.Code)
	}
	e.FieldStart("couponDiscount")
	money(e, q.CouponDiscount)
	e.FieldStart("freeShipping")
	e.Bool(q.FreeShipping)
	e.FieldStart("total")
	money(e, q.Total)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("customerId")
	e.Str(o.CustomerID)
	e.FieldStart("lines")
	encodeLines(e, o.Lines)
	e.FieldStart("subtotal")
	money(e, o.Subtotal)
	e.FieldStart("promotionDiscount")
	money(e, o.PromotionDiscount)
	if o.CouponCode != "" {
		e.FieldStart("couponCode")
		e.Str(o.CouponCode)
	}
	e.FieldStart("couponDiscount")
	money(e, o.CouponDiscount)
	e.FieldStart("freeShipping")
	e.Bool(o.FreeShipping)
	e.FieldStart("total")
	money(e, o.Total)
	e.FieldStart("createdAt")
	timestamp(e, o.CreatedAt)
	e.ObjEnd()
}
