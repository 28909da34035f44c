package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/locale"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

// CreateInput holds the attributes of a new coupon.
type CreateInput struct {
	Code              string              `json:"code" validate:"required,min=3,max=40,alphanum"`
	Name              locale.Text         `json:"name"`
	Description       locale.OptionalText `json:"description"`
	DiscountType      DiscountType        `json:"discountType" validate:"required,oneof=percentage fixed_amount free_shipping"`
	DiscountValue     decimal.Decimal     `json:"discountValue"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`
	StartDate         time.Time           `json:"startDate" validate:"required"`
	ExpiryDate        time.Time           `json:"expiryDate" validate:"required,gtefield=StartDate"`
	MinOrderAmount    decimal.NullDecimal `json:"minOrderAmount"`
	PriceLevels       []string            `json:"priceLevels" validate:"dive,required"`
	CategoryIDs       []string            `json:"categoryIds" validate:"dive,required"`
	ProductIDs        []string            `json:"productIds" validate:"dive,required"`
	FirstOrderOnly    bool                `json:"firstOrderOnly"`
	UsageLimit        *int                `json:"usageLimit" validate:"omitempty,gte=1"`
	// UsageLimitPerCustomer defaults to 1. Zero means unlimited.
	UsageLimitPerCustomer *int  `json:"usageLimitPerCustomer" validate:"omitempty,gte=0"`
	IsActive              *bool `json:"isActive"`
	IsPublic              bool  `json:"isPublic"`
}

// Validate checks the input, returning a *validation.Error listing every
// problem found.
func (in *CreateInput) Validate() error {
	verr := validation.Struct(in)
	checkAmounts(verr, in.DiscountType, in.DiscountValue, in.MaxDiscountAmount, in.MinOrderAmount)
	return verr.Err()
}

func (in *CreateInput) coupon(id string, now time.Time) *Coupon {
	perCustomer := 1
	if in.UsageLimitPerCustomer != nil {
		perCustomer = *in.UsageLimitPerCustomer
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return &Coupon{
		ID:                    id,
		Code:                  NormalizeCode(in.Code),
		Name:                  in.Name,
		Description:           in.Description,
		DiscountType:          in.DiscountType,
		DiscountValue:         in.DiscountValue,
		MaxDiscountAmount:     in.MaxDiscountAmount,
		StartDate:             in.StartDate,
		ExpiryDate:            in.ExpiryDate,
		MinOrderAmount:        in.MinOrderAmount,
		PriceLevels:           in.PriceLevels,
		CategoryIDs:           in.CategoryIDs,
		ProductIDs:            in.ProductIDs,
		FirstOrderOnly:        in.FirstOrderOnly,
		UsageLimit:            in.UsageLimit,
		UsageLimitPerCustomer: perCustomer,
		IsActive:              active,
		IsPublic:              in.IsPublic,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// UpdateInput holds a partial coupon update. Nil fields are left unchanged.
//
// For the optional limits a zero value clears the field: MaxDiscountAmount
// and MinOrderAmount of 0 remove the cap and minimum, UsageLimit of 0 makes
// the coupon unlimited.
type UpdateInput struct {
	Code                  *string              `json:"code" validate:"omitempty,min=3,max=40,alphanum"`
	Name                  *locale.Text         `json:"name"`
	Description           *locale.OptionalText `json:"description"`
	DiscountType          *DiscountType        `json:"discountType" validate:"omitempty,oneof=percentage fixed_amount free_shipping"`
	DiscountValue         *decimal.Decimal     `json:"discountValue"`
	MaxDiscountAmount     *decimal.Decimal     `json:"maxDiscountAmount"`
	StartDate             *time.Time           `json:"startDate"`
	ExpiryDate            *time.Time           `json:"expiryDate"`
	MinOrderAmount        *decimal.Decimal     `json:"minOrderAmount"`
	PriceLevels           []string             `json:"priceLevels" validate:"omitempty,dive,required"`
	CategoryIDs           []string             `json:"categoryIds" validate:"omitempty,dive,required"`
	ProductIDs            []string             `json:"productIds" validate:"omitempty,dive,required"`
	FirstOrderOnly        *bool                `json:"firstOrderOnly"`
	UsageLimit            *int                 `json:"usageLimit" validate:"omitempty,gte=0"`
	UsageLimitPerCustomer *int                 `json:"usageLimitPerCustomer" validate:"omitempty,gte=0"`
	IsActive              *bool                `json:"isActive"`
	IsPublic              *bool                `json:"isPublic"`
}

// apply merges the update into c and validates the merged result.
func (in *UpdateInput) apply(c *Coupon, now time.Time) error {
	verr := validation.Struct(in)

	if in.Code != nil {
		c.Code = NormalizeCode(*in.Code)
	}
	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.DiscountType != nil {
		c.DiscountType = *in.DiscountType
	}
	if in.DiscountValue != nil {
		c.DiscountValue = *in.DiscountValue
	}
	if in.MaxDiscountAmount != nil {
		c.MaxDiscountAmount = nullIfZero(*in.MaxDiscountAmount)
	}
	if in.StartDate != nil {
		c.StartDate = *in.StartDate
	}
	if in.ExpiryDate != nil {
		c.ExpiryDate = *in.ExpiryDate
	}
	if in.MinOrderAmount != nil {
		c.MinOrderAmount = nullIfZero(*in.MinOrderAmount)
	}
	if in.PriceLevels != nil {
		c.PriceLevels = in.PriceLevels
	}
	if in.CategoryIDs != nil {
		c.CategoryIDs = in.CategoryIDs
	}
	if in.ProductIDs != nil {
		c.ProductIDs = in.ProductIDs
	}
	if in.FirstOrderOnly != nil {
		c.FirstOrderOnly = *in.FirstOrderOnly
	}
	if in.UsageLimit != nil {
		if *in.UsageLimit == 0 {
			c.UsageLimit = nil
		} else {
			limit := *in.UsageLimit
			c.UsageLimit = &limit
		}
	}
	if in.UsageLimitPerCustomer != nil {
		c.UsageLimitPerCustomer = *in.UsageLimitPerCustomer
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if in.IsPublic != nil {
		c.IsPublic = *in.IsPublic
	}

	if c.ExpiryDate.Before(c.StartDate) {
		verr.Add("expiryDate", "must not be before startDate")
	}
	if c.Name.EN == "" {
		verr.Add("name.en", "is required")
	}
	checkAmounts(verr, c.DiscountType, c.DiscountValue, c.MaxDiscountAmount, c.MinOrderAmount)
	if err := verr.Err(); err != nil {
		return err
	}

	c.UpdatedAt = now
	return nil
}

// checkAmounts validates the decimal fields the tag validator cannot compare.
func checkAmounts(verr *validation.Error, typ DiscountType, value decimal.Decimal, maxDiscount, minOrder decimal.NullDecimal) {
	switch typ {
	case DiscountPercentage:
		if !value.IsPositive() || value.GreaterThan(hundred) {
			verr.Add("discountValue", "must be greater than 0 and at most 100")
		}
	case DiscountFixed:
		if !value.IsPositive() {
			verr.Add("discountValue", "must be greater than 0")
		}
	case DiscountFreeShipping:
		if value.IsNegative() {
			verr.Add("discountValue", "must not be negative")
		}
	}
	if maxDiscount.Valid && !maxDiscount.Decimal.IsPositive() {
		verr.Add("maxDiscountAmount", "must be greater than 0")
	}
	if minOrder.Valid && minOrder.Decimal.IsNegative() {
		verr.Add("minOrderAmount", "must not be negative")
	}
}

func nullIfZero(v decimal.Decimal) decimal.NullDecimal {
	if v.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}
