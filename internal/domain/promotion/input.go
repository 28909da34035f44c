package promotion

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/locale"
	"github.com/xenking/promo-engine/internal/domain/validation"
)

// CreateInput holds the attributes of a new promotion and its initial edges.
type CreateInput struct {
	Code              string              `json:"code" validate:"required,min=3,max=40,alphanum"`
	Name              locale.Text         `json:"name"`
	Description       locale.OptionalText `json:"description"`
	DiscountType      DiscountType        `json:"discountType" validate:"required,oneof=percentage fixed_amount buy_x_get_y free_shipping"`
	DiscountValue     decimal.Decimal     `json:"discountValue"`
	MaxDiscountAmount decimal.NullDecimal `json:"maxDiscountAmount"`

	BuyQuantity int `json:"buyQuantity" validate:"gte=0"`
	GetQuantity int `json:"getQuantity" validate:"gte=0"`
	// GetDiscountPercentage defaults to 100, i.e. the extra units are free.
	GetDiscountPercentage decimal.NullDecimal `json:"getDiscountPercentage"`

	StartDate      time.Time           `json:"startDate" validate:"required"`
	EndDate        time.Time           `json:"endDate" validate:"required,gtefield=StartDate"`
	MinOrderAmount decimal.NullDecimal `json:"minOrderAmount"`
	MinQuantity    int                 `json:"minQuantity" validate:"gte=0"`

	Scope       Scope    `json:"scope" validate:"required,oneof=all specific_products specific_categories specific_brands"`
	ProductIDs  []string `json:"productIds" validate:"dive,required"`
	CategoryIDs []string `json:"categoryIds" validate:"dive,required"`
	BrandIDs    []string `json:"brandIds" validate:"dive,required"`

	UsageLimit *int `json:"usageLimit" validate:"omitempty,gte=1"`
	// UsageLimitPerCustomer of zero means unlimited.
	UsageLimitPerCustomer int `json:"usageLimitPerCustomer" validate:"gte=0"`

	IsActive           *bool    `json:"isActive"`
	IsAutoApply        *bool    `json:"isAutoApply"`
	Priority           int      `json:"priority"`
	IsStackable        bool     `json:"isStackable"`
	ExcludedPromotions []string `json:"excludedPromotions" validate:"dive,required"`
}

// Validate checks the input, returning a *validation.Error listing every
// problem found.
func (in *CreateInput) Validate() error {
	verr := validation.Struct(in)
	p := in.promotion("", time.Time{})
	checkRules(verr, p)

	switch in.Scope {
	case ScopeProducts:
		if len(in.ProductIDs) == 0 {
			verr.Add("productIds", "is required for scope "+string(in.Scope))
		}
	case ScopeCategories:
		if len(in.CategoryIDs) == 0 {
			verr.Add("categoryIds", "is required for scope "+string(in.Scope))
		}
	case ScopeBrands:
		if len(in.BrandIDs) == 0 {
			verr.Add("brandIds", "is required for scope "+string(in.Scope))
		}
	}
	return verr.Err()
}

func (in *CreateInput) promotion(id string, now time.Time) *Promotion {
	getPct := hundred
	if in.GetDiscountPercentage.Valid {
		getPct = in.GetDiscountPercentage.Decimal
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	autoApply := true
	if in.IsAutoApply != nil {
		autoApply = *in.IsAutoApply
	}
	return &Promotion{
		ID:                    id,
		Code:                  NormalizeCode(in.Code),
		Name:                  in.Name,
		Description:           in.Description,
		DiscountType:          in.DiscountType,
		DiscountValue:         in.DiscountValue,
		MaxDiscountAmount:     in.MaxDiscountAmount,
		BuyQuantity:           in.BuyQuantity,
		GetQuantity:           in.GetQuantity,
		GetDiscountPercentage: getPct,
		StartDate:             in.StartDate,
		EndDate:               in.EndDate,
		MinOrderAmount:        in.MinOrderAmount,
		MinQuantity:           in.MinQuantity,
		Scope:                 in.Scope,
		Edges: Edges{
			ProductIDs:  uniq(in.ProductIDs),
			CategoryIDs: uniq(in.CategoryIDs),
			BrandIDs:    uniq(in.BrandIDs),
		},
		UsageLimit:            in.UsageLimit,
		UsageLimitPerCustomer: in.UsageLimitPerCustomer,
		IsActive:              active,
		IsAutoApply:           autoApply,
		Priority:              in.Priority,
		IsStackable:           in.IsStackable,
		ExcludedPromotions:    in.ExcludedPromotions,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// UpdateInput holds a partial promotion update. Nil fields are left
// unchanged. A non-nil edge slice replaces that edge set, so an empty slice
// clears it.
//
// MaxDiscountAmount and MinOrderAmount of 0 remove the cap and minimum,
// UsageLimit of 0 makes the promotion unlimited.
type UpdateInput struct {
	Code                  *string              `json:"code" validate:"omitempty,min=3,max=40,alphanum"`
	Name                  *locale.Text         `json:"name"`
	Description           *locale.OptionalText `json:"description"`
	DiscountType          *DiscountType        `json:"discountType" validate:"omitempty,oneof=percentage fixed_amount buy_x_get_y free_shipping"`
	DiscountValue         *decimal.Decimal     `json:"discountValue"`
	MaxDiscountAmount     *decimal.Decimal     `json:"maxDiscountAmount"`
	BuyQuantity           *int                 `json:"buyQuantity" validate:"omitempty,gte=0"`
	GetQuantity           *int                 `json:"getQuantity" validate:"omitempty,gte=0"`
	GetDiscountPercentage *decimal.Decimal     `json:"getDiscountPercentage"`
	StartDate             *time.Time           `json:"startDate"`
	EndDate               *time.Time           `json:"endDate"`
	MinOrderAmount        *decimal.Decimal     `json:"minOrderAmount"`
	MinQuantity           *int                 `json:"minQuantity" validate:"omitempty,gte=0"`
	Scope                 *Scope               `json:"scope" validate:"omitempty,oneof=all specific_products specific_categories specific_brands"`
	ProductIDs            []string             `json:"productIds" validate:"omitempty,dive,required"`
	CategoryIDs           []string             `json:"categoryIds" validate:"omitempty,dive,required"`
	BrandIDs              []string             `json:"brandIds" validate:"omitempty,dive,required"`
	UsageLimit            *int                 `json:"usageLimit" validate:"omitempty,gte=0"`
	UsageLimitPerCustomer *int                 `json:"usageLimitPerCustomer" validate:"omitempty,gte=0"`
	IsActive              *bool                `json:"isActive"`
	IsAutoApply           *bool                `json:"isAutoApply"`
	Priority              *int                 `json:"priority"`
	IsStackable           *bool                `json:"isStackable"`
	ExcludedPromotions    []string             `json:"excludedPromotions" validate:"omitempty,dive,required"`
}

// replacesEdges reports whether the update carries any edge set.
func (in *UpdateInput) replacesEdges() bool {
	return in.ProductIDs != nil || in.CategoryIDs != nil || in.BrandIDs != nil
}

// apply merges the update into p and validates the merged result.
func (in *UpdateInput) apply(p *Promotion, now time.Time) error {
	verr := validation.Struct(in)

	if in.Code != nil {
		p.Code = NormalizeCode(*in.Code)
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.DiscountType != nil {
		p.DiscountType = *in.DiscountType
	}
	if in.DiscountValue != nil {
		p.DiscountValue = *in.DiscountValue
	}
	if in.MaxDiscountAmount != nil {
		p.MaxDiscountAmount = nullIfZero(*in.MaxDiscountAmount)
	}
	if in.BuyQuantity != nil {
		p.BuyQuantity = *in.BuyQuantity
	}
	if in.GetQuantity != nil {
		p.GetQuantity = *in.GetQuantity
	}
	if in.GetDiscountPercentage != nil {
		p.GetDiscountPercentage = *in.GetDiscountPercentage
	}
	if in.StartDate != nil {
		p.StartDate = *in.StartDate
	}
	if in.EndDate != nil {
		p.EndDate = *in.EndDate
	}
	if in.MinOrderAmount != nil {
		p.MinOrderAmount = nullIfZero(*in.MinOrderAmount)
	}
	if in.MinQuantity != nil {
		p.MinQuantity = *in.MinQuantity
	}
	if in.Scope != nil {
		p.Scope = *in.Scope
	}
	if in.ProductIDs != nil {
		p.Edges.ProductIDs = uniq(in.ProductIDs)
	}
	if in.CategoryIDs != nil {
		p.Edges.CategoryIDs = uniq(in.CategoryIDs)
	}
	if in.BrandIDs != nil {
		p.Edges.BrandIDs = uniq(in.BrandIDs)
	}
	if in.UsageLimit != nil {
		if *in.UsageLimit == 0 {
			p.UsageLimit = nil
		} else {
			limit := *in.UsageLimit
			p.UsageLimit = &limit
		}
	}
	if in.UsageLimitPerCustomer != nil {
		p.UsageLimitPerCustomer = *in.UsageLimitPerCustomer
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if in.IsAutoApply != nil {
		p.IsAutoApply = *in.IsAutoApply
	}
	if in.Priority != nil {
		p.Priority = *in.Priority
	}
	if in.IsStackable != nil {
		p.IsStackable = *in.IsStackable
	}
	if in.ExcludedPromotions != nil {
		p.ExcludedPromotions = in.ExcludedPromotions
	}

	if p.EndDate.Before(p.StartDate) {
		verr.Add("endDate", "must not be before startDate")
	}
	if p.Name.EN == "" {
		verr.Add("name.en", "is required")
	}
	checkRules(verr, p)
	if err := verr.Err(); err != nil {
		return err
	}

	p.UpdatedAt = now
	return nil
}

// checkRules validates the decimal fields and the per-type parameters the
// tag validator cannot express.
func checkRules(verr *validation.Error, p *Promotion) {
	switch p.DiscountType {
	case DiscountPercentage:
		if !p.DiscountValue.IsPositive() || p.DiscountValue.GreaterThan(hundred) {
			verr.Add("discountValue", "must be greater than 0 and at most 100")
		}
	case DiscountFixed:
		if !p.DiscountValue.IsPositive() {
			verr.Add("discountValue", "must be greater than 0")
		}
	case DiscountBuyXGetY:
		if p.BuyQuantity < 1 {
			verr.Add("buyQuantity", "must be at least 1")
		}
		if p.GetQuantity < 1 {
			verr.Add("getQuantity", "must be at least 1")
		}
		if !p.GetDiscountPercentage.IsPositive() || p.GetDiscountPercentage.GreaterThan(hundred) {
			verr.Add("getDiscountPercentage", "must be greater than 0 and at most 100")
		}
	}
	if p.MaxDiscountAmount.Valid && !p.MaxDiscountAmount.Decimal.IsPositive() {
		verr.Add("maxDiscountAmount", "must be greater than 0")
	}
	if p.MinOrderAmount.Valid && p.MinOrderAmount.Decimal.IsNegative() {
		verr.Add("minOrderAmount", "must not be negative")
	}
}

func nullIfZero(v decimal.Decimal) decimal.NullDecimal {
	if v.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

// uniq drops repeated IDs, keeping the first occurrence.
func uniq(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
