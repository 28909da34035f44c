// Command seed-db loads a demo catalog, coupons and promotions.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/promo-engine/internal/domain/coupon"
	"github.com/xenking/promo-engine/internal/domain/locale"
	"github.com/xenking/promo-engine/internal/domain/product"
	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

var catalog = []product.Product{
	{ID: "prod-1", Name: "Espresso Machine", CategoryID: "cat-kitchen", BrandID: "brand-brewco", BasePrice: dec("250.00")},
	{ID: "prod-2", Name: "Burr Grinder", CategoryID: "cat-kitchen", BrandID: "brand-brewco", BasePrice: dec("80.00"), CompareAtPrice: decimal.NewNullDecimal(dec("100.00"))},
	{ID: "prod-3", Name: "Running Shoes", CategoryID: "cat-sport", BrandID: "brand-stride", BasePrice: dec("120.00")},
	{ID: "prod-4", Name: "Water Bottle", CategoryID: "cat-sport", BrandID: "brand-stride", BasePrice: dec("15.00")},
	{ID: "prod-5", Name: "Desk Lamp", CategoryID: "cat-home", BrandID: "brand-lumen", BasePrice: dec("45.00")},
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func text(en, ar string) locale.Text {
	return locale.Text{EN: en, AR: ar}
}

func ptr[T any](v T) *T {
	return &v
}

func main() {
	var databaseURL string
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, postgres.NewProductRepository(pool)); err != nil {
		return errors.Wrap(err, "seed products")
	}

	now := time.Now().UTC()
	if err := seedCoupons(ctx, coupon.NewEngine(postgres.NewCouponRepository(pool)), now); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedPromotions(ctx, promotion.NewService(postgres.NewPromotionRepository(pool)), now); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *postgres.ProductRepository) error {
	slog.Info("upserting products", slog.Int("count", len(catalog)))

	for i := range catalog {
		p := &catalog[i]
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, engine *coupon.Engine, now time.Time) error {
	slog.Info("seeding coupons")

	year := now.AddDate(1, 0, 0)
	coupons := []coupon.CreateInput{
		{
			Code:          "SUMMER10",
			Name:          text("Summer 10% off", "خصم الصيف 10٪"),
			DiscountType:  coupon.DiscountPercentage,
			DiscountValue: dec("10"),
			StartDate:     now,
			ExpiryDate:    year,
			IsPublic:      true,
		},
		{
			Code:              "BIG25",
			Name:              text("25% off orders over 200", "خصم 25٪ على الطلبات فوق 200"),
			DiscountType:      coupon.DiscountPercentage,
			DiscountValue:     dec("25"),
			MaxDiscountAmount: decimal.NewNullDecimal(dec("75")),
			MinOrderAmount:    decimal.NewNullDecimal(dec("200")),
			StartDate:         now,
			ExpiryDate:        year,
			UsageLimit:        ptr(1000),
		},
		{
			Code:           "WELCOME15",
			Name:           text("15 off your first order", "15 خصم على طلبك الأول"),
			DiscountType:   coupon.DiscountFixed,
			DiscountValue:  dec("15"),
			StartDate:      now,
			ExpiryDate:     year,
			FirstOrderOnly: true,
		},
		{
			Code:         "SHIPFREE",
			Name:         text("Free shipping", "شحن مجاني"),
			DiscountType: coupon.DiscountFreeShipping,
			StartDate:    now,
			ExpiryDate:   year,
			CategoryIDs:  []string{"cat-sport"},
			IsPublic:     true,
		},
	}

	for _, in := range coupons {
		c, err := engine.Create(ctx, in)
		if errors.Is(err, coupon.ErrCodeTaken) {
			slog.Info("coupon exists, skipping", slog.String("code", in.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", in.Code)
		}

		slog.Info("created coupon", slog.String("code", c.Code), slog.String("id", c.ID))
	}

	return nil
}

func seedPromotions(ctx context.Context, svc *promotion.Service, now time.Time) error {
	slog.Info("seeding promotions")

	month := now.AddDate(0, 1, 0)
	promos := []promotion.CreateInput{
		{
			Code:          "KITCHEN20",
			Name:          text("20% off Brewco", "خصم 20٪ على Brewco"),
			DiscountType:  promotion.DiscountPercentage,
			DiscountValue: dec("20"),
			StartDate:     now,
			EndDate:       month,
			Scope:         promotion.ScopeBrands,
			BrandIDs:      []string{"brand-brewco"},
			Priority:      10,
		},
		{
			Code:         "SHOES2FOR1",
			Name:         text("Buy one pair, get one free", "اشتر زوجا واحصل على الآخر مجانا"),
			DiscountType: promotion.DiscountBuyXGetY,
			BuyQuantity:  1,
			GetQuantity:  1,
			StartDate:    now,
			EndDate:      month,
			Scope:        promotion.ScopeProducts,
			ProductIDs:   []string{"prod-3"},
			Priority:     20,
		},
		{
			Code:          "SPORT5",
			Name:          text("5 off sport gear", "5 خصم على المعدات الرياضية"),
			DiscountType:  promotion.DiscountFixed,
			DiscountValue: dec("5"),
			StartDate:     now,
			EndDate:       month,
			Scope:         promotion.ScopeCategories,
			CategoryIDs:   []string{"cat-sport"},
			Priority:      5,
		},
		{
			Code:                  "SITEWIDE5",
			Name:                  text("5% off everything", "خصم 5٪ على كل شيء"),
			DiscountType:          promotion.DiscountPercentage,
			DiscountValue:         dec("5"),
			StartDate:             now,
			EndDate:               month,
			Scope:                 promotion.ScopeAll,
			UsageLimitPerCustomer: 3,
		},
	}

	for _, in := range promos {
		p, err := svc.Create(ctx, in)
		if errors.Is(err, promotion.ErrCodeTaken) {
			slog.Info("promotion exists, skipping", slog.String("code", in.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create promotion %s", in.Code)
		}

		slog.Info("created promotion", slog.String("code", p.Code), slog.String("id", p.ID))
	}

	return nil
}
