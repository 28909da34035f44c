// Package cache provides redis read-through caches for hot domain lookups.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/coupon"
)

const (
	codeKeyPrefix = "promo:coupon:code:"
	idKeyPrefix   = "promo:coupon:id:"
	// epochKey is bumped by every invalidation. A fill started before the
	// bump is not stored.
	epochKey = "promo:coupon:epoch"

	// DefaultTTL bounds how stale a cached coupon can get when an
	// invalidation is lost.
	DefaultTTL = 5 * time.Minute
)

var _ coupon.Repository = (*CouponCache)(nil)

var errStaleFill = errors.New("coupon changed during cache fill")

// CouponCache caches coupon lookups by code in redis. Every write through
// the cache drops the affected entry.
//
// Redis failures are logged and the call falls through to the wrapped
// repository.
type CouponCache struct {
	coupon.Repository
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewCouponCache wraps repo with a redis cache. A non-positive ttl selects
// DefaultTTL.
func NewCouponCache(repo coupon.Repository, rdb redis.UniversalClient, ttl time.Duration) *CouponCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CouponCache{Repository: repo, rdb: rdb, ttl: ttl}
}

// FindByCode returns the cached coupon or loads and caches it.
func (c *CouponCache) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	key := codeKeyPrefix + coupon.NormalizeCode(code)
	lg := zctx.From(ctx)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cp coupon.Coupon
		if err := json.Unmarshal(data, &cp); err == nil {
			return &cp, nil
		}
		lg.Warn("Drop malformed cached coupon", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Coupon cache read failed", zap.String("key", key), zap.Error(err))
	}

	epoch, epochErr := c.rdb.Get(ctx, epochKey).Int64()
	if errors.Is(epochErr, redis.Nil) {
		epochErr = nil
	}

	cp, err := c.Repository.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if epochErr == nil {
		c.store(ctx, key, cp, epoch)
	}
	return cp, nil
}

// store caches cp unless an invalidation ran since epoch was read.
func (c *CouponCache) store(ctx context.Context, key string, cp *coupon.Coupon, epoch int64) {
	lg := zctx.From(ctx)
	data, err := json.Marshal(cp)
	if err != nil {
		lg.Warn("Encode coupon for cache", zap.Error(err))
		return
	}
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, epochKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != epoch {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.Set(ctx, idKeyPrefix+cp.ID, cp.Code, c.ttl)
			return nil
		})
		return err
	}, epochKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		lg.Debug("Skip stale coupon cache fill", zap.String("key", key))
	default:
		lg.Warn("Coupon cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// invalidate drops the cache entry of the coupon with the given ID and
// cancels fills that are in flight.
func (c *CouponCache) invalidate(ctx context.Context, id string) {
	if err := c.rdb.Incr(ctx, epochKey).Err(); err != nil {
		zctx.From(ctx).Warn("Coupon cache epoch bump failed", zap.Error(err))
	}

	idKey := idKeyPrefix + id
	code, err := c.rdb.Get(ctx, idKey).Result()
	if errors.Is(err, redis.Nil) {
		return
	}
	if err != nil {
		zctx.From(ctx).Warn("Coupon cache read failed", zap.String("key", idKey), zap.Error(err))
		return
	}
	if err := c.rdb.Del(ctx, idKey, codeKeyPrefix+code).Err(); err != nil {
		zctx.From(ctx).Warn("Coupon cache invalidation failed", zap.String("id", id), zap.Error(err))
	}
}

// Update stores the coupon and drops its cache entry.
func (c *CouponCache) Update(ctx context.Context, cp *coupon.Coupon) error {
	if err := c.Repository.Update(ctx, cp); err != nil {
		return err
	}
	c.invalidate(ctx, cp.ID)
	return nil
}

// Delete removes the coupon and drops its cache entry.
func (c *CouponCache) Delete(ctx context.Context, id string) error {
	if err := c.Repository.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// RecordUsage records the usage and drops the cache entry so the next
// validation sees the new used count.
func (c *CouponCache) RecordUsage(ctx context.Context, u *coupon.Usage) error {
	err := c.Repository.RecordUsage(ctx, u)
	if err == nil || errors.Is(err, coupon.ErrUsageLimitReached) {
		c.invalidate(ctx, u.CouponID)
	}
	return err
}
