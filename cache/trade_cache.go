package cache

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultClaimTTL covers the one-hour dedupe bucket
const DefaultClaimTTL = time.Hour

const sourceHealthKey = "datasource:health"

// TradeCache holds the short-lived coordination state of the trade finder:
// cross-process dedupe claims, the alert channel and cached data-source health.
// A nil Redis client turns every call into a permissive no-op.
type TradeCache struct {
	redis        *RedisClient
	alertChannel string
}

// NewTradeCache creates a trade cache
func NewTradeCache(redis *RedisClient, alertChannel string) *TradeCache {
	return &TradeCache{
		redis:        redis,
		alertChannel: alertChannel,
	}
}

// Enabled reports whether a Redis backend is attached
func (c *TradeCache) Enabled() bool {
	return c != nil && c.redis.ready()
}

// ClaimDedupe atomically claims a dedupe key for ttl.
// It returns false when another run already holds the claim. Without Redis, or
// when Redis errors, the claim is granted and the store's unique index decides.
func (c *TradeCache) ClaimDedupe(ctx context.Context, dedupeKey string, ttl time.Duration) bool {
	if !c.Enabled() {
		return true
	}
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}

	ok, err := c.redis.SetNX(ctx, "dedupe:"+dedupeKey, time.Now().Unix(), ttl)
	if err != nil {
		log.Printf("⚠️  Dedupe claim for %s failed, falling back to store check: %v", dedupeKey, err)
		return true
	}
	return ok
}

// ReleaseDedupe drops a claim after a run that did not persist the trade
func (c *TradeCache) ReleaseDedupe(ctx context.Context, dedupeKey string) {
	if !c.Enabled() {
		return
	}
	if err := c.redis.Delete(ctx, "dedupe:"+dedupeKey); err != nil {
		log.Printf("⚠️  Failed to release dedupe claim %s: %v", dedupeKey, err)
	}
}

// PublishAlert publishes an alert intent to the configured channel
func (c *TradeCache) PublishAlert(ctx context.Context, intent interface{}) error {
	if !c.Enabled() || c.alertChannel == "" {
		return nil
	}
	if err := c.redis.Publish(ctx, c.alertChannel, intent); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// SetSourceHealth caches the latest data-source health map
func (c *TradeCache) SetSourceHealth(ctx context.Context, health map[string]bool, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	if err := c.redis.Set(ctx, sourceHealthKey, health, ttl); err != nil {
		log.Printf("⚠️  Failed to cache data source health: %v", err)
	}
}

// GetSourceHealth returns the cached health map, if present
func (c *TradeCache) GetSourceHealth(ctx context.Context) (map[string]bool, bool) {
	if !c.Enabled() {
		return nil, false
	}

	var health map[string]bool
	if err := c.redis.Get(ctx, sourceHealthKey, &health); err != nil {
		if !IsMiss(err) {
			log.Printf("⚠️  Failed to read cached data source health: %v", err)
		}
		return nil, false
	}
	return health, true
}
