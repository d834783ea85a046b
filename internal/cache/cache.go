package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"shop_back_end/internal/models"
	"shop_back_end/internal/store"
)

const ProductCacheTTL = 10 * time.Minute

// ProductSource is where cache misses are resolved.
type ProductSource interface {
	GetProduct(ctx context.Context, id string) (models.Product, error)
}

// Display is what order and cart views show for a product.
type Display struct {
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

// ProductDisplay caches product display fields in Redis. With a nil client
// every lookup goes to the source.
type ProductDisplay struct {
	rdb *redis.Client
	src ProductSource
	ttl time.Duration
	log *slog.Logger
}

func NewProductDisplay(rdb *redis.Client, src ProductSource, log *slog.Logger) *ProductDisplay {
	return &ProductDisplay{rdb: rdb, src: src, ttl: ProductCacheTTL, log: log}
}

func displayKey(productID string) string {
	return "product_display:" + productID
}

// Lookup returns the display fields of every product it can resolve.
// Deleted products are simply absent from the result.
func (c *ProductDisplay) Lookup(ctx context.Context, productIDs []string) map[string]Display {
	result := make(map[string]Display, len(productIDs))
	ids := unique(productIDs)
	if len(ids) == 0 {
		return result
	}

	missing := ids
	if c.rdb != nil {
		missing = c.fromRedis(ctx, ids, result)
	}

	fresh := make(map[string]Display, len(missing))
	for _, id := range missing {
		p, err := c.src.GetProduct(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				c.log.Warn("product display lookup failed", "product_id", id, "error", err)
			}
			continue
		}
		d := Display{Name: p.Name, ImageURL: p.FirstImage()}
		result[id] = d
		fresh[id] = d
	}

	if c.rdb != nil && len(fresh) > 0 {
		pipe := c.rdb.Pipeline()
		for id, d := range fresh {
			raw, _ := json.Marshal(d)
			pipe.Set(ctx, displayKey(id), raw, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.log.Warn("product display cache write failed", "error", err)
		}
	}
	return result
}

// fromRedis fills result with cached entries and returns the ids it did not find.
func (c *ProductDisplay) fromRedis(ctx context.Context, ids []string, result map[string]Display) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = displayKey(id)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn("product display cache read failed", "error", err)
		return ids
	}

	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		var d Display
		if !ok || json.Unmarshal([]byte(raw), &d) != nil {
			missing = append(missing, ids[i])
			continue
		}
		result[ids[i]] = d
	}
	return missing
}

// Invalidate drops the cached entry of a product after an edit or delete.
func (c *ProductDisplay) Invalidate(ctx context.Context, productID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, displayKey(productID)).Err(); err != nil {
		c.log.Warn("product display cache invalidate failed", "product_id", productID, "error", err)
	}
}

func unique(ids []string) []string {
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
