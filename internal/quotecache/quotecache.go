package quotecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ggonzalez94/route-engine/internal/model"
	"github.com/ggonzalez94/route-engine/internal/registry"
)

// Cache is the short-TTL store for aggregated route responses. Entries are
// the serialized RouteResponse bytes, so repeated hits inside the TTL return
// byte-identical payloads. Entries are immutable once created; concurrent
// writers to the same key tolerate last-write-wins.
type Cache struct {
	inner *gocache.Cache
	ttl   time.Duration
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{
		inner: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) Get(key string) ([]byte, bool) {
	v, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	payload, ok := v.([]byte)
	return payload, ok
}

func (c *Cache) Set(key string, payload []byte) {
	c.inner.SetDefault(key, payload)
}

// SetWithTTL stores an entry with an explicit lifetime, used when a route's
// own expiry is shorter than the default TTL.
func (c *Cache) SetWithTTL(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.inner.Set(key, payload, ttl)
}

func (c *Cache) Delete(key string) {
	c.inner.Delete(key)
}

// Fingerprint derives the cache key from the normalized request: chain pair,
// token pair, amount and side, slippage, order preference, and the sender and
// recipient addresses. Sender and recipient must participate because provider
// payloads embed address-specific calldata; a cached route built for one
// sender is not executable by another.
func Fingerprint(req model.RouteRequest) string {
	side := "from"
	amount := req.FromAmount
	if strings.TrimSpace(req.FromAmount) == "" {
		side = "to"
		amount = req.ToAmount
	}
	raw := fmt.Sprintf("%d|%s|%d|%s|%s:%s|%d|%s|%s|%s|%s",
		req.FromToken.ChainID,
		registry.NormalizeAddress(req.FromToken.ChainID, req.FromToken.Address),
		req.ToToken.ChainID,
		registry.NormalizeAddress(req.ToToken.ChainID, req.ToToken.Address),
		side, strings.TrimSpace(amount),
		req.SlippageBps,
		req.SlippageMode,
		req.Order,
		registry.NormalizeAddress(req.FromToken.ChainID, req.Sender),
		registry.NormalizeAddress(req.ToToken.ChainID, req.Recipient),
	)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
