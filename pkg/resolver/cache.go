package resolver

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes successful resolutions for a bounded time and collapses
// concurrent lookups of the same DID into one upstream call. Failures are
// not cached.
type Cache struct {
	inner Resolver
	lru   *expirable.LRU[string, *Document]
	group singleflight.Group
}

// NewCache wraps inner with an LRU of the given size and TTL.
func NewCache(inner Resolver, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	return &Cache{
		inner: inner,
		lru:   expirable.NewLRU[string, *Document](size, nil, ttl),
	}
}

func (c *Cache) Resolve(ctx context.Context, did string) (*Document, error) {
	if doc, ok := c.lru.Get(did); ok {
		return doc, nil
	}
	// The shared lookup outlives any one caller; each caller stops waiting
	// when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(did, func() (any, error) {
		doc, err := c.inner.Resolve(shared, did)
		if err != nil {
			return nil, err
		}
		c.lru.Add(did, doc)
		return doc, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Document), nil
	}
}

// Invalidate drops a cached document, e.g. after a key rotation.
func (c *Cache) Invalidate(did string) {
	c.lru.Remove(did)
}

// Purge drops every cached document.
func (c *Cache) Purge() {
	c.lru.Purge()
}
