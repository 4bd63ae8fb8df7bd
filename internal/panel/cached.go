// Package panel wires the two vendor clients behind the shared capability
// contract and shields their full-listing calls with a short-TTL memo.
package panel

import (
	"context"
	"time"

	"github.com/nzrmohammad/panelbridge/internal/cache"
	"github.com/nzrmohammad/panelbridge/internal/panel/domain"
)

type cachedClient struct {
	domain.Client
	ttl      time.Duration
	listings cache.Cache[string, []domain.Record]
}

// WithListingCache memoizes ListUsers for the given TTL so the scheduler and
// concurrent request handling do not both issue the expensive full-listing
// call within the same few seconds. Failed calls are never cached; mutations
// invalidate the memo.
func WithListingCache(client domain.Client, ttl time.Duration) domain.Client {
	return &cachedClient{
		Client:   client,
		ttl:      ttl,
		listings: cache.NewTTLCache[string, []domain.Record](2),
	}
}

func (c *cachedClient) ListUsers(ctx context.Context) ([]domain.Record, error) {
	if cached, ok := c.listings.Get(c.Name()); ok {
		return cached, nil
	}
	records, err := c.Client.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	c.listings.Set(c.Name(), records, c.ttl)
	return records, nil
}

func (c *cachedClient) Modify(ctx context.Context, uuid string, delta domain.Delta) error {
	defer c.listings.Delete(c.Name())
	return c.Client.Modify(ctx, uuid, delta)
}

func (c *cachedClient) Delete(ctx context.Context, uuid string) error {
	defer c.listings.Delete(c.Name())
	return c.Client.Delete(ctx, uuid)
}

func (c *cachedClient) ResetUsage(ctx context.Context, uuid string) error {
	defer c.listings.Delete(c.Name())
	return c.Client.ResetUsage(ctx, uuid)
}
