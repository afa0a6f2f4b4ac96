// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"golang.org/x/sync/singleflight"
)

// SelectionCache shares master file selections across the children of one
// pass. Concurrent lookups for the same torrent collapse into one request.
type SelectionCache struct {
	client TorrentClient
	cache  *ttlcache.Cache[string, FileSelection]
	group  singleflight.Group
}

func NewSelectionCache(client TorrentClient, ttl time.Duration) *SelectionCache {
	return &SelectionCache{
		client: client,
		cache:  ttlcache.New(ttlcache.Options[string, FileSelection]{}.SetDefaultTTL(ttl)),
	}
}

func cacheKey(instance, hash string) string {
	return instance + ":" + hash
}

// Get returns a copy of the selection of hash on instance.
func (c *SelectionCache) Get(ctx context.Context, instance, hash string) (FileSelection, error) {
	key := cacheKey(instance, hash)
	if cached, ok := c.cache.Get(key); ok {
		return cached.Apply(nil), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}

		sel, err := c.client.GetFileSelection(ctx, instance, hash)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, sel, ttlcache.DefaultTTL)
		return sel, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(FileSelection).Apply(nil), nil
}

func (c *SelectionCache) Close() {
	c.cache.Close()
}
