// Copyright 2025 The Kubernetes Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package target

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/joequant/OG-Platform/pkg/id"
)

// DefaultCacheSize is the number of resolved targets kept by a
// CachingResolver when no size is given.
const DefaultCacheSize = 4096

// CachingResolver wraps a Resolver with an LRU cache shared across
// compilations. Only resolutions made under a fixed version-correction are
// cached; "latest" lookups always reach the underlying resolver.
// Concurrent lookups of the same key are collapsed into one call.
type CachingResolver struct {
	resolver Resolver
	cache    *lru.Cache[string, *Target]
	group    singleflight.Group
}

// NewCachingResolver creates a CachingResolver of the given size. A size
// <= 0 selects DefaultCacheSize.
func NewCachingResolver(resolver Resolver, size int) (*CachingResolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Target](size)
	if err != nil {
		return nil, fmt.Errorf("creating target cache: %w", err)
	}
	return &CachingResolver{resolver: resolver, cache: cache}, nil
}

func cacheKey(ref Reference, vc id.VersionCorrection) string {
	return ref.String() + "@" + vc.String()
}

// Resolve implements Resolver.
func (c *CachingResolver) Resolve(ctx context.Context, ref Reference, vc id.VersionCorrection) (*Target, error) {
	if vc.ContainsLatest() {
		return c.resolver.Resolve(ctx, ref, vc)
	}
	key := cacheKey(ref, vc)
	if t, ok := c.cache.Get(key); ok {
		return t, nil
	}
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		if t, ok := c.cache.Get(key); ok {
			return t, nil
		}
		t, err := c.resolver.Resolve(ctx, ref, vc)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, NotFound(ref, vc)
		}
		c.cache.Add(key, t)
		// Resolved references can also be looked up by their unique id.
		if !ref.IsResolved() {
			c.cache.Add(cacheKey(t.Specification.Reference(), vc), t)
		}
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Target), nil
}

// ResolveSpecification implements Resolver, answering from the cache when
// the full target is already known.
func (c *CachingResolver) ResolveSpecification(ctx context.Context, ref Reference, vc id.VersionCorrection) (Specification, error) {
	if !vc.ContainsLatest() {
		if t, ok := c.cache.Get(cacheKey(ref, vc)); ok {
			return t.Specification, nil
		}
	}
	return c.resolver.ResolveSpecification(ctx, ref, vc)
}

// Len returns the number of cached targets.
func (c *CachingResolver) Len() int { return c.cache.Len() }

// Purge drops every cached target.
func (c *CachingResolver) Purge() { c.cache.Purge() }
