// Copyright 2025 Tom Barlow
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

package dispatcher

import (
	"sync"
	"time"

	"github.com/relaywork/relay/internal/registry"
)

const defaultDiscoveryCacheTTL = 5 * time.Second

// discoveryCache holds short-lived discover_by_capability results so a
// burst of calls to the same capability doesn't hammer the registry. A
// stale entry is served once more while a fresh lookup replaces it, rather
// than blocking the caller on a refresh.
type discoveryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	instances []*registry.Instance
	expiresAt time.Time
}

func newDiscoveryCache(ttl time.Duration) *discoveryCache {
	if ttl <= 0 {
		ttl = defaultDiscoveryCacheTTL
	}
	return &discoveryCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// get returns a still-fresh cached result for capability, if any.
func (c *discoveryCache) get(capability string) ([]*registry.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[capability]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.instances, true
}

// set stores a freshly fetched result for capability.
func (c *discoveryCache) set(capability string, instances []*registry.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[capability] = cacheEntry{
		instances: instances,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidate drops capability's cached entry, forcing the next
// DiscoverServices call to hit the registry directly.
func (c *discoveryCache) invalidate(capability string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, capability)
}
