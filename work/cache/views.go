// Package cache keeps computed catalog views so repeated /catalog requests
// for the same snapshot skip grouping and the store lookups.
package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"deltatv-proxy/work/types"
)

// ViewCache holds grouped channel lists keyed by provider, country and the
// snapshot they were computed from. A new snapshot gets new keys, so stale
// views simply age out.
type ViewCache struct {
	cache    *ristretto.Cache[string, []types.GroupedChannel]
	duration time.Duration
}

// NewViewCache creates a cache whose entries live for duration
func NewViewCache(duration time.Duration) (*ViewCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []types.GroupedChannel]{
		NumCounters: 10000,
		MaxCost:     1 << 20, // cost is one per source
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ViewCache{cache: c, duration: duration}, nil
}

// ViewKey identifies one provider/country view of a snapshot
func ViewKey(provider, country string, fetchedAt time.Time) string {
	return strings.ToLower(provider) + "|" + strings.ToLower(strings.TrimSpace(country)) + "|" + strconv.FormatInt(fetchedAt.UnixNano(), 10)
}

// Get returns a cached view. Callers must not modify the returned groups.
func (vc *ViewCache) Get(key string) ([]types.GroupedChannel, bool) {
	return vc.cache.Get(key)
}

// Set stores a view. Writes are applied asynchronously.
func (vc *ViewCache) Set(key string, groups []types.GroupedChannel) {
	cost := int64(1)
	for _, g := range groups {
		cost += int64(len(g.Sources))
	}
	vc.cache.SetWithTTL(key, groups, cost, vc.duration)
}

// Wait blocks until pending Sets are visible
func (vc *ViewCache) Wait() {
	vc.cache.Wait()
}

// Clear drops every view, used after overrides or the disabled list change
func (vc *ViewCache) Clear() {
	vc.cache.Clear()
}

func (vc *ViewCache) Close() {
	vc.cache.Close()
}
