// Package catalog fetches provider channel listings and caches them as
// immutable snapshots.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/panjf2000/ants/v2"

	"deltatv-proxy/work/filter"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/metrics"
	"deltatv-proxy/work/types"
)

// ScopeAll is the scope of a fetcher that has no sub-endpoints
const ScopeAll = ""

// ErrEmptyCatalog is returned when every sub-endpoint answered with nothing
var ErrEmptyCatalog = errors.New("upstream returned an empty catalog")

// Fetcher pulls catalog entries from one provider. A full catalog is the
// concatenation of every scope in Scopes order.
type Fetcher interface {
	Scopes() []string
	FetchScope(ctx context.Context, tok types.Token, scope string) ([]types.CatalogEntry, error)
}

// Snapshot is one immutable fetch result. It is never mutated after Set.
type Snapshot struct {
	Entries   []types.CatalogEntry
	FetchedAt time.Time
}

// Cache holds catalog snapshots keyed by provider and scope.
//
// Partial failures are fail-fast: if any scope of a full fetch fails the fetch
// returns ErrCatalogFetch, and the previous snapshot is not served in its place
// once it is past its TTL.
type Cache struct {
	provider string
	fetcher  Fetcher
	ttl      time.Duration
	now      func() time.Time
	store    *otter.Cache[string, *Snapshot]
	pool     *ants.Pool
	filter   *filter.CompiledFilter
}

// Option customizes a Cache
type Option func(*Cache)

// WithClock injects the time source used for TTL checks
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithPool fetches scopes concurrently on pool
func WithPool(pool *ants.Pool) Option {
	return func(c *Cache) {
		c.pool = pool
	}
}

// WithFilter applies include/exclude patterns to every fresh snapshot
func WithFilter(f *filter.CompiledFilter) Option {
	return func(c *Cache) {
		c.filter = f
	}
}

// NewCache creates an empty cache for one provider
func NewCache(provider string, fetcher Fetcher, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Cache{
		provider: provider,
		fetcher:  fetcher,
		ttl:      ttl,
		now:      time.Now,
		store: otter.Must(&otter.Options[string, *Snapshot]{
			MaximumSize: 256,
			// stale snapshots stay readable through Peek past the TTL
			ExpiryCalculator: otter.ExpiryWriting[string, *Snapshot](4 * ttl),
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(scope string) string {
	return c.provider + "|" + scope
}

func (c *Cache) fresh(scope string) (*Snapshot, bool) {
	snap, ok := c.store.GetIfPresent(c.key(scope))
	if !ok || snap == nil {
		return nil, false
	}
	return snap, c.now().Sub(snap.FetchedAt) < c.ttl
}

// Get returns the full catalog, fetching it when the snapshot is missing or
// older than the TTL. A hit makes no network call.
func (c *Cache) Get(ctx context.Context, tok types.Token) ([]types.CatalogEntry, error) {
	snap, err := c.Current(ctx, tok)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// Current is Get returning the whole snapshot, so callers can key derived
// data on FetchedAt
func (c *Cache) Current(ctx context.Context, tok types.Token) (*Snapshot, error) {
	if snap, ok := c.fresh(ScopeAll); ok {
		metrics.CatalogFetches.WithLabelValues(c.provider, metrics.ResultCache).Inc()
		return snap, nil
	}
	return c.refresh(ctx, tok)
}

// Refresh fetches every scope and replaces the full snapshot in one Set.
func (c *Cache) Refresh(ctx context.Context, tok types.Token) ([]types.CatalogEntry, error) {
	snap, err := c.refresh(ctx, tok)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

func (c *Cache) refresh(ctx context.Context, tok types.Token) (*Snapshot, error) {
	scopes := c.fetcher.Scopes()
	results := make([][]types.CatalogEntry, len(scopes))
	errs := make([]error, len(scopes))

	var wg sync.WaitGroup
	for i, scope := range scopes {
		run := func() {
			defer wg.Done()
			results[i], errs[i] = c.fetcher.FetchScope(ctx, tok, scope)
		}

		wg.Add(1)
		if c.pool == nil || len(scopes) == 1 {
			run()
			continue
		}
		if err := c.pool.Submit(run); err != nil {
			logger.Debug("{catalog/cache - refresh} pool rejected scope %q, running inline: %v", scope, err)
			run()
		}
	}
	wg.Wait()

	total := 0
	for i, err := range errs {
		if err != nil {
			metrics.CatalogFetches.WithLabelValues(c.provider, metrics.ResultError).Inc()
			logger.Error("{catalog/cache - refresh} %s scope %q failed: %v", c.provider, scopes[i], err)
			return nil, fmt.Errorf("%s scope %q: %w: %v", c.provider, scopes[i], types.ErrCatalogFetch, err)
		}
		total += len(results[i])
	}
	if total == 0 {
		metrics.CatalogFetches.WithLabelValues(c.provider, metrics.ResultError).Inc()
		return nil, fmt.Errorf("%s: %w: %v", c.provider, types.ErrCatalogFetch, ErrEmptyCatalog)
	}

	all := make([]types.CatalogEntry, 0, total)
	for _, r := range results {
		all = append(all, r...)
	}
	all = c.finish(all)

	snap := &Snapshot{Entries: all, FetchedAt: c.now()}
	c.store.Set(c.key(ScopeAll), snap)
	metrics.CatalogFetches.WithLabelValues(c.provider, metrics.ResultOK).Inc()
	metrics.CatalogEntries.WithLabelValues(c.provider).Set(float64(len(all)))
	logger.Info("{catalog/cache - refresh} %s catalog refreshed: %d entries from %d scope(s)", c.provider, len(all), len(scopes))
	return snap, nil
}

// finish drops duplicate ids (first occurrence wins) and applies the filter
func (c *Cache) finish(entries []types.CatalogEntry) []types.CatalogEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]types.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return filter.FilterEntries(out, c.filter)
}

// Peek returns the last full snapshot regardless of age
func (c *Cache) Peek() (*Snapshot, bool) {
	snap, ok := c.store.GetIfPresent(c.key(ScopeAll))
	return snap, ok && snap != nil
}

// Invalidate drops every snapshot of this provider
func (c *Cache) Invalidate() {
	c.store.InvalidateAll()
}
