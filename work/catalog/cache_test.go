package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"deltatv-proxy/work/config"
	"deltatv-proxy/work/filter"
	"deltatv-proxy/work/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFetcher struct {
	mu     sync.Mutex
	scopes []string
	data   map[string][]types.CatalogEntry
	fail   map[string]error
	calls  map[string]int
}

func newFakeFetcher(scopes ...string) *fakeFetcher {
	return &fakeFetcher{
		scopes: scopes,
		data:   make(map[string][]types.CatalogEntry),
		fail:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) Scopes() []string { return f.scopes }

func (f *fakeFetcher) FetchScope(_ context.Context, _ types.Token, scope string) ([]types.CatalogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[scope]++
	if err := f.fail[scope]; err != nil {
		return nil, err
	}
	return f.data[scope], nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func TestGetServesSnapshotWithinTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	f := newFakeFetcher(ScopeAll)
	f.data[ScopeAll] = []types.CatalogEntry{{ID: "1", Name: "TF1", Country: "France"}}

	c := NewCache("delta", f, time.Hour, WithClock(clock.Now))
	tok := types.Token{Value: "sig"}

	if _, err := c.Get(context.Background(), tok); err != nil {
		t.Fatalf("Get: %v", err)
	}
	clock.Advance(59 * time.Minute)
	entries, err := c.Get(context.Background(), tok)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.total() != 1 {
		t.Fatalf("fetcher called %d times, want 1", f.total())
	}
	if len(entries) != 1 || entries[0].ID != "1" {
		t.Errorf("entries = %+v", entries)
	}

	clock.Advance(time.Minute)
	c.Get(context.Background(), tok)
	if f.total() != 2 {
		t.Fatalf("expired snapshot should refetch, calls = %d", f.total())
	}
}

func TestRefreshFailsFastOnAnyScope(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	f := newFakeFetcher("France", "Italy")
	f.data["France"] = []types.CatalogEntry{{ID: "fr1", Name: "TF1", Country: "France"}}
	f.data["Italy"] = []types.CatalogEntry{{ID: "it1", Name: "Rai 1", Country: "Italy"}}

	c := NewCache("delta", f, time.Hour, WithClock(clock.Now))
	if _, err := c.Get(context.Background(), types.Token{}); err != nil {
		t.Fatalf("initial Get: %v", err)
	}

	f.fail["Italy"] = errors.New("timeout")
	clock.Advance(2 * time.Hour)

	_, err := c.Get(context.Background(), types.Token{})
	if !errors.Is(err, types.ErrCatalogFetch) {
		t.Fatalf("err = %v, want ErrCatalogFetch", err)
	}

	// the stale snapshot is kept but not used as a fallback
	_, err = c.Get(context.Background(), types.Token{})
	if !errors.Is(err, types.ErrCatalogFetch) {
		t.Fatalf("second Get err = %v, stale snapshot must not be served", err)
	}
	if snap, ok := c.Peek(); !ok || len(snap.Entries) != 2 {
		t.Errorf("previous snapshot should remain for inspection: %+v", snap)
	}
}

func TestRefreshConcatenatesScopesInOrderOnPool(t *testing.T) {
	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("ants.NewPool: %v", err)
	}
	defer pool.Release()

	f := newFakeFetcher("A", "B", "C")
	f.data["A"] = []types.CatalogEntry{{ID: "a1"}, {ID: "a2"}}
	f.data["B"] = []types.CatalogEntry{{ID: "b1"}, {ID: "a1", Name: "dup"}}
	f.data["C"] = []types.CatalogEntry{{ID: "c1"}}

	c := NewCache("delta", f, time.Hour, WithPool(pool))
	entries, err := c.Refresh(context.Background(), types.Token{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	want := []string{"a1", "a2", "b1", "c1"}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Fatalf("entry %d = %q, want %q", i, entries[i].ID, id)
		}
	}
	if entries[0].Name == "dup" {
		t.Error("first occurrence of a duplicate id should win")
	}
}

func TestRefreshEmptyCatalogIsAnError(t *testing.T) {
	c := NewCache("delta", newFakeFetcher(ScopeAll), time.Hour)
	_, err := c.Refresh(context.Background(), types.Token{})
	if !errors.Is(err, types.ErrCatalogFetch) {
		t.Fatalf("err = %v", err)
	}
}

func TestFilterApplied(t *testing.T) {
	f := newFakeFetcher(ScopeAll)
	f.data[ScopeAll] = []types.CatalogEntry{{ID: "1", Name: "Sport 1"}, {ID: "2", Name: "Adult XXX"}}

	fl := filter.NewFilterManager().GetOrCreateFilter(&config.ProviderConfig{Name: "delta", ExcludeRegex: "xxx"})
	c := NewCache("delta", f, time.Hour, WithFilter(fl))
	entries, err := c.Get(context.Background(), types.Token{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "1" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestInvalidate(t *testing.T) {
	f := newFakeFetcher(ScopeAll)
	f.data[ScopeAll] = []types.CatalogEntry{{ID: "1"}}
	c := NewCache("delta", f, time.Hour)

	c.Get(context.Background(), types.Token{})
	c.Invalidate()
	c.Get(context.Background(), types.Token{})
	if f.total() != 2 {
		t.Fatalf("calls = %d, want 2", f.total())
	}
}
