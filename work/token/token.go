// Package token caches the short-lived signature a provider requires on its
// catalog and resolve calls.
package token

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/metrics"
	"deltatv-proxy/work/types"
)

// Fetcher obtains a fresh token value from the provider. One call, no retries.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context) (string, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context) (string, error) {
	return f(ctx)
}

// Source is what the resolver needs from a token holder
type Source interface {
	Get(ctx context.Context) (types.Token, error)
	Refresh(ctx context.Context) (types.Token, error)
}

// Manager holds one provider's current token.
//
// The token is swapped with a single atomic store and there is no lock around
// fetching: two goroutines may both refresh, and the last store wins.
type Manager struct {
	provider string
	fetcher  Fetcher
	ttl      time.Duration
	now      func() time.Time
	current  atomic.Pointer[types.Token]
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock injects the time source used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager. Nothing is fetched until the first Get.
func NewManager(provider string, fetcher Fetcher, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		fetcher:  fetcher,
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the cached token while it is younger than the TTL, otherwise it
// fetches a new one before returning.
func (m *Manager) Get(ctx context.Context) (types.Token, error) {
	if tok := m.current.Load(); tok != nil && !tok.Expired(m.now()) {
		return *tok, nil
	}
	return m.Refresh(ctx)
}

// Refresh discards the cached token and fetches a new one unconditionally.
// On failure the cached token is dropped as well, it was either expired or
// rejected by the upstream.
func (m *Manager) Refresh(ctx context.Context) (types.Token, error) {
	value, err := m.fetcher.Fetch(ctx)
	if err != nil {
		m.current.Store(nil)
		metrics.TokenFetches.WithLabelValues(m.provider, metrics.ResultError).Inc()
		logger.Warn("{token/token - Refresh} token fetch failed for %s: %v", m.provider, err)
		return types.Token{}, fmt.Errorf("%s: %w: %v", m.provider, types.ErrUpstreamAuth, err)
	}

	tok := &types.Token{
		Value:      value,
		ObtainedAt: m.now(),
		TTL:        m.ttl,
	}
	m.current.Store(tok)
	metrics.TokenFetches.WithLabelValues(m.provider, metrics.ResultOK).Inc()
	logger.Debug("{token/token - Refresh} new token for %s valid for %s", m.provider, m.ttl)
	return *tok, nil
}

// Invalidate drops the cached token so the next Get fetches
func (m *Manager) Invalidate() {
	m.current.Store(nil)
}

// Peek returns the cached token without fetching, and whether it is still valid
func (m *Manager) Peek() (types.Token, bool) {
	tok := m.current.Load()
	if tok == nil {
		return types.Token{}, false
	}
	return *tok, !tok.Expired(m.now())
}
