// Package service wires token managers, catalog caches, resolvers and proxies
// per provider and exposes the operations the HTTP layer calls.
package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"deltatv-proxy/work/buffer"
	"deltatv-proxy/work/cache"
	"deltatv-proxy/work/catalog"
	"deltatv-proxy/work/client"
	"deltatv-proxy/work/config"
	"deltatv-proxy/work/filter"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/metrics"
	"deltatv-proxy/work/normalize"
	"deltatv-proxy/work/proxy"
	"deltatv-proxy/work/resolver"
	"deltatv-proxy/work/token"
	"deltatv-proxy/work/types"
)

// Store is the persistence the service reads on every request
type Store interface {
	GetOverrides(provider string) (map[string]types.Override, error)
	IsDisabled(provider, channelID string) (bool, error)
	DisabledIDs(provider string) (map[string]struct{}, error)
	RecordSync(run types.SyncRun) (types.SyncRun, error)
}

// Provider bundles everything needed to serve one upstream directory
type Provider struct {
	Name     string
	Tokens   *token.Manager
	Catalog  *catalog.Cache
	Resolver *resolver.Resolver
	Proxy    *proxy.Proxy
}

// Service is the application orchestrator. It owns no timers; periodic
// syncs are driven from main.
type Service struct {
	Config        *config.Config
	Providers     *xsync.MapOf[string, *Provider] // keyed by lower-cased name
	Store         Store
	WorkerPool    *ants.Pool
	BufferPool    *buffer.BufferPool
	FilterManager *filter.FilterManager
	Views         *cache.ViewCache // nil disables view caching
	now           func() time.Time
	orderMu       sync.RWMutex
	order         []string
}

// New builds a Service with one Provider per configured provider
func New(cfg *config.Config, store Store, workerPool *ants.Pool, bufferPool *buffer.BufferPool) *Service {
	logger.Debug("{service/service - New} Initializing service with %d provider(s)", len(cfg.Providers))

	s := &Service{
		Config:        cfg,
		Providers:     xsync.NewMapOf[string, *Provider](),
		Store:         store,
		WorkerPool:    workerPool,
		BufferPool:    bufferPool,
		FilterManager: filter.NewFilterManager(),
		now:           time.Now,
	}

	views, err := cache.NewViewCache(viewTTL(cfg))
	if err != nil {
		logger.Warn("{service/service - New} catalog views will not be cached: %v", err)
	} else {
		s.Views = views
	}

	for i := range cfg.Providers {
		s.Register(s.buildProvider(&cfg.Providers[i]))
	}
	return s
}

// viewTTL is the longest catalog TTL; views are keyed by snapshot so they
// only need to outlive it
func viewTTL(cfg *config.Config) time.Duration {
	ttl := time.Hour
	for _, p := range cfg.Providers {
		if p.CatalogTTL > ttl {
			ttl = p.CatalogTTL
		}
	}
	return ttl
}

// Close releases the view cache
func (s *Service) Close() {
	if s.Views != nil {
		s.Views.Close()
	}
}

// InvalidateViews drops cached catalog views. Call it after overrides or the
// disabled list change.
func (s *Service) InvalidateViews() {
	if s.Views != nil {
		s.Views.Clear()
	}
}

// InvalidateProvider drops the provider's cached token, catalog snapshot and
// computed views so the next request fetches everything again
func (s *Service) InvalidateProvider(name string) (string, error) {
	p, err := s.Provider(name)
	if err != nil {
		return "", err
	}
	p.Tokens.Invalidate()
	p.Catalog.Invalidate()
	s.InvalidateViews()
	logger.Info("{service/service - InvalidateProvider} dropped cached token and catalog of %s", p.Name)
	return p.Name, nil
}

func (s *Service) buildProvider(pc *config.ProviderConfig) *Provider {
	api := client.NewHeaderSettingClient(client.Options{
		UserAgent:    pc.UserAgent,
		MaxRedirects: s.Config.MaxRedirects,
	})

	var fetcher token.Fetcher = token.Static("")
	if len(pc.PingURLs) > 0 {
		locale := pc.Language
		if pc.Region != "" {
			locale += "_" + pc.Region
		}
		fetcher = token.NewPingFetcher(api, pc.PingURLs, pc.AppVersion, locale, pc.PingTimeout)
	}

	var entries catalog.Fetcher
	switch pc.Kind {
	case config.KindM3U:
		entries = catalog.NewM3UFetcher(api, pc.Name, pc.CatalogURL, pc.CatalogTimeout)
	default:
		entries = catalog.NewMediaHubFetcher(api, catalog.MediaHubOptions{
			Provider:       pc.Name,
			CatalogURL:     pc.CatalogURL,
			Language:       pc.Language,
			Region:         pc.Region,
			ClientVersion:  pc.ClientVersion,
			Groups:         pc.Groups,
			Timeout:        pc.CatalogTimeout,
			PagesPerSecond: pc.PagesPerSecond,
		})
	}

	opts := []catalog.Option{catalog.WithFilter(s.FilterManager.GetOrCreateFilter(pc))}
	if s.WorkerPool != nil {
		opts = append(opts, catalog.WithPool(s.WorkerPool))
	}

	logger.Info("{service/service - buildProvider} provider %s: kind=%s resolve=%s token ttl=%s catalog ttl=%s",
		pc.Name, pc.Kind, pc.ResolveMode, pc.TokenTTL, pc.CatalogTTL)

	return &Provider{
		Name:     pc.Name,
		Tokens:   token.NewManager(pc.Name, fetcher, pc.TokenTTL),
		Catalog:  catalog.NewCache(pc.Name, entries, pc.CatalogTTL, opts...),
		Resolver: resolver.FromConfig(pc, s.Config.MaxRedirects, s.Config.ObfuscateUrls),
		Proxy:    proxy.FromConfig(s.Config, pc, s.BufferPool),
	}
}

// Register adds or replaces a provider. The first registered provider is the
// default for requests that name none.
func (s *Service) Register(p *Provider) {
	key := strings.ToLower(p.Name)
	if _, loaded := s.Providers.LoadOrStore(key, p); loaded {
		s.Providers.Store(key, p)
		return
	}
	s.orderMu.Lock()
	s.order = append(s.order, p.Name)
	s.orderMu.Unlock()
}

// ProviderNames lists providers in registration order
func (s *Service) ProviderNames() []string {
	s.orderMu.RLock()
	defer s.orderMu.RUnlock()
	return append([]string(nil), s.order...)
}

// Provider looks a provider up by name; an empty name selects the default
func (s *Service) Provider(name string) (*Provider, error) {
	if name == "" {
		names := s.ProviderNames()
		if len(names) == 0 {
			return nil, fmt.Errorf("%w: none configured", types.ErrProviderNotFound)
		}
		name = names[0]
	}
	p, ok := s.Providers.Load(strings.ToLower(name))
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrProviderNotFound, name)
	}
	return p, nil
}

func (s *Service) snapshot(ctx context.Context, p *Provider) (*catalog.Snapshot, error) {
	tok, err := p.Tokens.Get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Catalog.Current(ctx, tok)
}

func (s *Service) entries(ctx context.Context, p *Provider) ([]types.CatalogEntry, error) {
	snap, err := s.snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	return snap.Entries, nil
}

// ResolveChannel resolves a catalog channel id to a stream URL
func (s *Service) ResolveChannel(ctx context.Context, provider, channelID string) (types.ResolvedStream, error) {
	if channelID == "" {
		return types.ResolvedStream{}, fmt.Errorf("%w: channel id is required", types.ErrBadRequest)
	}
	p, err := s.Provider(provider)
	if err != nil {
		return types.ResolvedStream{}, err
	}

	disabled, err := s.Store.IsDisabled(p.Name, channelID)
	if err != nil {
		return types.ResolvedStream{}, err
	}
	if disabled {
		return types.ResolvedStream{}, fmt.Errorf("%s/%s: %w", p.Name, channelID, types.ErrChannelDisabled)
	}

	entries, err := s.entries(ctx, p)
	if err != nil {
		return types.ResolvedStream{}, err
	}
	entry, ok := catalog.FindByID(entries, channelID)
	if !ok {
		return types.ResolvedStream{}, fmt.Errorf("%s/%s: %w: not in catalog", p.Name, channelID, types.ErrResolveNotFound)
	}

	return resolveWith(ctx, p, entry.PlayRef)
}

// ResolveRef resolves an opaque play reference without a catalog lookup
func (s *Service) ResolveRef(ctx context.Context, provider, ref string) (types.ResolvedStream, error) {
	if ref == "" {
		return types.ResolvedStream{}, fmt.Errorf("%w: channel url is required", types.ErrBadRequest)
	}
	p, err := s.Provider(provider)
	if err != nil {
		return types.ResolvedStream{}, err
	}
	return resolveWith(ctx, p, ref)
}

func resolveWith(ctx context.Context, p *Provider, ref string) (types.ResolvedStream, error) {
	stream, err := p.Resolver.ResolveWithRetry(ctx, ref, p.Tokens)
	if err != nil {
		return types.ResolvedStream{}, err
	}
	stream.Provider = p.Name
	return stream, nil
}

// Catalog returns the grouped channels of one country with disabled channels
// removed and display overrides applied. Results are cached per snapshot.
func (s *Service) Catalog(ctx context.Context, provider, country string) ([]types.GroupedChannel, error) {
	country = strings.TrimSpace(country)
	if country == "" {
		return nil, fmt.Errorf("%w: country is required", types.ErrBadRequest)
	}
	p, err := s.Provider(provider)
	if err != nil {
		return nil, err
	}

	snap, err := s.snapshot(ctx, p)
	if err != nil {
		return nil, err
	}
	key := cache.ViewKey(p.Name, country, snap.FetchedAt)
	if s.Views != nil {
		if groups, ok := s.Views.Get(key); ok {
			return groups, nil
		}
	}

	groups, err := s.buildView(p, snap.Entries, country)
	if err != nil {
		return nil, err
	}
	if s.Views != nil {
		s.Views.Set(key, groups)
	}
	return groups, nil
}

func (s *Service) buildView(p *Provider, entries []types.CatalogEntry, country string) ([]types.GroupedChannel, error) {
	disabled, err := s.Store.DisabledIDs(p.Name)
	if err != nil {
		return nil, err
	}
	var visible []types.CatalogEntry
	for _, e := range catalog.ByCountry(entries, country) {
		if _, off := disabled[e.ID]; !off {
			visible = append(visible, e)
		}
	}

	overrides, err := s.Store.GetOverrides(p.Name)
	if err != nil {
		return nil, err
	}

	groups := normalize.Group(visible)
	applyOverrides(groups, overrides)
	return groups, nil
}

// applyOverrides sets a group's display name and logo from the first source,
// in source order, that has a non-empty override for the field
func applyOverrides(groups []types.GroupedChannel, overrides map[string]types.Override) {
	if len(overrides) == 0 {
		return
	}
	for i := range groups {
		g := &groups[i]
		var nameSet, logoSet bool
		for _, src := range g.Sources {
			o, ok := overrides[src.ID]
			if !ok {
				continue
			}
			if !nameSet && o.Name != "" {
				g.DisplayName, nameSet = o.Name, true
			}
			if !logoSet && o.Logo != "" {
				g.Logo, logoSet = o.Logo, true
			}
		}
	}
}

// Countries lists the countries present in a provider's catalog
func (s *Service) Countries(ctx context.Context, provider string) ([]string, error) {
	p, err := s.Provider(provider)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries(ctx, p)
	if err != nil {
		return nil, err
	}
	return catalog.Countries(entries), nil
}

// Pipe relays target through the named provider's proxy
func (s *Service) Pipe(ctx context.Context, w http.ResponseWriter, provider, target, self string, header http.Header) error {
	p, err := s.Provider(provider)
	if err != nil {
		return err
	}
	return p.Proxy.Pipe(ctx, w, target, self, header)
}

// SyncNow forces a catalog refresh of every provider, records one sync run
// per provider and returns the runs in registration order
func (s *Service) SyncNow(ctx context.Context) []types.SyncRun {
	names := s.ProviderNames()
	runs := make([]types.SyncRun, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		run := func() {
			defer wg.Done()
			runs[i] = s.syncProvider(ctx, name)
		}

		wg.Add(1)
		if s.WorkerPool == nil {
			go run()
			continue
		}
		if err := s.WorkerPool.Submit(run); err != nil {
			logger.Debug("{service/service - SyncNow} pool rejected %s, running inline: %v", name, err)
			run()
		}
	}
	wg.Wait()
	return runs
}

func (s *Service) syncProvider(ctx context.Context, name string) types.SyncRun {
	run := types.SyncRun{Provider: name, StartedAt: s.now()}

	p, err := s.Provider(name)
	if err == nil {
		var tok types.Token
		if tok, err = p.Tokens.Get(ctx); err == nil {
			var entries []types.CatalogEntry
			if entries, err = p.Catalog.Refresh(ctx, tok); err == nil {
				run.Entries = len(entries)
				run.Countries = len(catalog.Countries(entries))
			}
		}
	}
	run.FinishedAt = s.now()

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		run.Error = err.Error()
		logger.Error("{service/service - syncProvider} sync of %s failed: %v", name, err)
	} else {
		logger.Info("{service/service - syncProvider} synced %s: %d entries in %d countries (%s)",
			name, run.Entries, run.Countries, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	metrics.SyncRuns.WithLabelValues(name, result).Inc()

	recorded, rerr := s.Store.RecordSync(run)
	if rerr != nil {
		logger.Warn("{service/service - syncProvider} could not record sync of %s: %v", name, rerr)
		return run
	}
	return recorded
}
