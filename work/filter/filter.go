package filter

import (
	"strings"
	"sync"

	"github.com/grafana/regexp"

	"deltatv-proxy/work/config"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/types"
)

// CompiledFilter holds compiled include/exclude patterns for one provider
type CompiledFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// Empty reports whether the filter lets everything through
func (f *CompiledFilter) Empty() bool {
	return f == nil || (f.Include == nil && f.Exclude == nil)
}

// FilterManager caches compiled filters per provider
type FilterManager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCreateFilter compiles the provider's patterns once. An invalid pattern
// is logged and treated as absent.
func (fm *FilterManager) GetOrCreateFilter(provider *config.ProviderConfig) *CompiledFilter {
	fm.mu.RLock()
	if f, ok := fm.filters[provider.Name]; ok {
		fm.mu.RUnlock()
		return f
	}
	fm.mu.RUnlock()

	fm.mu.Lock()
	defer fm.mu.Unlock()

	if f, ok := fm.filters[provider.Name]; ok {
		return f
	}

	f := &CompiledFilter{
		Include: compile(provider.Name, "includeRegex", provider.IncludeRegex),
		Exclude: compile(provider.Name, "excludeRegex", provider.ExcludeRegex),
	}
	fm.filters[provider.Name] = f
	return f
}

func compile(provider, field, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} invalid %s for %s %q: %v", field, provider, pattern, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} compiled %s for %s: %q", field, provider, pattern)
	return re
}

// FilterEntries keeps entries whose lowercased name matches Include (when set)
// and does not match Exclude (when set). The input slice is not modified.
func FilterEntries(entries []types.CatalogEntry, f *CompiledFilter) []types.CatalogEntry {
	if f.Empty() {
		return entries
	}

	filtered := make([]types.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if ShouldInclude(e, f) {
			filtered = append(filtered, e)
		}
	}
	logger.Debug("{filter/filter - FilterEntries} filtered %d -> %d entries", len(entries), len(filtered))
	return filtered
}

// ShouldInclude applies f to a single entry
func ShouldInclude(e types.CatalogEntry, f *CompiledFilter) bool {
	if f.Empty() {
		return true
	}
	name := strings.TrimSpace(strings.ToLower(e.Name))
	if f.Include != nil && !f.Include.MatchString(name) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(name) {
		return false
	}
	return true
}
