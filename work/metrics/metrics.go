package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultCache = "cache"
)

// TokenFetches counts upstream token calls per provider, labelled ok or error.
var TokenFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_token_fetches_total",
	Help: "Upstream token fetches",
}, []string{"provider", "result"})

// CatalogFetches counts catalog lookups. "cache" means the snapshot was served
// without a network call.
var CatalogFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_catalog_fetches_total",
	Help: "Catalog lookups by outcome",
}, []string{"provider", "result"})

// CatalogEntries is the size of the current snapshot per provider
var CatalogEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "deltatv_catalog_entries",
	Help: "Entries in the current catalog snapshot",
}, []string{"provider"})

// Resolves counts resolve attempts. The result label carries the error class
// (ok, not_found, auth, unavailable).
var Resolves = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_resolve_total",
	Help: "Channel resolve attempts",
}, []string{"provider", "result"})

// ResolveDuration observes a full resolve including redirect chasing
var ResolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "deltatv_resolve_duration_seconds",
	Help:    "Time spent resolving a channel",
	Buckets: prometheus.DefBuckets,
}, []string{"provider"})

// ProxyRequests counts proxied fetches by kind (master, media, playlist, segment)
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_proxy_requests_total",
	Help: "Proxied upstream fetches",
}, []string{"kind"})

// ProxyBytes counts bytes written to clients by kind
var ProxyBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_proxy_bytes_total",
	Help: "Bytes sent to clients through the proxy",
}, []string{"kind"})

// ProxyErrors counts proxy failures by reason
var ProxyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_proxy_errors_total",
	Help: "Proxy failures",
}, []string{"reason"})

// SyncRuns counts forced catalog syncs per provider
var SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "deltatv_sync_runs_total",
	Help: "Forced catalog synchronizations",
}, []string{"provider", "result"})
