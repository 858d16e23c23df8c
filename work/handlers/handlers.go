package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"deltatv-proxy/work/middleware"
	"deltatv-proxy/work/proxy"
	"deltatv-proxy/work/types"
)

// Backend is what the public routes need from the service
type Backend interface {
	ResolveChannel(ctx context.Context, provider, channelID string) (types.ResolvedStream, error)
	ResolveRef(ctx context.Context, provider, ref string) (types.ResolvedStream, error)
	Catalog(ctx context.Context, provider, country string) ([]types.GroupedChannel, error)
	Countries(ctx context.Context, provider string) ([]string, error)
	Pipe(ctx context.Context, w http.ResponseWriter, provider, target, self string, header http.Header) error
}

// ResolveResponse is returned by /resolve. proxyUrl routes the stream through
// this server with the provider's player headers.
type ResolveResponse struct {
	StreamURL string `json:"streamUrl"`
	ProxyURL  string `json:"proxyUrl"`
}

// HandleResolve serves GET /resolve?channel=<id>[&provider=<name>]
func HandleResolve(b Backend, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		channel := strings.TrimSpace(q.Get("channel"))
		if channel == "" {
			middleware.WriteError(w, r, fmt.Errorf("%w: channel is required", types.ErrBadRequest))
			return
		}

		stream, err := b.ResolveChannel(r.Context(), q.Get("provider"), channel)
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, ResolveResponse{
			StreamURL: stream.URL,
			ProxyURL:  proxy.PipeURL(proxy.SelfURL(r, baseURL), stream.Provider, stream.URL),
		})
	}
}

// HandleProxy serves GET /proxy with action=pipe or action=resolve.
// action=segment is an older name for pipe.
func HandleProxy(b Backend, baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		provider := q.Get("provider")

		switch q.Get("action") {
		case "pipe", "segment":
			target := q.Get("url")
			if target == "" {
				middleware.WriteError(w, r, fmt.Errorf("%w: url is required", types.ErrBadRequest))
				return
			}
			if err := b.Pipe(r.Context(), w, provider, target, proxy.SelfURL(r, baseURL), r.Header); err != nil {
				middleware.WriteError(w, r, err)
			}

		case "resolve":
			ref := q.Get("channelUrl")
			if ref == "" {
				middleware.WriteError(w, r, fmt.Errorf("%w: channelUrl is required", types.ErrBadRequest))
				return
			}
			stream, err := b.ResolveRef(r.Context(), provider, ref)
			if err != nil {
				middleware.WriteError(w, r, err)
				return
			}
			middleware.WriteJSON(w, http.StatusOK, map[string]string{"stream_url": stream.URL})

		default:
			middleware.WriteError(w, r, fmt.Errorf("%w: action must be pipe or resolve", types.ErrBadRequest))
		}
	}
}

// HandleCatalog serves GET /catalog?country=<name>[&provider=<name>]
func HandleCatalog(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		groups, err := b.Catalog(r.Context(), q.Get("provider"), q.Get("country"))
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if groups == nil {
			groups = []types.GroupedChannel{}
		}
		middleware.WriteJSON(w, http.StatusOK, groups)
	}
}

// HandleCountries serves GET /countries[?provider=<name>]
func HandleCountries(b Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		countries, err := b.Countries(r.Context(), r.URL.Query().Get("provider"))
		if err != nil {
			middleware.WriteError(w, r, err)
			return
		}
		if countries == nil {
			countries = []string{}
		}
		middleware.WriteJSON(w, http.StatusOK, countries)
	}
}

// HandleHealth always answers ok; it does not touch upstreams
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
