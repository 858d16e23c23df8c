// Package resolver turns a catalog play reference into a playable stream URL.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deltatv-proxy/work/client"
	"deltatv-proxy/work/config"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/metrics"
	"deltatv-proxy/work/token"
	"deltatv-proxy/work/types"
	"deltatv-proxy/work/utils"
)

type resolveRequest struct {
	Language      string `json:"language"`
	Region        string `json:"region"`
	URL           string `json:"url"`
	ClientVersion string `json:"clientVersion"`
}

type resolveResult struct {
	URL string `json:"url"`
}

// Options configures a Resolver
type Options struct {
	Provider        string
	Mode            string // config.ResolveAPI, config.ResolveRedirect or config.ResolveDirect
	ResolveURL      string
	PlayURLTemplate string
	Language        string
	Region          string
	ClientVersion   string
	Timeout         time.Duration
	StreamUserAgent string
	Referer         string
	Origin          string
	ObfuscateURLs   bool
}

// Resolver resolves play references for one provider
type Resolver struct {
	opts          Options
	api           *client.HeaderSettingClient
	stream        *client.HeaderSettingClient
	streamHeaders http.Header
}

// New builds a Resolver. api carries the provider's API identity and is used
// for the resolve POST; stream is used to chase redirects with the player
// identity.
func New(api, stream *client.HeaderSettingClient, opts Options) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Mode == "" {
		opts.Mode = config.ResolveAPI
	}

	headers := make(http.Header)
	if opts.StreamUserAgent != "" {
		headers.Set("User-Agent", opts.StreamUserAgent)
	}
	if opts.Referer != "" {
		headers.Set("Referer", opts.Referer)
	}
	if opts.Origin != "" {
		headers.Set("Origin", opts.Origin)
	}

	return &Resolver{
		opts:          opts,
		api:           api,
		stream:        stream,
		streamHeaders: headers,
	}
}

// Provider returns the provider this resolver serves
func (r *Resolver) Provider() string {
	return r.opts.Provider
}

// Resolve makes one resolve attempt with tok
func (r *Resolver) Resolve(ctx context.Context, ref string, tok types.Token) (types.ResolvedStream, error) {
	start := time.Now()
	defer func() {
		metrics.ResolveDuration.WithLabelValues(r.opts.Provider).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	var (
		streamURL string
		err       error
	)
	switch r.opts.Mode {
	case config.ResolveDirect:
		streamURL, err = r.direct(ref)
	case config.ResolveRedirect:
		streamURL, err = r.redirect(ctx, ref)
	default:
		streamURL, err = r.viaAPI(ctx, ref, tok)
	}

	metrics.Resolves.WithLabelValues(r.opts.Provider, resultLabel(err)).Inc()
	if err != nil {
		logger.Debug("{resolver/resolver - Resolve} %s resolve of %s failed: %v", r.opts.Provider, utils.LogURL(r.opts.ObfuscateURLs, ref), err)
		return types.ResolvedStream{}, err
	}

	logger.Debug("{resolver/resolver - Resolve} %s resolved %s -> %s", r.opts.Provider,
		utils.LogURL(r.opts.ObfuscateURLs, ref), utils.LogURL(r.opts.ObfuscateURLs, streamURL))
	return types.ResolvedStream{URL: streamURL, Headers: r.streamHeaders.Clone()}, nil
}

// ResolveWithRetry resolves with the current token and, when the upstream
// rejects it, refreshes the token exactly once and tries again. Not-found and
// unavailable results are returned as they are.
func (r *Resolver) ResolveWithRetry(ctx context.Context, ref string, tokens token.Source) (types.ResolvedStream, error) {
	tok, err := r.token(ctx, tokens, false)
	if err != nil {
		return types.ResolvedStream{}, err
	}

	stream, err := r.Resolve(ctx, ref, tok)
	if !errors.Is(err, types.ErrResolveAuth) {
		return stream, err
	}

	logger.Info("{resolver/resolver - ResolveWithRetry} %s rejected the token, refreshing once", r.opts.Provider)
	tok, err = r.token(ctx, tokens, true)
	if err != nil {
		return types.ResolvedStream{}, err
	}
	return r.Resolve(ctx, ref, tok)
}

func (r *Resolver) token(ctx context.Context, tokens token.Source, refresh bool) (types.Token, error) {
	// direct mode never talks to the provider
	if r.opts.Mode == config.ResolveDirect || tokens == nil {
		return types.Token{}, nil
	}
	if refresh {
		return tokens.Refresh(ctx)
	}
	return tokens.Get(ctx)
}

func (r *Resolver) direct(ref string) (string, error) {
	if !utils.IsHTTPURL(ref) {
		return "", fmt.Errorf("%s: %w: %q is not an http url", r.opts.Provider, types.ErrResolveNotFound, ref)
	}
	return ref, nil
}

func (r *Resolver) redirect(ctx context.Context, ref string) (string, error) {
	target := ref
	if r.opts.PlayURLTemplate != "" {
		target = strings.ReplaceAll(r.opts.PlayURLTemplate, "{ref}", url.PathEscape(ref))
	}
	if !utils.IsHTTPURL(target) {
		return "", fmt.Errorf("%s: %w: %q is not an http url", r.opts.Provider, types.ErrResolveNotFound, target)
	}
	return r.chase(ctx, target)
}

func (r *Resolver) viaAPI(ctx context.Context, ref string, tok types.Token) (string, error) {
	header := make(http.Header)
	header.Set("mediahubmx-signature", tok.Value)

	req := resolveRequest{
		Language:      r.opts.Language,
		Region:        r.opts.Region,
		URL:           ref,
		ClientVersion: r.opts.ClientVersion,
	}

	var results []resolveResult
	status, err := r.api.PostJSON(ctx, r.opts.ResolveURL, req, header, &results)
	if err != nil {
		return "", classify(r.opts.Provider, status, err)
	}
	if len(results) == 0 || strings.TrimSpace(results[0].URL) == "" {
		return "", fmt.Errorf("%s: %w: empty resolve response", r.opts.Provider, types.ErrResolveNotFound)
	}

	return r.chase(ctx, strings.TrimSpace(results[0].URL))
}

// chase follows the redirect chain of target with the stream headers and
// returns the URL of the first non-redirect response
func (r *Resolver) chase(ctx context.Context, target string) (string, error) {
	resp, err := r.stream.Follow(ctx, target, r.streamHeaders)
	if err != nil {
		return "", streamError(r.opts.Provider, 0, err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", streamError(r.opts.Provider, resp.StatusCode, fmt.Errorf("stream answered %d", resp.StatusCode))
	}
	return resp.Request.URL.String(), nil
}

// classify maps the resolve API status (0 when no response arrived) to the
// resolve error classes. Only this response can reject the token.
func classify(provider string, status int, err error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%s: %w: %v", provider, types.ErrResolveAuth, err)
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%s: %w: %v", provider, types.ErrResolveNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %v", provider, types.ErrResolveUnavailable, err)
	}
}

// streamError maps a failed stream hop. The CDN never sees the token, so a
// 401 or 403 there is not a reason to refresh it.
func streamError(provider string, status int, err error) error {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("%s: %w: %v", provider, types.ErrResolveNotFound, err)
	default:
		return fmt.Errorf("%s: %w: %v", provider, types.ErrResolveUnavailable, err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, types.ErrResolveNotFound):
		return "not_found"
	case errors.Is(err, types.ErrResolveAuth):
		return "auth"
	default:
		return "unavailable"
	}
}

// FromConfig builds a Resolver from a provider entry and the global redirect bound
func FromConfig(p *config.ProviderConfig, maxRedirects int, obfuscate bool) *Resolver {
	api := client.NewHeaderSettingClient(client.Options{
		UserAgent:    p.UserAgent,
		MaxRedirects: maxRedirects,
	})
	stream := client.NewHeaderSettingClient(client.Options{
		UserAgent:    p.StreamUserAgent,
		Referer:      p.Referer,
		Origin:       p.Origin,
		MaxRedirects: maxRedirects,
	})
	return New(api, stream, Options{
		Provider:        p.Name,
		Mode:            p.ResolveMode,
		ResolveURL:      p.ResolveURL,
		PlayURLTemplate: p.PlayURLTemplate,
		Language:        p.Language,
		Region:          p.Region,
		ClientVersion:   p.ClientVersion,
		Timeout:         p.ResolveTimeout,
		StreamUserAgent: p.StreamUserAgent,
		Referer:         p.Referer,
		Origin:          p.Origin,
		ObfuscateURLs:   obfuscate,
	})
}
