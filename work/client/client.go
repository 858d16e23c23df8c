package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// ErrTooManyRedirects is returned when a redirect chain exceeds the hop limit
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrMissingLocation is returned for a redirect status without a Location header
var ErrMissingLocation = errors.New("redirect without location")

// Options configures a HeaderSettingClient
type Options struct {
	UserAgent             string
	Origin                string
	Referer               string
	MaxRedirects          int
	ResponseHeaderTimeout time.Duration
	Transport             http.RoundTripper // nil uses a tuned http.Transport
}

// HeaderSettingClient wraps http.Client to set a fixed header set on every
// request and to leave redirects to the caller.
type HeaderSettingClient struct {
	Client       *http.Client
	headers      http.Header
	maxRedirects int
}

// NewHeaderSettingClient builds a client that never follows redirects on its own
func NewHeaderSettingClient(opts Options) *HeaderSettingClient {
	transport := opts.Transport
	if transport == nil {
		headerTimeout := opts.ResponseHeaderTimeout
		if headerTimeout <= 0 {
			headerTimeout = 30 * time.Second
		}
		transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
		}
	}

	headers := make(http.Header)
	headers.Set("Accept", "*/*")
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	if opts.Origin != "" {
		headers.Set("Origin", opts.Origin)
	}
	if opts.Referer != "" {
		headers.Set("Referer", opts.Referer)
	}

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	return &HeaderSettingClient{
		Client: &http.Client{
			Timeout:   0, // streaming bodies are bounded by the request context instead
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		headers:      headers,
		maxRedirects: maxRedirects,
	}
}

// Do sends req after filling in any default header it does not already carry
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	for key, values := range hsc.headers {
		if req.Header.Get(key) == "" {
			req.Header[key] = append([]string(nil), values...)
		}
	}
}

// IsRedirect reports whether status is one the caller has to chase
func IsRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Follow issues a GET and chases redirects by hand, at most MaxRedirects hops.
// Every hop gets a fresh copy of header; relative Locations resolve against the
// current URL. The returned response is the first non-redirect one and its
// Request.URL is the final URL.
func (hsc *HeaderSettingClient) Follow(ctx context.Context, target string, header http.Header) (*http.Response, error) {
	current := target

	for hops := 0; ; hops++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		for key, values := range header {
			req.Header[key] = append([]string(nil), values...)
		}

		resp, err := hsc.Do(req)
		if err != nil {
			return nil, err
		}
		if !IsRedirect(resp.StatusCode) {
			return resp, nil
		}

		location := resp.Header.Get("Location")
		drainAndClose(resp.Body)

		if location == "" {
			return nil, fmt.Errorf("%w: status %d from %s", ErrMissingLocation, resp.StatusCode, req.URL.Host)
		}
		if hops >= hsc.maxRedirects {
			return nil, fmt.Errorf("%w: more than %d hops", ErrTooManyRedirects, hsc.maxRedirects)
		}

		next, err := req.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q: %w", location, err)
		}
		current = next.String()
	}
}

// PostJSON marshals payload, posts it and decodes a 2xx JSON response into out.
// The status code is returned whenever a response arrived, also on error.
func (hsc *HeaderSettingClient) PostJSON(ctx context.Context, target string, payload any, header http.Header, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Accept-Encoding", "gzip, br")
	for key, values := range header {
		req.Header[key] = append([]string(nil), values...)
	}

	resp, err := hsc.Do(req)
	if err != nil {
		return 0, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader, err := DecodeBody(resp)
	if err != nil {
		return resp.StatusCode, err
	}
	defer reader.Close()

	if out != nil {
		if err := json.NewDecoder(reader).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// DecodeBody unwraps gzip or brotli content encodings. Go only decodes gzip
// transparently when it set Accept-Encoding itself, which we override.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip body: %w", err)
		}
		return gz, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	default:
		return io.NopCloser(resp.Body), nil
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}
