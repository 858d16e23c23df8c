// Package proxy relays HLS playlists and media segments from upstream CDNs,
// rewriting playlist URIs so every follow-up request goes through the proxy.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deltatv-proxy/work/buffer"
	"deltatv-proxy/work/client"
	"deltatv-proxy/work/config"
	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/metrics"
	"deltatv-proxy/work/parser"
	"deltatv-proxy/work/types"
	"deltatv-proxy/work/utils"
)

const (
	sniffBytes       = 512
	maxPlaylistBytes = 8 << 20
	defaultSegment   = "video/MP2T"
)

// Options configures a Proxy
type Options struct {
	Provider        string // named in every rewritten link
	StreamUserAgent string
	Referer         string
	Origin          string
	PlaylistTimeout time.Duration // whole-body bound for playlists
	SegmentTimeout  time.Duration // response header bound for every fetch
	MaxRedirects    int
	ObfuscateURLs   bool
	Transport       http.RoundTripper
}

// Proxy fetches upstream media on behalf of players
type Proxy struct {
	provider        string
	client          *client.HeaderSettingClient
	buffers         *buffer.BufferPool
	playlistTimeout time.Duration
	obfuscate       bool
}

// New builds a Proxy that presents the given player identity upstream
func New(opts Options, buffers *buffer.BufferPool) *Proxy {
	if opts.PlaylistTimeout <= 0 {
		opts.PlaylistTimeout = 20 * time.Second
	}
	if buffers == nil {
		buffers = buffer.NewBufferPool(0)
	}
	return &Proxy{
		provider: opts.Provider,
		client: client.NewHeaderSettingClient(client.Options{
			UserAgent:             opts.StreamUserAgent,
			Referer:               opts.Referer,
			Origin:                opts.Origin,
			MaxRedirects:          opts.MaxRedirects,
			ResponseHeaderTimeout: opts.SegmentTimeout,
			Transport:             opts.Transport,
		}),
		buffers:         buffers,
		playlistTimeout: opts.PlaylistTimeout,
		obfuscate:       opts.ObfuscateURLs,
	}
}

// FromConfig builds a Proxy for one provider's player identity
func FromConfig(cfg *config.Config, p *config.ProviderConfig, buffers *buffer.BufferPool) *Proxy {
	return New(Options{
		Provider:        p.Name,
		StreamUserAgent: p.StreamUserAgent,
		Referer:         p.Referer,
		Origin:          p.Origin,
		PlaylistTimeout: cfg.ProxyTimeout,
		SegmentTimeout:  cfg.SegmentTimeout,
		MaxRedirects:    cfg.MaxRedirects,
		ObfuscateURLs:   cfg.ObfuscateUrls,
	}, buffers)
}

// countingWriter counts bytes sent to the client. It has no ReadFrom, so
// io.CopyBuffer goes through the pooled chunk.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Pipe fetches target and writes it to w. Playlists are rewritten against
// their final URL so nested URIs route back through self; everything else is
// streamed as is.
//
// An error is returned only while nothing has been written to w yet. A
// failure in the middle of a segment just truncates the response.
func (p *Proxy) Pipe(ctx context.Context, w http.ResponseWriter, target, self string, clientHeader http.Header) error {
	if !utils.IsHTTPURL(target) {
		metrics.ProxyErrors.WithLabelValues("bad_url").Inc()
		return fmt.Errorf("%w: url must be http or https", types.ErrBadRequest)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	header := make(http.Header)
	if rng := clientHeader.Get("Range"); rng != "" {
		header.Set("Range", rng)
	}

	resp, err := p.client.Follow(ctx, target, header)
	if err != nil {
		reason := "transport"
		if errors.Is(err, client.ErrTooManyRedirects) {
			reason = "redirects"
		}
		metrics.ProxyErrors.WithLabelValues(reason).Inc()
		logger.Warn("{proxy/pipe - Pipe} upstream fetch failed for %s: %v", utils.LogURL(p.obfuscate, target), err)
		return fmt.Errorf("%w: %v", types.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProxyErrors.WithLabelValues("status").Inc()
		logger.Warn("{proxy/pipe - Pipe} upstream answered %d for %s", resp.StatusCode, utils.LogURL(p.obfuscate, target))
		return fmt.Errorf("%w: upstream status %d", types.ErrUpstreamUnavailable, resp.StatusCode)
	}

	br := bufio.NewReaderSize(resp.Body, sniffBytes)
	head, _ := br.Peek(sniffBytes)

	if IsPlaylist(resp.Header.Get("Content-Type"), head) {
		timer := time.AfterFunc(p.playlistTimeout, cancel)
		defer timer.Stop()
		return p.playlist(w, resp, br, self)
	}
	p.segment(w, resp, br)
	return nil
}

// IsPlaylist decides from the content type or, failing that, the first bytes
// of the body
func IsPlaylist(contentType string, head []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	head = bytes.TrimLeft(head, "\ufeff \t\r\n")
	return bytes.HasPrefix(head, []byte("#EXTM3U"))
}

func (p *Proxy) playlist(w http.ResponseWriter, resp *http.Response, body io.Reader, self string) error {
	data, err := io.ReadAll(io.LimitReader(body, maxPlaylistBytes+1))
	if err != nil {
		metrics.ProxyErrors.WithLabelValues("read").Inc()
		return fmt.Errorf("%w: reading playlist: %v", types.ErrUpstreamUnavailable, err)
	}
	if len(data) > maxPlaylistBytes {
		metrics.ProxyErrors.WithLabelValues("too_large").Inc()
		return fmt.Errorf("%w: playlist larger than %s", types.ErrUpstreamUnavailable, utils.FormatBytes(maxPlaylistBytes))
	}

	kind := parser.Classify(data)
	base := resp.Request.URL

	out := p.buffers.Get()
	defer p.buffers.Put(out)
	writeRewritten(out, data, base, self, p.provider)

	h := w.Header()
	h.Set("Content-Type", "application/vnd.apple.mpegurl")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Content-Length", strconv.Itoa(out.Len()))
	w.WriteHeader(http.StatusOK)

	n, err := w.Write(out.B)
	metrics.ProxyRequests.WithLabelValues(kind).Inc()
	metrics.ProxyBytes.WithLabelValues(kind).Add(float64(n))
	if err != nil {
		logger.Debug("{proxy/pipe - playlist} client went away: %v", err)
	}
	logger.Debug("{proxy/pipe - playlist} rewrote %s playlist from %s (%s)", kind, utils.LogURL(p.obfuscate, base.String()), utils.FormatBytes(int64(n)))
	return nil
}

func (p *Proxy) segment(w http.ResponseWriter, resp *http.Response, body *bufio.Reader) {
	h := w.Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultSegment
	}
	h.Set("Content-Type", contentType)
	for _, key := range []string{"Content-Length", "Content-Range", "Accept-Ranges"} {
		if v := resp.Header.Get(key); v != "" {
			h.Set(key, v)
		}
	}
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(resp.StatusCode)

	buf := p.buffers.Get()
	defer p.buffers.Put(buf)

	cw := &countingWriter{w: w}
	// bytes already pulled in by the sniff go out first
	if peeked, _ := body.Peek(body.Buffered()); len(peeked) > 0 {
		cw.Write(peeked)
	}
	_, err := io.CopyBuffer(cw, resp.Body, p.buffers.Chunk(buf))

	metrics.ProxyRequests.WithLabelValues("segment").Inc()
	metrics.ProxyBytes.WithLabelValues("segment").Add(float64(cw.n))
	if err != nil {
		metrics.ProxyErrors.WithLabelValues("stream").Inc()
		logger.Debug("{proxy/pipe - segment} copy stopped after %s: %v", utils.FormatBytes(cw.n), err)
	}
}
