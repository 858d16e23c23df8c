package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"deltatv-proxy/work/types"
)

const self = "http://me.local/proxy"

func newTestProxy() *Proxy {
	return New(Options{
		StreamUserAgent: "VAVOO/3.1.8",
		Referer:         "https://vavoo.to/",
		PlaylistTimeout: 5 * time.Second,
		MaxRedirects:    5,
	}, nil)
}

func TestRewritePlaylist(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/live/ch1/index.m3u8")
	body := "#EXTM3U\r\n#EXT-X-VERSION:3\r\n\r\n#EXTINF:6.0,\r\nseg-1.ts\r\n#EXTINF:6.0,\r\n/abs/seg-2.ts?tok=abc\r\nhttps://other.example/seg-3.ts"

	got := string(RewritePlaylist([]byte(body), base, self, ""))
	lines := strings.Split(got, "\r\n")
	want := []string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"",
		"#EXTINF:6.0,",
		self + "?action=pipe&url=" + url.QueryEscape("https://cdn.example/live/ch1/seg-1.ts"),
		"#EXTINF:6.0,",
		self + "?action=pipe&url=" + url.QueryEscape("https://cdn.example/abs/seg-2.ts?tok=abc"),
		self + "?action=pipe&url=" + url.QueryEscape("https://other.example/seg-3.ts"),
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRewriteKeepsCommentsByteIdentical(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"  \n  \n#EXT-X-ENDLIST\n"
	got := string(RewritePlaylist([]byte(body), nil, self, ""))
	if got != body {
		t.Fatalf("comment-only playlist changed:\n%q\n%q", body, got)
	}
}

func TestRewriteRoundTrip(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/a/b.m3u8")
	out := RewritePlaylist([]byte("#EXTM3U\nc/d.ts\n"), base, self, "")

	link := strings.Split(string(out), "\n")[1]
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse %q: %v", link, err)
	}
	if u.Query().Get("action") != "pipe" || u.Query().Get("url") != "https://cdn.example/a/c/d.ts" {
		t.Fatalf("query = %v", u.Query())
	}
}

func TestPipeRewritesAgainstFinalURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start.m3u8":
			http.Redirect(w, r, "/edge/7/index.m3u8", http.StatusFound)
		case "/edge/7/index.m3u8":
			if r.Header.Get("User-Agent") != "VAVOO/3.1.8" || r.Header.Get("Referer") != "https://vavoo.to/" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6,\nchunk-1.ts\n"))
		}
	}))
	defer srv.Close()

	rec := httptest.NewRecorder()
	if err := newTestProxy().Pipe(context.Background(), rec, srv.URL+"/start.m3u8", self, http.Header{}); err != nil {
		t.Fatalf("Pipe: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	want := self + "?action=pipe&url=" + url.QueryEscape(srv.URL+"/edge/7/chunk-1.ts")
	if !strings.Contains(rec.Body.String(), want+"\n") {
		t.Fatalf("body = %q, want link %q", rec.Body.String(), want)
	}
}

func TestRewriteCarriesProvider(t *testing.T) {
	base, _ := url.Parse("https://cdn.example/a/b.m3u8")
	out := RewritePlaylist([]byte("#EXTM3U\nc/d.ts\n"), base, self, "Other TV")

	u, err := url.Parse(strings.Split(string(out), "\n")[1])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Query().Get("provider") != "Other TV" || u.Query().Get("url") != "https://cdn.example/a/c/d.ts" {
		t.Fatalf("query = %v", u.Query())
	}
	if PipeURL(self, "", "https://x/y.ts") != self+"?action=pipe&url="+url.QueryEscape("https://x/y.ts") {
		t.Error("empty provider should not add a parameter")
	}
}

func TestPipeRejectsOversizedPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\n"))
		w.Write([]byte(strings.Repeat("#EXTINF:6,\nseg.ts\n", maxPlaylistBytes/16)))
	}))
	defer srv.Close()

	rec := httptest.NewRecorder()
	err := newTestProxy().Pipe(context.Background(), rec, srv.URL+"/big.m3u8", self, http.Header{})
	if !errors.Is(err, types.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("wrote %d bytes of a truncated playlist", rec.Body.Len())
	}
}

func TestPipeStreamsSegmentsWithRange(t *testing.T) {
	payload := strings.Repeat("\x47", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil
		if r.Header.Get("Range") != "bytes=0-999" {
			w.Write([]byte(payload))
			return
		}
		w.Header().Set("Content-Range", "bytes 0-999/2000")
		w.Header().Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(payload[:1000]))
	}))
	defer srv.Close()

	rec := httptest.NewRecorder()
	err := newTestProxy().Pipe(context.Background(), rec, srv.URL+"/seg.ts", self, http.Header{"Range": {"bytes=0-999"}})
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	if rec.Code != http.StatusPartialContent {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Range") != "bytes 0-999/2000" || rec.Header().Get("Accept-Ranges") != "bytes" {
		t.Errorf("range headers = %v", rec.Header())
	}
	if rec.Header().Get("Content-Type") != "video/MP2T" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Body.Len() != 1000 {
		t.Errorf("body = %d bytes", rec.Body.Len())
	}
}

func TestPipeUpstreamFailureIsBadGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rec := httptest.NewRecorder()
	err := newTestProxy().Pipe(context.Background(), rec, srv.URL+"/gone.ts", self, http.Header{})
	if !errors.Is(err, types.ErrUpstreamUnavailable) || types.StatusFor(err) != http.StatusBadGateway {
		t.Fatalf("err = %v", err)
	}

	err = newTestProxy().Pipe(context.Background(), rec, "http://127.0.0.1:1/x.ts", self, http.Header{})
	if types.StatusFor(err) != http.StatusBadGateway {
		t.Fatalf("unreachable upstream err = %v", err)
	}
}

func TestPipeRejectsNonHTTP(t *testing.T) {
	err := newTestProxy().Pipe(context.Background(), httptest.NewRecorder(), "file:///etc/passwd", self, http.Header{})
	if types.StatusFor(err) != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestIsPlaylist(t *testing.T) {
	if !IsPlaylist("application/x-mpegURL", nil) {
		t.Error("content type should win")
	}
	if !IsPlaylist("application/octet-stream", []byte("\ufeff\n#EXTM3U\n")) {
		t.Error("sniffed header should be recognized")
	}
	if IsPlaylist("video/mp2t", []byte{0x47, 0x40}) {
		t.Error("ts packet is not a playlist")
	}
}

func TestSelfURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://internal:8080/proxy", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Host = "tv.example"
	if got := SelfURL(r, ""); got != "https://tv.example/proxy" {
		t.Errorf("SelfURL = %q", got)
	}
	if got := SelfURL(r, "https://public.example/"); got != "https://public.example/proxy" {
		t.Errorf("SelfURL with base = %q", got)
	}
}
