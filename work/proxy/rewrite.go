package proxy

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// RewritePlaylist returns body with every URI line replaced by a link back
// through self for provider. Comment and blank lines are copied byte for byte
// and every line keeps its original ending.
func RewritePlaylist(body []byte, base *url.URL, self, provider string) []byte {
	var out bytebufferpool.ByteBuffer
	writeRewritten(&out, body, base, self, provider)
	return out.B
}

// writeRewritten appends the rewritten playlist to dst
func writeRewritten(dst *bytebufferpool.ByteBuffer, body []byte, base *url.URL, self, provider string) {
	for len(body) > 0 {
		var line, ending []byte
		if i := bytes.IndexByte(body, '\n'); i >= 0 {
			line, ending, body = body[:i], body[i:i+1], body[i+1:]
		} else {
			line, body = body, nil
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line, ending = line[:n-1], append([]byte{'\r'}, ending...)
		}

		link, ok := proxyLink(string(line), base, self, provider)
		if ok {
			dst.WriteString(link)
		} else {
			dst.Write(line)
		}
		dst.Write(ending)
	}
}

// proxyLink maps a URI line to its proxied form. ok is false for lines that
// must be left untouched.
func proxyLink(line string, base *url.URL, self, provider string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", false
	}

	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	return PipeURL(self, provider, abs.String()), true
}

// PipeURL builds the proxy link for target. The provider is carried along so
// follow-up fetches keep that provider's player headers.
func PipeURL(self, provider, target string) string {
	link := self + "?action=pipe&url=" + url.QueryEscape(target)
	if provider != "" {
		link += "&provider=" + url.QueryEscape(provider)
	}
	return link
}

// SelfURL is the public address of the proxy endpoint. baseURL wins when
// configured, otherwise it is derived from the request and X-Forwarded-Proto.
func SelfURL(r *http.Request, baseURL string) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + "/proxy"
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host + "/proxy"
}
