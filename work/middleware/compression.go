package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"deltatv-proxy/work/logger"
)

// BestSpeed: catalog JSON is regenerated per request
var gzipPool = sync.Pool{
	New: func() interface{} {
		zw, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return zw
	},
}

// lazyGzipWriter only starts a gzip stream once the handler writes a body,
// so 204s and bodiless errors go out untouched
type lazyGzipWriter struct {
	http.ResponseWriter
	zw     *gzip.Writer
	status int
}

func (lw *lazyGzipWriter) WriteHeader(status int) {
	if lw.status != 0 {
		return
	}
	lw.status = status
	h := lw.ResponseWriter.Header()
	h.Add("Vary", "Accept-Encoding")
	if status != http.StatusNoContent && status != http.StatusNotModified && h.Get("Content-Encoding") == "" {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		lw.zw = gzipPool.Get().(*gzip.Writer)
		lw.zw.Reset(lw.ResponseWriter)
	}
	lw.ResponseWriter.WriteHeader(status)
}

func (lw *lazyGzipWriter) Write(b []byte) (int, error) {
	if lw.status == 0 {
		lw.WriteHeader(http.StatusOK)
	}
	if lw.zw == nil {
		return lw.ResponseWriter.Write(b)
	}
	return lw.zw.Write(b)
}

func (lw *lazyGzipWriter) Flush() {
	if lw.zw != nil {
		lw.zw.Flush()
	}
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (lw *lazyGzipWriter) finish(r *http.Request) {
	if lw.zw == nil {
		return
	}
	if err := lw.zw.Close(); err != nil {
		logger.Error("{middleware/compression - GzipMiddleware} closing gzip stream for %s %s: %v", r.Method, r.URL.Path, err)
	}
	gzipPool.Put(lw.zw)
	lw.zw = nil
}

// GzipMiddleware compresses JSON responses for clients that accept gzip.
// The media proxy route never goes through it.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next(w, r)
			return
		}
		lw := &lazyGzipWriter{ResponseWriter: w}
		defer lw.finish(r)
		next(lw, r)
	}
}
