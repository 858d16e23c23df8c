package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"deltatv-proxy/work/logger"
)

// Recover turns a handler panic into a 500 JSON error
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				logger.Error("{middleware/recover - Recover} [%s] panic on %s %s: %v\n%s", RequestID(r.Context()), r.Method, r.URL.Path, rv, debug.Stack())
				WriteError(w, r, fmt.Errorf("panic: %v", rv))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
