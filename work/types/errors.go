package types

import (
	"errors"
	"net/http"
)

// Upstream and request failures. Wrap these with fmt.Errorf("...: %w", Err...)
// so StatusFor can map the chain to an HTTP status.
var (
	ErrUpstreamAuth        = errors.New("upstream token unavailable")
	ErrCatalogFetch        = errors.New("catalog fetch failed")
	ErrResolveNotFound     = errors.New("channel not resolvable")
	ErrResolveAuth         = errors.New("resolve rejected credentials")
	ErrResolveUnavailable  = errors.New("resolve upstream unavailable")
	ErrUpstreamUnavailable = errors.New("stream upstream unavailable")
	ErrChannelDisabled     = errors.New("channel disabled")
	ErrProviderNotFound    = errors.New("unknown provider")
	ErrBadRequest          = errors.New("bad request")
	ErrUnauthorized        = errors.New("authentication required")
	ErrForbidden           = errors.New("insufficient role")
	ErrNotFound            = errors.New("not found")
)

var statusTable = []struct {
	err    error
	status int
}{
	{ErrBadRequest, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrForbidden, http.StatusForbidden},
	{ErrProviderNotFound, http.StatusNotFound},
	{ErrChannelDisabled, http.StatusNotFound},
	{ErrResolveNotFound, http.StatusNotFound},
	{ErrNotFound, http.StatusNotFound},
	{ErrUpstreamAuth, http.StatusServiceUnavailable},
	{ErrCatalogFetch, http.StatusServiceUnavailable},
	{ErrResolveAuth, http.StatusServiceUnavailable},
	{ErrResolveUnavailable, http.StatusBadGateway},
	{ErrUpstreamUnavailable, http.StatusBadGateway},
}

// StatusFor maps an error chain to the HTTP status the boundary returns.
// The first matching sentinel in table order wins.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			return row.status
		}
	}
	return http.StatusInternalServerError
}

// Sentinel returns the first sentinel in the chain that StatusFor knows, or nil
func Sentinel(err error) error {
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			return row.err
		}
	}
	return nil
}
