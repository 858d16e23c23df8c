package middleware

import (
	"encoding/json"
	"net/http"

	"deltatv-proxy/work/logger"
	"deltatv-proxy/work/types"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// WriteJSON encodes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("{middleware/respond - WriteJSON} encode failed: %v", err)
	}
}

// WriteError maps err to its status and writes the JSON error body. For 5xx
// statuses only the sentinel text is sent, upstream details go to the log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := types.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("{middleware/respond - WriteError} %s %s -> %d: %v", r.Method, r.URL.Path, status, err)
	} else {
		logger.Debug("{middleware/respond - WriteError} %s %s -> %d: %v", r.Method, r.URL.Path, status, err)
	}
	WriteJSON(w, status, ErrorBody{Error: publicMessage(err, status), Status: status})
}

func publicMessage(err error, status int) string {
	if status < http.StatusInternalServerError {
		return err.Error()
	}
	if sentinel := types.Sentinel(err); sentinel != nil {
		return sentinel.Error()
	}
	return http.StatusText(status)
}
