package sandbox

// errors.go writes JSON responses for the sandbox API.
//
// Failures are logged server-side with the request ID and returned as an
// ErrorResponse, the same shape for real errors and injected faults.

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/provisioner/internal/logging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, r *http.Request, err error, status int, code string) {
	logging.FromContext(r.Context()).Warn("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", code,
		"error", err.Error(),
	)
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func respondFault(w http.ResponseWriter, r *http.Request, status int, key string) {
	respondError(w, r, fmt.Errorf("injected fault for %q", key), status, "INJECTED_FAULT")
}
