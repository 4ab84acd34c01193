// Package httpapi holds the JSON response envelope shared by every API
// handler.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// ErrorEnvelope standardizes JSON error responses. Current carries the
// latest state of the resource on a conflict; Warnings lists side effects
// that failed after the primary write committed.
type ErrorEnvelope struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Meta     map[string]string `json:"meta,omitempty"`
	Current  any               `json:"current,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string, meta map[string]string) error {
	return WriteJSON(w, status, &ErrorEnvelope{
		Code:    code,
		Message: message,
		Meta:    meta,
	})
}

// RequestMeta returns the meta block for a request id, or nil when empty.
func RequestMeta(requestID string) map[string]string {
	if requestID == "" {
		return nil
	}
	return map[string]string{"request_id": requestID}
}

// StatusHandler answers every request with status and an envelope carrying
// code. The server uses it for unknown routes and methods.
func StatusHandler(status int, code string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = WriteError(w, status, code, http.StatusText(status), nil)
	})
}
