// Package httpapi exposes the consumer over HTTP: proof intake, price
// queries, the adapter roster and health.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// Every error response uses this format; Detail carries the stable
// machine-readable reject reason.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes an RFC 7807 problem+json response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("about:blank#%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest rejects with a 400 and a stable reason string.
func WriteBadRequest(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", reason)
}

// WriteNotFound writes a 404.
func WriteNotFound(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusNotFound, "Not Found", reason)
}

// WriteMethodNotAllowed writes a 405.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
}

// WriteJSON writes a 200 JSON response.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
