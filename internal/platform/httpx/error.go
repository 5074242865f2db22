// Package httpx holds the JSON response helpers shared by handlers and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/storefront/api/internal/platform/requestctx"
)

// Error is an API failure. It renders as
//
//	{"error": code, "message": ..., "status": n, "requestId": ..., "traceId": ...}
//
// with Details merged in at the top level. Details never override the envelope keys.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func NewError(code, message string, status int) Error {
	return Error{Code: clip(code, 80), Message: clip(message, 512), Status: status}
}

// WithDetails returns a copy of e with details added.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

// WriteError renders err, filling requestId and traceId from ctx when present.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	payload := make(map[string]any, len(err.Details)+5)
	maps.Copy(payload, err.Details)
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if id := clip(middleware.GetReqID(ctx), 80); id != "" {
		payload["requestId"] = id
	}
	if id := clip(requestctx.TraceID(ctx), 64); id != "" {
		payload["traceId"] = id
	}
	WriteJSON(w, status, payload)
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

var newlines = strings.NewReplacer("\n", " ", "\r", " ")

// clip flattens value to one line and truncates it to limit bytes.
func clip(value string, limit int) string {
	value = strings.TrimSpace(newlines.Replace(value))
	if len(value) > limit {
		return value[:limit]
	}
	return value
}
