package main

import (
	"encoding/json"
	"net/http"
)

// Response headers describing how a now-playing request was resolved
const (
	ResolutionStatusHeader = "X-Resolution-Status"
	PlaybackSourceHeader   = "X-Playback-Source"
)

// APIResponse handles consistent header setting and JSON responses.
// Now-playing payloads must never be cached by intermediaries since
// overlays poll them every few seconds.
type APIResponse struct {
	w          http.ResponseWriter
	r          *http.Request
	resolution string
	source     string
}

// Respond creates a response helper for the request
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetResolution sets the X-Resolution-Status header value
func (a *APIResponse) SetResolution(status string) *APIResponse {
	a.resolution = status
	return a
}

// SetSource sets the X-Playback-Source header value
func (a *APIResponse) SetSource(source string) *APIResponse {
	a.source = source
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")
	a.w.Header().Set("Cache-Control", "no-store")

	if a.resolution != "" {
		a.w.Header().Set(ResolutionStatusHeader, a.resolution)
	}
	if a.source != "" {
		a.w.Header().Set(PlaybackSourceHeader, a.source)
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders()
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// Message writes a {"error": msg} body with the given status code
func (a *APIResponse) Message(statusCode int, msg string) error {
	return a.Error(statusCode, map[string]string{"error": msg})
}
