// Package handlers exposes the HTTP surface: auth, connection lifecycle,
// inbox reads, outbound send, and the event stream.
package handlers

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Message string `json:"message"`
}
