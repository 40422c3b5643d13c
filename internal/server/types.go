// Package server defines the HTTP payloads of the internal API and utility
// helpers shared by the client and handler code.
package server

import (
	"encoding/json"
	"strings"
)

// publishMessageRequest is the body of POST /internal/journals/{journalId}/messages.
type publishMessageRequest struct {
	SenderID string          `json:"senderId" validate:"required"`
	Message  json.RawMessage `json:"message" validate:"required"`
}

// infoResponse is served by the discovery endpoint.
type infoResponse struct {
	Path     string `json:"path"`
	Protocol string `json:"protocol"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
