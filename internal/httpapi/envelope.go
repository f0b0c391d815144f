// Package httpapi provides the shared JSON response envelope used by the
// Client Auth Gate's error responses and the Admin API, grounded on the
// teacher's WriteSuccess/WriteError handler idiom.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/openrouter-proxy/gateway/internal/apierr"

	"go.uber.org/zap"
)

// Response is the canonical API envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the client-visible error shape. It never carries internal
// error text or stack traces — only the stable type, a safe message, and
// the HTTP status also used as the response's status line.
type ErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WriteJSON writes data as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 success envelope.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteError writes err as a safe JSON error envelope, logging the full
// error (including any wrapped cause) server-side.
func WriteError(w http.ResponseWriter, err *apierr.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if logger != nil {
		logger.Error("request failed",
			zap.String("kind", string(err.Kind)),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Type:    string(err.Kind),
			Message: err.Message,
			Code:    status,
		},
		Timestamp: time.Now().UTC(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}
