package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openrouter-proxy/gateway/internal/apierr"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	WriteSuccess(w, map[string]string{"fingerprint": "abc"})

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Nil(t, resp.Error)
	require.Equal(t, "req-123", resp.RequestID)
}

func TestWriteErrorDefaultsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := apierr.New(apierr.KindConflict, "duplicate key")

	WriteError(w, err, zap.NewNop())

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "conflict", resp.Error.Type)
	require.Equal(t, http.StatusInternalServerError, resp.Error.Code)
}

func TestWriteErrorUsesExplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	err := apierr.ErrNotFound

	WriteError(w, err, zap.NewNop())

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteJSONSetsSecurityHeader(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusOK, map[string]string{"k": "v"})
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
