package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"qms/ticket-service/internal/hub"
)

func TestRealtimeInfoEndpoint(t *testing.T) {
	handler := LoggingMiddleware(nil, nil, NewHandler(fakeStore{}, Options{Hub: hub.New(nil)}).Routes())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/realtime/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		Websocket bool `json:"websocket"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	require.True(t, info.Websocket)
}

func TestRealtimeDisabledWithoutHub(t *testing.T) {
	handler := NewHandler(fakeStore{}, Options{}).Routes()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/realtime/info", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
