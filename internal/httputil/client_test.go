package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSON_Server(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		switch r.URL.Path {
		case "/api/status":
			WriteJSONOK(w, map[string]int{"ticks": 42})
		case "/api/broken":
			w.Write([]byte("{not json"))
		default:
			NotFound(w, "no such route")
		}
	}))
	defer srv.Close()

	var status struct {
		Ticks int `json:"ticks"`
	}
	require.NoError(t, GetJSON(context.Background(), srv.Client(), srv.URL+"/api/status", &status))
	assert.Equal(t, 42, status.Ticks)

	err := GetJSON(context.Background(), srv.Client(), srv.URL+"/api/missing", &status)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "no such route", se.Message)
	assert.Contains(t, se.Error(), "404 Not Found: no such route")

	assert.Error(t, GetJSON(context.Background(), srv.Client(), srv.URL+"/api/broken", &status))
}

func TestGetJSON_Mock(t *testing.T) {
	m := NewMockHTTPClient().
		Handle("/api/sessions", http.StatusOK, `[{"session_id":"a"}]`).
		Handle("/api/down", http.StatusServiceUnavailable, "")

	var sessions []map[string]string
	require.NoError(t, GetJSON(context.Background(), m, "http://comfortd/api/sessions?limit=5", &sessions))
	assert.Equal(t, "a", sessions[0]["session_id"])

	err := GetJSON(context.Background(), m, "http://comfortd/api/down", &sessions)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, se.Message)
	assert.Equal(t, "GET http://comfortd/api/down: 503 Service Unavailable", se.Error())

	assert.Equal(t, []string{"/api/sessions?limit=5", "/api/down"}, m.RequestedPaths())

	m.DefaultError = errors.New("connection refused")
	assert.ErrorContains(t, GetJSON(context.Background(), m, "http://comfortd/api/sessions", &sessions), "connection refused")
}

func TestGetJSON_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	var v any
	assert.ErrorIs(t, GetJSON(ctx, srv.Client(), srv.URL, &v), context.Canceled)
}
