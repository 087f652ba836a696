package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/trackingtester/internal/domain"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]string{"status": "ok"})

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"status": "ok"}, body["data"])
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "raw")
}

func TestSessionError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   map[string]any
	}{
		{
			name:   "timeout",
			err:    domain.ErrSessionTimeout(2 * time.Minute),
			status: http.StatusOK,
			want:   map[string]any{"success": false, "error": "Test timeout"},
		},
		{
			name:   "session failed",
			err:    domain.ErrSessionFailed(errors.New("browser crashed")),
			status: http.StatusOK,
			want:   map[string]any{"success": false, "error": "Test failed: browser crashed"},
		},
		{
			name: "errored state",
			err: &domain.SessionError{
				Message: "Navigation failed: https://x.test: net::ERR_NAME_NOT_RESOLVED",
				Err:     domain.ErrNavigation("https://x.test", errors.New("net::ERR_NAME_NOT_RESOLVED")),
			},
			status: http.StatusOK,
			want:   map[string]any{"success": false, "error": "Test failed: Navigation failed: https://x.test: net::ERR_NAME_NOT_RESOLVED"},
		},
		{
			name:   "unparsable",
			err:    &domain.RawOutputError{Raw: "Segmentation fault"},
			status: http.StatusOK,
			want:   map[string]any{"success": false, "error": "Could not parse results", "raw": "Segmentation fault"},
		},
		{
			name:   "missing url",
			err:    domain.ErrConfiguration(domain.MsgURLRequired),
			status: http.StatusBadRequest,
			want:   map[string]any{"success": false, "error": "URL is verplicht"},
		},
		{
			name:   "unexpected",
			err:    fmt.Errorf("waiting for a session slot: %w", errors.New("context canceled")),
			status: http.StatusInternalServerError,
			want:   map[string]any{"success": false, "error": "waiting for a session slot: context canceled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			SessionError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec))
		})
	}
}

func TestErrorFromDomain(t *testing.T) {
	rec := httptest.NewRecorder()
	ErrorFromDomain(rec, domain.NotFoundError("tracking_run", "abc"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.Equal(t, "tracking_run not found: abc", body["error"])

	rec = httptest.NewRecorder()
	ErrorFromDomain(rec, domain.ErrRateLimited(time.Minute))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	ErrorFromDomain(rec, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode(t, rec)["error"])
}

func TestDecodeJSON(t *testing.T) {
	var v map[string]any
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"url":`))
	assert.Error(t, DecodeJSON(req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	assert.EqualError(t, DecodeJSON(req, &v), "request body is required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"url":"https://x.test"}`))
	require.NoError(t, DecodeJSON(req, &v))
	assert.Equal(t, "https://x.test", v["url"])
}

func TestGetPagination(t *testing.T) {
	tests := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Limit: 20}},
		{"limit=5&offset=10", Pagination{Limit: 5, Offset: 10}},
		{"limit=500", Pagination{Limit: 100}},
		{"limit=-1&offset=abc", Pagination{Limit: 20}},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/runs?"+tt.query, nil)
		assert.Equal(t, tt.want, GetPagination(req, 20, 100), tt.query)
	}
}
