package router

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func echoParams(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, strings.Join(Params(r), ","))
}

func newTestRouter(buf *bytes.Buffer) *Router {
	r := New(slog.New(slog.NewTextHandler(buf, nil)))
	r.GET("/api/v1/runs", func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "list") })
	r.GET("/api/v1/runs/*/quarantine", echoParams)
	r.GET("/api/v1/runs/*", echoParams)
	r.GET("/api/v1/checkpoints/*/*", echoParams)
	r.GET("/api/v1/checkpoints/*", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "stage "+Param(r, 0)) })
	r.Handle("/swagger/**", http.HandlerFunc(echoParams))
	return r
}

func TestRouterMatching(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf)

	tests := []struct {
		method, path string
		status       int
		body         string
	}{
		{http.MethodGet, "/api/v1/runs", http.StatusOK, "list"},
		{http.MethodGet, "/api/v1/runs/abc", http.StatusOK, "abc"},
		{http.MethodGet, "/api/v1/runs/abc/quarantine", http.StatusOK, "abc"},
		{http.MethodGet, "/api/v1/checkpoints/raw/2", http.StatusOK, "raw,2"},
		{http.MethodGet, "/swagger/index.html", http.StatusOK, "index.html"},
		{http.MethodPost, "/swagger/doc.json", http.StatusOK, "doc.json"},
		{http.MethodDelete, "/api/v1/runs", http.StatusMethodNotAllowed, ""},
		{http.MethodGet, "/api/v1/nothing", http.StatusNotFound, ""},
		{http.MethodGet, "/api/v1/runs/abc/extra", http.StatusNotFound, ""},
		// one "*" never swallows a missing or extra segment
		{http.MethodGet, "/api/v1/checkpoints/features", http.StatusOK, "stage features"},
		{http.MethodGet, "/api/v1/checkpoints/raw/2/x", http.StatusNotFound, ""},
		{http.MethodGet, "/swagger/assets/css/ui.css", http.StatusOK, "assets/css/ui.css"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestRouterLogsRequests(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/nothing", nil))

	line := buf.String()
	assert.Contains(t, line, "msg=\"http request\"")
	assert.Contains(t, line, "path=/api/v1/nothing")
	assert.Contains(t, line, "status=404")
}

func TestRoutesKeepRegistrationOrder(t *testing.T) {
	r := newTestRouter(&bytes.Buffer{})
	assert.Equal(t, []string{
		"GET /api/v1/runs",
		"GET /api/v1/runs/*/quarantine",
		"GET /api/v1/runs/*",
		"GET /api/v1/checkpoints/*/*",
		"GET /api/v1/checkpoints/*",
		"* /swagger/**",
	}, r.Routes())
}

func TestParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", Param(req, 0))
}
