// Package testutil provides a fake configuration CDN and HTTP helpers for tests.
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// ConfigServer serves one configuration document the way the CDN does:
// under /configuration-files/{sdkKey}/config_v6.json with ETag support.
type ConfigServer struct {
	*httptest.Server

	mu      sync.Mutex
	body    string
	version int
	status  int

	requests atomic.Int32
}

// NewConfigServer starts a server serving body. It is closed when the test ends.
func NewConfigServer(t *testing.T, body string) *ConfigServer {
	t.Helper()
	s := &ConfigServer{body: body, version: 1}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *ConfigServer) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	if !strings.HasPrefix(r.URL.Path, "/configuration-files/") || !strings.HasSuffix(r.URL.Path, "/config_v6.json") {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	body, etag, status := s.body, fmt.Sprintf(`"v%d"`, s.version), s.status
	s.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	_, _ = w.Write([]byte(body))
}

// SetBody replaces the served document and changes its ETag.
func (s *ConfigServer) SetBody(body string) {
	s.mu.Lock()
	s.body = body
	s.version++
	s.mu.Unlock()
}

// SetStatus makes every request fail with code; 0 restores normal responses.
func (s *ConfigServer) SetStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

// Requests returns the number of requests received.
func (s *ConfigServer) Requests() int {
	return int(s.requests.Load())
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
