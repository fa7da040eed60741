package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flagship "github.com/TimurManjosov/flagship-go"
	"github.com/TimurManjosov/flagship-go/internal/cache"
	"github.com/TimurManjosov/flagship-go/internal/engine"
	"github.com/TimurManjosov/flagship-go/internal/snapshot"
	"github.com/TimurManjosov/flagship-go/internal/testutil"
)

const testDoc = `{"f":{
	"enabled":{"t":0,"v":{"b":true},"i":"v-enabled"},
	"greeting":{"t":1,"v":{"s":"hello"},"r":[
		{"c":[{"u":{"a":"Email","c":2,"l":["@example.com"]}}],"s":{"v":{"s":"hi staff"},"i":"v-staff"}}
	]},
	"limit":{"t":2,"v":{"i":10}},
	"ratio":{"t":3,"v":{"d":0.5}}
}}`

// ---- helpers ----

func newRouter(t *testing.T, opts Options) (http.Handler, *testutil.ConfigServer) {
	t.Helper()
	cdn := testutil.NewConfigServer(t, testDoc)
	client, err := flagship.NewClient("test-sdk-key", flagship.Options{PollingMode: flagship.Manual, BaseURL: cdn.URL})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.True(t, client.ForceRefresh(context.Background()).Success)
	return NewServer(client, opts).Router(), cdn
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out), body)
	return out
}

// failingClient refreshes unsuccessfully and has no configuration.
type failingClient struct{}

func (failingClient) GetValueDetails(_ context.Context, key string, def any, _ *engine.User) engine.Details {
	return engine.Details{Key: key, Value: def, IsDefaultValue: true, Reason: engine.ReasonError}
}
func (failingClient) GetAllValueDetails(context.Context, *engine.User) []engine.Details { return nil }
func (failingClient) GetAllKeys(context.Context) []string                             { return nil }
func (failingClient) ForceRefresh(context.Context) cache.RefreshResult {
	return cache.RefreshResult{Err: errors.New("HTTP 503")}
}
func (failingClient) Snapshot(context.Context) *snapshot.Entry { return snapshot.Empty }

// ---- routes ----

func TestHandleHealth(t *testing.T) {
	handler, _ := newRouter(t, Options{})

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/healthz"}).Do(t, handler)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestHandleFlags_ETag(t *testing.T) {
	handler, _ := newRouter(t, Options{})

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags"}).Do(t, handler)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp FlagsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{"enabled", "greeting", "limit", "ratio"}, resp.Keys)
	require.NotEmpty(t, resp.ETag)
	assert.Equal(t, resp.ETag, rr.Header().Get("ETag"))
	assert.NotNil(t, resp.FetchTime)

	rr = (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/v1/flags",
		Headers: map[string]string{"If-None-Match": resp.ETag},
	}).Do(t, handler)
	assert.Equal(t, http.StatusNotModified, rr.Code)
}

func TestHandleFlags_NoConfig(t *testing.T) {
	handler := NewServer(failingClient{}, Options{}).Router()

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags"}).Do(t, handler)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"keys":[]}`, rr.Body.String())
}

func TestHandleEvaluate(t *testing.T) {
	handler, _ := newRouter(t, Options{})

	rr := (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/v1/evaluate",
		Body:   `{"key":"greeting","defaultValue":"","user":{"identifier":"u1","email":"jane@example.com"}}`,
	}).Do(t, handler)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	out := decode(t, rr.Body.String())
	assert.Equal(t, "hi staff", out["value"])
	assert.Equal(t, "TARGETING_MATCH", out["reason"])
	assert.Equal(t, "v-staff", out["variationId"])
}

func TestHandleEvaluate_DefaultValueKinds(t *testing.T) {
	handler, _ := newRouter(t, Options{})

	tests := []struct {
		body      string
		wantValue any
		wantCode  string
	}{
		{`{"key":"limit","defaultValue":0}`, float64(10), ""},
		{`{"key":"ratio","defaultValue":1.0}`, 0.5, ""},
		{`{"key":"ratio","defaultValue":1}`, float64(1), "SETTING_VALUE_TYPE_MISMATCH"},
		{`{"key":"enabled"}`, true, ""},
		{`{"key":"missing","defaultValue":"fallback"}`, "fallback", "SETTING_KEY_MISSING"},
	}

	for _, tt := range tests {
		rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/evaluate", Body: tt.body}).Do(t, handler)
		require.Equal(t, http.StatusOK, rr.Code, tt.body)

		out := decode(t, rr.Body.String())
		assert.Equal(t, tt.wantValue, out["value"], tt.body)
		if tt.wantCode == "" {
			assert.NotContains(t, out, "errorCode", tt.body)
		} else {
			assert.Equal(t, tt.wantCode, out["errorCode"], tt.body)
		}
	}
}

func TestHandleEvaluate_BadRequests(t *testing.T) {
	handler, _ := newRouter(t, Options{})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  ErrorCode
	}{
		{"invalid JSON", `{`, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"missing key", `{"key":" "}`, http.StatusBadRequest, ErrCodeMissingField},
		{"object default", `{"key":"a","defaultValue":{}}`, http.StatusBadRequest, ErrCodeInvalidJSON},
		{"too large", `{"key":"` + strings.Repeat("x", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/evaluate", Body: tt.body}).Do(t, handler)
			require.Equal(t, tt.wantCode, rr.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestHandleEvaluateAll(t *testing.T) {
	handler, _ := newRouter(t, Options{})

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/evaluate/all"}).Do(t, handler)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Flags []map[string]any `json:"flags"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Flags, 4)
	assert.Equal(t, "greeting", resp.Flags[1]["key"])
	assert.Equal(t, "hello", resp.Flags[1]["value"])

	rr = (&testutil.HTTPRequest{
		Method: http.MethodPost,
		Path:   "/v1/evaluate/all",
		Body:   `{"user":{"identifier":"u","email":"a@example.com"}}`,
	}).Do(t, handler)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "hi staff", resp.Flags[1]["value"])

	rr = (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/evaluate/all"}).Do(t, NewServer(failingClient{}, Options{}).Router())
	assert.JSONEq(t, `{"flags":[]}`, rr.Body.String())
}

func TestHandleRefresh(t *testing.T) {
	handler, cdn := newRouter(t, Options{})
	before := cdn.Requests()

	rr := (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/refresh"}).Do(t, handler)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
	assert.Equal(t, before+1, cdn.Requests())

	rr = (&testutil.HTTPRequest{Method: http.MethodPost, Path: "/v1/refresh"}).Do(t, NewServer(failingClient{}, Options{}).Router())
	require.Equal(t, http.StatusBadGateway, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeRefreshFailed, resp.Code)
	assert.Equal(t, "HTTP 503", resp.Message)
}

// ---- middleware ----

func TestRateLimitPerIP(t *testing.T) {
	handler := NewServer(failingClient{}, Options{RateLimitPerIP: 2}).Router()
	req := &testutil.HTTPRequest{Method: http.MethodGet, Path: "/v1/flags"}

	assert.Equal(t, http.StatusOK, req.Do(t, handler).Code)
	assert.Equal(t, http.StatusOK, req.Do(t, handler).Code)

	rr := req.Do(t, handler)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeRateLimited, resp.Code)

	// health checks are not limited
	assert.Equal(t, http.StatusOK, (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/healthz"}).Do(t, handler).Code)
}

func TestRequestID(t *testing.T) {
	handler := NewServer(failingClient{}, Options{}).Router()

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/healthz"}).Do(t, handler)
	_, err := uuid.Parse(rr.Header().Get(requestIDHeader))
	assert.NoError(t, err, "generated request ids are UUIDs")

	rr = (&testutil.HTTPRequest{
		Method:  http.MethodGet,
		Path:    "/nowhere",
		Headers: map[string]string{requestIDHeader: "req-123"},
	}).Do(t, handler)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "req-123", rr.Header().Get(requestIDHeader))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "req-123", resp.RequestID)
	assert.Equal(t, ErrCodeNotFound, resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	handler := NewServer(failingClient{}, Options{}).Router()

	rr := (&testutil.HTTPRequest{Method: http.MethodGet, Path: "/metrics"}).Do(t, handler)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestParseDefault(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{``, nil},
		{`null`, nil},
		{`true`, true},
		{`"x"`, "x"},
		{`10`, 10},
		{`10.0`, 10.0},
		{`1e3`, 1000.0},
	}
	for _, tt := range tests {
		got, err := parseDefault(json.RawMessage(tt.raw))
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := parseDefault(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse(http.StatusBadRequest, ErrCodeMissingField, "key is required")
	assert.Equal(t, "Bad Request", resp.Error)
	assert.Equal(t, ErrCodeMissingField, resp.Code)
}
